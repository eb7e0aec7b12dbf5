package content

import (
	"github.com/liangmulu/open-chat/pkg/models"
)

// PendingTransfer is a ledger transfer the server has decided to make
// but not yet executed.
type PendingTransfer struct {
	Ledger       string        `msgpack:"l" json:"ledger"`
	Token        string        `msgpack:"k" json:"token"`
	Amount       uint64        `msgpack:"a" json:"amount"`
	Fee          uint64        `msgpack:"f" json:"fee"`
	To           models.UserID `msgpack:"to" json:"to"`
	Memo         string        `msgpack:"m,omitempty" json:"memo,omitempty"`
	CreatedNanos uint64        `msgpack:"c" json:"created_nanos"`
}

const prizeRefundMemo = "PRZ_REFUND"

// Reserve soft locks the next prize for user. The prize moves from the
// remaining list into the reservations and is returned.
func (p *PrizeContent) Reserve(user models.UserID, now models.TimestampMillis) (uint64, error) {
	if p.LedgerError {
		return 0, ErrPrizeLedgerError
	}
	if now >= p.EndDate || p.FinalPaymentsStarted {
		return 0, ErrPrizeEnded
	}
	if p.hasWinner(user) || p.reservationIndex(user) >= 0 {
		return 0, ErrAlreadyClaimed
	}
	n := len(p.PrizesRemaining)
	if n == 0 {
		return 0, ErrPrizeFullyClaimed
	}
	amount := p.PrizesRemaining[n-1]
	p.PrizesRemaining = p.PrizesRemaining[:n-1]
	p.Reservations = append(p.Reservations, PrizeReservation{User: user, Amount: amount})
	return amount, nil
}

// Claim confirms a reservation once the payment to user has succeeded.
func (p *PrizeContent) Claim(user models.UserID) (uint64, error) {
	i := p.reservationIndex(user)
	if i < 0 {
		return 0, ErrReservationNotFound
	}
	amount := p.Reservations[i].Amount
	p.Reservations = append(p.Reservations[:i], p.Reservations[i+1:]...)
	p.Winners = append(p.Winners, user)
	p.PrizesPaid += amount
	return amount, nil
}

// Unreserve releases a reservation after a failed payment. Before final
// payments the prize returns to the pool; afterwards it is refunded to
// sender and the returned transfer is non-nil.
func (p *PrizeContent) Unreserve(user, sender models.UserID, nowNanos uint64) (*PendingTransfer, error) {
	i := p.reservationIndex(user)
	if i < 0 {
		return nil, ErrReservationNotFound
	}
	amount := p.Reservations[i].Amount
	p.Reservations = append(p.Reservations[:i], p.Reservations[i+1:]...)
	if p.FinalPaymentsStarted {
		t := p.refund(amount, sender, nowNanos)
		return &t, nil
	}
	p.PrizesRemaining = append(p.PrizesRemaining, amount)
	return nil, nil
}

// FinalPayments drains the remaining prizes into refunds to sender. It
// only ever produces transfers once.
func (p *PrizeContent) FinalPayments(sender models.UserID, nowNanos uint64) []PendingTransfer {
	if p.FinalPaymentsStarted {
		return nil
	}
	p.FinalPaymentsStarted = true
	out := make([]PendingTransfer, 0, len(p.PrizesRemaining))
	for _, amount := range p.PrizesRemaining {
		out = append(out, p.refund(amount, sender, nowNanos))
	}
	p.PrizesRemaining = nil
	return out
}

func (p *PrizeContent) refund(amount uint64, to models.UserID, nowNanos uint64) PendingTransfer {
	return PendingTransfer{
		Ledger:       p.Transaction.Ledger,
		Token:        p.Transaction.Token,
		Amount:       amount,
		Fee:          p.Transaction.Fee,
		To:           to,
		Memo:         prizeRefundMemo,
		CreatedNanos: nowNanos,
	}
}

func (p *PrizeContent) hasWinner(user models.UserID) bool {
	for _, w := range p.Winners {
		if w == user {
			return true
		}
	}
	return false
}

func (p *PrizeContent) reservationIndex(user models.UserID) int {
	for i, r := range p.Reservations {
		if r.User == user {
			return i
		}
	}
	return -1
}
