package content

import "github.com/liangmulu/open-chat/pkg/models"

// Reserve locks an open swap for user. Only one user holds a reservation.
func (s *P2PSwapContent) Reserve(user, sender models.UserID, now models.TimestampMillis) error {
	if user == sender {
		return ErrSwapOwnOffer
	}
	if s.Status.State != SwapOpen {
		return ErrSwapNotOpen
	}
	if now >= s.ExpiresAt {
		return ErrSwapExpired
	}
	s.Status = P2PSwapStatus{State: SwapReserved, By: user, At: now}
	return nil
}

// Unreserve returns a reserved swap to Open, for example when the
// counterparty deposit failed.
func (s *P2PSwapContent) Unreserve(user models.UserID) error {
	if s.Status.State != SwapReserved || s.Status.By != user {
		return ErrSwapNotReserved
	}
	s.Status = P2PSwapStatus{State: SwapOpen}
	return nil
}

// Accept records the counterparty deposit.
func (s *P2PSwapContent) Accept(user models.UserID, token1TxnIn uint64, now models.TimestampMillis) error {
	if s.Status.State != SwapReserved || s.Status.By != user {
		return ErrSwapNotReserved
	}
	s.Status = P2PSwapStatus{State: SwapAccepted, By: user, At: now, Token1TxnIn: token1TxnIn}
	return nil
}

// Complete records both payout legs.
func (s *P2PSwapContent) Complete(user models.UserID, token0TxnOut, token1TxnOut uint64, now models.TimestampMillis) error {
	if s.Status.State != SwapAccepted || s.Status.By != user {
		return ErrSwapNotAccepted
	}
	s.Status = P2PSwapStatus{
		State:        SwapCompleted,
		By:           user,
		At:           now,
		Token1TxnIn:  s.Status.Token1TxnIn,
		Token0TxnOut: token0TxnOut,
		Token1TxnOut: token1TxnOut,
	}
	return nil
}

// Cancel withdraws an open offer.
func (s *P2PSwapContent) Cancel(now models.TimestampMillis) error {
	if s.Status.State != SwapOpen {
		return ErrSwapNotOpen
	}
	s.Status = P2PSwapStatus{State: SwapCancelled, At: now}
	return nil
}

// Expire marks an open swap whose deadline has passed.
func (s *P2PSwapContent) Expire(now models.TimestampMillis) error {
	if s.Status.State != SwapOpen {
		return ErrSwapNotOpen
	}
	if now < s.ExpiresAt {
		return ErrSwapNotOpen
	}
	s.Status = P2PSwapStatus{State: SwapExpired, At: now}
	return nil
}
