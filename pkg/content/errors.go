package content

import "errors"

var (
	ErrPrizeEnded          = errors.New("prize ended")
	ErrPrizeFullyClaimed   = errors.New("prize fully claimed")
	ErrAlreadyClaimed      = errors.New("prize already claimed by user")
	ErrReservationNotFound = errors.New("prize reservation not found")
	ErrPrizeLedgerError    = errors.New("prize ledger in error state")

	ErrSwapNotOpen     = errors.New("swap not open")
	ErrSwapExpired     = errors.New("swap expired")
	ErrSwapNotReserved = errors.New("swap not reserved by user")
	ErrSwapNotAccepted = errors.New("swap not accepted by user")
	ErrSwapOwnOffer    = errors.New("cannot accept own swap")

	ErrPollEnded            = errors.New("poll ended")
	ErrPollOptionInvalid    = errors.New("poll option invalid")
	ErrUserCannotChangeVote = errors.New("user cannot change vote")
	ErrVideoCallEnded       = errors.New("video call ended")

	ErrContentTypeMismatch = errors.New("content type cannot change on edit")
	ErrContentNotEditable  = errors.New("content is not editable")
)
