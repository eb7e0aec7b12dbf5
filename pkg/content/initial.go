package content

import (
	"github.com/liangmulu/open-chat/pkg/models"
)

// Initial is content as submitted by a sender, before the server has
// augmented it. Text, media, giphy, proposals, reminders, encrypted and
// custom content share their struct with the persisted form; polls,
// crypto, prizes, swaps and calls have their own initial shape.
type Initial interface {
	isInitial()
}

func (*TextContent) isInitial()                   {}
func (*ImageContent) isInitial()                  {}
func (*VideoContent) isInitial()                  {}
func (*AudioContent) isInitial()                  {}
func (*FileContent) isInitial()                   {}
func (*PollInitial) isInitial()                   {}
func (*CryptoInitial) isInitial()                 {}
func (*GiphyContent) isInitial()                  {}
func (*ProposalContent) isInitial()               {}
func (*PrizeInitial) isInitial()                  {}
func (*MessageReminderCreatedContent) isInitial() {}
func (*MessageReminderContent) isInitial()        {}
func (*P2PSwapInitial) isInitial()                {}
func (*VideoCallInitial) isInitial()              {}
func (*EncryptedContent) isInitial()              {}
func (*CustomContent) isInitial()                 {}

type PollInitial struct {
	Config PollConfig `json:"config"`
}

type CryptoInitial struct {
	Recipient models.UserID     `json:"recipient"`
	Transfer  CryptoTransaction `json:"transfer"`
	Caption   *string           `json:"caption,omitempty"`
}

type PrizeInitial struct {
	Prizes              []uint64               `json:"prizes"`
	Transfer            CryptoTransaction      `json:"transfer"`
	EndDate             models.TimestampMillis `json:"end_date"`
	Caption             *string                `json:"caption,omitempty"`
	DiamondOnly         bool                   `json:"diamond_only,omitempty"`
	LifetimeDiamondOnly bool                   `json:"lifetime_diamond_only,omitempty"`
	UniquePersonOnly    bool                   `json:"unique_person_only,omitempty"`
	StreakOnly          uint16                 `json:"streak_only,omitempty"`
	RequiresCaptcha     bool                   `json:"requires_captcha,omitempty"`
}

type P2PSwapInitial struct {
	Token0       TokenInfo           `json:"token0"`
	Token0Amount uint64              `json:"token0_amount"`
	Token1       TokenInfo           `json:"token1"`
	Token1Amount uint64              `json:"token1_amount"`
	ExpiresIn    models.Milliseconds `json:"expires_in"`
	Caption      *string             `json:"caption,omitempty"`
}

type VideoCallInitial struct {
	CallType  CallType      `json:"call_type"`
	Initiator models.UserID `json:"initiator"`
}

// ConvertContext carries the server side values needed to turn initial
// content into its persisted form.
type ConvertContext struct {
	Sender models.UserID
	Now    models.TimestampMillis
	// Transfer is the settled transfer for crypto and prize content.
	Transfer *CryptoTransaction
	// SwapID is assigned by the caller for P2P swaps.
	SwapID uint32
	// Token0TxnIn is the escrow deposit block for P2P swaps.
	Token0TxnIn uint64
}

// ToInternal converts validated initial content into its persisted form.
func ToInternal(c Initial, ctx ConvertContext) Internal {
	switch v := c.(type) {
	case *TextContent:
		cp := *v
		return &cp
	case *ImageContent:
		cp := *v
		return &cp
	case *VideoContent:
		cp := *v
		return &cp
	case *AudioContent:
		cp := *v
		return &cp
	case *FileContent:
		cp := *v
		return &cp
	case *PollInitial:
		return &PollContent{Config: v.Config}
	case *CryptoInitial:
		tx := v.Transfer
		if ctx.Transfer != nil {
			tx = *ctx.Transfer
		}
		return &CryptoContent{Recipient: v.Recipient, Transfer: tx, Caption: v.Caption}
	case *GiphyContent:
		cp := *v
		return &cp
	case *ProposalContent:
		cp := *v
		return &cp
	case *PrizeInitial:
		tx := v.Transfer
		if ctx.Transfer != nil {
			tx = *ctx.Transfer
		}
		remaining := make([]uint64, len(v.Prizes))
		copy(remaining, v.Prizes)
		return &PrizeContent{
			PrizesRemaining:     remaining,
			Transaction:         tx,
			EndDate:             v.EndDate,
			Caption:             v.Caption,
			DiamondOnly:         v.DiamondOnly,
			LifetimeDiamondOnly: v.LifetimeDiamondOnly,
			UniquePersonOnly:    v.UniquePersonOnly,
			StreakOnly:          v.StreakOnly,
			RequiresCaptcha:     v.RequiresCaptcha,
		}
	case *MessageReminderCreatedContent:
		cp := *v
		return &cp
	case *MessageReminderContent:
		cp := *v
		return &cp
	case *P2PSwapInitial:
		return &P2PSwapContent{
			SwapID:       ctx.SwapID,
			Token0:       v.Token0,
			Token0Amount: v.Token0Amount,
			Token1:       v.Token1,
			Token1Amount: v.Token1Amount,
			ExpiresAt:    ctx.Now.Add(v.ExpiresIn),
			Caption:      v.Caption,
			Token0TxnIn:  ctx.Token0TxnIn,
			Status:       P2PSwapStatus{State: SwapOpen},
		}
	case *VideoCallInitial:
		return &VideoCallContent{
			CallType:     v.CallType,
			Participants: []CallParticipant{{User: v.Initiator, Joined: ctx.Now}},
		}
	case *EncryptedContent:
		cp := *v
		return &cp
	case *CustomContent:
		cp := *v
		return &cp
	}
	panic(unknownVariant(c))
}
