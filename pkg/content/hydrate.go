package content

import (
	"sort"

	"github.com/liangmulu/open-chat/pkg/models"
)

// PollVotes is the viewer relative vote summary of a poll.
type PollVotes struct {
	// Total holds per option counts, or per option voters when votes are
	// public, or is nil when totals are hidden until the poll ends.
	Total       map[uint32]int             `json:"total,omitempty"`
	Voters      map[uint32][]models.UserID `json:"voters,omitempty"`
	HiddenUntil *models.TimestampMillis    `json:"hidden_until,omitempty"`
	User        []uint32                   `json:"user"`
}

type PollView struct {
	Config PollConfig `json:"config"`
	Votes  PollVotes  `json:"votes"`
	Ended  bool       `json:"ended"`
}

type PrizeView struct {
	PrizesRemaining     int                    `json:"prizes_remaining"`
	PrizesPending       int                    `json:"prizes_pending"`
	Winners             []models.UserID        `json:"winners"`
	WinnerCount         int                    `json:"winner_count"`
	UserIsWinner        bool                   `json:"user_is_winner"`
	Token               string                 `json:"token"`
	EndDate             models.TimestampMillis `json:"end_date"`
	Caption             *string                `json:"caption,omitempty"`
	DiamondOnly         bool                   `json:"diamond_only"`
	LifetimeDiamondOnly bool                   `json:"lifetime_diamond_only"`
	UniquePersonOnly    bool                   `json:"unique_person_only"`
	StreakOnly          uint16                 `json:"streak_only"`
	RequiresCaptcha     bool                   `json:"requires_captcha"`
}

// Hydrate builds the externally visible form of c for viewer. Most
// variants are shown as stored; polls and prizes are reduced to what the
// viewer may see.
func Hydrate(c Internal, viewer *models.UserID, now models.TimestampMillis) any {
	switch v := c.(type) {
	case *PollContent:
		return hydratePoll(v, viewer, now)
	case *PrizeContent:
		pv := PrizeView{
			PrizesRemaining:     len(v.PrizesRemaining),
			PrizesPending:       len(v.Reservations),
			Winners:             append([]models.UserID(nil), v.Winners...),
			WinnerCount:         len(v.Winners),
			Token:               v.Transaction.Token,
			EndDate:             v.EndDate,
			Caption:             v.Caption,
			DiamondOnly:         v.DiamondOnly,
			LifetimeDiamondOnly: v.LifetimeDiamondOnly,
			UniquePersonOnly:    v.UniquePersonOnly,
			StreakOnly:          v.StreakOnly,
			RequiresCaptcha:     v.RequiresCaptcha,
		}
		if viewer != nil {
			pv.UserIsWinner = v.hasWinner(*viewer)
		}
		return pv
	case *TextContent:
		return *v
	case *ImageContent:
		return *v
	case *VideoContent:
		return *v
	case *AudioContent:
		return *v
	case *FileContent:
		return *v
	case *CryptoContent:
		return *v
	case *DeletedContent:
		return *v
	case *GiphyContent:
		return *v
	case *ProposalContent:
		cp := *v
		cp.Votes = nil
		if viewer != nil {
			if adopt, ok := v.Votes[*viewer]; ok {
				cp.Votes = map[models.UserID]bool{*viewer: adopt}
			}
		}
		return cp
	case *PrizeWinnerContent:
		return *v
	case *MessageReminderCreatedContent:
		return *v
	case *MessageReminderContent:
		return *v
	case *ReportedMessageContent:
		return *v
	case *P2PSwapContent:
		return *v
	case *VideoCallContent:
		cp := *v
		cp.HiddenParticipants = nil
		return cp
	case *EncryptedContent:
		return *v
	case *CustomContent:
		return *v
	}
	panic(unknownVariant(c))
}

func hydratePoll(p *PollContent, viewer *models.UserID, now models.TimestampMillis) PollView {
	view := PollView{Config: p.Config, Ended: p.Ended}
	if viewer != nil {
		view.Votes.User = p.UserVotes(*viewer)
	}
	ended := p.Ended || (p.Config.EndDate != nil && now >= *p.Config.EndDate)
	if !ended && !p.Config.ShowVotesBeforeEndDate {
		view.Votes.HiddenUntil = p.Config.EndDate
		return view
	}
	if p.Config.Anonymous {
		view.Votes.Total = make(map[uint32]int, len(p.Votes))
		for o, users := range p.Votes {
			view.Votes.Total[o] = len(users)
		}
		return view
	}
	view.Votes.Voters = make(map[uint32][]models.UserID, len(p.Votes))
	for o, users := range p.Votes {
		cp := append([]models.UserID(nil), users...)
		sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
		view.Votes.Voters[o] = cp
	}
	return view
}

// Edit returns existing with the editable parts replaced by replacement.
// Only text, media and giphy content can be edited and the content type
// must not change.
func Edit(existing Internal, replacement Initial) (Internal, error) {
	next := ToInternal(replacement, ConvertContext{})
	switch existing.(type) {
	case *TextContent, *ImageContent, *VideoContent, *AudioContent, *FileContent, *GiphyContent:
	default:
		return nil, ErrContentNotEditable
	}
	if TypeOf(existing) != TypeOf(next) {
		return nil, ErrContentTypeMismatch
	}
	return next, nil
}
