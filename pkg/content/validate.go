package content

import (
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/liangmulu/open-chat/pkg/models"
)

const (
	MinPollOptions      = 2
	MaxPollOptions      = 10
	MaxPollOptionLength = 200
)

// Reason enumerates why content was rejected.
type Reason int

const (
	ReasonEmpty Reason = iota + 1
	ReasonTextTooLong
	ReasonInvalidPoll
	ReasonTransferCannotBeZero
	ReasonTransferMustBePending
	ReasonInvalidTypeForForwarding
	ReasonPrizeEndDateInThePast
	ReasonUnauthorized
)

func (r Reason) String() string {
	switch r {
	case ReasonEmpty:
		return "empty"
	case ReasonTextTooLong:
		return "text_too_long"
	case ReasonInvalidPoll:
		return "invalid_poll"
	case ReasonTransferCannotBeZero:
		return "transfer_cannot_be_zero"
	case ReasonTransferMustBePending:
		return "transfer_must_be_pending"
	case ReasonInvalidTypeForForwarding:
		return "invalid_type_for_forwarding"
	case ReasonPrizeEndDateInThePast:
		return "prize_end_date_in_the_past"
	case ReasonUnauthorized:
		return "unauthorized"
	}
	return "unknown"
}

// PollReason refines ReasonInvalidPoll.
type PollReason int

const (
	PollTooFewOptions PollReason = iota + 1
	PollTooManyOptions
	PollOptionTooLong
	PollDuplicateOptions
	PollEndDateInThePast
	PollsNotValidForDirectChats
)

func (r PollReason) String() string {
	switch r {
	case PollTooFewOptions:
		return "too_few_options"
	case PollTooManyOptions:
		return "too_many_options"
	case PollOptionTooLong:
		return "option_too_long"
	case PollDuplicateOptions:
		return "duplicate_options"
	case PollEndDateInThePast:
		return "end_date_in_the_past"
	case PollsNotValidForDirectChats:
		return "polls_not_valid_for_direct_chats"
	}
	return "unknown"
}

// ValidationError is returned by Validate.
type ValidationError struct {
	Reason Reason
	// Max is set for ReasonTextTooLong and for the poll length and count
	// limits.
	Max  int
	Poll PollReason
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonTextTooLong:
		return fmt.Sprintf("content: text too long (max %d)", e.Max)
	case ReasonInvalidPoll:
		return "content: invalid poll: " + e.Poll.String()
	}
	return "content: " + e.Reason.String()
}

// ValidateContext describes the circumstances of a send.
type ValidateContext struct {
	Now         models.TimestampMillis
	ChatKind    models.ChatKind
	Forwarding  bool
	SenderIsBot bool
}

func invalid(r Reason) error { return &ValidationError{Reason: r} }

func invalidPoll(r PollReason, max int) error {
	return &ValidationError{Reason: ReasonInvalidPoll, Poll: r, Max: max}
}

// Validate checks submitted content. It never panics on well typed input
// and reports the first problem found.
func Validate(c Initial, ctx ValidateContext) error {
	if isNil(c) {
		return invalid(ReasonEmpty)
	}
	if ctx.Forwarding && !forwardable(c) {
		return invalid(ReasonInvalidTypeForForwarding)
	}
	switch v := c.(type) {
	case *TextContent:
		if strings.TrimSpace(v.Text) == "" {
			return invalid(ReasonEmpty)
		}
		return checkText(&v.Text)
	case *ImageContent:
		if v.BlobReference == nil {
			return invalid(ReasonEmpty)
		}
		return checkText(v.Caption)
	case *VideoContent:
		if v.VideoBlobReference == nil {
			return invalid(ReasonEmpty)
		}
		return checkText(v.Caption)
	case *AudioContent:
		if v.BlobReference == nil {
			return invalid(ReasonEmpty)
		}
		return checkText(v.Caption)
	case *FileContent:
		if v.BlobReference == nil {
			return invalid(ReasonEmpty)
		}
		return checkText(v.Caption)
	case *PollInitial:
		return validatePoll(v.Config, ctx)
	case *CryptoInitial:
		if err := checkTransfer(v.Transfer); err != nil {
			return err
		}
		return checkText(v.Caption)
	case *GiphyContent:
		return checkText(v.Caption)
	case *ProposalContent:
		if !ctx.SenderIsBot {
			return invalid(ReasonUnauthorized)
		}
		return nil
	case *PrizeInitial:
		if len(v.Prizes) == 0 {
			return invalid(ReasonEmpty)
		}
		for _, p := range v.Prizes {
			if p == 0 {
				return invalid(ReasonTransferCannotBeZero)
			}
		}
		if err := checkTransfer(v.Transfer); err != nil {
			return err
		}
		if v.EndDate <= ctx.Now {
			return invalid(ReasonPrizeEndDateInThePast)
		}
		return checkText(v.Caption)
	case *MessageReminderCreatedContent, *MessageReminderContent:
		if !ctx.SenderIsBot {
			return invalid(ReasonUnauthorized)
		}
		return nil
	case *P2PSwapInitial:
		if v.Token0Amount == 0 || v.Token1Amount == 0 {
			return invalid(ReasonTransferCannotBeZero)
		}
		if v.ExpiresIn == 0 {
			return invalid(ReasonEmpty)
		}
		return checkText(v.Caption)
	case *VideoCallInitial:
		if v.Initiator == "" {
			return invalid(ReasonEmpty)
		}
		return nil
	case *EncryptedContent:
		if len(v.EncryptedData) == 0 {
			return invalid(ReasonEmpty)
		}
		return nil
	case *CustomContent:
		if v.Kind == "" {
			return invalid(ReasonEmpty)
		}
		return nil
	}
	panic(unknownVariant(c))
}

// isNil reports a missing content, untyped or a nil pointer variant.
func isNil(c Initial) bool {
	if c == nil {
		return true
	}
	v := reflect.ValueOf(c)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

func forwardable(c Initial) bool {
	switch c.(type) {
	case *TextContent, *ImageContent, *VideoContent, *AudioContent, *FileContent, *PollInitial, *GiphyContent:
		return true
	}
	return false
}

func checkText(s *string) error {
	if s != nil && utf8.RuneCountInString(*s) > MaxTextLength {
		return &ValidationError{Reason: ReasonTextTooLong, Max: MaxTextLength}
	}
	return nil
}

func checkTransfer(t CryptoTransaction) error {
	if t.Amount == 0 {
		return invalid(ReasonTransferCannotBeZero)
	}
	if t.State != TransferPending {
		return invalid(ReasonTransferMustBePending)
	}
	return nil
}

func validatePoll(cfg PollConfig, ctx ValidateContext) error {
	if ctx.ChatKind == models.ChatDirect {
		return invalidPoll(PollsNotValidForDirectChats, 0)
	}
	if err := checkText(cfg.Text); err != nil {
		return err
	}
	if len(cfg.Options) < MinPollOptions {
		return invalidPoll(PollTooFewOptions, MinPollOptions)
	}
	if len(cfg.Options) > MaxPollOptions {
		return invalidPoll(PollTooManyOptions, MaxPollOptions)
	}
	seen := make(map[string]bool, len(cfg.Options))
	for _, o := range cfg.Options {
		if utf8.RuneCountInString(o) > MaxPollOptionLength {
			return invalidPoll(PollOptionTooLong, MaxPollOptionLength)
		}
		key := strings.ToLower(strings.TrimSpace(o))
		if seen[key] {
			return invalidPoll(PollDuplicateOptions, 0)
		}
		seen[key] = true
	}
	if cfg.EndDate != nil && *cfg.EndDate <= ctx.Now {
		return invalidPoll(PollEndDateInThePast, 0)
	}
	return nil
}
