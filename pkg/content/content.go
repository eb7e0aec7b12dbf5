// Package content holds the message content model: the persisted
// (internal) variants, the caller submitted (initial) variants, and the
// validation, hydration and blob bookkeeping that goes with them.
package content

import (
	"strings"

	"github.com/liangmulu/open-chat/pkg/models"
)

// MaxTextLength bounds message text and captions, counted in characters.
const MaxTextLength = 10_000

// ContentType is the stable discriminant of a content variant. It is used
// as a metrics key and a filter so its values never change.
type ContentType string

const (
	TypeText                   ContentType = "text"
	TypeImage                  ContentType = "image"
	TypeVideo                  ContentType = "video"
	TypeAudio                  ContentType = "audio"
	TypeFile                   ContentType = "file"
	TypePoll                   ContentType = "poll"
	TypeCrypto                 ContentType = "crypto"
	TypeDeleted                ContentType = "deleted"
	TypeGiphy                  ContentType = "giphy"
	TypeGovernanceProposal     ContentType = "governance_proposal"
	TypePrize                  ContentType = "prize"
	TypePrizeWinner            ContentType = "prize_winner"
	TypeMessageReminderCreated ContentType = "message_reminder_created"
	TypeMessageReminder        ContentType = "message_reminder"
	TypeReportedMessage        ContentType = "reported_message"
	TypeP2PSwap                ContentType = "p2p_swap"
	TypeVideoCall              ContentType = "video_call"
	TypeEncrypted              ContentType = "encrypted"

	customPrefix = "custom:"
)

// CustomType returns the content type for a custom content kind.
func CustomType(kind string) ContentType { return ContentType(customPrefix + kind) }

// IsCustom reports whether t was built by CustomType.
func (t ContentType) IsCustom() bool { return strings.HasPrefix(string(t), customPrefix) }

// CustomKind returns the kind of a custom content type.
func (t ContentType) CustomKind() string { return strings.TrimPrefix(string(t), customPrefix) }

// Internal is the persisted form of message content. The set of
// implementations is closed; every switch over it lists all of them.
type Internal interface {
	isInternal()
}

func (*TextContent) isInternal()                   {}
func (*ImageContent) isInternal()                  {}
func (*VideoContent) isInternal()                  {}
func (*AudioContent) isInternal()                  {}
func (*FileContent) isInternal()                   {}
func (*PollContent) isInternal()                   {}
func (*CryptoContent) isInternal()                 {}
func (*DeletedContent) isInternal()                {}
func (*GiphyContent) isInternal()                  {}
func (*ProposalContent) isInternal()               {}
func (*PrizeContent) isInternal()                  {}
func (*PrizeWinnerContent) isInternal()            {}
func (*MessageReminderCreatedContent) isInternal() {}
func (*MessageReminderContent) isInternal()        {}
func (*ReportedMessageContent) isInternal()        {}
func (*P2PSwapContent) isInternal()                {}
func (*VideoCallContent) isInternal()              {}
func (*EncryptedContent) isInternal()              {}
func (*CustomContent) isInternal()                 {}

// TypeOf returns the content type of c.
func TypeOf(c Internal) ContentType {
	switch v := c.(type) {
	case *TextContent:
		return TypeText
	case *ImageContent:
		return TypeImage
	case *VideoContent:
		return TypeVideo
	case *AudioContent:
		return TypeAudio
	case *FileContent:
		return TypeFile
	case *PollContent:
		return TypePoll
	case *CryptoContent:
		return TypeCrypto
	case *DeletedContent:
		return TypeDeleted
	case *GiphyContent:
		return TypeGiphy
	case *ProposalContent:
		return TypeGovernanceProposal
	case *PrizeContent:
		return TypePrize
	case *PrizeWinnerContent:
		return TypePrizeWinner
	case *MessageReminderCreatedContent:
		return TypeMessageReminderCreated
	case *MessageReminderContent:
		return TypeMessageReminder
	case *ReportedMessageContent:
		return TypeReportedMessage
	case *P2PSwapContent:
		return TypeP2PSwap
	case *VideoCallContent:
		return TypeVideoCall
	case *EncryptedContent:
		return TypeEncrypted
	case *CustomContent:
		return CustomType(v.Kind)
	}
	panic(unknownVariant(c))
}

// Text returns the text used for previews and search.
func Text(c Internal) (string, bool) {
	switch v := c.(type) {
	case *TextContent:
		return v.Text, true
	case *ImageContent:
		return optional(v.Caption)
	case *VideoContent:
		return optional(v.Caption)
	case *AudioContent:
		return optional(v.Caption)
	case *FileContent:
		return optional(v.Caption)
	case *PollContent:
		return optional(v.Config.Text)
	case *CryptoContent:
		return optional(v.Caption)
	case *GiphyContent:
		return optional(v.Caption)
	case *ProposalContent:
		return v.Proposal.Title, true
	case *PrizeContent:
		return optional(v.Caption)
	case *P2PSwapContent:
		return optional(v.Caption)
	case *DeletedContent, *PrizeWinnerContent, *MessageReminderCreatedContent, *MessageReminderContent,
		*ReportedMessageContent, *VideoCallContent, *EncryptedContent, *CustomContent:
		return "", false
	}
	panic(unknownVariant(c))
}

// BlobReferences lists the external binary objects c points at, in a
// stable order. The caller releases them when the content is purged.
func BlobReferences(c Internal) []models.BlobReference {
	var out []models.BlobReference
	add := func(b *models.BlobReference) {
		if b != nil {
			out = append(out, *b)
		}
	}
	switch v := c.(type) {
	case *ImageContent:
		add(v.BlobReference)
	case *VideoContent:
		add(v.VideoBlobReference)
		add(v.ImageBlobReference)
	case *AudioContent:
		add(v.BlobReference)
	case *FileContent:
		add(v.BlobReference)
	case *TextContent, *PollContent, *CryptoContent, *DeletedContent, *GiphyContent, *ProposalContent,
		*PrizeContent, *PrizeWinnerContent, *MessageReminderCreatedContent, *MessageReminderContent,
		*ReportedMessageContent, *P2PSwapContent, *VideoCallContent, *EncryptedContent, *CustomContent:
	default:
		panic(unknownVariant(c))
	}
	return out
}

// Mentions returns the user ids mentioned in the text of c as
// "@UserId(<id>)" tokens, deduplicated, in order of appearance.
func Mentions(c Internal) []models.UserID {
	text, ok := Text(c)
	if !ok {
		return nil
	}
	const open = "@UserId("
	var out []models.UserID
	seen := map[models.UserID]bool{}
	for {
		i := strings.Index(text, open)
		if i < 0 {
			return out
		}
		text = text[i+len(open):]
		j := strings.IndexByte(text, ')')
		if j < 0 {
			return out
		}
		id := models.UserID(text[:j])
		text = text[j+1:]
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
}

func optional(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	return *s, true
}

func strPtr(s string) *string { return &s }

type unknownVariantError struct{ v any }

func (e unknownVariantError) Error() string { return "content: unknown variant" }

func unknownVariant(v any) error { return unknownVariantError{v} }
