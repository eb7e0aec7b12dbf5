package events

import (
	"slices"

	"github.com/liangmulu/open-chat/pkg/content"
	"github.com/liangmulu/open-chat/pkg/models"
)

// ChatEvent is the viewer relative view of one envelope.
type ChatEvent struct {
	Index     models.EventIndex       `json:"index"`
	Timestamp models.TimestampMillis  `json:"timestamp"`
	ExpiresAt *models.TimestampMillis `json:"expires_at,omitempty"`
	Type      EventType               `json:"type,omitempty"`
	// Event is a Message for message events and a copy of the stored
	// struct for everything else.
	Event any `json:"event,omitempty"`
}

// Message is the viewer relative view of a message.
type Message struct {
	MessageIndex       models.MessageIndex `json:"message_index"`
	MessageID          models.MessageID    `json:"message_id"`
	Sender             models.UserID       `json:"sender"`
	ContentType        content.ContentType `json:"content_type"`
	Content            any                 `json:"content"`
	SenderContext      *SenderContext      `json:"sender_context,omitempty"`
	RepliesTo          *ReplyContext       `json:"replies_to,omitempty"`
	Reactions          []ReactionEntry     `json:"reactions,omitempty"`
	Tips               []LedgerTips        `json:"tips,omitempty"`
	Edited             bool                `json:"edited"`
	Forwarded          bool                `json:"forwarded"`
	ThreadSummary      *ThreadSummaryView  `json:"thread_summary,omitempty"`
	BlockLevelMarkdown bool                `json:"block_level_markdown"`
}

type ThreadSummaryView struct {
	ParticipantIDs       []models.UserID        `json:"participant_ids"`
	FollowedByMe         bool                   `json:"followed_by_me"`
	ReplyCount           uint32                 `json:"reply_count"`
	LatestEventIndex     models.EventIndex      `json:"latest_event_index"`
	LatestEventTimestamp models.TimestampMillis `json:"latest_event_timestamp"`
}

// MembersAddedToDefaultChannelView exposes only how many members were
// added.
type MembersAddedToDefaultChannelView struct {
	Count int `json:"count"`
}

// Hydrate builds the view of env for viewer. It does not modify env and
// the result shares no mutable state with it.
func Hydrate(env *Envelope, viewer *models.UserID, now models.TimestampMillis) ChatEvent {
	out := ChatEvent{Index: env.Index, Timestamp: env.Timestamp}
	if env.ExpiresAt != nil {
		at := *env.ExpiresAt
		out.ExpiresAt = &at
	}
	out.Type, _ = TypeOf(env.Event)
	out.Event = hydrateEvent(env.Event, viewer, now)
	return out
}

// HydrateMessage builds the view of m for viewer.
func HydrateMessage(m *MessageInternal, viewer *models.UserID, now models.TimestampMillis) Message {
	out := Message{
		MessageIndex:       m.MessageIndex,
		MessageID:          m.MessageID,
		Sender:             m.Sender,
		Edited:             m.LastEdited != nil,
		Forwarded:          m.Forwarded,
		BlockLevelMarkdown: m.BlockLevelMarkdown,
	}
	if m.DeletedBy != nil {
		tomb := &content.DeletedContent{DeletedBy: m.DeletedBy.DeletedBy, Timestamp: m.DeletedBy.Timestamp}
		out.ContentType = content.TypeDeleted
		out.Content = content.Hydrate(tomb, viewer, now)
	} else {
		out.ContentType = content.TypeOf(m.Content)
		out.Content = content.Hydrate(m.Content, viewer, now)
	}
	if m.SenderContext != nil {
		sc := *m.SenderContext
		if sc.Bot != nil {
			bot := *sc.Bot
			if bot.Command != nil {
				cmd := *bot.Command
				if cmd.Args != nil {
					cmd.Args = make(map[string]string, len(bot.Command.Args))
					for k, v := range bot.Command.Args {
						cmd.Args[k] = v
					}
				}
				bot.Command = &cmd
			}
			sc.Bot = &bot
		}
		out.SenderContext = &sc
	}
	if m.RepliesTo != nil {
		r := *m.RepliesTo
		if r.ChatIfOther != nil {
			c := *r.ChatIfOther
			r.ChatIfOther = &c
		}
		out.RepliesTo = &r
	}
	for _, r := range m.Reactions {
		out.Reactions = append(out.Reactions, ReactionEntry{Reaction: r.Reaction, Users: slices.Clone(r.Users)})
	}
	for _, t := range m.Tips {
		out.Tips = append(out.Tips, LedgerTips{Ledger: t.Ledger, Tips: slices.Clone(t.Tips)})
	}
	if ts := m.ThreadSummary; ts != nil {
		out.ThreadSummary = &ThreadSummaryView{
			ParticipantIDs:       slices.Clone(ts.Participants),
			ReplyCount:           ts.ReplyCount,
			LatestEventIndex:     ts.LatestEventIndex,
			LatestEventTimestamp: ts.LatestEventTimestamp,
		}
		if viewer != nil {
			out.ThreadSummary.FollowedByMe = containsSorted(ts.Followers, *viewer)
		}
	}
	return out
}

func hydrateEvent(e Event, viewer *models.UserID, now models.TimestampMillis) any {
	switch v := e.(type) {
	case *MessageInternal:
		return HydrateMessage(v, viewer, now)
	case *DirectChatCreated:
		return *v
	case *GroupCreated:
		return *v
	case *NameChanged:
		return *v
	case *DescriptionChanged:
		return *v
	case *RulesChanged:
		return *v
	case *AvatarChanged:
		return *v
	case *BannerChanged:
		return *v
	case *MembersAdded:
		cp := *v
		cp.UserIDs = slices.Clone(v.UserIDs)
		cp.Unblocked = slices.Clone(v.Unblocked)
		return cp
	case *MembersRemoved:
		cp := *v
		cp.UserIDs = slices.Clone(v.UserIDs)
		return cp
	case *MemberJoined:
		return *v
	case *MemberLeft:
		return *v
	case *RoleChanged:
		cp := *v
		cp.UserIDs = slices.Clone(v.UserIDs)
		return cp
	case *UsersBlocked:
		cp := *v
		cp.UserIDs = slices.Clone(v.UserIDs)
		return cp
	case *UsersUnblocked:
		cp := *v
		cp.UserIDs = slices.Clone(v.UserIDs)
		return cp
	case *MessagePinned:
		return *v
	case *MessageUnpinned:
		return *v
	case *PermissionsChanged:
		cp := *v
		cp.OldPermissions = clonePermissions(v.OldPermissions)
		cp.NewPermissions = clonePermissions(v.NewPermissions)
		return cp
	case *VisibilityChanged:
		return *v
	case *InviteCodeChanged:
		return *v
	case *Frozen:
		return *v
	case *Unfrozen:
		return *v
	case *EventsTTLUpdated:
		return *v
	case *GateUpdated:
		return *v
	case *UsersInvited:
		cp := *v
		cp.UserIDs = slices.Clone(v.UserIDs)
		return cp
	case *MembersAddedToDefaultChannel:
		return MembersAddedToDefaultChannelView{Count: len(v.UserIDs)}
	case *ExternalURLUpdated:
		return *v
	case *BotAdded:
		return *v
	case *BotRemoved:
		return *v
	case *BotUpdated:
		return *v
	case *Empty:
		return nil
	case *FailedToDeserialize:
		return *v
	}
	panic(unknownEvent(e))
}

func clonePermissions(p GroupPermissions) GroupPermissions {
	if p == nil {
		return nil
	}
	out := make(GroupPermissions, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
