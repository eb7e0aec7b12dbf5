package events

import (
	"sort"

	"github.com/liangmulu/open-chat/pkg/content"
	"github.com/liangmulu/open-chat/pkg/models"
)

// MessageInternal is the persisted form of a message event.
type MessageInternal struct {
	MessageIndex       models.MessageIndex     `msgpack:"x" legacy:"message_index"`
	MessageID          models.MessageID        `msgpack:"i" legacy:"message_id"`
	Sender             models.UserID           `msgpack:"s" legacy:"sender"`
	Content            content.Internal        `msgpack:"c" legacy:"content"`
	SenderContext      *SenderContext          `msgpack:"sc,omitempty" legacy:"sender_context"`
	RepliesTo          *ReplyContext           `msgpack:"p,omitempty" legacy:"replies_to"`
	Reactions          []ReactionEntry         `msgpack:"r,omitempty" legacy:"reactions"`
	Tips               []LedgerTips            `msgpack:"ti,omitempty" legacy:"tips"`
	LastEdited         *models.TimestampMillis `msgpack:"e,omitempty" legacy:"last_edited"`
	DeletedBy          *DeletedBy              `msgpack:"d,omitempty" legacy:"deleted_by"`
	ThreadSummary      *ThreadSummary          `msgpack:"t,omitempty" legacy:"thread_summary"`
	Forwarded          bool                    `msgpack:"f,omitempty" legacy:"forwarded"`
	BlockLevelMarkdown bool                    `msgpack:"b,omitempty" legacy:"block_level_markdown"`
}

// SenderContext is set when a bot sent the message.
type SenderContext struct {
	Bot *BotMessageContext `msgpack:"b,omitempty" json:"bot,omitempty"`
}

type BotCommand struct {
	Name      string            `msgpack:"n" json:"name"`
	Args      map[string]string `msgpack:"a,omitempty" json:"args,omitempty"`
	Initiator models.UserID     `msgpack:"i" json:"initiator"`
}

type BotMessageContext struct {
	Command   *BotCommand `msgpack:"c,omitempty" json:"command,omitempty"`
	Finalised bool        `msgpack:"f,omitempty" json:"finalised"`
}

// ReplyChat names the chat, and optionally the thread, a reply points
// into when that differs from where the reply is recorded.
type ReplyChat struct {
	Chat   models.Chat          `msgpack:"c" json:"chat"`
	Thread *models.MessageIndex `msgpack:"t,omitempty" json:"thread,omitempty"`
}

type ReplyContext struct {
	ChatIfOther *ReplyChat        `msgpack:"c,omitempty" json:"chat_if_other,omitempty"`
	EventIndex  models.EventIndex `msgpack:"e" json:"event_index"`
}

type DeletedBy struct {
	DeletedBy models.UserID          `msgpack:"d" json:"deleted_by"`
	Timestamp models.TimestampMillis `msgpack:"t" json:"timestamp"`
}

// ReactionEntry is one reaction and the sorted set of users who added it.
type ReactionEntry struct {
	Reaction string          `msgpack:"r" json:"reaction"`
	Users    []models.UserID `msgpack:"u" json:"users"`
}

type UserTip struct {
	User   models.UserID `msgpack:"u" json:"user"`
	Amount uint64        `msgpack:"a" json:"amount"`
}

// LedgerTips accumulates tips per user for one ledger.
type LedgerTips struct {
	Ledger string    `msgpack:"l" json:"ledger"`
	Tips   []UserTip `msgpack:"t" json:"tips"`
}

// ThreadSummary is kept on a thread's root message.
type ThreadSummary struct {
	Participants         []models.UserID        `msgpack:"p"`
	Followers            []models.UserID        `msgpack:"f"`
	ReplyCount           uint32                 `msgpack:"r"`
	LatestEventIndex     models.EventIndex      `msgpack:"e"`
	LatestEventTimestamp models.TimestampMillis `msgpack:"t"`
}

// MarkMessageAdded records a reply. The sender and any mentioned users
// follow the thread; on the first reply so does the root message sender.
func (t *ThreadSummary) MarkMessageAdded(sender models.UserID, mentioned []models.UserID, rootSender models.UserID, latest models.EventIndex, now models.TimestampMillis) {
	t.LatestEventIndex = latest
	t.LatestEventTimestamp = now
	t.ReplyCount++
	if !containsUser(t.Participants, sender) {
		t.Participants = append(t.Participants, sender)
	}
	t.Followers = insertUser(t.Followers, sender)
	for _, u := range mentioned {
		t.Followers = insertUser(t.Followers, u)
	}
	if t.ReplyCount == 1 {
		t.Followers = insertUser(t.Followers, rootSender)
	}
}

// Follow adds user to the followers. Returns false if already following.
func (t *ThreadSummary) Follow(user models.UserID) bool {
	if containsSorted(t.Followers, user) {
		return false
	}
	t.Followers = insertUser(t.Followers, user)
	return true
}

// Unfollow removes user from the followers.
func (t *ThreadSummary) Unfollow(user models.UserID) bool {
	i := sort.Search(len(t.Followers), func(i int) bool { return t.Followers[i] >= user })
	if i == len(t.Followers) || t.Followers[i] != user {
		return false
	}
	t.Followers = append(t.Followers[:i], t.Followers[i+1:]...)
	return true
}

// AddReaction records user's reaction. Returns false if it was already
// present.
func (m *MessageInternal) AddReaction(user models.UserID, reaction string) bool {
	for i := range m.Reactions {
		if m.Reactions[i].Reaction == reaction {
			if containsSorted(m.Reactions[i].Users, user) {
				return false
			}
			m.Reactions[i].Users = insertUser(m.Reactions[i].Users, user)
			return true
		}
	}
	m.Reactions = append(m.Reactions, ReactionEntry{Reaction: reaction, Users: []models.UserID{user}})
	return true
}

// RemoveReaction drops user's reaction. Reactions left without users are
// removed.
func (m *MessageInternal) RemoveReaction(user models.UserID, reaction string) bool {
	for i := range m.Reactions {
		if m.Reactions[i].Reaction != reaction {
			continue
		}
		users := m.Reactions[i].Users
		j := sort.Search(len(users), func(j int) bool { return users[j] >= user })
		if j == len(users) || users[j] != user {
			return false
		}
		users = append(users[:j], users[j+1:]...)
		if len(users) == 0 {
			m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
		} else {
			m.Reactions[i].Users = users
		}
		return true
	}
	return false
}

// AddTip accumulates amount for user under ledger.
func (m *MessageInternal) AddTip(ledger string, user models.UserID, amount uint64) {
	for i := range m.Tips {
		if m.Tips[i].Ledger != ledger {
			continue
		}
		for j := range m.Tips[i].Tips {
			if m.Tips[i].Tips[j].User == user {
				m.Tips[i].Tips[j].Amount += amount
				return
			}
		}
		m.Tips[i].Tips = append(m.Tips[i].Tips, UserTip{User: user, Amount: amount})
		return
	}
	m.Tips = append(m.Tips, LedgerTips{Ledger: ledger, Tips: []UserTip{{User: user, Amount: amount}}})
}

// IsDeleted reports whether the message has been tombstoned.
func (m *MessageInternal) IsDeleted() bool { return m.DeletedBy != nil }

// BotContext returns the bot context of the sender, if any.
func (m *MessageInternal) BotContext() *BotMessageContext {
	if m.SenderContext == nil {
		return nil
	}
	return m.SenderContext.Bot
}

func containsUser(list []models.UserID, u models.UserID) bool {
	for _, x := range list {
		if x == u {
			return true
		}
	}
	return false
}

func containsSorted(list []models.UserID, u models.UserID) bool {
	i := sort.Search(len(list), func(i int) bool { return list[i] >= u })
	return i < len(list) && list[i] == u
}

func insertUser(list []models.UserID, u models.UserID) []models.UserID {
	i := sort.Search(len(list), func(i int) bool { return list[i] >= u })
	if i < len(list) && list[i] == u {
		return list
	}
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = u
	return list
}
