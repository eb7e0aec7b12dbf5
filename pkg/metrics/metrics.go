// Package metrics keeps per chat counters up to date as events are
// appended, changed and removed. The counters always equal what a replay
// of the surviving log computes; Replay exists to check that.
package metrics

import (
	"maps"

	"github.com/liangmulu/open-chat/pkg/content"
	"github.com/liangmulu/open-chat/pkg/events"
	"github.com/liangmulu/open-chat/pkg/models"
)

// ChatMetrics is a snapshot of one chat's counters.
type ChatMetrics struct {
	TextMessages            uint64 `json:"text_messages"`
	ImageMessages           uint64 `json:"image_messages"`
	VideoMessages           uint64 `json:"video_messages"`
	AudioMessages           uint64 `json:"audio_messages"`
	FileMessages            uint64 `json:"file_messages"`
	Polls                   uint64 `json:"polls"`
	CryptoMessages          uint64 `json:"crypto_messages"`
	GiphyMessages           uint64 `json:"giphy_messages"`
	Proposals               uint64 `json:"proposals"`
	PrizeMessages           uint64 `json:"prize_messages"`
	PrizeWinnerMessages     uint64 `json:"prize_winner_messages"`
	MessageRemindersCreated uint64 `json:"message_reminders_created"`
	MessageReminders        uint64 `json:"message_reminders"`
	ReportedMessages        uint64 `json:"reported_messages"`
	P2PSwaps                uint64 `json:"p2p_swaps"`
	VideoCalls              uint64 `json:"video_calls"`
	EncryptedMessages       uint64 `json:"encrypted_messages"`
	CustomTypeMessages      uint64 `json:"custom_type_messages"`

	// Tombstones counts messages whose content has been hard deleted.
	Tombstones      uint64 `json:"tombstones"`
	Replies         uint64 `json:"replies"`
	Reactions       uint64 `json:"reactions"`
	EditedMessages  uint64 `json:"edited_messages"`
	DeletedMessages uint64 `json:"deleted_messages"`

	// Events counts appended events per event type. Types with a zero
	// count are absent.
	Events map[events.EventType]uint64 `json:"events"`

	LastActive models.TimestampMillis `json:"last_active"`
}

// Messages returns the number of messages counted.
func (m *ChatMetrics) Messages() uint64 { return m.Events[events.TypeMessage] }

// Counters returns m without LastActive, which is a high water mark and
// not derivable from the surviving log.
func (m ChatMetrics) Counters() ChatMetrics {
	m.LastActive = 0
	m.Events = maps.Clone(m.Events)
	return m
}

// Add accumulates other into m.
func (m *ChatMetrics) Add(other *ChatMetrics) {
	for _, ct := range contentTypes {
		*m.contentCounter(ct) += *other.contentCounter(ct)
	}
	m.Replies += other.Replies
	m.Reactions += other.Reactions
	m.EditedMessages += other.EditedMessages
	m.DeletedMessages += other.DeletedMessages
	for t, n := range other.Events {
		if m.Events == nil {
			m.Events = make(map[events.EventType]uint64)
		}
		m.Events[t] += n
	}
	if other.LastActive > m.LastActive {
		m.LastActive = other.LastActive
	}
}

var contentTypes = []content.ContentType{
	content.TypeText, content.TypeImage, content.TypeVideo, content.TypeAudio, content.TypeFile,
	content.TypePoll, content.TypeCrypto, content.TypeDeleted, content.TypeGiphy,
	content.TypeGovernanceProposal, content.TypePrize, content.TypePrizeWinner,
	content.TypeMessageReminderCreated, content.TypeMessageReminder, content.TypeReportedMessage,
	content.TypeP2PSwap, content.TypeVideoCall, content.TypeEncrypted, content.CustomType(""),
}

// ContentTypes lists the keys ContentCount accepts. All custom kinds
// share the custom entry.
func ContentTypes() []content.ContentType { return contentTypes }

// ContentCount returns the counter for content type ct.
func (m *ChatMetrics) ContentCount(ct content.ContentType) uint64 {
	return *m.contentCounter(ct)
}

func (m *ChatMetrics) contentCounter(ct content.ContentType) *uint64 {
	switch ct {
	case content.TypeText:
		return &m.TextMessages
	case content.TypeImage:
		return &m.ImageMessages
	case content.TypeVideo:
		return &m.VideoMessages
	case content.TypeAudio:
		return &m.AudioMessages
	case content.TypeFile:
		return &m.FileMessages
	case content.TypePoll:
		return &m.Polls
	case content.TypeCrypto:
		return &m.CryptoMessages
	case content.TypeDeleted:
		return &m.Tombstones
	case content.TypeGiphy:
		return &m.GiphyMessages
	case content.TypeGovernanceProposal:
		return &m.Proposals
	case content.TypePrize:
		return &m.PrizeMessages
	case content.TypePrizeWinner:
		return &m.PrizeWinnerMessages
	case content.TypeMessageReminderCreated:
		return &m.MessageRemindersCreated
	case content.TypeMessageReminder:
		return &m.MessageReminders
	case content.TypeReportedMessage:
		return &m.ReportedMessages
	case content.TypeP2PSwap:
		return &m.P2PSwaps
	case content.TypeVideoCall:
		return &m.VideoCalls
	case content.TypeEncrypted:
		return &m.EncryptedMessages
	}
	return &m.CustomTypeMessages
}

// MessageState is what one message contributes to the counters. Take it
// before mutating a message and pass it to OnMessageChanged afterwards.
type MessageState struct {
	contentType content.ContentType
	reply       bool
	reactions   uint64
	edited      bool
	deleted     bool
	valid       bool
}

// StateOf captures msg's contribution.
func StateOf(msg *events.MessageInternal) MessageState {
	s := MessageState{
		reply:   msg.RepliesTo != nil,
		edited:  msg.LastEdited != nil,
		deleted: msg.DeletedBy != nil,
		valid:   true,
	}
	if msg.Content != nil {
		s.contentType = content.TypeOf(msg.Content)
	}
	for _, r := range msg.Reactions {
		s.reactions += uint64(len(r.Users))
	}
	return s
}

// Aggregator maintains one chat's counters. It is owned by the chat and
// not safe for concurrent use.
type Aggregator struct {
	m ChatMetrics
}

func NewAggregator() *Aggregator {
	return &Aggregator{m: ChatMetrics{Events: make(map[events.EventType]uint64)}}
}

// OnAppend counts a committed event.
func (a *Aggregator) OnAppend(env *events.Envelope) {
	a.apply(env, 1)
	a.touch(env.Timestamp)
}

// OnRemove uncounts an event that has been physically removed.
func (a *Aggregator) OnRemove(env *events.Envelope) {
	a.apply(env, -1)
}

// OnMessageChanged moves a message's contribution from before to its
// current state.
func (a *Aggregator) OnMessageChanged(before MessageState, msg *events.MessageInternal, now models.TimestampMillis) {
	a.applyMessage(before, -1)
	a.applyMessage(StateOf(msg), 1)
	a.touch(now)
}

// OnHardDelete records that a message's content of type ct has been
// purged and replaced by a tombstone.
func (a *Aggregator) OnHardDelete(ct content.ContentType) {
	add(a.m.contentCounter(ct), -1)
	add(a.m.contentCounter(content.TypeDeleted), 1)
}

// Snapshot returns a copy of the counters.
func (a *Aggregator) Snapshot() ChatMetrics {
	m := a.m
	m.Events = maps.Clone(a.m.Events)
	return m
}

func (a *Aggregator) touch(ts models.TimestampMillis) {
	if ts > a.m.LastActive {
		a.m.LastActive = ts
	}
}

func (a *Aggregator) apply(env *events.Envelope, delta int) {
	t, ok := events.TypeOf(env.Event)
	if !ok {
		return
	}
	a.addEvent(t, delta)
	if msg, ok := env.Message(); ok {
		a.applyMessage(StateOf(msg), delta)
	}
}

func (a *Aggregator) addEvent(t events.EventType, delta int) {
	n := a.m.Events[t]
	add(&n, delta)
	if n == 0 {
		delete(a.m.Events, t)
		return
	}
	a.m.Events[t] = n
}

func (a *Aggregator) applyMessage(s MessageState, delta int) {
	if !s.valid {
		return
	}
	if s.contentType != "" {
		add(a.m.contentCounter(s.contentType), delta)
	}
	if s.reply {
		add(&a.m.Replies, delta)
	}
	if s.edited {
		add(&a.m.EditedMessages, delta)
	}
	if s.deleted {
		add(&a.m.DeletedMessages, delta)
	}
	if delta < 0 {
		a.m.Reactions -= min(a.m.Reactions, s.reactions)
	} else {
		a.m.Reactions += s.reactions
	}
}

// add applies delta to a counter, flooring at zero.
func add(c *uint64, delta int) {
	if delta < 0 && *c < uint64(-delta) {
		*c = 0
		return
	}
	*c = uint64(int64(*c) + int64(delta))
}

// Replay computes the counters a fresh aggregator reaches after seeing
// every envelope. LastActive is the latest envelope timestamp.
func Replay(envs []*events.Envelope) ChatMetrics {
	a := NewAggregator()
	for _, env := range envs {
		a.OnAppend(env)
	}
	return a.Snapshot()
}
