// Package chatlog is the event log of one chat: a main log plus one log
// per thread, the message id index, expiry tracking and live metrics.
//
// A ChatEvents value is owned by a single goroutine at a time; callers
// serialize access (see pkg/chats). Every change is handed to the
// Persister first and only applied in memory once it has been stored.
package chatlog

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/liangmulu/open-chat/pkg/codec"
	"github.com/liangmulu/open-chat/pkg/content"
	"github.com/liangmulu/open-chat/pkg/events"
	"github.com/liangmulu/open-chat/pkg/logger"
	"github.com/liangmulu/open-chat/pkg/metrics"
	"github.com/liangmulu/open-chat/pkg/models"
)

const defaultBeforeRatio = 0.5

type Options struct {
	// WindowBeforeRatio is the share of each window cap spent before the
	// midpoint. Zero means 0.5.
	WindowBeforeRatio float64
}

func (o Options) beforeRatio() float64 {
	if o.WindowBeforeRatio <= 0 || o.WindowBeforeRatio >= 1 {
		return defaultBeforeRatio
	}
	return o.WindowBeforeRatio
}

type messageRef struct {
	inThread bool
	root     models.MessageIndex
	event    models.EventIndex
	message  models.MessageIndex
}

func (r messageRef) in(thread *models.MessageIndex) bool {
	if thread == nil {
		return !r.inThread
	}
	return r.inThread && r.root == *thread
}

// ChatEvents holds every event of one chat.
type ChatEvents struct {
	chat    models.Chat
	opts    Options
	store   Persister
	main    *EventLog
	threads map[models.MessageIndex]*EventLog
	ids     map[models.MessageID]messageRef
	ttl     *models.Milliseconds
	metrics *metrics.Aggregator
}

// New returns an empty log for chat. A nil store keeps everything in
// memory only.
func New(chat models.Chat, store Persister, opts Options) *ChatEvents {
	return &ChatEvents{
		chat:    chat,
		opts:    opts,
		store:   store,
		main:    newEventLog(),
		threads: make(map[models.MessageIndex]*EventLog),
		ids:     make(map[models.MessageID]messageRef),
		metrics: metrics.NewAggregator(),
	}
}

func (c *ChatEvents) Chat() models.Chat { return c.chat }

// EventsTTL returns the time to live applied to new messages.
func (c *ChatEvents) EventsTTL() *models.Milliseconds { return copyTTL(c.ttl) }

// Metrics returns a snapshot of the chat's counters.
func (c *ChatEvents) Metrics() metrics.ChatMetrics { return c.metrics.Snapshot() }

// LatestEventIndex returns the latest index of the main log or of a
// thread. A thread without replies reports zero.
func (c *ChatEvents) LatestEventIndex(thread *models.MessageIndex) models.EventIndex {
	if l := c.log(thread); l != nil {
		return l.latest
	}
	return 0
}

// Threads returns the roots of every thread with at least one reply held.
func (c *ChatEvents) Threads() []models.MessageIndex {
	out := make([]models.MessageIndex, 0, len(c.threads))
	for root := range c.threads {
		out = append(out, root)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of events held across all logs.
func (c *ChatEvents) Len() int {
	n := c.main.Len()
	for _, l := range c.threads {
		n += l.Len()
	}
	return n
}

// Envelopes returns copies of every held envelope, main log first and
// then threads by root.
func (c *ChatEvents) Envelopes() []*events.Envelope {
	var out []*events.Envelope
	c.eachLog(func(_ *models.MessageIndex, l *EventLog) {
		l.each(func(env *events.Envelope) {
			if cp, err := cloneEnvelope(env); err == nil {
				out = append(out, cp)
			}
		})
	})
	return out
}

func (c *ChatEvents) eachLog(fn func(thread *models.MessageIndex, l *EventLog)) {
	fn(nil, c.main)
	for _, root := range c.Threads() {
		r := root
		fn(&r, c.threads[root])
	}
}

func (c *ChatEvents) log(thread *models.MessageIndex) *EventLog {
	if thread == nil {
		return c.main
	}
	return c.threads[*thread]
}

// threadRoot returns the live root envelope of a thread.
func (c *ChatEvents) threadRoot(root models.MessageIndex, now models.TimestampMillis) *events.Envelope {
	i, ok := c.main.byMessageIndex[root]
	if !ok {
		return nil
	}
	env := c.main.get(i)
	if env == nil || env.ExpiredAt(now) {
		return nil
	}
	return env
}

func (c *ChatEvents) meta() Meta {
	return Meta{
		EventsTTL:        c.EventsTTL(),
		LatestEventIndex: c.main.latest,
		NextMessageIndex: c.main.nextMessage,
	}
}

func (c *ChatEvents) batch(writes ...Write) *Batch {
	m := c.meta()
	return &Batch{Chat: c.chat, Writes: writes, Meta: &m}
}

func (c *ChatEvents) commit(b *Batch) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.Commit(b); err != nil {
		return fmt.Errorf("chatlog: persist %s: %w", c.chat, err)
	}
	return nil
}

func copyThread(thread *models.MessageIndex) *models.MessageIndex {
	if thread == nil {
		return nil
	}
	t := *thread
	return &t
}

func cloneEnvelope(env *events.Envelope) (*events.Envelope, error) {
	b, err := codec.EncodeEvent(env)
	if err != nil {
		return nil, err
	}
	out, _, err := codec.DecodeEventVersion(b)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Append adds e to the main log, or to the thread rooted at *thread, and
// returns its index. Messages get the next message index of that log.
// Re-appending a message id with the same sender and content returns the
// original index. Append takes ownership of e.
func (c *ChatEvents) Append(thread *models.MessageIndex, e events.Event, now models.TimestampMillis, ttl *models.Milliseconds) (models.EventIndex, error) {
	return c.append(thread, e, now, ttl, nil)
}

func (c *ChatEvents) append(thread *models.MessageIndex, e events.Event, now models.TimestampMillis, ttl *models.Milliseconds, mentioned []models.UserID) (models.EventIndex, error) {
	if e == nil || !events.ValidFor(e, c.chat.Kind, thread != nil) {
		if thread != nil {
			return 0, ErrInvalidEventForThread
		}
		return 0, ErrInvalidEventForChat
	}

	l := c.main
	var root *events.Envelope
	if thread != nil {
		if root = c.threadRoot(*thread, now); root == nil {
			return 0, ErrThreadRootNotFound
		}
		if l = c.threads[*thread]; l == nil {
			l = newEventLog()
		}
	}

	env := &events.Envelope{
		Index:     l.nextIndex(),
		Timestamp: now,
		ExpiresAt: events.ExpiresAfter(now, ttl),
		Event:     e,
	}
	msg, isMsg := env.Message()
	if isMsg {
		if ref, ok := c.ids[msg.MessageID]; ok {
			if c.sameMessage(ref, thread, msg) {
				return ref.event, nil
			}
			return 0, ErrMessageIDAlreadyUsed
		}
		msg.MessageIndex = l.nextMessage
	}

	value, err := codec.EncodeEvent(env)
	if err != nil {
		return 0, err
	}
	b := c.batch(Write{Thread: copyThread(thread), Index: env.Index, Value: value})
	if thread == nil {
		b.Meta.LatestEventIndex = env.Index
		if isMsg {
			b.Meta.NextMessageIndex = msg.MessageIndex + 1
		}
	}

	var newRoot *events.Envelope
	if root != nil {
		if newRoot, err = cloneEnvelope(root); err != nil {
			return 0, err
		}
		rootMsg, _ := newRoot.Message()
		if rootMsg.ThreadSummary == nil {
			rootMsg.ThreadSummary = &events.ThreadSummary{}
		}
		rootMsg.ThreadSummary.MarkMessageAdded(msg.Sender, mergeMentions(content.Mentions(msg.Content), mentioned), rootMsg.Sender, env.Index, now)
		rv, err := codec.EncodeEvent(newRoot)
		if err != nil {
			return 0, err
		}
		b.Writes = append(b.Writes, Write{Index: newRoot.Index, Value: rv})
	}

	if err := c.commit(b); err != nil {
		return 0, err
	}

	if thread != nil && c.threads[*thread] == nil {
		c.threads[*thread] = l
	}
	l.insert(env)
	if isMsg {
		ref := messageRef{event: env.Index, message: msg.MessageIndex}
		if thread != nil {
			ref.inThread, ref.root = true, *thread
		}
		c.ids[msg.MessageID] = ref
	}
	if newRoot != nil {
		c.main.replace(newRoot)
	}
	c.metrics.OnAppend(env)
	if t, ok := events.TypeOf(e); ok {
		metrics.AppendsTotal.WithLabelValues(string(t)).Inc()
	}
	return env.Index, nil
}

func (c *ChatEvents) sameMessage(ref messageRef, thread *models.MessageIndex, msg *events.MessageInternal) bool {
	if !ref.in(thread) {
		return false
	}
	l := c.log(thread)
	if l == nil {
		return false
	}
	env := l.get(ref.event)
	if env == nil {
		return false
	}
	existing, ok := env.Message()
	if !ok || existing.Sender != msg.Sender {
		return false
	}
	a, err := codec.EncodeContent(existing.Content)
	if err != nil {
		return false
	}
	b, err := codec.EncodeContent(msg.Content)
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

func mergeMentions(a, b []models.UserID) []models.UserID {
	out := slices.Clone(a)
	for _, u := range b {
		if !slices.Contains(out, u) {
			out = append(out, u)
		}
	}
	return out
}

// PushMessageArgs describes a message submitted by a user or bot.
type PushMessageArgs struct {
	Thread             *models.MessageIndex
	MessageID          models.MessageID
	Sender             models.UserID
	Content            content.Initial
	SenderContext      *events.SenderContext
	RepliesTo          *events.ReplyContext
	Forwarding         bool
	BlockLevelMarkdown bool
	// Mentioned users follow the thread in addition to those mentioned
	// in the text.
	Mentioned   []models.UserID
	SenderIsBot bool
	Now         models.TimestampMillis

	// Transfer is the settled transfer for crypto and prize content.
	Transfer *content.CryptoTransaction
	// SwapID and Token0TxnIn are set for P2P swaps.
	SwapID      uint32
	Token0TxnIn uint64
}

type PushMessageResult struct {
	EventIndex   models.EventIndex       `json:"event_index"`
	MessageIndex models.MessageIndex     `json:"message_index"`
	Timestamp    models.TimestampMillis  `json:"timestamp"`
	ExpiresAt    *models.TimestampMillis `json:"expires_at,omitempty"`
}

// PushMessage validates and converts the submitted content and appends
// it as a message with the chat's current time to live.
func (c *ChatEvents) PushMessage(args PushMessageArgs) (PushMessageResult, error) {
	if err := content.Validate(args.Content, content.ValidateContext{
		Now:         args.Now,
		ChatKind:    c.chat.Kind,
		Forwarding:  args.Forwarding,
		SenderIsBot: args.SenderIsBot,
	}); err != nil {
		return PushMessageResult{}, err
	}
	msg := &events.MessageInternal{
		MessageID: args.MessageID,
		Sender:    args.Sender,
		Content: content.ToInternal(args.Content, content.ConvertContext{
			Sender:      args.Sender,
			Now:         args.Now,
			Transfer:    args.Transfer,
			SwapID:      args.SwapID,
			Token0TxnIn: args.Token0TxnIn,
		}),
		SenderContext:      args.SenderContext,
		RepliesTo:          args.RepliesTo,
		Forwarded:          args.Forwarding,
		BlockLevelMarkdown: args.BlockLevelMarkdown,
	}
	idx, err := c.append(args.Thread, msg, args.Now, c.ttl, args.Mentioned)
	if err != nil {
		return PushMessageResult{}, err
	}
	env := c.log(args.Thread).get(idx)
	stored, _ := env.Message()
	res := PushMessageResult{
		EventIndex:   idx,
		MessageIndex: stored.MessageIndex,
		Timestamp:    env.Timestamp,
	}
	if env.ExpiresAt != nil {
		at := *env.ExpiresAt
		res.ExpiresAt = &at
	}
	logger.Debug("message_pushed", "chat", c.chat.Key(), "event_index", idx, "message_index", stored.MessageIndex)
	return res, nil
}

// SetEventsTTL changes the time to live of new messages and records the
// change in the main log. A nil or zero ttl disables expiry.
func (c *ChatEvents) SetEventsTTL(by models.UserID, ttl *models.Milliseconds, now models.TimestampMillis) (models.EventIndex, error) {
	if ttl != nil && *ttl == 0 {
		ttl = nil
	}
	prev := c.ttl
	c.ttl = copyTTL(ttl)
	idx, err := c.append(nil, &events.EventsTTLUpdated{UpdatedBy: by, NewTTL: copyTTL(ttl)}, now, nil, nil)
	if err != nil {
		c.ttl = prev
		return 0, err
	}
	return idx, nil
}

func copyTTL(ttl *models.Milliseconds) *models.Milliseconds {
	if ttl == nil {
		return nil
	}
	v := *ttl
	return &v
}

// GetByIndex returns the event at index i of the main log or a thread,
// as seen by viewer. Expired and hidden events are not found.
func (c *ChatEvents) GetByIndex(thread *models.MessageIndex, i models.EventIndex, viewer Viewer, now models.TimestampMillis) (events.ChatEvent, bool) {
	l, minVisible, err := c.scope(thread, viewer, now)
	if err != nil || i < minVisible {
		return events.ChatEvent{}, false
	}
	env := l.get(i)
	if env == nil || env.ExpiredAt(now) {
		return events.ChatEvent{}, false
	}
	return events.Hydrate(env, viewer.UserID, now), true
}

// GetByMessageID resolves a message id within the main log or a thread.
// A message that has expired by now, or sits in a thread whose root has,
// is not found even before the sweep removes it.
func (c *ChatEvents) GetByMessageID(thread *models.MessageIndex, id models.MessageID, now models.TimestampMillis) (models.EventIndex, models.MessageIndex, bool) {
	ref, ok := c.ids[id]
	if !ok || !ref.in(thread) {
		return 0, 0, false
	}
	if thread != nil && c.threadRoot(*thread, now) == nil {
		return 0, 0, false
	}
	l := c.log(thread)
	if l == nil {
		return 0, 0, false
	}
	if env := l.get(ref.event); env == nil || env.ExpiredAt(now) {
		return 0, 0, false
	}
	return ref.event, ref.message, true
}

// GetByMessageIndex returns the message with index mi, as seen by viewer.
func (c *ChatEvents) GetByMessageIndex(thread *models.MessageIndex, mi models.MessageIndex, viewer Viewer, now models.TimestampMillis) (events.ChatEvent, bool) {
	l := c.log(thread)
	if l == nil {
		return events.ChatEvent{}, false
	}
	i, ok := l.byMessageIndex[mi]
	if !ok {
		return events.ChatEvent{}, false
	}
	return c.GetByIndex(thread, i, viewer, now)
}

// LocateMessage finds which log holds a message id.
func (c *ChatEvents) LocateMessage(id models.MessageID) (thread *models.MessageIndex, index models.EventIndex, ok bool) {
	ref, ok := c.ids[id]
	if !ok {
		return nil, 0, false
	}
	if ref.inThread {
		root := ref.root
		thread = &root
	}
	return thread, ref.event, true
}

// MessageSender returns who sent a message, including deleted ones.
func (c *ChatEvents) MessageSender(thread *models.MessageIndex, id models.MessageID) (models.UserID, bool) {
	ref, ok := c.ids[id]
	if !ok || !ref.in(thread) {
		return "", false
	}
	l := c.log(thread)
	if l == nil {
		return "", false
	}
	env := l.get(ref.event)
	if env == nil {
		return "", false
	}
	msg, ok := env.Message()
	if !ok {
		return "", false
	}
	return msg.Sender, true
}
