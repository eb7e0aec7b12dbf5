package chatlog

import (
	"github.com/liangmulu/open-chat/pkg/events"
	"github.com/liangmulu/open-chat/pkg/expiry"
	"github.com/liangmulu/open-chat/pkg/models"
)

// EventLog is one ordered log, either the main log of a chat or a
// thread. Slots are addressed by event index; removed events leave a nil
// slot and leading nil slots are trimmed.
type EventLog struct {
	base    models.EventIndex
	entries []*events.Envelope
	count   int

	latest         models.EventIndex
	nextMessage    models.MessageIndex
	byMessageIndex map[models.MessageIndex]models.EventIndex
	expiry         *expiry.Index
}

func newEventLog() *EventLog {
	return &EventLog{
		base:           1,
		byMessageIndex: make(map[models.MessageIndex]models.EventIndex),
		expiry:         expiry.New(),
	}
}

// LatestEventIndex returns the highest index ever stored. It does not go
// down when events are removed.
func (l *EventLog) LatestEventIndex() models.EventIndex { return l.latest }

// Len returns the number of events held.
func (l *EventLog) Len() int { return l.count }

func (l *EventLog) nextIndex() models.EventIndex { return l.latest + 1 }

func (l *EventLog) get(i models.EventIndex) *events.Envelope {
	if i < l.base || int(i-l.base) >= len(l.entries) {
		return nil
	}
	return l.entries[i-l.base]
}

// insert stores a new envelope and indexes it.
func (l *EventLog) insert(env *events.Envelope) {
	i := env.Index
	switch {
	case len(l.entries) == 0:
		l.base = i
	case i < l.base:
		grow := make([]*events.Envelope, int(l.base-i), int(l.base-i)+len(l.entries))
		l.entries = append(grow, l.entries...)
		l.base = i
	}
	pos := int(i - l.base)
	if pos >= len(l.entries) {
		l.entries = append(l.entries, make([]*events.Envelope, pos-len(l.entries)+1)...)
	}
	if l.entries[pos] == nil {
		l.count++
	}
	l.entries[pos] = env
	if i > l.latest {
		l.latest = i
	}
	if msg, ok := env.Message(); ok {
		l.byMessageIndex[msg.MessageIndex] = i
		if msg.MessageIndex >= l.nextMessage {
			l.nextMessage = msg.MessageIndex + 1
		}
	}
	if env.ExpiresAt != nil {
		l.expiry.Register(i, *env.ExpiresAt)
	}
}

// replace swaps in a new version of a stored envelope.
func (l *EventLog) replace(env *events.Envelope) {
	if l.get(env.Index) == nil {
		l.insert(env)
		return
	}
	l.entries[env.Index-l.base] = env
}

// remove drops the envelope at i and returns it.
func (l *EventLog) remove(i models.EventIndex) *events.Envelope {
	env := l.get(i)
	if env == nil {
		return nil
	}
	l.entries[i-l.base] = nil
	l.count--
	if msg, ok := env.Message(); ok && l.byMessageIndex[msg.MessageIndex] == i {
		delete(l.byMessageIndex, msg.MessageIndex)
	}
	l.expiry.Remove(i)

	n := 0
	for n < len(l.entries) && l.entries[n] == nil {
		n++
	}
	l.entries = l.entries[n:]
	l.base += models.EventIndex(n)
	if len(l.entries) == 0 {
		l.entries = nil
		l.base = l.latest + 1
	}
	return env
}

// each calls fn for every held envelope in index order.
func (l *EventLog) each(fn func(env *events.Envelope)) {
	for _, env := range l.entries {
		if env != nil {
			fn(env)
		}
	}
}
