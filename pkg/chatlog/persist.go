package chatlog

import (
	"cmp"
	"slices"
	"sync"

	"github.com/liangmulu/open-chat/pkg/models"
)

// Write is one change in a Batch. A nil Value deletes the event at Index.
type Write struct {
	Thread *models.MessageIndex
	Index  models.EventIndex
	Value  []byte
	// DropThread removes every stored event of Thread. Index and Value
	// are ignored.
	DropThread bool
}

// Meta is the per chat state that cannot be recomputed from the stored
// events once some of them have expired.
type Meta struct {
	EventsTTL        *models.Milliseconds `msgpack:"t,omitempty" json:"events_ttl,omitempty"`
	LatestEventIndex models.EventIndex    `msgpack:"l" json:"latest_event_index"`
	NextMessageIndex models.MessageIndex  `msgpack:"m" json:"next_message_index"`
}

// Batch is applied atomically by a Persister.
type Batch struct {
	Chat   models.Chat
	Writes []Write
	Meta   *Meta
}

// Persister makes batches durable. The log only changes its in memory
// state after Commit returns nil.
type Persister interface {
	Commit(b *Batch) error
}

// Record is one stored event handed to Restore.
type Record struct {
	Thread *models.MessageIndex
	Index  models.EventIndex
	Value  []byte
}

type recordKey struct {
	inThread bool
	root     models.MessageIndex
	index    models.EventIndex
}

type memoryChat struct {
	meta    *Meta
	records map[recordKey][]byte
}

// MemoryPersister keeps committed batches in memory.
type MemoryPersister struct {
	mu      sync.Mutex
	chats   map[string]*memoryChat
	commits int
	// FailWith, when set, is returned by Commit and nothing is applied.
	FailWith error
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{chats: make(map[string]*memoryChat)}
}

func (p *MemoryPersister) Commit(b *Batch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailWith != nil {
		return p.FailWith
	}
	mc := p.chats[b.Chat.Key()]
	if mc == nil {
		mc = &memoryChat{records: make(map[recordKey][]byte)}
		p.chats[b.Chat.Key()] = mc
	}
	for _, w := range b.Writes {
		k := recordKey{index: w.Index}
		if w.Thread != nil {
			k.inThread, k.root = true, *w.Thread
		}
		switch {
		case w.DropThread:
			for rk := range mc.records {
				if rk.inThread && rk.root == k.root {
					delete(mc.records, rk)
				}
			}
		case w.Value == nil:
			delete(mc.records, k)
		default:
			mc.records[k] = slices.Clone(w.Value)
		}
	}
	if b.Meta != nil {
		m := *b.Meta
		mc.meta = &m
	}
	p.commits++
	return nil
}

// Commits returns how many batches have been applied.
func (p *MemoryPersister) Commits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.commits
}

// Load returns the stored meta and events of chat, main log first, then
// threads by root, each in index order.
func (p *MemoryPersister) Load(chat models.Chat) (*Meta, []Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mc := p.chats[chat.Key()]
	if mc == nil {
		return nil, nil
	}
	keys := make([]recordKey, 0, len(mc.records))
	for k := range mc.records {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b recordKey) int {
		switch {
		case a.inThread != b.inThread:
			if a.inThread {
				return 1
			}
			return -1
		case a.root != b.root:
			return cmp.Compare(a.root, b.root)
		}
		return cmp.Compare(a.index, b.index)
	})
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		r := Record{Index: k.index, Value: slices.Clone(mc.records[k])}
		if k.inThread {
			root := k.root
			r.Thread = &root
		}
		out = append(out, r)
	}
	var meta *Meta
	if mc.meta != nil {
		m := *mc.meta
		meta = &m
	}
	return meta, out
}

// Value returns the stored bytes of one event.
func (p *MemoryPersister) Value(chat models.Chat, thread *models.MessageIndex, index models.EventIndex) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mc := p.chats[chat.Key()]
	if mc == nil {
		return nil, false
	}
	k := recordKey{index: index}
	if thread != nil {
		k.inThread, k.root = true, *thread
	}
	v, ok := mc.records[k]
	return v, ok
}
