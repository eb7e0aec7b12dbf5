// Package chats owns the loaded chat logs of a process. Each chat is
// driven by one caller at a time.
package chats

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/liangmulu/open-chat/pkg/chatlog"
	"github.com/liangmulu/open-chat/pkg/logger"
	"github.com/liangmulu/open-chat/pkg/metrics"
	"github.com/liangmulu/open-chat/pkg/models"
)

var ErrUnknownChat = errors.New("chats: unknown chat")

// Store is the durable side of the registry.
type Store interface {
	chatlog.Persister
	LoadChat(chat models.Chat) (*chatlog.Meta, []chatlog.Record, error)
	ListChats() ([]models.Chat, error)
}

type entry struct {
	mu     sync.Mutex
	events *chatlog.ChatEvents
}

type Registry struct {
	mu    sync.RWMutex
	chats map[string]*entry
	store Store
	opts  chatlog.Options
}

var _ metrics.Source = (*Registry)(nil)

func New(store Store, opts chatlog.Options) *Registry {
	return &Registry{chats: make(map[string]*entry), store: store, opts: opts}
}

// LoadAll restores every chat found in the store and returns how many
// were loaded.
func (r *Registry) LoadAll() (int, error) {
	list, err := r.store.ListChats()
	if err != nil {
		return 0, fmt.Errorf("list chats: %w", err)
	}
	for _, chat := range list {
		e := r.entry(chat)
		e.mu.Lock()
		err := r.load(chat, e)
		e.mu.Unlock()
		if err != nil {
			return 0, err
		}
	}
	logger.Info("chats_loaded", "count", len(list))
	return len(list), nil
}

func (r *Registry) entry(chat models.Chat) *entry {
	key := chat.Key()
	r.mu.RLock()
	e := r.chats[key]
	r.mu.RUnlock()
	if e != nil {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e = r.chats[key]; e == nil {
		e = &entry{}
		r.chats[key] = e
	}
	return e
}

// load must be called with e.mu held.
func (r *Registry) load(chat models.Chat, e *entry) error {
	if e.events != nil {
		return nil
	}
	meta, records, err := r.store.LoadChat(chat)
	if err != nil {
		return fmt.Errorf("load %s: %w", chat, err)
	}
	c, report, err := chatlog.Restore(chat, meta, records, r.store, r.opts)
	if err != nil {
		return fmt.Errorf("restore %s: %w", chat, err)
	}
	if report.Poisoned > 0 {
		logger.Warn("chat_has_poisoned_events", "chat", chat.Key(), "count", report.Poisoned)
	}
	e.events = c
	return nil
}

// With runs fn with exclusive access to chat, creating it if it does not
// exist yet.
func (r *Registry) With(chat models.Chat, fn func(c *chatlog.ChatEvents) error) error {
	e := r.entry(chat)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := r.load(chat, e); err != nil {
		return err
	}
	return fn(e.events)
}

// WithExisting is With for chats that are already loaded or stored.
func (r *Registry) WithExisting(key string, fn func(c *chatlog.ChatEvents) error) error {
	chat, err := models.ParseChatKey(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownChat, err)
	}
	r.mu.RLock()
	_, loaded := r.chats[key]
	r.mu.RUnlock()
	if !loaded {
		return ErrUnknownChat
	}
	return r.With(chat, fn)
}

// Chats returns the loaded chats ordered by key.
func (r *Registry) Chats() []models.Chat {
	r.mu.RLock()
	keys := make([]string, 0, len(r.chats))
	for k := range r.chats {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	slices.Sort(keys)
	out := make([]models.Chat, 0, len(keys))
	for _, k := range keys {
		chat, err := models.ParseChatKey(k)
		if err != nil {
			continue
		}
		out = append(out, chat)
	}
	return out
}

// EachChat yields a metrics snapshot of every loaded chat.
func (r *Registry) EachChat(fn func(chat string, m metrics.ChatMetrics)) {
	for _, chat := range r.Chats() {
		var m metrics.ChatMetrics
		err := r.With(chat, func(c *chatlog.ChatEvents) error {
			m = c.Metrics()
			return nil
		})
		if err != nil {
			logger.Warn("chat_metrics_unavailable", "chat", chat.Key(), "error", err)
			continue
		}
		fn(chat.Key(), m)
	}
}
