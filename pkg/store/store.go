// Package store keeps chat events, chat markers, workflow jobs and the
// schema version in a pebble database.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/liangmulu/open-chat/pkg/chatlog"
	"github.com/liangmulu/open-chat/pkg/logger"
	"github.com/liangmulu/open-chat/pkg/models"
)

type Options struct {
	// DisableWAL turns off the pebble write ahead log.
	DisableWAL bool
	// NoSync skips fsync on commit. Tests and bulk tools only.
	NoSync bool
	// ReadOnly opens an existing database without taking writes.
	ReadOnly bool
}

type Store struct {
	db   *pebble.DB
	opts Options
}

var _ chatlog.Persister = (*Store)(nil)

// Open creates the parent directory if needed and opens the database at
// path.
func Open(path string, opts Options) (*Store, error) {
	if !opts.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, err
		}
	}
	db, err := pebble.Open(path, &pebble.Options{DisableWAL: opts.DisableWAL, ReadOnly: opts.ReadOnly})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	logger.Info("pebble_opened", "path", path, "disable_wal", opts.DisableWAL, "read_only", opts.ReadOnly)
	return &Store{db: db, opts: opts}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) writeOpt() *pebble.WriteOptions {
	if s.opts.NoSync {
		return pebble.NoSync
	}
	return pebble.Sync
}

// IsNotFound reports whether err is pebble's not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, pebble.ErrNotFound)
}

// Commit applies b as one pebble batch.
func (s *Store) Commit(b *chatlog.Batch) error {
	if err := ValidateChat(b.Chat); err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, w := range b.Writes {
		var err error
		switch {
		case w.DropThread:
			if w.Thread == nil {
				return fmt.Errorf("drop thread without root in %s", b.Chat)
			}
			start := []byte(ThreadPrefix(b.Chat, *w.Thread))
			err = batch.DeleteRange(start, prefixEnd(start), nil)
		case w.Value == nil:
			err = batch.Delete([]byte(EventKey(b.Chat, w.Thread, w.Index)), nil)
		default:
			err = batch.Set([]byte(EventKey(b.Chat, w.Thread, w.Index)), w.Value, nil)
		}
		if err != nil {
			return err
		}
	}
	if b.Meta != nil {
		v, err := msgpack.Marshal(b.Meta)
		if err != nil {
			return fmt.Errorf("encode meta of %s: %w", b.Chat, err)
		}
		if err := batch.Set([]byte(ChatMetaKey(b.Chat)), v, nil); err != nil {
			return err
		}
	}
	if err := s.db.Apply(batch, s.writeOpt()); err != nil {
		logger.Error("pebble_apply_failed", "chat", b.Chat.Key(), "writes", len(b.Writes), "error", err)
		return err
	}
	return nil
}

func (s *Store) get(key string) ([]byte, error) {
	v, closer, err := s.db.Get([]byte(key))
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// scan calls fn for every key starting with prefix, in key order. The
// slices passed to fn are only valid during the call.
func (s *Store) scan(prefix string, fn func(k, v []byte) error) error {
	p := []byte(prefix)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: p, UpperBound: prefixEnd(p)})
	if err != nil {
		return err
	}
	defer it.Close()
	for ok := it.First(); ok; ok = it.Next() {
		if !bytes.HasPrefix(it.Key(), p) {
			break
		}
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

// LoadChat returns the stored meta and events of chat, main log first,
// then threads by root, each in index order. An unknown chat returns a
// nil meta and no records.
func (s *Store) LoadChat(chat models.Chat) (*chatlog.Meta, []chatlog.Record, error) {
	var meta *chatlog.Meta
	raw, err := s.get(ChatMetaKey(chat))
	switch {
	case IsNotFound(err):
	case err != nil:
		return nil, nil, err
	default:
		meta = new(chatlog.Meta)
		if err := msgpack.Unmarshal(raw, meta); err != nil {
			return nil, nil, fmt.Errorf("decode meta of %s: %w", chat, err)
		}
	}

	var records []chatlog.Record
	err = s.scan(EventPrefix(chat), func(k, v []byte) error {
		thread, i, err := ParseEventKey(chat, string(k))
		if err != nil {
			logger.Warn("store_skip_bad_key", "chat", chat.Key(), "key", string(k), "error", err)
			return nil
		}
		records = append(records, chatlog.Record{Thread: thread, Index: i, Value: bytes.Clone(v)})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return meta, records, nil
}

// ListChats returns every chat that has a stored meta record.
func (s *Store) ListChats() ([]models.Chat, error) {
	var out []models.Chat
	err := s.scan(chatMetaPrefix, func(k, _ []byte) error {
		chat, err := models.ParseChatKey(string(k[len(chatMetaPrefix):]))
		if err != nil {
			logger.Warn("store_skip_bad_chat_key", "key", string(k), "error", err)
			return nil
		}
		out = append(out, chat)
		return nil
	})
	return out, err
}

// Version returns the stored schema version, or "" if none is set.
func (s *Store) Version() (string, error) {
	v, err := s.get(versionKey)
	if IsNotFound(err) {
		return "", nil
	}
	return string(v), err
}

func (s *Store) SetVersion(v string) error {
	return s.db.Set([]byte(versionKey), []byte(v), s.writeOpt())
}

// PutJob stores the encoded state of a workflow job.
func (s *Store) PutJob(id string, value []byte) error {
	return s.db.Set([]byte(JobKey(id)), value, s.writeOpt())
}

func (s *Store) DeleteJob(id string) error {
	return s.db.Delete([]byte(JobKey(id)), s.writeOpt())
}

// Jobs calls fn with every stored job in id order.
func (s *Store) Jobs(fn func(id string, value []byte) error) error {
	return s.scan(jobPrefix, func(k, v []byte) error {
		return fn(string(k[len(jobPrefix):]), bytes.Clone(v))
	})
}

// Migration returns the in progress migration marker, if any.
func (s *Store) Migration() ([]byte, bool, error) {
	v, err := s.get(migrationKey)
	if IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *Store) SetMigration(marker []byte) error {
	return s.db.Set([]byte(migrationKey), marker, s.writeOpt())
}

func (s *Store) ClearMigration() error {
	return s.db.Delete([]byte(migrationKey), s.writeOpt())
}
