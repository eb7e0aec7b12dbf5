package chatlog

import (
	"bytes"
	"fmt"

	"github.com/liangmulu/open-chat/pkg/codec"
	"github.com/liangmulu/open-chat/pkg/events"
	"github.com/liangmulu/open-chat/pkg/logger"
	"github.com/liangmulu/open-chat/pkg/models"
)

type ImportResult struct {
	Added            int               `json:"added"`
	Skipped          int               `json:"skipped"`
	LatestEventIndex models.EventIndex `json:"latest_event_index"`
}

// ImportEvents copies envelopes from another chat, keeping their indexes
// and timestamps. Events already held with identical bytes are skipped;
// a different event at a held index fails the whole batch. Indexes at or
// below the latest index that are no longer held have been removed and
// are skipped too, so a removed index is never filled again. Nothing is
// applied unless every envelope is accepted.
func (c *ChatEvents) ImportEvents(thread *models.MessageIndex, envs []events.Envelope) (ImportResult, error) {
	l := c.main
	if thread != nil {
		if c.threadRoot(*thread, 0) == nil {
			return ImportResult{}, ErrThreadRootNotFound
		}
		if l = c.threads[*thread]; l == nil {
			l = newEventLog()
		}
	}

	var (
		res     ImportResult
		writes  []Write
		pending []*events.Envelope
		values  = make(map[models.EventIndex][]byte)
		ids     = make(map[models.MessageID]models.EventIndex)
	)
	for k := range envs {
		env := envs[k]
		if env.Index == 0 || env.Event == nil {
			return ImportResult{}, fmt.Errorf("%w: index %d", ErrInvalidImport, env.Index)
		}
		if !events.ValidFor(env.Event, c.chat.Kind, thread != nil) {
			if thread != nil {
				return ImportResult{}, fmt.Errorf("%w: index %d", ErrInvalidEventForThread, env.Index)
			}
			return ImportResult{}, fmt.Errorf("%w: index %d", ErrInvalidEventForChat, env.Index)
		}
		value, err := codec.EncodeEvent(&env)
		if err != nil {
			return ImportResult{}, err
		}

		existing := values[env.Index]
		if existing == nil {
			if held := l.get(env.Index); held != nil {
				if existing, err = codec.EncodeEvent(held); err != nil {
					return ImportResult{}, err
				}
			}
		}
		if existing != nil {
			if !bytes.Equal(existing, value) {
				return ImportResult{}, fmt.Errorf("%w: index %d", ErrImportConflict, env.Index)
			}
			res.Skipped++
			continue
		}
		if env.Index <= l.latest {
			res.Skipped++
			continue
		}

		if msg, ok := env.Message(); ok {
			if _, used := c.ids[msg.MessageID]; used {
				return ImportResult{}, fmt.Errorf("%w: index %d", ErrMessageIDAlreadyUsed, env.Index)
			}
			if _, used := ids[msg.MessageID]; used {
				return ImportResult{}, fmt.Errorf("%w: index %d", ErrMessageIDAlreadyUsed, env.Index)
			}
			ids[msg.MessageID] = env.Index
		}

		// Decode our own encoding so the log shares nothing with the caller.
		own, _, err := codec.DecodeEventVersion(value)
		if err != nil {
			return ImportResult{}, err
		}
		values[env.Index] = value
		pending = append(pending, &own)
		writes = append(writes, Write{Thread: copyThread(thread), Index: env.Index, Value: value})
	}

	if len(pending) == 0 {
		res.LatestEventIndex = l.latest
		return res, nil
	}

	b := c.batch(writes...)
	if thread == nil {
		for _, env := range pending {
			b.Meta.LatestEventIndex = max(b.Meta.LatestEventIndex, env.Index)
			if msg, ok := env.Message(); ok {
				b.Meta.NextMessageIndex = max(b.Meta.NextMessageIndex, msg.MessageIndex+1)
			}
		}
	}
	if err := c.commit(b); err != nil {
		return ImportResult{}, err
	}

	if thread != nil && c.threads[*thread] == nil {
		c.threads[*thread] = l
	}
	for _, env := range pending {
		l.insert(env)
		if msg, ok := env.Message(); ok {
			ref := messageRef{event: env.Index, message: msg.MessageIndex}
			if thread != nil {
				ref.inThread, ref.root = true, *thread
			}
			c.ids[msg.MessageID] = ref
		}
		c.metrics.OnAppend(env)
	}
	res.Added = len(pending)
	res.LatestEventIndex = l.latest
	logger.Debug("events_imported", "chat", c.chat.Key(), "added", res.Added, "skipped", res.Skipped, "latest", res.LatestEventIndex)
	return res, nil
}
