package chatlog

import (
	"github.com/liangmulu/open-chat/pkg/codec"
	"github.com/liangmulu/open-chat/pkg/events"
	"github.com/liangmulu/open-chat/pkg/logger"
	"github.com/liangmulu/open-chat/pkg/models"
)

// RestoreReport counts what Restore found in storage.
type RestoreReport struct {
	Events   int `json:"events"`
	Legacy   int `json:"legacy"`
	Poisoned int `json:"poisoned"`
	// Orphaned lists threads whose root message is gone. They are
	// deleted from storage.
	Orphaned []models.MessageIndex `json:"orphaned,omitempty"`
}

// Restore rebuilds a chat from its stored meta and events. Records that
// cannot be decoded come back as FailedToDeserialize at their stored
// index. The message id map, expiry index and metrics are recomputed.
func Restore(chat models.Chat, meta *Meta, records []Record, store Persister, opts Options) (*ChatEvents, RestoreReport, error) {
	c := New(chat, store, opts)
	var report RestoreReport
	if meta != nil {
		c.ttl = copyTTL(meta.EventsTTL)
	}

	for _, rec := range records {
		env, version, err := codec.DecodeEventVersion(rec.Value)
		switch {
		case err != nil:
			report.Poisoned++
		case version != codec.Current:
			report.Legacy++
		}
		if env.Index != rec.Index {
			if env.Index != 0 {
				logger.Warn("restore_index_mismatch", "chat", chat.Key(), "stored", rec.Index, "decoded", env.Index)
			}
			env.Index = rec.Index
		}
		l := c.main
		if rec.Thread != nil {
			if l = c.threads[*rec.Thread]; l == nil {
				l = newEventLog()
				c.threads[*rec.Thread] = l
			}
		}
		e := env
		l.insert(&e)
		report.Events++
	}

	if meta != nil {
		c.main.latest = max(c.main.latest, meta.LatestEventIndex)
		c.main.nextMessage = max(c.main.nextMessage, meta.NextMessageIndex)
	}

	var drops []Write
	for _, root := range c.Threads() {
		l := c.threads[root]
		rootEnv := c.threadRoot(root, 0)
		if rootEnv == nil {
			report.Orphaned = append(report.Orphaned, root)
			report.Events -= l.Len()
			delete(c.threads, root)
			drops = append(drops, Write{Thread: copyThread(&root), DropThread: true})
			continue
		}
		if msg, _ := rootEnv.Message(); msg.ThreadSummary != nil {
			l.latest = max(l.latest, msg.ThreadSummary.LatestEventIndex)
			l.nextMessage = max(l.nextMessage, models.MessageIndex(msg.ThreadSummary.ReplyCount))
		}
	}
	if len(drops) > 0 {
		if err := c.commit(c.batch(drops...)); err != nil {
			return nil, report, err
		}
		logger.Warn("restore_orphaned_threads", "chat", chat.Key(), "threads", report.Orphaned)
	}

	c.eachLog(func(thread *models.MessageIndex, l *EventLog) {
		l.each(func(env *events.Envelope) {
			c.metrics.OnAppend(env)
			msg, ok := env.Message()
			if !ok {
				return
			}
			ref := messageRef{event: env.Index, message: msg.MessageIndex}
			if thread != nil {
				ref.inThread, ref.root = true, *thread
			}
			if prev, dup := c.ids[msg.MessageID]; dup {
				logger.Warn("restore_duplicate_message_id", "chat", chat.Key(), "message_id", msg.MessageID, "first", prev.event, "second", env.Index)
			}
			c.ids[msg.MessageID] = ref
		})
	})

	logger.Info("chat_restored", "chat", chat.Key(), "events", report.Events, "legacy", report.Legacy, "poisoned", report.Poisoned)
	return c, report, nil
}
