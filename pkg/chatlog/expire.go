package chatlog

import (
	"slices"

	"github.com/liangmulu/open-chat/pkg/content"
	"github.com/liangmulu/open-chat/pkg/events"
	"github.com/liangmulu/open-chat/pkg/expiry"
	"github.com/liangmulu/open-chat/pkg/logger"
	"github.com/liangmulu/open-chat/pkg/metrics"
	"github.com/liangmulu/open-chat/pkg/models"
)

// RemovedSummary describes what one sweep removed.
type RemovedSummary struct {
	Main           []expiry.Range                         `json:"main,omitempty"`
	Threads        map[models.MessageIndex][]expiry.Range `json:"threads,omitempty"`
	DroppedThreads []models.MessageIndex                  `json:"dropped_threads,omitempty"`
	Removed        int                                    `json:"removed"`
	// Blobs are the files referenced by removed messages. The caller
	// releases them.
	Blobs []models.BlobReference `json:"blobs,omitempty"`
}

// Empty reports whether nothing was removed.
func (s *RemovedSummary) Empty() bool { return s.Removed == 0 }

// NextExpiry returns the earliest pending expiry across all logs.
func (c *ChatEvents) NextExpiry() (models.TimestampMillis, bool) {
	var (
		next  models.TimestampMillis
		found bool
	)
	c.eachLog(func(_ *models.MessageIndex, l *EventLog) {
		if at, ok := l.expiry.NextExpiry(); ok && (!found || at < next) {
			next, found = at, true
		}
	})
	return next, found
}

// RemoveExpiredEvents deletes every event whose expiry is at or before
// now. A thread whose root expires is dropped with all of its replies.
// When nothing is due it does nothing.
func (c *ChatEvents) RemoveExpiredEvents(now models.TimestampMillis) (RemovedSummary, error) {
	metrics.SweepsTotal.Inc()
	var summary RemovedSummary

	mainDue := c.main.expiry.TakeExpired(now)
	threadDue := make(map[models.MessageIndex][]expiry.Range)
	for root, l := range c.threads {
		if due := l.expiry.TakeExpired(now); len(due) > 0 {
			threadDue[root] = due
		}
	}
	if len(mainDue) == 0 && len(threadDue) == 0 {
		return summary, nil
	}

	dropped := make(map[models.MessageIndex]bool)
	var writes []Write
	eachIndex(mainDue, func(i models.EventIndex) {
		env := c.main.get(i)
		if env == nil {
			return
		}
		if msg, ok := env.Message(); ok {
			if _, has := c.threads[msg.MessageIndex]; has {
				dropped[msg.MessageIndex] = true
			}
		}
		writes = append(writes, Write{Index: i})
	})
	for root := range dropped {
		writes = append(writes, Write{Thread: copyThread(&root), DropThread: true})
	}
	for root, due := range threadDue {
		if dropped[root] {
			continue
		}
		eachIndex(due, func(i models.EventIndex) {
			if c.threads[root].get(i) != nil {
				writes = append(writes, Write{Thread: copyThread(&root), Index: i})
			}
		})
	}

	if err := c.commit(c.batch(writes...)); err != nil {
		c.reregister(c.main, mainDue)
		for root, due := range threadDue {
			c.reregister(c.threads[root], due)
		}
		return RemovedSummary{}, err
	}

	summary.Main = mainDue
	eachIndex(mainDue, func(i models.EventIndex) {
		if env := c.main.remove(i); env != nil {
			c.forget(nil, env, &summary)
		}
	})
	for root := range dropped {
		l := c.threads[root]
		l.each(func(env *events.Envelope) { c.forget(&root, env, &summary) })
		delete(c.threads, root)
		summary.DroppedThreads = append(summary.DroppedThreads, root)
	}
	slices.Sort(summary.DroppedThreads)
	for root, due := range threadDue {
		if dropped[root] {
			continue
		}
		l := c.threads[root]
		eachIndex(due, func(i models.EventIndex) {
			if env := l.remove(i); env != nil {
				c.forget(&root, env, &summary)
			}
		})
		if summary.Threads == nil {
			summary.Threads = make(map[models.MessageIndex][]expiry.Range)
		}
		summary.Threads[root] = due
	}

	metrics.ExpiredEventsTotal.Add(float64(summary.Removed))
	logger.Debug("expired_events_removed", "chat", c.chat.Key(), "removed", summary.Removed,
		"main_ranges", len(summary.Main), "dropped_threads", len(summary.DroppedThreads), "blobs", len(summary.Blobs))
	return summary, nil
}

// forget unlinks a removed envelope from the chat wide indexes.
func (c *ChatEvents) forget(thread *models.MessageIndex, env *events.Envelope, summary *RemovedSummary) {
	summary.Removed++
	c.metrics.OnRemove(env)
	msg, ok := env.Message()
	if !ok {
		return
	}
	if ref, ok := c.ids[msg.MessageID]; ok && ref.in(thread) && ref.event == env.Index {
		delete(c.ids, msg.MessageID)
	}
	if msg.Content != nil {
		summary.Blobs = append(summary.Blobs, content.BlobReferences(msg.Content)...)
	}
}

func (c *ChatEvents) reregister(l *EventLog, due []expiry.Range) {
	eachIndex(due, func(i models.EventIndex) {
		if env := l.get(i); env != nil && env.ExpiresAt != nil {
			l.expiry.Register(i, *env.ExpiresAt)
		}
	})
}

func eachIndex(ranges []expiry.Range, fn func(i models.EventIndex)) {
	for _, r := range ranges {
		for i := r.From; i <= r.To; i++ {
			fn(i)
		}
	}
}
