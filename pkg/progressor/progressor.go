// Package progressor brings stored data up to the running version. It
// rewrites events still held in an older wire layout into the current
// one; rerunning it over already current data changes nothing.
package progressor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/liangmulu/open-chat/pkg/chatlog"
	"github.com/liangmulu/open-chat/pkg/codec"
	"github.com/liangmulu/open-chat/pkg/logger"
	"github.com/liangmulu/open-chat/pkg/models"
)

// Store is the subset of the pebble store a migration needs.
type Store interface {
	chatlog.Persister
	ListChats() ([]models.Chat, error)
	LoadChat(chat models.Chat) (*chatlog.Meta, []chatlog.Record, error)
	Version() (string, error)
	SetVersion(v string) error
	Migration() ([]byte, bool, error)
	SetMigration(marker []byte) error
	ClearMigration() error
}

// Report counts what Sync touched.
type Report struct {
	Chats     int `json:"chats"`
	Events    int `json:"events"`
	Rewritten int `json:"rewritten"`
	Poisoned  int `json:"poisoned"`
}

type marker struct {
	From      string `json:"from"`
	To        string `json:"to"`
	StartedAt string `json:"started_at"`
}

// Sync re-encodes every legacy event of every chat, one batch per chat.
// Events that cannot be decoded are left as they are.
func Sync(ctx context.Context, st Store, from, to string) (Report, error) {
	logger.Info("progressor_sync_start", "from", from, "to", to)
	var rep Report
	chats, err := st.ListChats()
	if err != nil {
		logger.Error("progressor_list_chats_failed", "error", err)
		return rep, err
	}
	for _, chat := range chats {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		_, records, err := st.LoadChat(chat)
		if err != nil {
			logger.Error("progressor_load_chat_failed", "chat", chat.Key(), "error", err)
			return rep, err
		}
		rep.Chats++
		batch := &chatlog.Batch{Chat: chat}
		for _, r := range records {
			rep.Events++
			out, changed, err := codec.Reencode(r.Value)
			if err != nil {
				rep.Poisoned++
				logger.Warn("progressor_event_unreadable", "chat", chat.Key(), "index", r.Index, "error", err)
				continue
			}
			if !changed {
				continue
			}
			batch.Writes = append(batch.Writes, chatlog.Write{Thread: r.Thread, Index: r.Index, Value: out})
		}
		if len(batch.Writes) == 0 {
			continue
		}
		if err := st.Commit(batch); err != nil {
			logger.Error("progressor_commit_failed", "chat", chat.Key(), "error", err)
			return rep, err
		}
		rep.Rewritten += len(batch.Writes)
		logger.Info("progressor_chat_rewritten", "chat", chat.Key(), "events", len(batch.Writes))
	}
	logger.Info("progressor_sync_done", "from", from, "to", to, "chats", rep.Chats, "rewritten", rep.Rewritten, "poisoned", rep.Poisoned)
	return rep, nil
}

// Run checks the stored version and runs Sync if it differs from
// newVersion. It reports whether Sync ran. A marker is kept while the
// migration is in progress so an interrupted run is visible on restart.
func Run(ctx context.Context, st Store, newVersion string) (bool, error) {
	stored, err := st.Version()
	if err != nil {
		logger.Error("progressor_read_version_failed", "error", err)
		return false, err
	}
	logger.Info("progressor_version_check", "stored", stored, "running", newVersion)

	if prev, ok, err := st.Migration(); err == nil && ok {
		logger.Warn("progressor_resuming_interrupted", "marker", string(prev))
	} else if stored == newVersion {
		logger.Info("progressor_noop", "version", newVersion)
		return false, nil
	}

	mb, _ := json.Marshal(marker{From: stored, To: newVersion, StartedAt: time.Now().UTC().Format(time.RFC3339)})
	if err := st.SetMigration(mb); err != nil {
		logger.Error("progressor_write_inprogress_failed", "error", err)
		return true, fmt.Errorf("failed to write in-progress marker: %w", err)
	}

	if _, err := Sync(ctx, st, stored, newVersion); err != nil {
		logger.Error("progressor_sync_failed", "from", stored, "to", newVersion, "error", err)
		return true, err
	}

	if err := st.SetVersion(newVersion); err != nil {
		logger.Error("progressor_persist_version_failed", "version", newVersion, "error", err)
		return true, fmt.Errorf("failed to persist new version: %w", err)
	}
	if err := st.ClearMigration(); err != nil {
		logger.Error("progressor_delete_inprogress_failed", "error", err)
	}
	logger.Info("progressor_version_persisted", "version", newVersion)
	return true, nil
}
