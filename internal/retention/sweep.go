package retention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/liangmulu/open-chat/pkg/chatlog"
	"github.com/liangmulu/open-chat/pkg/logger"
	"github.com/liangmulu/open-chat/pkg/metrics"
	"github.com/liangmulu/open-chat/pkg/models"
	"github.com/liangmulu/open-chat/pkg/workflow"
)

// Chats is the registry the sweep walks.
type Chats interface {
	Chats() []models.Chat
	With(chat models.Chat, fn func(c *chatlog.ChatEvents) error) error
}

// Enqueuer takes the blob release jobs a sweep produces.
type Enqueuer interface {
	Enqueue(jobs ...*workflow.Job) error
}

type Options struct {
	// Dir holds the lease and the last run report.
	Dir     string
	Workers int
	Lease   time.Duration
}

// Report describes one registry wide run.
type Report struct {
	RunID      string    `json:"run_id"`
	Owner      string    `json:"owner"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Chats      int       `json:"chats"`
	Swept      int       `json:"swept"`
	Removed    int       `json:"removed"`
	Threads    int       `json:"dropped_threads"`
	Blobs      int       `json:"blobs"`
	Failed     []string  `json:"failed,omitempty"`
	// Pending are blob references whose release job could not be
	// enqueued. The next run retries them.
	Pending []models.BlobReference `json:"pending_blobs,omitempty"`
}

// Sweeper removes expired events from every loaded chat.
type Sweeper struct {
	chats Chats
	jobs  Enqueuer
	opts  Options
	owner string
	now   func() time.Time
	mu    sync.Mutex
}

func NewSweeper(chats Chats, jobs Enqueuer, opts Options) *Sweeper {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Lease <= 0 {
		opts.Lease = 10 * time.Minute
	}
	return &Sweeper{
		chats: chats,
		jobs:  jobs,
		opts:  opts,
		owner: ulid.Make().String(),
		now:   time.Now,
	}
}

// SetClock replaces the wall clock.
func (s *Sweeper) SetClock(now func() time.Time) { s.now = now }

// RunOnce sweeps every chat whose next expiry is due. Only one runner
// per directory sweeps at a time; a second one gets ErrLeaseHeld.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.now()
	rep := Report{RunID: ulid.Make().String(), Owner: s.owner, StartedAt: start.UTC()}
	if err := os.MkdirAll(s.opts.Dir, 0o700); err != nil {
		return rep, err
	}
	if err := acquire(s.opts.Dir, lease{Owner: s.owner, RunID: rep.RunID, ExpiresAt: start.Add(s.opts.Lease)}, start); err != nil {
		metrics.RetentionRunsTotal.WithLabelValues("skipped").Inc()
		return rep, err
	}
	defer func() {
		if err := release(s.opts.Dir, s.owner); err != nil {
			logger.Error("retention_lease_release_failed", "run_id", rep.RunID, "error", err)
		}
	}()

	now := models.TimestampMillis(start.UnixMilli())
	list := s.chats.Chats()
	rep.Chats = len(list)

	var (
		mu   sync.Mutex
		werr error
	)
	carried, err := LastReport(s.opts.Dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("retention_report_unreadable", "run_id", rep.RunID, "error", err)
	}
	if len(carried.Pending) > 0 {
		if err := s.releaseBlobs(carried.Pending, now); err != nil {
			logger.Error("retention_blob_job_failed", "run_id", rep.RunID, "blobs", len(carried.Pending), "carried", true, "error", err)
			rep.Pending = append(rep.Pending, carried.Pending...)
			werr = errors.Join(werr, fmt.Errorf("enqueue carried blob release: %w", err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, chat := range list {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var summary chatlog.RemovedSummary
			swept := false
			err := s.chats.With(chat, func(c *chatlog.ChatEvents) error {
				if at, ok := c.NextExpiry(); !ok || at > now {
					return nil
				}
				var err error
				summary, err = c.RemoveExpiredEvents(now)
				swept = err == nil
				return err
			})
			var jobErr error
			if err == nil && len(summary.Blobs) > 0 {
				jobErr = s.releaseBlobs(summary.Blobs, now)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Error("retention_chat_failed", "run_id", rep.RunID, "chat", chat.Key(), "error", err)
				rep.Failed = append(rep.Failed, chat.Key())
				return nil
			}
			if !swept {
				return nil
			}
			rep.Swept++
			rep.Removed += summary.Removed
			rep.Threads += len(summary.DroppedThreads)
			rep.Blobs += len(summary.Blobs)
			if jobErr != nil {
				logger.Error("retention_blob_job_failed", "run_id", rep.RunID, "chat", chat.Key(), "blobs", len(summary.Blobs), "error", jobErr)
				rep.Pending = append(rep.Pending, summary.Blobs...)
				werr = errors.Join(werr, fmt.Errorf("enqueue blob release for %s: %w", chat.Key(), jobErr))
			}
			return nil
		})
	}
	werr = errors.Join(g.Wait(), werr)

	rep.FinishedAt = s.now().UTC()
	outcome := "ok"
	if werr != nil || len(rep.Failed) > 0 {
		outcome = "partial"
	}
	metrics.RetentionRunsTotal.WithLabelValues(outcome).Inc()
	logger.AuditOrLog().Info("retention_run", "run_id", rep.RunID, "owner", rep.Owner, "chats", rep.Chats,
		"swept", rep.Swept, "removed", rep.Removed, "dropped_threads", rep.Threads, "blobs", rep.Blobs,
		"failed", len(rep.Failed), "pending_blobs", len(rep.Pending), "duration", rep.FinishedAt.Sub(rep.StartedAt).String())
	if err := writeReport(s.opts.Dir, rep); err != nil {
		logger.Warn("retention_report_write_failed", "run_id", rep.RunID, "error", err)
	}
	return rep, werr
}

func (s *Sweeper) releaseBlobs(blobs []models.BlobReference, now models.TimestampMillis) error {
	job, err := workflow.NewDeleteFileReferencesJob(blobs, now)
	if err != nil {
		return err
	}
	return s.jobs.Enqueue(job)
}

const reportFile = "last_run.json"

func writeReport(dir string, rep Report) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, "."+reportFile+".tmp")
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, reportFile))
}

// LastReport reads the report of the latest finished run in dir.
func LastReport(dir string) (Report, error) {
	var rep Report
	b, err := os.ReadFile(filepath.Join(dir, reportFile))
	if err != nil {
		return rep, err
	}
	err = json.Unmarshal(b, &rep)
	return rep, err
}
