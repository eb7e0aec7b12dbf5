package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/liangmulu/open-chat/pkg/logger"
	"github.com/liangmulu/open-chat/pkg/metrics"
	"github.com/liangmulu/open-chat/pkg/models"
)

// Action is what the scheduler does with a job after a step.
type Action uint8

const (
	// Done removes the job. Any FollowOn jobs are enqueued.
	Done Action = iota
	// Retry runs the job again at At with Attempt incremented.
	Retry
	// Failed keeps the job with StatusFailed and Reason as LastError.
	Failed
)

func (a Action) String() string {
	switch a {
	case Done:
		return "done"
	case Retry:
		return "retry"
	case Failed:
		return "failed"
	}
	return "unknown"
}

type Outcome struct {
	Action   Action
	At       models.TimestampMillis
	Reason   string
	FollowOn []*Job
}

func done(follow ...*Job) Outcome { return Outcome{Action: Done, FollowOn: follow} }

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// permanent marks err as not worth retrying.
func permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

var ErrNoCollaborator = errors.New("workflow: collaborator not configured")

type Config struct {
	// StepsPerSecond caps how fast steps run. Zero means unlimited.
	StepsPerSecond float64
	Burst          int
}

type Runner struct {
	chats   Chats
	collab  Collaborators
	limiter *rate.Limiter
	clock   func() models.TimestampMillis
}

func NewRunner(chats Chats, collab Collaborators, cfg Config) *Runner {
	limit := rate.Inf
	if cfg.StepsPerSecond > 0 {
		limit = rate.Limit(cfg.StepsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Runner{
		chats:   chats,
		collab:  collab,
		limiter: rate.NewLimiter(limit, burst),
		clock:   func() models.TimestampMillis { return models.TimestampMillis(time.Now().UnixMilli()) },
	}
}

// SetClock replaces the wall clock used for step timestamps.
func (r *Runner) SetClock(clock func() models.TimestampMillis) { r.clock = clock }

func (r *Runner) Now() models.TimestampMillis { return r.clock() }

// Advance performs one step of job. Transient failures are retried with
// the kind's backoff until its attempt bound, after which the kind's
// compensation runs and the job fails.
func (r *Runner) Advance(ctx context.Context, job *Job) Outcome {
	if err := r.limiter.Wait(ctx); err != nil {
		return Outcome{Action: Retry, At: r.clock(), Reason: err.Error()}
	}
	now := r.clock()
	h, ok := handlers[job.Kind]
	if !ok {
		return r.record(job, Outcome{Action: Failed, Reason: fmt.Sprintf("unknown job kind %q", job.Kind)})
	}
	out, err := h.step(ctx, r, job, now)
	if err == nil {
		return r.record(job, out)
	}

	var perm permanentError
	if errors.As(err, &perm) {
		return r.record(job, Outcome{Action: Failed, Reason: err.Error()})
	}
	if job.Attempt+1 >= h.maxAttempts {
		if h.exhausted != nil {
			if cerr := h.exhausted(ctx, r, job, now); cerr != nil {
				logger.Error("workflow_compensation_failed", "job", job.String(), "error", cerr)
			}
		}
		return r.record(job, Outcome{
			Action: Failed,
			Reason: fmt.Sprintf("gave up after %d attempts: %v", job.Attempt+1, err),
		})
	}
	logger.Debug("workflow_step_retry", "job", job.String(), "error", err)
	return r.record(job, Outcome{Action: Retry, At: now.Add(h.backoff), Reason: err.Error()})
}

func (r *Runner) record(job *Job, out Outcome) Outcome {
	metrics.JobsTotal.WithLabelValues(string(job.Kind), out.Action.String()).Inc()
	if out.Action == Failed {
		logger.AuditOrLog().Error("workflow_job_failed", "job", job.ID, "kind", string(job.Kind), "attempt", job.Attempt, "reason", out.Reason)
	}
	return out
}
