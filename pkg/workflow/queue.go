package workflow

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/liangmulu/open-chat/pkg/logger"
	"github.com/liangmulu/open-chat/pkg/models"
)

// JobStore persists encoded jobs by id.
type JobStore interface {
	PutJob(id string, value []byte) error
	DeleteJob(id string) error
	Jobs(fn func(id string, value []byte) error) error
}

// Queue keeps jobs in a JobStore and settles the outcome of each step
// before the next one runs.
type Queue struct {
	mu     sync.Mutex
	store  JobStore
	runner *Runner
}

type RunReport struct {
	Done     int `json:"done"`
	Retried  int `json:"retried"`
	Failed   int `json:"failed"`
	FollowOn int `json:"follow_on"`
}

func NewQueue(store JobStore, runner *Runner) *Queue {
	return &Queue{store: store, runner: runner}
}

func (q *Queue) Enqueue(jobs ...*Job) error {
	for _, j := range jobs {
		if err := q.put(j); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) put(j *Job) error {
	b, err := encodeJob(j)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", j, err)
	}
	return q.store.PutJob(j.ID, b)
}

func (q *Queue) load(keep func(j *Job) bool) ([]*Job, error) {
	var out []*Job
	err := q.store.Jobs(func(id string, value []byte) error {
		j, err := decodeJob(value)
		if err != nil {
			logger.Error("workflow_job_undecodable", "job", id, "error", err)
			return nil
		}
		if keep(j) {
			out = append(out, j)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *Job) int {
		if c := cmp.Compare(a.DueAt, b.DueAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, err
}

// Pending returns the jobs still to run, earliest first.
func (q *Queue) Pending() ([]*Job, error) {
	return q.load(func(j *Job) bool { return j.Status == StatusPending })
}

// FailedJobs returns the jobs that gave up.
func (q *Queue) FailedJobs() ([]*Job, error) {
	return q.load(func(j *Job) bool { return j.Status == StatusFailed })
}

// RunDue advances every pending job due at the runner's current time
// once. Follow-on jobs are stored and run on a later call.
func (q *Queue) RunDue(ctx context.Context) (RunReport, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.runner.Now()
	due, err := q.load(func(j *Job) bool { return j.Status == StatusPending && j.DueAt <= now })
	if err != nil {
		return RunReport{}, err
	}
	var report RunReport
	for _, j := range due {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		out := q.runner.Advance(ctx, j)
		if err := q.settle(j, out); err != nil {
			return report, err
		}
		switch out.Action {
		case Done:
			report.Done++
			report.FollowOn += len(out.FollowOn)
		case Retry:
			report.Retried++
		case Failed:
			report.Failed++
		}
	}
	return report, nil
}

// settle stores follow-on jobs before removing the finished one so a
// crash in between repeats the step instead of losing its successors.
func (q *Queue) settle(j *Job, out Outcome) error {
	switch out.Action {
	case Done:
		if err := q.Enqueue(out.FollowOn...); err != nil {
			return err
		}
		return q.store.DeleteJob(j.ID)
	case Retry:
		j.Attempt++
		j.DueAt = out.At
		j.LastError = out.Reason
		return q.put(j)
	case Failed:
		j.Status = StatusFailed
		j.LastError = out.Reason
		return q.put(j)
	}
	return fmt.Errorf("unknown action %d for job %s", out.Action, j)
}

// NextDue returns when the earliest pending job is due.
func (q *Queue) NextDue() (models.TimestampMillis, bool, error) {
	pending, err := q.Pending()
	if err != nil || len(pending) == 0 {
		return 0, false, err
	}
	return pending[0].DueAt, true, nil
}
