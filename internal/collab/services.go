package collab

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/valyala/fasthttp"

	"github.com/liangmulu/open-chat/pkg/codec"
	"github.com/liangmulu/open-chat/pkg/config"
	"github.com/liangmulu/open-chat/pkg/content"
	"github.com/liangmulu/open-chat/pkg/models"
	"github.com/liangmulu/open-chat/pkg/workflow"
)

// New returns a client per configured collaborator. Unset endpoints
// still get a client so a job that needs one fails with ErrNotConfigured
// and is retried.
func New(cfg config.CollaboratorsConfig) workflow.Collaborators {
	return workflow.Collaborators{
		Ledger:   &Ledger{c: NewClient("ledger", cfg.Ledger)},
		Escrow:   &Escrow{c: NewClient("escrow", cfg.Escrow)},
		Blobs:    &Blobs{c: NewClient("blobs", cfg.Blobs)},
		Exporter: &Exporter{c: NewClient("exporter", cfg.Exporter)},
	}
}

type Ledger struct{ c *Client }

var _ workflow.Ledger = (*Ledger)(nil)

// Transfer posts t to /transfers. The ledger deduplicates on
// CreatedNanos, so a retried call does not pay twice.
func (l *Ledger) Transfer(ctx context.Context, t content.PendingTransfer) (uint64, error) {
	var out struct {
		BlockIndex uint64 `json:"block_index"`
	}
	if err := l.c.do(ctx, fasthttp.MethodPost, "/transfers", t, &out); err != nil {
		return 0, err
	}
	return out.BlockIndex, nil
}

type Escrow struct{ c *Client }

var _ workflow.Escrow = (*Escrow)(nil)

func (e *Escrow) NotifyDeposit(ctx context.Context, swapID uint32, user models.UserID) (workflow.DepositResult, error) {
	var out workflow.DepositResult
	in := map[string]string{"user": string(user)}
	if err := e.c.do(ctx, fasthttp.MethodPost, fmt.Sprintf("/swaps/%d/deposit", swapID), in, &out); err != nil {
		return out, err
	}
	switch out.Outcome {
	case workflow.DepositAccepted, workflow.DepositCompleted, workflow.DepositSwapExpired:
		return out, nil
	}
	return out, fmt.Errorf("escrow: unknown deposit outcome %d for swap %d", out.Outcome, swapID)
}

func (e *Escrow) CancelSwap(ctx context.Context, swapID uint32) error {
	return e.c.do(ctx, fasthttp.MethodPost, fmt.Sprintf("/swaps/%d/cancel", swapID), nil, nil)
}

type Blobs struct{ c *Client }

var _ workflow.BlobStore = (*Blobs)(nil)

// DeleteFiles returns the references the store reported as failed.
func (b *Blobs) DeleteFiles(ctx context.Context, refs []models.BlobReference) ([]models.BlobReference, error) {
	in := struct {
		Files []models.BlobReference `json:"files"`
	}{refs}
	var out struct {
		Failed []models.BlobReference `json:"failed"`
	}
	if err := b.c.do(ctx, fasthttp.MethodPost, "/files/delete", in, &out); err != nil {
		return refs, err
	}
	return out.Failed, nil
}

type Exporter struct{ c *Client }

var _ workflow.GroupExporter = (*Exporter)(nil)

// exportedEvent carries each envelope in its stored binary encoding.
type exportedEvent struct {
	Thread *models.MessageIndex `json:"thread,omitempty"`
	Event  []byte               `json:"event"`
}

type exportPage struct {
	Events   []exportedEvent `json:"events"`
	Finished bool            `json:"finished"`
}

func (e *Exporter) ExportEvents(ctx context.Context, group string, after *workflow.Cursor) (workflow.ExportPage, error) {
	q := url.Values{}
	if after != nil {
		q.Set("after_index", strconv.FormatUint(uint64(after.Index), 10))
		if after.Thread != nil {
			q.Set("after_thread", strconv.FormatUint(uint64(*after.Thread), 10))
		}
	}
	path := "/groups/" + url.PathEscape(group) + "/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var raw exportPage
	if err := e.c.do(ctx, fasthttp.MethodGet, path, nil, &raw); err != nil {
		return workflow.ExportPage{}, err
	}
	page := workflow.ExportPage{Finished: raw.Finished, Events: make([]workflow.ExportedEvent, 0, len(raw.Events))}
	for i, ev := range raw.Events {
		env, _, err := codec.DecodeEventVersion(ev.Event)
		if err != nil {
			return workflow.ExportPage{}, fmt.Errorf("exporter: event %d of %s: %w", i, group, err)
		}
		page.Events = append(page.Events, workflow.ExportedEvent{Thread: ev.Thread, Event: env})
	}
	return page, nil
}
