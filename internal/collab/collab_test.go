package collab

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/liangmulu/open-chat/pkg/codec"
	"github.com/liangmulu/open-chat/pkg/config"
	"github.com/liangmulu/open-chat/pkg/content"
	"github.com/liangmulu/open-chat/pkg/events"
	"github.com/liangmulu/open-chat/pkg/models"
	"github.com/liangmulu/open-chat/pkg/workflow"
)

type seen struct {
	method string
	path   string
	query  string
	body   []byte
}

// serve runs h on an in-memory listener and returns collaborators whose
// clients dial it.
func serve(t *testing.T, h fasthttp.RequestHandler) (workflow.Collaborators, *[]seen) {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	var calls []seen
	srv := &fasthttp.Server{Handler: func(ctx *fasthttp.RequestCtx) {
		calls = append(calls, seen{
			method: string(ctx.Method()),
			path:   string(ctx.Path()),
			query:  string(ctx.QueryArgs().QueryString()),
			body:   append([]byte(nil), ctx.PostBody()...),
		})
		h(ctx)
	}}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	ep := config.EndpointConfig{URL: "http://collab.test/", Timeout: config.Duration(2 * time.Second)}
	c := New(config.CollaboratorsConfig{Ledger: ep, Escrow: ep, Blobs: ep, Exporter: ep})
	for _, cl := range []*Client{c.Ledger.(*Ledger).c, c.Escrow.(*Escrow).c, c.Blobs.(*Blobs).c, c.Exporter.(*Exporter).c} {
		cl.httpc.Dial = func(string) (net.Conn, error) { return ln.Dial() }
	}
	return c, &calls
}

func reply(ctx *fasthttp.RequestCtx, v any) {
	b, _ := json.Marshal(v)
	ctx.SetContentType("application/json")
	ctx.SetBody(b)
}

func TestLedgerTransfer(t *testing.T) {
	c, calls := serve(t, func(ctx *fasthttp.RequestCtx) {
		reply(ctx, map[string]uint64{"block_index": 812})
	})
	block, err := c.Ledger.Transfer(context.Background(), content.PendingTransfer{
		Ledger: "icp", Token: "ICP", Amount: 10, Fee: 1, To: "bob", CreatedNanos: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(812), block)

	require.Len(t, *calls, 1)
	got := (*calls)[0]
	assert.Equal(t, "POST", got.method)
	assert.Equal(t, "/transfers", got.path)
	assert.JSONEq(t, `{"ledger":"icp","token":"ICP","amount":10,"fee":1,"to":"bob","created_nanos":5}`, string(got.body))
}

func TestEscrow(t *testing.T) {
	c, calls := serve(t, func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/swaps/7/deposit":
			reply(ctx, workflow.DepositResult{Outcome: workflow.DepositCompleted, Token1TxnIn: 3, Token0TxnOut: 4, Token1TxnOut: 5})
		case "/swaps/7/cancel":
			ctx.SetStatusCode(fasthttp.StatusNoContent)
		case "/swaps/8/deposit":
			reply(ctx, map[string]int{"outcome": 99})
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	})
	res, err := c.Escrow.NotifyDeposit(context.Background(), 7, "carol")
	require.NoError(t, err)
	assert.Equal(t, workflow.DepositCompleted, res.Outcome)
	assert.Equal(t, uint64(5), res.Token1TxnOut)
	assert.JSONEq(t, `{"user":"carol"}`, string((*calls)[0].body))

	require.NoError(t, c.Escrow.CancelSwap(context.Background(), 7))

	_, err = c.Escrow.NotifyDeposit(context.Background(), 8, "carol")
	assert.ErrorContains(t, err, "unknown deposit outcome")
}

func TestBlobsReturnsFailedSubset(t *testing.T) {
	c, _ := serve(t, func(ctx *fasthttp.RequestCtx) {
		reply(ctx, map[string]any{"failed": []models.BlobReference{{CanisterID: "b", BlobID: 2}}})
	})
	refs := []models.BlobReference{{CanisterID: "b", BlobID: 1}, {CanisterID: "b", BlobID: 2}}
	failed, err := c.Blobs.DeleteFiles(context.Background(), refs)
	require.NoError(t, err)
	assert.Equal(t, []models.BlobReference{{CanisterID: "b", BlobID: 2}}, failed)
}

func TestStatusErrorsAreReported(t *testing.T) {
	c, _ := serve(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		ctx.SetBodyString("try later")
	})
	refs := []models.BlobReference{{CanisterID: "b", BlobID: 1}}
	failed, err := c.Blobs.DeleteFiles(context.Background(), refs)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "try later", se.Body)
	assert.Equal(t, refs, failed, "everything is retried")
}

func TestExporterDecodesEnvelopes(t *testing.T) {
	env := events.Envelope{
		Index:     4,
		Timestamp: 100,
		Event: &events.MessageInternal{
			MessageIndex: 2,
			MessageID:    models.MessageIDFromUint64(9),
			Sender:       "alice",
			Content:      &content.TextContent{Text: "exported"},
		},
	}
	raw, err := codec.EncodeEvent(&env)
	require.NoError(t, err)
	thread := models.MessageIndex(1)

	c, calls := serve(t, func(ctx *fasthttp.RequestCtx) {
		reply(ctx, exportPage{Events: []exportedEvent{{Thread: &thread, Event: raw}}, Finished: true})
	})
	page, err := c.Exporter.ExportEvents(context.Background(), "group-1", &workflow.Cursor{Thread: &thread, Index: 3})
	require.NoError(t, err)
	assert.True(t, page.Finished)
	require.Len(t, page.Events, 1)
	assert.Equal(t, thread, *page.Events[0].Thread)
	assert.Equal(t, models.EventIndex(4), page.Events[0].Event.Index)
	msg, ok := page.Events[0].Event.Message()
	require.True(t, ok)
	assert.Equal(t, models.MessageIDFromUint64(9), msg.MessageID)

	got := (*calls)[0]
	assert.Equal(t, "/groups/group-1/events", got.path)
	assert.Equal(t, "after_index=3&after_thread=1", got.query)
}

func TestExporterRejectsUndecodableEvent(t *testing.T) {
	c, _ := serve(t, func(ctx *fasthttp.RequestCtx) {
		reply(ctx, exportPage{Events: []exportedEvent{{Event: []byte{0xc1}}}})
	})
	_, err := c.Exporter.ExportEvents(context.Background(), "g", nil)
	assert.Error(t, err)
}

func TestUnsetEndpointIsNotConfigured(t *testing.T) {
	c := New(config.CollaboratorsConfig{})
	_, err := c.Ledger.Transfer(context.Background(), content.PendingTransfer{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	err = c.Escrow.CancelSwap(context.Background(), 1)
	assert.True(t, errors.Is(err, ErrNotConfigured))
	_, err = c.Exporter.ExportEvents(context.Background(), "g", nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
