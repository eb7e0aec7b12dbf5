package app

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/liangmulu/open-chat/pkg/chatlog"
	"github.com/liangmulu/open-chat/pkg/config"
	"github.com/liangmulu/open-chat/pkg/content"
	"github.com/liangmulu/open-chat/pkg/events"
	"github.com/liangmulu/open-chat/pkg/models"
	"github.com/liangmulu/open-chat/pkg/workflow"
)

func effFor(dir string) config.EffectiveConfigResult {
	cfg := &config.Config{}
	cfg.Server.DBPath = dir
	cfg.ApplyDefaults()
	return config.EffectiveConfigResult{Config: cfg, Addr: "127.0.0.1:0", DBPath: dir, Source: "flags"}
}

func newApp(t *testing.T, dir string) *App {
	t.Helper()
	a, err := New(context.Background(), effFor(dir), "1.0.0", "none", "unknown", Options{Collaborators: &workflow.Collaborators{}})
	require.NoError(t, err)
	return a
}

func seedChat(t *testing.T, a *App) {
	t.Helper()
	ttl := models.Milliseconds(1)
	require.NoError(t, a.Chats().With(models.GroupChat("ops"), func(c *chatlog.ChatEvents) error {
		if _, err := c.PushMessage(chatlog.PushMessageArgs{
			MessageID: models.MessageIDFromUint64(1),
			Sender:    "alice",
			Content:   &content.TextContent{Text: "hello"},
			Now:       1000,
		}); err != nil {
			return err
		}
		_, err := c.Append(nil, &events.MessageInternal{
			MessageID: models.MessageIDFromUint64(2),
			Sender:    "alice",
			Content: &content.FileContent{
				Name:          "a.bin",
				MimeType:      "application/octet-stream",
				BlobReference: &models.BlobReference{CanisterID: "files", BlobID: 1},
			},
		}, 1000, &ttl)
		return err
	}))
}

func call(t *testing.T, a *App, method, uri string) (int, []byte) {
	t.Helper()
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	a.Handler()(&ctx)
	return ctx.Response.StatusCode(), append([]byte(nil), ctx.Response.Body()...)
}

func TestOpsEndpoints(t *testing.T) {
	a := newApp(t, filepath.Join(t.TempDir(), "db"))
	t.Cleanup(func() { _ = a.Close() })
	seedChat(t, a)

	code, body := call(t, a, "GET", "/healthz")
	assert.Equal(t, fasthttp.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok","version":"1.0.0"}`, string(body))

	code, body = call(t, a, "GET", "/admin/chats")
	require.Equal(t, fasthttp.StatusOK, code)
	var list struct {
		Chats []chatSummary `json:"chats"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Chats, 1)
	assert.Equal(t, "g:ops", list.Chats[0].Key)
	assert.Equal(t, 2, list.Chats[0].Events)
	assert.Equal(t, uint64(2), list.Chats[0].Messages)
	require.NotNil(t, list.Chats[0].NextExpiry)

	code, body = call(t, a, "GET", "/admin/chats/g:ops/metrics")
	require.Equal(t, fasthttp.StatusOK, code)
	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	assert.EqualValues(t, 1, m["text_messages"])
	assert.EqualValues(t, 1, m["file_messages"])

	code, _ = call(t, a, "GET", "/admin/chats/g:missing/metrics")
	assert.Equal(t, fasthttp.StatusNotFound, code)

	code, body = call(t, a, "GET", "/metrics")
	assert.Equal(t, fasthttp.StatusOK, code)
	assert.Contains(t, string(body), "chatlog_chats 1")

	code, _ = call(t, a, "GET", "/admin/retention/run")
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, code)

	code, body = call(t, a, "POST", "/admin/retention/run")
	require.Equal(t, fasthttp.StatusOK, code, string(body))
	var rep struct {
		Swept   int `json:"swept"`
		Removed int `json:"removed"`
		Blobs   int `json:"blobs"`
	}
	require.NoError(t, json.Unmarshal(body, &rep))
	assert.Equal(t, 1, rep.Swept)
	assert.Equal(t, 1, rep.Removed)
	assert.Equal(t, 1, rep.Blobs)

	code, body = call(t, a, "GET", "/admin/jobs")
	require.Equal(t, fasthttp.StatusOK, code)
	var jobs struct {
		Pending []workflow.Job `json:"pending"`
		Failed  []workflow.Job `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(body, &jobs))
	require.Len(t, jobs.Pending, 1)
	assert.Equal(t, workflow.KindDeleteFileReferences, jobs.Pending[0].Kind)
	assert.Empty(t, jobs.Failed)

	code, _ = call(t, a, "GET", "/nope")
	assert.Equal(t, fasthttp.StatusNotFound, code)
}

func TestChatsSurviveRestart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	a := newApp(t, dir)
	seedChat(t, a)
	require.NoError(t, a.Close())

	b := newApp(t, dir)
	t.Cleanup(func() { _ = b.Close() })
	assert.Equal(t, []models.Chat{models.GroupChat("ops")}, b.Chats().Chats())
	v, err := b.store.Version()
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v)
}

func TestNewRejectsBadConfig(t *testing.T) {
	eff := effFor("")
	eff.DBPath = ""
	_, err := New(context.Background(), eff, "dev", "", "", Options{})
	assert.Error(t, err)

	eff = effFor(t.TempDir())
	eff.Config.Collaborators.Ledger.URL = "ledger.internal"
	_, err = New(context.Background(), eff, "dev", "", "", Options{})
	assert.ErrorContains(t, err, "collaborators.ledger.url")

	eff = effFor(t.TempDir())
	eff.Config.Retention.Enabled = true
	eff.Config.Retention.Cron = "whenever"
	_, err = New(context.Background(), eff, "dev", "", "", Options{})
	assert.ErrorContains(t, err, "cron")
}

func TestRunStopsOnCancel(t *testing.T) {
	a := newApp(t, filepath.Join(t.TempDir(), "db"))
	t.Cleanup(func() { _ = a.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
