package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/liangmulu/open-chat/internal/retention"
	"github.com/liangmulu/open-chat/pkg/banner"
	"github.com/liangmulu/open-chat/pkg/chatlog"
	"github.com/liangmulu/open-chat/pkg/chats"
	"github.com/liangmulu/open-chat/pkg/logger"
	"github.com/liangmulu/open-chat/pkg/metrics"
	"github.com/liangmulu/open-chat/pkg/models"
)

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "" && a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.PrintWithEff(a.eff, verStr)
}

func jsonWrite(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	if err := json.NewEncoder(ctx).Encode(v); err != nil {
		logger.Error("json_encode_failed", "path", string(ctx.Path()), "error", err)
	}
}

func jsonError(ctx *fasthttp.RequestCtx, status int, message string) {
	jsonWrite(ctx, status, map[string]string{"error": message})
}

type chatSummary struct {
	Key        string                  `json:"key"`
	Kind       string                  `json:"kind"`
	Events     int                     `json:"events"`
	Messages   uint64                  `json:"messages"`
	Threads    int                     `json:"threads"`
	LastActive models.TimestampMillis  `json:"last_active"`
	NextExpiry *models.TimestampMillis `json:"next_expiry,omitempty"`
}

// Handler routes the ops endpoints.
func (a *App) Handler() fasthttp.RequestHandler {
	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	return func(ctx *fasthttp.RequestCtx) {
		logger.LogRequest(ctx)
		path := string(ctx.Path())
		method := string(ctx.Method())

		switch {
		case path == "/healthz":
			if method != fasthttp.MethodGet {
				jsonError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
				return
			}
			ver := a.version
			if ver == "" {
				ver = "dev"
			}
			jsonWrite(ctx, fasthttp.StatusOK, map[string]string{"status": "ok", "version": ver})
		case path == "/metrics":
			metricsHandler(ctx)
		case path == "/admin/chats":
			if method != fasthttp.MethodGet {
				jsonError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
				return
			}
			a.listChats(ctx)
		case strings.HasPrefix(path, "/admin/chats/") && strings.HasSuffix(path, "/metrics"):
			if method != fasthttp.MethodGet {
				jsonError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
				return
			}
			key := strings.TrimSuffix(strings.TrimPrefix(path, "/admin/chats/"), "/metrics")
			a.chatMetrics(ctx, key)
		case path == "/admin/jobs":
			if method != fasthttp.MethodGet {
				jsonError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
				return
			}
			a.listJobs(ctx)
		case path == "/admin/retention/run":
			if method != fasthttp.MethodPost {
				jsonError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
				return
			}
			a.runRetention(ctx)
		default:
			jsonError(ctx, fasthttp.StatusNotFound, "not found")
		}
	}
}

func (a *App) listChats(ctx *fasthttp.RequestCtx) {
	list := a.chats.Chats()
	out := make([]chatSummary, 0, len(list))
	for _, chat := range list {
		err := a.chats.With(chat, func(c *chatlog.ChatEvents) error {
			m := c.Metrics()
			s := chatSummary{
				Key:        chat.Key(),
				Kind:       chat.Kind.String(),
				Events:     c.Len(),
				Messages:   m.Messages(),
				Threads:    len(c.Threads()),
				LastActive: m.LastActive,
			}
			if at, ok := c.NextExpiry(); ok {
				s.NextExpiry = &at
			}
			out = append(out, s)
			return nil
		})
		if err != nil {
			logger.Warn("admin_chat_unavailable", "chat", chat.Key(), "error", err)
		}
	}
	jsonWrite(ctx, fasthttp.StatusOK, map[string]any{"chats": out})
}

func (a *App) chatMetrics(ctx *fasthttp.RequestCtx, key string) {
	var m metrics.ChatMetrics
	err := a.chats.WithExisting(key, func(c *chatlog.ChatEvents) error {
		m = c.Metrics()
		return nil
	})
	switch {
	case errors.Is(err, chats.ErrUnknownChat):
		jsonError(ctx, fasthttp.StatusNotFound, "unknown chat")
	case err != nil:
		jsonError(ctx, fasthttp.StatusInternalServerError, err.Error())
	default:
		jsonWrite(ctx, fasthttp.StatusOK, m)
	}
}

func (a *App) listJobs(ctx *fasthttp.RequestCtx) {
	pending, err := a.queue.Pending()
	if err != nil {
		jsonError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}
	failed, err := a.queue.FailedJobs()
	if err != nil {
		jsonError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}
	jsonWrite(ctx, fasthttp.StatusOK, map[string]any{"pending": pending, "failed": failed})
}

func (a *App) runRetention(ctx *fasthttp.RequestCtx) {
	rctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	rep, err := a.sweeper.RunOnce(rctx)
	switch {
	case errors.Is(err, retention.ErrLeaseHeld):
		jsonError(ctx, fasthttp.StatusConflict, err.Error())
	case err != nil:
		jsonWrite(ctx, fasthttp.StatusInternalServerError, map[string]any{"error": err.Error(), "report": rep})
	default:
		jsonWrite(ctx, fasthttp.StatusOK, rep)
	}
}

// startHTTP starts the ops server in a goroutine and returns a channel
// that will contain any server error.
// startHTTP binds the ops listener and serves it in the background. Bind
// errors are returned directly; serve errors arrive on the channel.
func (a *App) startHTTP() (net.Listener, <-chan error, error) {
	ln, err := net.Listen("tcp", a.eff.Addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen on %s: %w", a.eff.Addr, err)
	}
	a.srv = &fasthttp.Server{
		Handler:            a.Handler(),
		Name:               "chatlog",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       30 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http_listening", "addr", ln.Addr().String())
		errCh <- a.srv.Serve(ln)
	}()
	return ln, errCh, nil
}
