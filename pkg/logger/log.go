package logger

import (
	"strings"

	"github.com/valyala/fasthttp"
)

var sensitive = map[string]struct{}{
	"authorization": {},
	"x-api-key":     {},
	"cookie":        {},
}

func redactHeaderValue(k, v string) string {
	if v == "" {
		return ""
	}
	if _, ok := sensitive[strings.ToLower(k)]; ok {
		return "<redacted>"
	}
	return v
}

// SafeHeaders returns a compact string representation of headers suitable for
// logging with sensitive values redacted.
func SafeHeaders(h *fasthttp.RequestHeader) string {
	var parts []string
	h.VisitAll(func(k, v []byte) {
		if len(v) == 0 {
			return
		}
		parts = append(parts, string(k)+"="+redactHeaderValue(string(k), string(v)))
	})
	return strings.Join(parts, "; ")
}

// LogRequest logs a concise, safe summary of an incoming request.
func LogRequest(ctx *fasthttp.RequestCtx) {
	if Log == nil {
		return
	}
	Log.Debug("incoming_request",
		"method", string(ctx.Method()),
		"path", string(ctx.Path()),
		"remote", ctx.RemoteAddr().String(),
		"headers", SafeHeaders(&ctx.Request.Header),
	)
}
