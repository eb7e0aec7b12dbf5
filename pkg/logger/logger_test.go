package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/valyala/fasthttp"
)

func TestInitWriterLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "warn")
	Info("ignored_event")
	Warn("kept_event", "chat", "g:1")
	out := buf.String()
	if strings.Contains(out, "ignored_event") {
		t.Fatalf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, "kept_event") || !strings.Contains(out, "chat=g:1") {
		t.Fatalf("warn record missing: %s", out)
	}
}

func TestAttachAuditFileSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audit")
	if err := AttachAuditFileSink(dir); err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer func() { Audit = nil }()
	AuditOrLog().Info("sweep_header", "run_id", "r1")
	b, err := os.ReadFile(filepath.Join(dir, "audit.log"))
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !bytes.Contains(b, []byte(`"msg":"sweep_header"`)) {
		t.Fatalf("audit record missing: %s", b)
	}
}

func TestAttachAuditFileSinkRejectsFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(f, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := AttachAuditFileSink(f); err == nil {
		t.Fatalf("expected error for non-directory audit path")
	}
}

func TestSafeHeadersRedacts(t *testing.T) {
	var h fasthttp.RequestHeader
	h.Set("Authorization", "Bearer secret")
	h.Set("X-Request-Id", "abc")
	got := SafeHeaders(&h)
	if strings.Contains(got, "secret") {
		t.Fatalf("authorization not redacted: %s", got)
	}
	if !strings.Contains(got, "abc") {
		t.Fatalf("request id missing: %s", got)
	}
}
