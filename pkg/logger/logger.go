package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

const (
	envLevel = "CHATLOG_LOG_LEVEL"
	// envSink takes "file:<path>"; anything else logs to stdout.
	envSink = "CHATLOG_LOG_SINK"

	auditFile      = "audit.log"
	auditRotateAt  = 10 << 20
	auditStampTime = "20060102T150405Z"
)

// Log is the process logger. Nil until Init; the helpers below drop
// records while it is nil.
var Log *slog.Logger

// Audit receives sweep reports and failed jobs once AttachAuditFileSink
// succeeds. Use AuditOrLog rather than reading it directly.
var Audit *slog.Logger

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// Init configures Log from CHATLOG_LOG_LEVEL and CHATLOG_LOG_SINK.
func Init() {
	InitWithLevel("")
}

// InitWithLevel is Init with an explicit level; an empty level falls back
// to CHATLOG_LOG_LEVEL.
func InitWithLevel(level string) {
	if strings.TrimSpace(level) == "" {
		level = os.Getenv(envLevel)
	}
	InitWriter(openSink(os.Getenv(envSink)), level)
}

// InitWriter points Log at w. Used by tests and tools that capture output.
func InitWriter(w io.Writer, level string) {
	Log = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func openSink(sink string) io.Writer {
	path, ok := strings.CutPrefix(sink, "file:")
	if !ok || path == "" {
		return os.Stdout
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log sink %s unavailable, using stdout: %v\n", path, err)
		return os.Stdout
	}
	return f
}

func parseLevel(lvl string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// AttachAuditFileSink opens <dir>/audit.log as a JSON audit log, rotating
// an existing file once it passes 10 MiB. Audit stays unchanged on error.
func AttachAuditFileSink(dir string) error {
	if dir == "" {
		return errors.New("audit dir is empty")
	}
	if err := auditDir(dir); err != nil {
		return err
	}
	path := filepath.Join(dir, auditFile)
	if fi, err := os.Stat(path); err == nil && fi.Size() > auditRotateAt {
		rotated := path + "." + fi.ModTime().UTC().Format(auditStampTime)
		if err := os.Rename(path, rotated); err == nil {
			Info("audit_log_rotated", "path", rotated, "size", humanize.IBytes(uint64(fi.Size())))
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	Audit = slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo}))
	Audit.Info("audit_sink_attached", "path", path)
	return nil
}

// auditDir creates dir if needed and refuses symlinks and non directories,
// before and after creation.
func auditDir(dir string) error {
	check := func() error {
		fi, err := os.Lstat(dir)
		if err != nil {
			return err
		}
		switch {
		case fi.Mode()&os.ModeSymlink != 0:
			return fmt.Errorf("audit path is a symlink: %s", dir)
		case !fi.IsDir():
			return fmt.Errorf("audit path is not a directory: %s", dir)
		}
		return nil
	}
	if err := check(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	return check()
}

// AuditOrLog returns Audit, else Log, else a logger that discards.
func AuditOrLog() *slog.Logger {
	switch {
	case Audit != nil:
		return Audit
	case Log != nil:
		return Log
	}
	return discard
}

func Debug(msg string, args ...any) {
	if Log != nil {
		Log.Debug(msg, args...)
	}
}

func Info(msg string, args ...any) {
	if Log != nil {
		Log.Info(msg, args...)
	}
}

func Warn(msg string, args ...any) {
	if Log != nil {
		Log.Warn(msg, args...)
	}
}

func Error(msg string, args ...any) {
	if Log != nil {
		Log.Error(msg, args...)
	}
}
