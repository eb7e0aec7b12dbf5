// Package shutdown owns process exit: signal cancellation for a clean
// stop and crash diagnostics for an unclean one.
package shutdown

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/liangmulu/open-chat/pkg/logger"
)

type exitRequest struct {
	Time      string            `json:"time"`
	Reason    string            `json:"reason"`
	Cmd       string            `json:"cmd"`
	CrashPath string            `json:"crash_path,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// exit is replaced in tests.
var exit = os.Exit

// Abort logs err, writes diagnostics under dbPath and exits the process
// after delay.
func Abort(contextMsg string, err error, dbPath string, delay time.Duration) {
	logger.Error("startup_fatal", "msg", contextMsg, "error", err)
	dumpPath, reqPath, derr := AbortWithDiagnostics(dbPath, contextMsg, err)
	if derr != nil {
		logger.Error("abort_with_diagnostics_failed", "error", derr)
		fmt.Fprintf(os.Stderr, "FAILED TO WRITE CRASH DUMP: %v\n", derr)
	} else {
		logger.Info("wrote_crash_dump", "path", dumpPath, "request", reqPath)
		fmt.Fprintf(os.Stderr, "CRASH DUMP WRITTEN: %s\n", dumpPath)
	}
	if delay > 0 {
		logger.Info("exiting_in", "delay", delay.String())
		time.Sleep(delay)
	}
	exit(2)
}

func dirs(dbPath string) (crashDir, abortDir string) {
	if dbPath == "" {
		return "./crash", "./abort"
	}
	return filepath.Join(dbPath, "state", "crash"), filepath.Join(dbPath, "state", "abort")
}

// writeFile writes into dir via a temp file and renames it to name.
func writeFile(dir, name string, fill func(w io.Writer) error) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if err := fill(tmp); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, name)
	if err := os.Rename(tmpName, dst); err != nil {
		return "", err
	}
	_ = os.Chmod(dst, 0o600)
	return dst, nil
}

func writeRequest(abortDir string, ts int64, req exitRequest) (string, error) {
	return writeFile(abortDir, fmt.Sprintf("req-%d.json", ts), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(req)
	})
}

// AbortWithDiagnostics writes a crash dump and an abort request that
// references it. It returns both paths.
func AbortWithDiagnostics(dbPath, reason string, err error) (string, string, error) {
	crashDir, abortDir := dirs(dbPath)
	ts := time.Now().UnixNano()

	dumpPath, derr := writeFile(crashDir, fmt.Sprintf("crash-%d.log", ts), func(w io.Writer) error {
		fmt.Fprintf(w, "time: %s\n", time.Now().UTC().Format(time.RFC3339))
		fmt.Fprintf(w, "reason: %s\n", reason)
		fmt.Fprintf(w, "error: %v\n", err)
		fmt.Fprintf(w, "\n--- environ ---\n")
		for _, e := range os.Environ() {
			fmt.Fprintln(w, e)
		}
		fmt.Fprintf(w, "\n--- goroutine stacks ---\n")
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		_, werr := w.Write(buf[:n])
		return werr
	})
	if derr != nil {
		return "", "", fmt.Errorf("failed to write crash dump: %w", derr)
	}

	reqPath, rerr := writeRequest(abortDir, ts, exitRequest{
		Time:      time.Now().UTC().Format(time.RFC3339),
		Reason:    reason,
		Cmd:       "crash",
		CrashPath: dumpPath,
		Meta:      map[string]string{"pid": fmt.Sprintf("%d", os.Getpid())},
	})
	if rerr != nil {
		return dumpPath, "", fmt.Errorf("failed to write abort request: %w", rerr)
	}
	return dumpPath, reqPath, nil
}

// RequestExitFile writes an operator exit request without a dump.
func RequestExitFile(dbPath, reason string) (string, error) {
	_, abortDir := dirs(dbPath)
	return writeRequest(abortDir, time.Now().UnixNano(), exitRequest{
		Time:   time.Now().UTC().Format(time.RFC3339),
		Reason: reason,
		Cmd:    "abort",
		Meta:   map[string]string{"pid": fmt.Sprintf("%d", os.Getpid())},
	})
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
// SIGPIPE also cancels it after logging every goroutine stack.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)

	sigpipe := make(chan os.Signal, 1)
	signal.Notify(sigpipe, syscall.SIGPIPE)
	go func() {
		select {
		case s := <-sigpipe:
			logger.Info("signal_received", "signal", s.String(), "msg", "SIGPIPE - dumping goroutine stacks")
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			logger.Info("goroutine_stack_dump", "dump", string(buf[:n]))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigpipe)
	}()

	return ctx, cancel
}
