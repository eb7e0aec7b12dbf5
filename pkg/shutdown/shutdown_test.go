package shutdown

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAbortWithDiagnosticsWritesDumpAndRequest(t *testing.T) {
	db := t.TempDir()
	dump, req, err := AbortWithDiagnostics(db, "store open", errors.New("disk on fire"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(db, "state", "crash"), filepath.Dir(dump))
	body, err := os.ReadFile(dump)
	require.NoError(t, err)
	assert.Contains(t, string(body), "reason: store open")
	assert.Contains(t, string(body), "error: disk on fire")
	assert.Contains(t, string(body), "--- goroutine stacks ---")

	raw, err := os.ReadFile(req)
	require.NoError(t, err)
	var r exitRequest
	require.NoError(t, json.Unmarshal(raw, &r))
	assert.Equal(t, "crash", r.Cmd)
	assert.Equal(t, dump, r.CrashPath)

	entries, err := os.ReadDir(filepath.Dir(req))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), "temp file left behind: %s", e.Name())
	}
}

func TestRequestExitFile(t *testing.T) {
	db := t.TempDir()
	p, err := RequestExitFile(db, "operator")
	require.NoError(t, err)
	raw, err := os.ReadFile(p)
	require.NoError(t, err)
	var r exitRequest
	require.NoError(t, json.Unmarshal(raw, &r))
	assert.Equal(t, "abort", r.Cmd)
	assert.Equal(t, "operator", r.Reason)
	assert.Empty(t, r.CrashPath)
}

func TestAbortExits(t *testing.T) {
	code := -1
	exit = func(c int) { code = c }
	t.Cleanup(func() { exit = os.Exit })

	Abort("boom", errors.New("x"), t.TempDir(), 0)
	assert.Equal(t, 2, code)
}

func TestSetupSignalHandlerFollowsParent(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := SetupSignalHandler(parent)
	defer cancel()
	cancelParent()
	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
