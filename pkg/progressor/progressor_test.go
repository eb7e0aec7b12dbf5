package progressor

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liangmulu/open-chat/pkg/chatlog"
	"github.com/liangmulu/open-chat/pkg/models"
	"github.com/liangmulu/open-chat/pkg/store"
)

const (
	legacyMessage  = "83a5696e64657801a974696d657374616d7064a56576656e7481a74d65737361676584ad6d6573736167655f696e64657800aa6d6573736167655f6964c41000000000000000000000000000000001a673656e646572a5616c696365a7636f6e74656e7481a45465787481a474657874a26869"
	currentMessage = "83a16901a17464a16581a16d84a17800a169c41000000000000000000000000000000001a173a5616c696365a16381a17481a174a26869"
	unknownTag     = "83a16904a174cd03e8a16581a27a7a80"
)

func unhex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func seed(t *testing.T) (*store.Store, models.Chat) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "store"), store.Options{NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	chat := models.GroupChat("legacy")
	require.NoError(t, st.Commit(&chatlog.Batch{
		Chat: chat,
		Writes: []chatlog.Write{
			{Index: 1, Value: unhex(t, legacyMessage)},
			{Index: 4, Value: unhex(t, unknownTag)},
		},
		Meta: &chatlog.Meta{LatestEventIndex: 4, NextMessageIndex: 1},
	}))
	return st, chat
}

func values(t *testing.T, st *store.Store, chat models.Chat) map[models.EventIndex]string {
	t.Helper()
	_, records, err := st.LoadChat(chat)
	require.NoError(t, err)
	out := map[models.EventIndex]string{}
	for _, r := range records {
		out[r.Index] = hex.EncodeToString(r.Value)
	}
	return out
}

func TestRunRewritesLegacyEvents(t *testing.T) {
	st, chat := seed(t)

	ran, err := Run(context.Background(), st, "2")
	require.NoError(t, err)
	assert.True(t, ran)

	got := values(t, st, chat)
	assert.Equal(t, currentMessage, got[1])
	assert.Equal(t, unknownTag, got[4], "unreadable events are kept as stored")

	v, err := st.Version()
	require.NoError(t, err)
	assert.Equal(t, "2", v)
	_, inProgress, err := st.Migration()
	require.NoError(t, err)
	assert.False(t, inProgress)

	meta, _, err := st.LoadChat(chat)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, models.EventIndex(4), meta.LatestEventIndex)
}

func TestRunIsNoopAtSameVersion(t *testing.T) {
	st, chat := seed(t)
	require.NoError(t, st.SetVersion("2"))

	ran, err := Run(context.Background(), st, "2")
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, legacyMessage, values(t, st, chat)[1])
}

func TestRunResumesInterruptedMigration(t *testing.T) {
	st, chat := seed(t)
	require.NoError(t, st.SetVersion("2"))
	require.NoError(t, st.SetMigration([]byte(`{"from":"1","to":"2"}`)))

	ran, err := Run(context.Background(), st, "2")
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, currentMessage, values(t, st, chat)[1])
	_, inProgress, err := st.Migration()
	require.NoError(t, err)
	assert.False(t, inProgress)
}

func TestSyncIsIdempotent(t *testing.T) {
	st, _ := seed(t)

	rep, err := Sync(context.Background(), st, "", "2")
	require.NoError(t, err)
	assert.Equal(t, Report{Chats: 1, Events: 2, Rewritten: 1, Poisoned: 1}, rep)

	rep, err = Sync(context.Background(), st, "2", "2")
	require.NoError(t, err)
	assert.Equal(t, Report{Chats: 1, Events: 2, Rewritten: 0, Poisoned: 1}, rep)
}

func TestSyncHonoursCancellation(t *testing.T) {
	st, _ := seed(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Sync(ctx, st, "", "2")
	assert.ErrorIs(t, err, context.Canceled)
}
