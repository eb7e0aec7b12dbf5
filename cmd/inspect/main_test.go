package main

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
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

func seeded(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "store"), store.Options{NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.Commit(&chatlog.Batch{
		Chat: models.GroupChat("mixed"),
		Writes: []chatlog.Write{
			{Index: 1, Value: unhex(t, legacyMessage)},
			{Index: 4, Value: unhex(t, unknownTag)},
		},
		Meta: &chatlog.Meta{LatestEventIndex: 4, NextMessageIndex: 1},
	}))
	require.NoError(t, st.Commit(&chatlog.Batch{
		Chat:   models.DirectChat("bob"),
		Writes: []chatlog.Write{{Index: 1, Value: unhex(t, currentMessage)}},
		Meta:   &chatlog.Meta{LatestEventIndex: 1, NextMessageIndex: 1},
	}))
	return st
}

func lines(t *testing.T, out []byte) []line {
	t.Helper()
	var got []line
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		var l line
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		got = append(got, l)
	}
	require.NoError(t, sc.Err())
	return got
}

func TestDumpFlagsLegacyAndPoison(t *testing.T) {
	st := seeded(t)
	var buf bytes.Buffer
	sum, err := dump(&buf, st, nil)
	require.NoError(t, err)
	assert.Equal(t, summary{Chats: 2, Events: 3, Legacy: 1, Poison: 1}, sum)

	byChat := map[string][]line{}
	for _, l := range lines(t, buf.Bytes()) {
		byChat[l.Chat] = append(byChat[l.Chat], l)
	}
	require.Len(t, byChat["d:bob"], 1)
	assert.Equal(t, "current", byChat["d:bob"][0].Version)
	assert.False(t, byChat["d:bob"][0].Legacy)
	assert.Equal(t, "m", byChat["d:bob"][0].Event)

	mixed := byChat["g:mixed"]
	require.Len(t, mixed, 2)
	assert.Equal(t, models.EventIndex(1), mixed[0].Index)
	assert.True(t, mixed[0].Legacy)
	assert.Equal(t, "prev1", mixed[0].Version)
	assert.Equal(t, models.TimestampMillis(100), mixed[0].Timestamp)

	assert.Equal(t, models.EventIndex(4), mixed[1].Index)
	assert.True(t, mixed[1].Poison)
	assert.NotEmpty(t, mixed[1].Error)
	assert.Equal(t, models.TimestampMillis(1000), mixed[1].Timestamp)
}

func TestDumpSingleChat(t *testing.T) {
	st := seeded(t)
	var buf bytes.Buffer
	sum, err := dump(&buf, st, []models.Chat{models.DirectChat("bob")})
	require.NoError(t, err)
	assert.Equal(t, summary{Chats: 1, Events: 1}, sum)
	assert.Len(t, lines(t, buf.Bytes()), 1)
}
