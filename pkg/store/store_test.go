package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liangmulu/open-chat/pkg/chatlog"
	"github.com/liangmulu/open-chat/pkg/content"
	"github.com/liangmulu/open-chat/pkg/events"
	"github.com/liangmulu/open-chat/pkg/models"
)

func ptr[T any](v T) *T { return &v }

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "store"), Options{NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func push(t *testing.T, c *chatlog.ChatEvents, thread *models.MessageIndex, id uint64, body string, now models.TimestampMillis) chatlog.PushMessageResult {
	t.Helper()
	res, err := c.PushMessage(chatlog.PushMessageArgs{
		Thread:    thread,
		MessageID: models.MessageIDFromUint64(id),
		Sender:    "alice",
		Content:   &content.TextContent{Text: body},
		Now:       now,
	})
	require.NoError(t, err)
	return res
}

func TestKeysRoundTrip(t *testing.T) {
	chat := models.ChannelChat("community", 3)
	k := EventKey(chat, nil, 42)
	assert.Equal(t, "ev:c:community:3:m:0000000042", k)
	thread, i, err := ParseEventKey(chat, k)
	require.NoError(t, err)
	assert.Nil(t, thread)
	assert.Equal(t, models.EventIndex(42), i)

	k = EventKey(chat, ptr(models.MessageIndex(7)), 1)
	assert.Equal(t, "ev:c:community:3:t:0000000007:0000000001", k)
	thread, i, err = ParseEventKey(chat, k)
	require.NoError(t, err)
	require.NotNil(t, thread)
	assert.Equal(t, models.MessageIndex(7), *thread)
	assert.Equal(t, models.EventIndex(1), i)

	_, _, err = ParseEventKey(chat, "ev:c:community:3:x:1")
	assert.Error(t, err)
	_, _, err = ParseEventKey(models.GroupChat("g"), k)
	assert.Error(t, err)
}

func TestValidateChat(t *testing.T) {
	assert.NoError(t, ValidateChat(models.GroupChat("group-1")))
	assert.Error(t, ValidateChat(models.GroupChat("")))
	assert.Error(t, ValidateChat(models.GroupChat("a:b")))
	assert.Error(t, ValidateChat(models.Chat{ID: "x"}))
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("ev;"), prefixEnd([]byte("ev:")))
	assert.Equal(t, []byte{0x01}, prefixEnd([]byte{0x00, 0xff}))
	assert.Nil(t, prefixEnd([]byte{0xff}))
}

func TestChatRoundTripThroughPebble(t *testing.T) {
	s := openTemp(t)
	chat := models.GroupChat("g1")
	c := chatlog.New(chat, s, chatlog.Options{})

	_, err := c.Append(nil, &events.GroupCreated{Name: "g", CreatedBy: "alice"}, 1, nil)
	require.NoError(t, err)
	root := push(t, c, nil, 1, "root", 10)
	push(t, c, ptr(root.MessageIndex), 2, "reply", 20)
	_, err = c.SetEventsTTL("alice", ptr(models.Milliseconds(100)), 30)
	require.NoError(t, err)
	push(t, c, nil, 3, "brief", 40)

	meta, records, err := s.LoadChat(chat)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, models.EventIndex(4), meta.LatestEventIndex)
	assert.Equal(t, models.MessageIndex(2), meta.NextMessageIndex)
	require.NotNil(t, meta.EventsTTL)
	assert.Equal(t, models.Milliseconds(100), *meta.EventsTTL)
	require.Len(t, records, 5)
	assert.Nil(t, records[0].Thread)
	require.NotNil(t, records[4].Thread)
	assert.Equal(t, root.MessageIndex, *records[4].Thread)

	r, report, err := chatlog.Restore(chat, meta, records, s, chatlog.Options{})
	require.NoError(t, err)
	assert.Equal(t, 5, report.Events)
	assert.Equal(t, c.Metrics().Counters(), r.Metrics().Counters())

	summary, err := r.RemoveExpiredEvents(1000)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Removed)
	_, records, err = s.LoadChat(chat)
	require.NoError(t, err)
	assert.Len(t, records, 4)

	chats, err := s.ListChats()
	require.NoError(t, err)
	assert.Equal(t, []models.Chat{chat}, chats)
}

func TestDropThreadDeletesOnlyThatThread(t *testing.T) {
	s := openTemp(t)
	chat := models.GroupChat("g1")
	other := models.GroupChat("g2")

	write := func(thread *models.MessageIndex, i models.EventIndex) chatlog.Write {
		return chatlog.Write{Thread: thread, Index: i, Value: []byte{0xc0}}
	}
	require.NoError(t, s.Commit(&chatlog.Batch{Chat: chat, Writes: []chatlog.Write{
		write(nil, 1),
		write(ptr(models.MessageIndex(1)), 1),
		write(ptr(models.MessageIndex(1)), 2),
		write(ptr(models.MessageIndex(10)), 1),
	}}))
	require.NoError(t, s.Commit(&chatlog.Batch{Chat: other, Writes: []chatlog.Write{
		write(ptr(models.MessageIndex(1)), 1),
	}}))

	require.NoError(t, s.Commit(&chatlog.Batch{Chat: chat, Writes: []chatlog.Write{
		{Thread: ptr(models.MessageIndex(1)), DropThread: true},
		{Index: 1},
	}}))

	meta, records, err := s.LoadChat(chat)
	require.NoError(t, err)
	assert.Nil(t, meta)
	require.Len(t, records, 1)
	assert.Equal(t, models.MessageIndex(10), *records[0].Thread)

	_, records, err = s.LoadChat(other)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestCommitRejectsUnsafeChat(t *testing.T) {
	s := openTemp(t)
	err := s.Commit(&chatlog.Batch{Chat: models.GroupChat("bad:id")})
	assert.Error(t, err)
	err = s.Commit(&chatlog.Batch{Chat: models.GroupChat("g"), Writes: []chatlog.Write{{DropThread: true}}})
	assert.Error(t, err)
}

func TestUnknownChatLoadsEmpty(t *testing.T) {
	s := openTemp(t)
	meta, records, err := s.LoadChat(models.DirectChat("nobody"))
	require.NoError(t, err)
	assert.Nil(t, meta)
	assert.Empty(t, records)
}

func TestVersionAndJobs(t *testing.T) {
	s := openTemp(t)
	v, err := s.Version()
	require.NoError(t, err)
	assert.Empty(t, v)
	require.NoError(t, s.SetVersion("2"))
	v, err = s.Version()
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	require.NoError(t, s.PutJob("b", []byte("second")))
	require.NoError(t, s.PutJob("a", []byte("first")))
	require.NoError(t, s.PutJob("a", []byte("first again")))

	var ids []string
	var values []string
	require.NoError(t, s.Jobs(func(id string, value []byte) error {
		ids = append(ids, id)
		values = append(values, string(value))
		return nil
	}))
	assert.Equal(t, []string{"a", "b"}, ids)
	assert.Equal(t, []string{"first again", "second"}, values)

	require.NoError(t, s.DeleteJob("a"))
	ids = nil
	require.NoError(t, s.Jobs(func(id string, _ []byte) error {
		ids = append(ids, id)
		return nil
	}))
	assert.Equal(t, []string{"b"}, ids)
}

func TestMigrationMarker(t *testing.T) {
	s := openTemp(t)
	_, ok, err := s.Migration()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetMigration([]byte(`{"to":"2"}`)))
	m, ok, err := s.Migration()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"to":"2"}`, string(m))

	require.NoError(t, s.ClearMigration())
	_, ok, err = s.Migration()
	require.NoError(t, err)
	assert.False(t, ok)
}
