package chatlog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liangmulu/open-chat/pkg/content"
	"github.com/liangmulu/open-chat/pkg/events"
	"github.com/liangmulu/open-chat/pkg/expiry"
	"github.com/liangmulu/open-chat/pkg/models"
)

func TestDisappearingMessageIsSwept(t *testing.T) {
	c, p := newGroup(t)
	_, err := c.SetEventsTTL("alice", ptr(models.Milliseconds(5000)), 1000)
	require.NoError(t, err)
	res := pushText(t, c, nil, 1, "alice", "soon gone", 2000)
	require.NotNil(t, res.ExpiresAt)

	_, err = c.SetEventsTTL("alice", nil, 2500)
	require.NoError(t, err)
	other := pushText(t, c, nil, 2, "bob", "stays", 3000)

	next, ok := c.NextExpiry()
	require.True(t, ok)
	assert.Equal(t, models.TimestampMillis(7000), next)

	s, err := c.RemoveExpiredEvents(5000)
	require.NoError(t, err)
	assert.True(t, s.Empty())
	_, ok = c.GetByIndex(nil, res.EventIndex, Viewer{}, 5000)
	assert.True(t, ok)

	commits := p.Commits()
	s, err = c.RemoveExpiredEvents(7000)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Removed)
	assert.Equal(t, []expiry.Range{{From: res.EventIndex, To: res.EventIndex}}, s.Main)
	assert.Equal(t, commits+1, p.Commits())

	_, ok = c.GetByIndex(nil, res.EventIndex, Viewer{}, 7000)
	assert.False(t, ok)
	_, _, ok = c.GetByMessageID(nil, models.MessageIDFromUint64(1), 7000)
	assert.False(t, ok)
	_, ok = p.Value(testGroup, nil, res.EventIndex)
	assert.False(t, ok)

	ev, ok := c.GetByIndex(nil, other.EventIndex, Viewer{}, 7000)
	require.True(t, ok)
	assert.Equal(t, "stays", textOf(t, ev))

	_, ok = c.NextExpiry()
	assert.False(t, ok)
	s, err = c.RemoveExpiredEvents(9000)
	require.NoError(t, err)
	assert.True(t, s.Empty())

	after := pushText(t, c, nil, 3, "bob", "later", 8000)
	assert.Equal(t, other.EventIndex+1, after.EventIndex)
	assert.Equal(t, other.MessageIndex+1, after.MessageIndex)
	assertReplayMatches(t, c)
}

func TestExpiredEventsHiddenBeforeSweep(t *testing.T) {
	c, _ := newGroup(t)
	res := pushText(t, c, nil, 1, "alice", "hi", 0)
	ttlIdx := mustAppend(t, c, nil, text(2, "alice", "brief"), 1000, ptr(models.Milliseconds(5000)))

	_, ok := c.GetByIndex(nil, ttlIdx, Viewer{}, 5999)
	assert.True(t, ok)
	_, ok = c.GetByIndex(nil, ttlIdx, Viewer{}, 6000)
	assert.False(t, ok)

	page, err := c.EventsByIndex(nil, idx(res.EventIndex, ttlIdx), Viewer{}, 6000)
	require.NoError(t, err)
	assert.Equal(t, idx(res.EventIndex), indexesOf(page))
	assert.Equal(t, []expiry.Range{{From: ttlIdx, To: ttlIdx}}, page.ExpiredRanges)
}

func TestThreadRepliesExpireIndependently(t *testing.T) {
	c, p := newGroup(t)
	kept := pushText(t, c, nil, 1, "alice", "kept", 10)
	mustAppend(t, c, nil, text(2, "alice", "temporary"), 10, ptr(models.Milliseconds(100)))
	thread := ptr(kept.MessageIndex)
	reply := pushText(t, c, thread, 3, "carol", "r", 20)
	brief := mustAppend(t, c, thread, text(4, "carol", "brief"), 20, ptr(models.Milliseconds(50)))

	next, ok := c.NextExpiry()
	require.True(t, ok)
	assert.Equal(t, models.TimestampMillis(70), next)

	s, err := c.RemoveExpiredEvents(200)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Removed)
	assert.Equal(t, []expiry.Range{{From: 2, To: 2}}, s.Main)
	assert.Equal(t, map[models.MessageIndex][]expiry.Range{kept.MessageIndex: {{From: brief, To: brief}}}, s.Threads)
	assert.Empty(t, s.DroppedThreads)

	_, ok = c.GetByIndex(thread, reply.EventIndex, Viewer{}, 200)
	assert.True(t, ok)
	_, ok = p.Value(testGroup, thread, reply.EventIndex)
	assert.True(t, ok)
	_, ok = p.Value(testGroup, thread, brief)
	assert.False(t, ok)
	assertReplayMatches(t, c)
}

func TestExpiredRootDropsThread(t *testing.T) {
	c, p := newGroup(t)
	anchor := pushText(t, c, nil, 1, "alice", "anchor", 10)
	mustAppend(t, c, nil, text(2, "alice", "root"), 10, ptr(models.Milliseconds(100)))
	_, rootMI, ok := c.GetByMessageID(nil, models.MessageIDFromUint64(2), 10)
	require.True(t, ok)
	thread := ptr(rootMI)
	pushText(t, c, thread, 3, "bob", "r1", 20)
	pushText(t, c, thread, 4, "bob", "r2", 30)
	assert.Equal(t, []models.MessageIndex{rootMI}, c.Threads())

	s, err := c.RemoveExpiredEvents(110)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Removed)
	assert.Equal(t, []models.MessageIndex{rootMI}, s.DroppedThreads)
	assert.Empty(t, c.Threads())

	_, _, ok = c.GetByMessageID(thread, models.MessageIDFromUint64(3), 110)
	assert.False(t, ok)
	_, err = c.Range(thread, 1, true, 10, 0, Viewer{}, 110)
	assert.ErrorIs(t, err, ErrThreadRootNotFound)
	_, ok = p.Value(testGroup, thread, 1)
	assert.False(t, ok)
	_, ok = c.GetByIndex(nil, anchor.EventIndex, Viewer{}, 110)
	assert.True(t, ok)
	assertReplayMatches(t, c)
}

func TestSweepReturnsBlobReferences(t *testing.T) {
	c, _ := newGroup(t)
	blob := models.BlobReference{CanisterID: "files", BlobID: 42}
	_, err := c.PushMessage(PushMessageArgs{
		MessageID: models.MessageIDFromUint64(1),
		Sender:    "alice",
		Content: &content.ImageContent{
			Width:         10,
			Height:        10,
			MimeType:      "image/png",
			BlobReference: &blob,
		},
		Now: 10,
	})
	require.NoError(t, err)
	_, err = c.Append(nil, &events.EventsTTLUpdated{UpdatedBy: "alice"}, 10, ptr(models.Milliseconds(5)))
	require.NoError(t, err)

	s, err := c.RemoveExpiredEvents(100)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Removed)
	assert.Empty(t, s.Blobs)

	mustAppend(t, c, nil, &events.MessageInternal{
		MessageID: models.MessageIDFromUint64(2),
		Sender:    "alice",
		Content:   &content.ImageContent{MimeType: "image/png", BlobReference: &blob},
	}, 100, ptr(models.Milliseconds(5)))
	s, err = c.RemoveExpiredEvents(200)
	require.NoError(t, err)
	assert.Equal(t, []models.BlobReference{blob}, s.Blobs)
}

func TestSweepFailureKeepsEventsDue(t *testing.T) {
	c, p := newGroup(t)
	i := mustAppend(t, c, nil, text(1, "alice", "brief"), 10, ptr(models.Milliseconds(10)))

	p.FailWith = errors.New("unavailable")
	_, err := c.RemoveExpiredEvents(100)
	require.Error(t, err)
	assert.Equal(t, 1, c.Len())
	next, ok := c.NextExpiry()
	require.True(t, ok)
	assert.Equal(t, models.TimestampMillis(20), next)

	p.FailWith = nil
	s, err := c.RemoveExpiredEvents(100)
	require.NoError(t, err)
	assert.Equal(t, []expiry.Range{{From: i, To: i}}, s.Main)
	assert.Zero(t, c.Len())
}

func TestExpiredMessageIsNotFoundBeforeSweep(t *testing.T) {
	c, _ := newGroup(t)
	i := mustAppend(t, c, nil, text(1, "alice", "brief"), 1000, ptr(models.Milliseconds(5000)))

	got, _, ok := c.GetByMessageID(nil, models.MessageIDFromUint64(1), 5000)
	require.True(t, ok)
	assert.Equal(t, i, got)

	_, ok = c.GetByIndex(nil, i, Viewer{}, 7000)
	assert.False(t, ok)
	_, _, ok = c.GetByMessageID(nil, models.MessageIDFromUint64(1), 7000)
	assert.False(t, ok)

	mustAppend(t, c, nil, text(2, "alice", "root"), 1000, ptr(models.Milliseconds(100)))
	_, rootMI, ok := c.GetByMessageID(nil, models.MessageIDFromUint64(2), 1000)
	require.True(t, ok)
	thread := ptr(rootMI)
	pushText(t, c, thread, 3, "bob", "reply", 1050)

	_, _, ok = c.GetByMessageID(thread, models.MessageIDFromUint64(3), 1060)
	assert.True(t, ok)
	_, _, ok = c.GetByMessageID(thread, models.MessageIDFromUint64(3), 1100)
	assert.False(t, ok)
}
