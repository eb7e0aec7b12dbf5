package chatlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liangmulu/open-chat/pkg/events"
	"github.com/liangmulu/open-chat/pkg/expiry"
	"github.com/liangmulu/open-chat/pkg/models"
)

// seed fills the main log with a GroupCreated event followed by messages
// up to index n. Event i is appended at time i*10.
func seed(t *testing.T, c *ChatEvents, n int) {
	t.Helper()
	mustAppend(t, c, nil, &events.GroupCreated{Name: "g", CreatedBy: "alice"}, 10, nil)
	for i := 2; i <= n; i++ {
		mustAppend(t, c, nil, text(uint64(i), "alice", "m"), models.TimestampMillis(i*10), nil)
	}
}

func idx(is ...models.EventIndex) []models.EventIndex { return is }

func TestRangeAscendingAndDescending(t *testing.T) {
	c, _ := newGroup(t)
	seed(t, c, 10)

	tests := []struct {
		name      string
		start     models.EventIndex
		ascending bool
		maxEvents int
		want      []models.EventIndex
	}{
		{"ascending", 3, true, 4, idx(3, 4, 5, 6)},
		{"descending", 8, false, 4, idx(8, 7, 6, 5)},
		{"descending past latest", 100, false, 3, idx(10, 9, 8)},
		{"ascending runs off the end", 9, true, 5, idx(9, 10)},
		{"ascending from zero", 0, true, 2, idx(1, 2)},
		{"descending runs off the start", 2, false, 5, idx(2, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := c.Range(nil, tt.start, tt.ascending, tt.maxEvents, 0, Viewer{}, 1000)
			require.NoError(t, err)
			assert.Equal(t, tt.want, indexesOf(page))
			assert.Equal(t, models.EventIndex(10), page.LatestEventIndex)
			assert.Empty(t, page.ExpiredRanges)
		})
	}
}

func TestRangeStopsBeforeExceedingMessageCap(t *testing.T) {
	c, _ := newGroup(t)
	mustAppend(t, c, nil, &events.GroupCreated{Name: "g", CreatedBy: "alice"}, 1, nil)
	mustAppend(t, c, nil, text(1, "alice", "a"), 2, nil)
	mustAppend(t, c, nil, &events.MemberJoined{UserID: "bob"}, 3, nil)
	mustAppend(t, c, nil, text(2, "bob", "b"), 4, nil)
	mustAppend(t, c, nil, text(3, "bob", "c"), 5, nil)

	page, err := c.Range(nil, 1, true, 0, 2, Viewer{}, 10)
	require.NoError(t, err)
	assert.Equal(t, idx(1, 2, 3, 4), indexesOf(page))

	page, err = c.Range(nil, 5, false, 2, 2, Viewer{}, 10)
	require.NoError(t, err)
	assert.Equal(t, idx(5, 4), indexesOf(page))
}

func TestReadsRejectBadLimits(t *testing.T) {
	c, _ := newGroup(t)
	seed(t, c, 3)
	_, err := c.Range(nil, 1, true, 0, 0, Viewer{}, 10)
	assert.ErrorIs(t, err, ErrInvalidLimit)
	_, err = c.Window(nil, 1, 0, -1, Viewer{}, 10)
	assert.ErrorIs(t, err, ErrInvalidLimit)
	_, err = c.WindowAtMessage(nil, 0, 0, 0, Viewer{}, 10)
	assert.ErrorIs(t, err, ErrInvalidLimit)

	for _, caps := range [][2]int{{-3, 2}, {2, -3}, {-1, -1}, {-1, 0}} {
		evCap, msgCap := caps[0], caps[1]
		page, err := c.Range(nil, 1, true, evCap, msgCap, Viewer{}, 10)
		assert.ErrorIs(t, err, ErrInvalidLimit, "range %v", caps)
		assert.Empty(t, page.Events)
		_, err = c.Window(nil, 2, msgCap, evCap, Viewer{}, 10)
		assert.ErrorIs(t, err, ErrInvalidLimit, "window %v", caps)
		_, err = c.WindowAtMessage(nil, 0, msgCap, evCap, Viewer{}, 10)
		assert.ErrorIs(t, err, ErrInvalidLimit, "window at message %v", caps)
	}
}

func TestRangeCollapsesExpiredRuns(t *testing.T) {
	c, _ := newGroup(t)
	ttl := ptr(models.Milliseconds(100))
	mustAppend(t, c, nil, &events.GroupCreated{Name: "g", CreatedBy: "alice"}, 1, nil)
	mustAppend(t, c, nil, text(1, "alice", "a"), 1, nil)
	for i := uint64(2); i <= 5; i++ {
		mustAppend(t, c, nil, text(i, "alice", "gone"), 1, ttl)
	}
	mustAppend(t, c, nil, text(6, "alice", "b"), 1, nil)

	check := func() {
		t.Helper()
		page, err := c.Range(nil, 1, true, 10, 0, Viewer{}, 500)
		require.NoError(t, err)
		assert.Equal(t, idx(1, 2, 7), indexesOf(page))
		assert.Equal(t, []expiry.Range{{From: 3, To: 6}}, page.ExpiredRanges)

		page, err = c.Range(nil, 7, false, 10, 0, Viewer{}, 500)
		require.NoError(t, err)
		assert.Equal(t, idx(7, 2, 1), indexesOf(page))
		assert.Equal(t, []expiry.Range{{From: 3, To: 6}}, page.ExpiredRanges)
	}

	check()
	s, err := c.RemoveExpiredEvents(500)
	require.NoError(t, err)
	assert.Equal(t, []expiry.Range{{From: 3, To: 6}}, s.Main)
	check()
}

func TestRangeReportsRemovedPrefix(t *testing.T) {
	c, _ := newGroup(t)
	ttl := ptr(models.Milliseconds(100))
	mustAppend(t, c, nil, &events.GroupCreated{Name: "g", CreatedBy: "alice"}, 1, ttl)
	for i := uint64(1); i <= 3; i++ {
		mustAppend(t, c, nil, text(i, "alice", "gone"), 1, ttl)
	}
	mustAppend(t, c, nil, text(4, "alice", "kept"), 1, nil)
	mustAppend(t, c, nil, text(5, "alice", "kept"), 1, nil)

	_, err := c.RemoveExpiredEvents(500)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	page, err := c.Range(nil, 1, true, 10, 0, Viewer{}, 500)
	require.NoError(t, err)
	assert.Equal(t, idx(5, 6), indexesOf(page))
	assert.Equal(t, []expiry.Range{{From: 1, To: 4}}, page.ExpiredRanges)

	page, err = c.Range(nil, 6, false, 10, 0, Viewer{}, 500)
	require.NoError(t, err)
	assert.Equal(t, idx(6, 5), indexesOf(page))
	assert.Equal(t, []expiry.Range{{From: 1, To: 4}}, page.ExpiredRanges)
}

func TestRangeHonoursMinVisible(t *testing.T) {
	c, _ := newGroup(t)
	seed(t, c, 10)
	v := Viewer{MinVisibleEventIndex: 5}

	page, err := c.Range(nil, 1, true, 3, 0, v, 1000)
	require.NoError(t, err)
	assert.Equal(t, idx(5, 6, 7), indexesOf(page))

	page, err = c.Range(nil, 10, false, 100, 0, v, 1000)
	require.NoError(t, err)
	assert.Equal(t, idx(10, 9, 8, 7, 6, 5), indexesOf(page))
	assert.Empty(t, page.ExpiredRanges)
}

func TestWindow(t *testing.T) {
	c, _ := newGroup(t)
	seed(t, c, 20)

	tests := []struct {
		name        string
		mid         models.EventIndex
		maxMessages int
		maxEvents   int
		want        []models.EventIndex
	}{
		{"centred", 10, 0, 5, idx(8, 9, 10, 11, 12)},
		{"near the start", 2, 0, 5, idx(1, 2, 3, 4, 5)},
		{"near the end", 19, 0, 5, idx(16, 17, 18, 19, 20)},
		{"message cap", 10, 3, 0, idx(9, 10, 11)},
		{"only the midpoint", 10, 0, 1, idx(10)},
		{"larger than the log", 10, 0, 100, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := c.Window(nil, tt.mid, tt.maxMessages, tt.maxEvents, Viewer{}, 1000)
			require.NoError(t, err)
			want := tt.want
			if want == nil {
				for i := models.EventIndex(1); i <= 20; i++ {
					want = append(want, i)
				}
			}
			assert.Equal(t, want, indexesOf(page))
		})
	}
}

func TestWindowBeforeRatio(t *testing.T) {
	p := NewMemoryPersister()
	c := New(testGroup, p, Options{WindowBeforeRatio: 0.25})
	seed(t, c, 20)

	page, err := c.Window(nil, 10, 0, 9, Viewer{}, 1000)
	require.NoError(t, err)
	assert.Equal(t, idx(8, 9, 10, 11, 12, 13, 14, 15, 16), indexesOf(page))
}

func TestWindowAlwaysContainsMidpoint(t *testing.T) {
	c, _ := newGroup(t)
	seed(t, c, 20)

	for mid := models.EventIndex(1); mid <= 20; mid++ {
		for n := 1; n <= 7; n++ {
			page, err := c.Window(nil, mid, 0, n, Viewer{}, 1000)
			require.NoError(t, err)
			got := indexesOf(page)
			require.Len(t, got, n, "mid %d max %d", mid, n)
			assert.Contains(t, got, mid)
			for i := 1; i < len(got); i++ {
				assert.Equal(t, got[i-1]+1, got[i], "mid %d max %d", mid, n)
			}
		}
	}
}

func TestWindowWithUnusableMidpoint(t *testing.T) {
	c, _ := newGroup(t)
	seed(t, c, 5)
	mustAppend(t, c, nil, text(100, "alice", "brief"), 60, ptr(models.Milliseconds(10)))
	for i := uint64(101); i <= 103; i++ {
		mustAppend(t, c, nil, text(i, "alice", "m"), 70, nil)
	}

	for _, tc := range []struct {
		name         string
		mid          models.EventIndex
		viewer       Viewer
		expired      []expiry.Range
		unauthorized []models.EventIndex
	}{
		{"missing", 99, Viewer{}, nil, nil},
		{"zero", 0, Viewer{}, nil, nil},
		{"expired", 6, Viewer{}, []expiry.Range{{From: 6, To: 6}}, nil},
		{"hidden", 3, Viewer{MinVisibleEventIndex: 4}, nil, []models.EventIndex{3}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			page, err := c.Window(nil, tc.mid, 0, 5, tc.viewer, 1000)
			require.NoError(t, err)
			assert.Empty(t, page.Events)
			assert.Equal(t, models.EventIndex(9), page.LatestEventIndex)
			assert.Equal(t, tc.expired, page.ExpiredRanges)
			assert.Equal(t, tc.unauthorized, page.Unauthorized)
		})
	}

	page, err := c.Window(nil, 7, 0, 5, Viewer{}, 1000)
	require.NoError(t, err)
	assert.Equal(t, idx(4, 5, 7, 8, 9), indexesOf(page))
	assert.Equal(t, []expiry.Range{{From: 6, To: 6}}, page.ExpiredRanges)
}

func TestWindowAtMessage(t *testing.T) {
	c, _ := newGroup(t)
	seed(t, c, 10)

	// Message index 4 is event 6.
	page, err := c.WindowAtMessage(nil, 4, 0, 3, Viewer{}, 1000)
	require.NoError(t, err)
	assert.Equal(t, idx(5, 6, 7), indexesOf(page))

	page, err = c.WindowAtMessage(nil, 50, 0, 3, Viewer{}, 1000)
	require.NoError(t, err)
	assert.Empty(t, page.Events)
}

func TestEventsByIndex(t *testing.T) {
	c, _ := newGroup(t)
	seed(t, c, 3)
	mustAppend(t, c, nil, text(50, "alice", "brief"), 40, ptr(models.Milliseconds(10)))
	mustAppend(t, c, nil, text(51, "alice", "kept"), 50, nil)
	mustAppend(t, c, nil, text(52, "alice", "kept"), 60, nil)

	page, err := c.EventsByIndex(nil, idx(6, 0, 2, 4, 99, 6, 5), Viewer{MinVisibleEventIndex: 3}, 1000)
	require.NoError(t, err)
	assert.Equal(t, idx(5, 6), indexesOf(page))
	assert.Equal(t, idx(2), page.Unauthorized)
	assert.Equal(t, []expiry.Range{{From: 4, To: 4}}, page.ExpiredRanges)
	assert.Equal(t, models.EventIndex(6), page.LatestEventIndex)
}

func TestThreadReads(t *testing.T) {
	c, _ := newGroup(t)
	mustAppend(t, c, nil, &events.GroupCreated{Name: "g", CreatedBy: "alice"}, 1, nil)
	root := pushText(t, c, nil, 1, "alice", "root", 2)
	quiet := pushText(t, c, nil, 2, "alice", "no replies", 3)
	thread := ptr(root.MessageIndex)
	for i := uint64(10); i < 13; i++ {
		pushText(t, c, thread, i, "bob", "reply", models.TimestampMillis(i))
	}

	page, err := c.Range(thread, 1, true, 10, 0, Viewer{}, 100)
	require.NoError(t, err)
	assert.Equal(t, idx(1, 2, 3), indexesOf(page))
	assert.Equal(t, models.EventIndex(3), page.LatestEventIndex)

	page, err = c.Window(thread, 2, 0, 1, Viewer{}, 100)
	require.NoError(t, err)
	assert.Equal(t, idx(2), indexesOf(page))

	_, err = c.Range(thread, 1, true, 10, 0, Viewer{MinVisibleEventIndex: root.EventIndex + 1}, 100)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	page, err = c.Range(ptr(quiet.MessageIndex), 1, true, 10, 0, Viewer{}, 100)
	require.NoError(t, err)
	assert.Empty(t, page.Events)
	assert.Zero(t, page.LatestEventIndex)

	_, err = c.Range(ptr(models.MessageIndex(77)), 1, true, 10, 0, Viewer{}, 100)
	assert.ErrorIs(t, err, ErrThreadRootNotFound)
	_, err = c.EventsByIndex(ptr(models.MessageIndex(77)), idx(1), Viewer{}, 100)
	assert.ErrorIs(t, err, ErrThreadRootNotFound)
}
