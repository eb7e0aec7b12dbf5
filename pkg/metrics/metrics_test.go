package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liangmulu/open-chat/pkg/content"
	"github.com/liangmulu/open-chat/pkg/events"
	"github.com/liangmulu/open-chat/pkg/models"
)

func msgEnv(i models.EventIndex, ts models.TimestampMillis, c content.Internal) *events.Envelope {
	return &events.Envelope{
		Index:     i,
		Timestamp: ts,
		Event: &events.MessageInternal{
			MessageIndex: models.MessageIndex(i),
			MessageID:    models.MessageIDFromUint64(uint64(i)),
			Sender:       "alice",
			Content:      c,
		},
	}
}

func TestOnAppendCountsByType(t *testing.T) {
	a := NewAggregator()
	a.OnAppend(&events.Envelope{Index: 1, Timestamp: 10, Event: &events.GroupCreated{Name: "g", CreatedBy: "alice"}})
	a.OnAppend(msgEnv(2, 20, &content.TextContent{Text: "hi"}))
	a.OnAppend(msgEnv(3, 30, &content.CustomContent{Kind: "sticker"}))
	reply := msgEnv(4, 40, &content.TextContent{Text: "re"})
	reply.Event.(*events.MessageInternal).RepliesTo = &events.ReplyContext{EventIndex: 2}
	a.OnAppend(reply)
	a.OnAppend(&events.Envelope{Index: 5, Timestamp: 50, Event: &events.Empty{}})

	m := a.Snapshot()
	assert.Equal(t, uint64(2), m.TextMessages)
	assert.Equal(t, uint64(1), m.CustomTypeMessages)
	assert.Equal(t, uint64(1), m.Replies)
	assert.Equal(t, uint64(3), m.Messages())
	assert.Equal(t, uint64(1), m.Events[events.TypeCreated])
	assert.Len(t, m.Events, 2)
	assert.Equal(t, models.TimestampMillis(50), m.LastActive)
}

func TestOnRemoveIsInverse(t *testing.T) {
	a := NewAggregator()
	envs := []*events.Envelope{
		msgEnv(1, 10, &content.TextContent{Text: "a"}),
		msgEnv(2, 20, &content.ImageContent{MimeType: "image/png"}),
		{Index: 3, Timestamp: 30, Event: &events.MemberJoined{UserID: "bob"}},
	}
	for _, e := range envs {
		a.OnAppend(e)
	}
	for _, e := range envs {
		a.OnRemove(e)
	}
	m := a.Snapshot()
	assert.Equal(t, NewAggregator().Snapshot().Counters(), m.Counters())
	assert.Empty(t, m.Events)
}

func TestMessageChangesMatchReplay(t *testing.T) {
	a := NewAggregator()
	env := msgEnv(1, 10, &content.TextContent{Text: "a"})
	a.OnAppend(env)
	msg := env.Event.(*events.MessageInternal)

	before := StateOf(msg)
	require.True(t, msg.AddReaction("bob", "👍"))
	require.True(t, msg.AddReaction("carol", "👍"))
	a.OnMessageChanged(before, msg, 20)

	before = StateOf(msg)
	edited := models.TimestampMillis(25)
	msg.LastEdited = &edited
	a.OnMessageChanged(before, msg, 25)

	before = StateOf(msg)
	msg.DeletedBy = &events.DeletedBy{DeletedBy: "alice", Timestamp: 30}
	a.OnMessageChanged(before, msg, 30)

	m := a.Snapshot()
	assert.Equal(t, uint64(2), m.Reactions)
	assert.Equal(t, uint64(1), m.EditedMessages)
	assert.Equal(t, uint64(1), m.DeletedMessages)
	assert.Equal(t, models.TimestampMillis(30), m.LastActive)
	assert.Equal(t, Replay([]*events.Envelope{env}).Counters(), m.Counters())

	a.OnHardDelete(content.TypeOf(msg.Content))
	msg.Content = &content.DeletedContent{DeletedBy: "alice", Timestamp: 30}
	m = a.Snapshot()
	assert.Equal(t, uint64(0), m.TextMessages)
	assert.Equal(t, uint64(1), m.Tombstones)
	assert.Equal(t, Replay([]*events.Envelope{env}).Counters(), m.Counters())
}

func TestCountersNeverUnderflow(t *testing.T) {
	a := NewAggregator()
	a.OnRemove(msgEnv(1, 10, &content.TextContent{Text: "a"}))
	m := a.Snapshot()
	assert.Zero(t, m.TextMessages)
	assert.Empty(t, m.Events)
}

func TestAdd(t *testing.T) {
	x := Replay([]*events.Envelope{msgEnv(1, 10, &content.TextContent{Text: "a"})})
	y := Replay([]*events.Envelope{msgEnv(1, 99, &content.PollContent{}), msgEnv(2, 5, &content.TextContent{Text: "b"})})

	var total ChatMetrics
	total.Add(&x)
	total.Add(&y)
	assert.Equal(t, uint64(2), total.TextMessages)
	assert.Equal(t, uint64(1), total.Polls)
	assert.Equal(t, uint64(3), total.Messages())
	assert.Equal(t, models.TimestampMillis(99), total.LastActive)
}

func TestContentTypesHaveDistinctCounters(t *testing.T) {
	var m ChatMetrics
	for i, ct := range ContentTypes() {
		*m.contentCounter(ct) = uint64(i + 1)
	}
	for i, ct := range ContentTypes() {
		assert.Equal(t, uint64(i+1), m.ContentCount(ct), string(ct))
	}
	assert.Equal(t, m.CustomTypeMessages, m.ContentCount(content.CustomType("gif")))
}

type fakeSource map[string]ChatMetrics

func (f fakeSource) EachChat(fn func(string, ChatMetrics)) {
	for k, m := range f {
		fn(k, m)
	}
}

func TestCollector(t *testing.T) {
	src := fakeSource{
		"g:one": Replay([]*events.Envelope{msgEnv(1, 1000, &content.TextContent{Text: "a"})}),
		"g:two": Replay([]*events.Envelope{msgEnv(1, 2000, &content.TextContent{Text: "b"})}),
	}
	c := NewCollector(src)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	// one chats gauge, one per content type, one event type, four activity kinds, last active
	assert.Equal(t, 1+len(ContentTypes())+1+4+1, testutil.CollectAndCount(c))

	families, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() != "chatlog_messages" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "content_type" && l.GetValue() == "text" {
					assert.Equal(t, float64(2), m.GetGauge().GetValue())
					found = true
				}
			}
		}
	}
	assert.True(t, found)
}

func TestMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg, fakeSource{})
	SweepsTotal.Inc()
	_, err := reg.Gather()
	require.NoError(t, err)
}
