package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/liangmulu/open-chat/pkg/codec"
)

// Source yields the current counters of every loaded chat.
type Source interface {
	EachChat(fn func(chat string, m ChatMetrics))
}

var (
	SweepsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatlog_expiry_sweeps_total",
		Help: "Number of expiry sweeps run over a chat.",
	})

	ExpiredEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatlog_expired_events_removed_total",
		Help: "Number of expired events physically removed.",
	})

	AppendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatlog_appends_total",
		Help: "Number of events appended, by event type.",
	}, []string{"event_type"})

	JobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatlog_workflow_steps_total",
		Help: "Number of workflow steps run, by kind and outcome.",
	}, []string{"kind", "outcome"})

	RetentionRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatlog_retention_runs_total",
		Help: "Number of registry wide retention runs, by outcome.",
	}, []string{"outcome"})

	decodeFailures = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "chatlog_decode_failures_total",
		Help: "Number of persisted events read back as FailedToDeserialize.",
	}, func() float64 { return float64(codec.DecodeFailures()) })
)

// Collector exports the summed counters of every chat a Source yields.
type Collector struct {
	src Source

	chats      *prometheus.Desc
	messages   *prometheus.Desc
	events     *prometheus.Desc
	activity   *prometheus.Desc
	lastActive *prometheus.Desc
}

func NewCollector(src Source) *Collector {
	return &Collector{
		src: src,
		chats: prometheus.NewDesc("chatlog_chats",
			"Number of chats loaded.", nil, nil),
		messages: prometheus.NewDesc("chatlog_messages",
			"Messages in all chats, by content type.", []string{"content_type"}, nil),
		events: prometheus.NewDesc("chatlog_events",
			"Events in all chats, by event type.", []string{"event_type"}, nil),
		activity: prometheus.NewDesc("chatlog_message_activity",
			"Replies, reactions, edits and deletions across all chats.", []string{"kind"}, nil),
		lastActive: prometheus.NewDesc("chatlog_last_active_timestamp_seconds",
			"Latest activity across all chats.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.chats
	ch <- c.messages
	ch <- c.events
	ch <- c.activity
	ch <- c.lastActive
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var (
		total ChatMetrics
		n     int
	)
	c.src.EachChat(func(_ string, m ChatMetrics) {
		total.Add(&m)
		n++
	})

	ch <- prometheus.MustNewConstMetric(c.chats, prometheus.GaugeValue, float64(n))
	for _, ct := range contentTypes {
		label := string(ct)
		if ct.IsCustom() {
			label = "custom"
		}
		ch <- prometheus.MustNewConstMetric(c.messages, prometheus.GaugeValue, float64(total.ContentCount(ct)), label)
	}
	for t, v := range total.Events {
		ch <- prometheus.MustNewConstMetric(c.events, prometheus.GaugeValue, float64(v), string(t))
	}
	for kind, v := range map[string]uint64{
		"replies":   total.Replies,
		"reactions": total.Reactions,
		"edited":    total.EditedMessages,
		"deleted":   total.DeletedMessages,
	} {
		ch <- prometheus.MustNewConstMetric(c.activity, prometheus.GaugeValue, float64(v), kind)
	}
	ch <- prometheus.MustNewConstMetric(c.lastActive, prometheus.GaugeValue, float64(total.LastActive)/1000)
}

// MustRegister registers the chat collector and the process counters.
func MustRegister(reg prometheus.Registerer, src Source) {
	reg.MustRegister(NewCollector(src), SweepsTotal, ExpiredEventsTotal, AppendsTotal, JobsTotal, RetentionRunsTotal, decodeFailures)
}
