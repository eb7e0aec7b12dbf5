package chatlog

import (
	"slices"

	"github.com/liangmulu/open-chat/pkg/events"
	"github.com/liangmulu/open-chat/pkg/expiry"
	"github.com/liangmulu/open-chat/pkg/models"
)

// Viewer is who a read is made for. Events of the main log below
// MinVisibleEventIndex are hidden, as are threads rooted below it.
type Viewer struct {
	UserID               *models.UserID
	MinVisibleEventIndex models.EventIndex
}

// Page is the result of a read. Expired events are reported as ranges
// rather than one entry each.
type Page struct {
	Events           []events.ChatEvent  `json:"events"`
	ExpiredRanges    []expiry.Range      `json:"expired_ranges,omitempty"`
	Unauthorized     []models.EventIndex `json:"unauthorized,omitempty"`
	LatestEventIndex models.EventIndex   `json:"latest_event_index"`
}

// scope resolves the log a read targets and the lowest index viewer may
// see in it. A thread that exists but has no replies yet resolves to an
// empty log.
func (c *ChatEvents) scope(thread *models.MessageIndex, viewer Viewer, now models.TimestampMillis) (*EventLog, models.EventIndex, error) {
	if thread == nil {
		return c.main, viewer.MinVisibleEventIndex, nil
	}
	root := c.threadRoot(*thread, now)
	if root == nil {
		return nil, 0, ErrThreadRootNotFound
	}
	if root.Index < viewer.MinVisibleEventIndex {
		return nil, 0, ErrNotAuthorized
	}
	if l := c.threads[*thread]; l != nil {
		return l, 0, nil
	}
	return newEventLog(), 0, nil
}

// limit tracks the remaining caps of a read. A negative count is
// unlimited.
type limit struct {
	events   int
	messages int
}

func newLimit(maxEvents, maxMessages int) limit {
	l := limit{events: maxEvents, messages: maxMessages}
	if l.events == 0 {
		l.events = -1
	}
	if l.messages == 0 {
		l.messages = -1
	}
	return l
}

func (l limit) admits(isMessage bool) bool {
	if l.events == 0 {
		return false
	}
	return !isMessage || l.messages != 0
}

func (l *limit) take(isMessage bool) {
	if l.events > 0 {
		l.events--
	}
	if isMessage && l.messages > 0 {
		l.messages--
	}
}

func (l limit) exhausted() bool { return l.events == 0 || l.messages == 0 }

// split divides l between the two sides of a window.
func (l limit) split(ratio float64) (before, after limit) {
	part := func(n int) (int, int) {
		if n < 0 {
			return -1, -1
		}
		b := int(float64(n) * ratio)
		return b, n - b
	}
	before.events, after.events = part(l.events)
	before.messages, after.messages = part(l.messages)
	return before, after
}

func (l limit) plus(o limit) limit {
	add := func(a, b int) int {
		if a < 0 || b < 0 {
			return -1
		}
		return a + b
	}
	return limit{events: add(l.events, o.events), messages: add(l.messages, o.messages)}
}

// scanner walks a log in one direction collecting visible events.
type scanner struct {
	l         *EventLog
	lo        models.EventIndex
	viewer    *models.UserID
	now       models.TimestampMillis
	out       []events.ChatEvent
	expired   []expiry.Range
	next      models.EventIndex
	ascending bool
	boundary  bool
}

func newScanner(l *EventLog, minVisible models.EventIndex, start models.EventIndex, ascending bool, viewer Viewer, now models.TimestampMillis) *scanner {
	s := &scanner{
		l:         l,
		lo:        max(minVisible, 1),
		viewer:    viewer.UserID,
		now:       now,
		next:      start,
		ascending: ascending,
	}
	if ascending && s.next < s.lo {
		s.next = s.lo
	}
	if !ascending && s.next > l.latest {
		s.next = l.latest
	}
	return s
}

func (s *scanner) inBounds(i models.EventIndex) bool {
	return i >= s.lo && i <= s.l.latest
}

func (s *scanner) step() {
	if s.ascending {
		s.next++
		return
	}
	s.next--
}

// run collects events until lim is spent or the log ends. It returns
// what is left of lim.
func (s *scanner) run(lim limit) limit {
	for !s.boundary {
		i := s.next
		if !s.inBounds(i) {
			s.boundary = true
			break
		}
		if i < s.l.base && s.l.base > 1 {
			// Everything below base has been removed.
			if s.ascending {
				s.expired = expiry.Merge(s.expired, expiry.Range{From: i, To: s.l.base - 1})
				s.next = s.l.base
			} else {
				s.expired = expiry.Merge(s.expired, expiry.Range{From: s.lo, To: i})
				s.boundary = true
			}
			continue
		}
		env := s.l.get(i)
		if env == nil || env.ExpiredAt(s.now) {
			s.expired = expiry.Merge(s.expired, expiry.Range{From: i, To: i})
			s.step()
			continue
		}
		isMsg := events.IsMessage(env.Event)
		if !lim.admits(isMsg) {
			break
		}
		s.out = append(s.out, events.Hydrate(env, s.viewer, s.now))
		lim.take(isMsg)
		s.step()
	}
	return lim
}

// checkCaps rejects negative caps and a pair of zero caps.
func checkCaps(maxEvents, maxMessages int) error {
	if maxEvents < 0 || maxMessages < 0 || (maxEvents == 0 && maxMessages == 0) {
		return ErrInvalidLimit
	}
	return nil
}

// Range reads from start in one direction until either cap is reached or
// the log ends. A zero cap is unlimited but not both, and a negative cap
// is rejected. Events are returned
// in the order they were read.
func (c *ChatEvents) Range(thread *models.MessageIndex, start models.EventIndex, ascending bool, maxEvents, maxMessages int, viewer Viewer, now models.TimestampMillis) (Page, error) {
	if err := checkCaps(maxEvents, maxMessages); err != nil {
		return Page{}, err
	}
	l, minVisible, err := c.scope(thread, viewer, now)
	if err != nil {
		return Page{}, err
	}
	page := Page{LatestEventIndex: l.latest}
	s := newScanner(l, minVisible, start, ascending, viewer, now)
	s.run(newLimit(maxEvents, maxMessages))
	page.Events = s.out
	page.ExpiredRanges = s.expired
	return page, nil
}

// Window reads events around mid. The midpoint is always included when
// it is visible; the remaining caps are split before and after it by the
// configured ratio, and capacity one side cannot use because the log
// ends there goes to the other side. Events are returned in ascending
// order. A midpoint that is hidden from viewer is listed in Unauthorized
// and one that has expired in ExpiredRanges, with no events; a midpoint
// that was never assigned gives an empty page.
func (c *ChatEvents) Window(thread *models.MessageIndex, mid models.EventIndex, maxMessages, maxEvents int, viewer Viewer, now models.TimestampMillis) (Page, error) {
	if err := checkCaps(maxEvents, maxMessages); err != nil {
		return Page{}, err
	}
	l, minVisible, err := c.scope(thread, viewer, now)
	if err != nil {
		return Page{}, err
	}
	page := Page{LatestEventIndex: l.latest}
	env := l.get(mid)
	switch {
	case mid == 0 || mid > l.latest:
		return page, nil
	case mid < minVisible:
		page.Unauthorized = []models.EventIndex{mid}
		return page, nil
	case env == nil || env.ExpiredAt(now):
		page.ExpiredRanges = []expiry.Range{{From: mid, To: mid}}
		return page, nil
	}

	lim := newLimit(maxEvents, maxMessages)
	isMsg := events.IsMessage(env.Event)
	lim.take(isMsg)
	midEvent := events.Hydrate(env, viewer.UserID, now)
	if lim.exhausted() {
		page.Events = []events.ChatEvent{midEvent}
		return page, nil
	}

	beforeLim, afterLim := lim.split(c.opts.beforeRatio())
	before := newScanner(l, minVisible, mid-1, false, viewer, now)
	after := newScanner(l, minVisible, mid+1, true, viewer, now)

	leftBefore := before.run(beforeLim)
	if before.boundary {
		afterLim = afterLim.plus(leftBefore)
	}
	leftAfter := after.run(afterLim)
	if after.boundary && !before.boundary {
		before.run(leftBefore.plus(leftAfter))
	}

	out := make([]events.ChatEvent, 0, len(before.out)+1+len(after.out))
	for i := len(before.out) - 1; i >= 0; i-- {
		out = append(out, before.out[i])
	}
	out = append(out, midEvent)
	out = append(out, after.out...)
	page.Events = out

	expired := before.expired
	for _, r := range after.expired {
		expired = expiry.Merge(expired, r)
	}
	page.ExpiredRanges = expired
	return page, nil
}

// WindowAtMessage is Window centred on a message index.
func (c *ChatEvents) WindowAtMessage(thread *models.MessageIndex, mi models.MessageIndex, maxMessages, maxEvents int, viewer Viewer, now models.TimestampMillis) (Page, error) {
	if err := checkCaps(maxEvents, maxMessages); err != nil {
		return Page{}, err
	}
	l, _, err := c.scope(thread, viewer, now)
	if err != nil {
		return Page{}, err
	}
	mid, ok := l.byMessageIndex[mi]
	if !ok {
		return Page{LatestEventIndex: l.latest}, nil
	}
	return c.Window(thread, mid, maxMessages, maxEvents, viewer, now)
}

// EventsByIndex looks up specific indexes. Each index ends up in exactly
// one of Events, ExpiredRanges or Unauthorized; indexes that were never
// assigned are left out.
func (c *ChatEvents) EventsByIndex(thread *models.MessageIndex, indexes []models.EventIndex, viewer Viewer, now models.TimestampMillis) (Page, error) {
	l, minVisible, err := c.scope(thread, viewer, now)
	if err != nil {
		return Page{}, err
	}
	page := Page{LatestEventIndex: l.latest}
	sorted := slices.Clone(indexes)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	for _, i := range sorted {
		switch {
		case i == 0 || i > l.latest:
		case i < minVisible:
			page.Unauthorized = append(page.Unauthorized, i)
		default:
			env := l.get(i)
			if env == nil || env.ExpiredAt(now) {
				page.ExpiredRanges = expiry.Merge(page.ExpiredRanges, expiry.Range{From: i, To: i})
				continue
			}
			page.Events = append(page.Events, events.Hydrate(env, viewer.UserID, now))
		}
	}
	return page, nil
}
