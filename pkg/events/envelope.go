package events

import "github.com/liangmulu/open-chat/pkg/models"

// Envelope indexes and timestamps one event. Envelopes are owned by the
// log that assigned their index.
type Envelope struct {
	Index     models.EventIndex       `msgpack:"i" legacy:"index"`
	Timestamp models.TimestampMillis  `msgpack:"t" legacy:"timestamp"`
	ExpiresAt *models.TimestampMillis `msgpack:"x,omitempty" legacy:"expires_at"`
	Event     Event                   `msgpack:"e" legacy:"event"`
}

// ExpiredAt reports whether the envelope is expired as of now.
func (e *Envelope) ExpiredAt(now models.TimestampMillis) bool {
	return e.ExpiresAt != nil && *e.ExpiresAt <= now
}

// Message returns the envelope's message, if it holds one.
func (e *Envelope) Message() (*MessageInternal, bool) {
	return AsMessage(e.Event)
}

// ExpiresAfter computes the expiry of an event appended at now with ttl.
func ExpiresAfter(now models.TimestampMillis, ttl *models.Milliseconds) *models.TimestampMillis {
	if ttl == nil || *ttl == 0 {
		return nil
	}
	at := now.Add(*ttl)
	return &at
}
