package models

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// EventIndex addresses an event inside one log. Zero is never assigned.
type EventIndex uint32

// MessageIndex addresses a message among the message events of one log.
type MessageIndex uint32

// TimestampMillis is milliseconds since the unix epoch.
type TimestampMillis uint64

// Milliseconds is a duration in milliseconds.
type Milliseconds uint64

// UserID identifies a user or bot principal.
type UserID string

// MessageID is the client chosen 128-bit message identifier.
type MessageID = uuid.UUID

// NilMessageID is the zero message id.
var NilMessageID = uuid.Nil

// Incr returns the next index.
func (i EventIndex) Incr() EventIndex { return i + 1 }

func (i EventIndex) String() string { return strconv.FormatUint(uint64(i), 10) }

// Incr returns the next index.
func (i MessageIndex) Incr() MessageIndex { return i + 1 }

func (i MessageIndex) String() string { return strconv.FormatUint(uint64(i), 10) }

// Add returns t shifted forward by d.
func (t TimestampMillis) Add(d Milliseconds) TimestampMillis { return t + TimestampMillis(d) }

// MessageIDFromUint64 builds a message id whose low 64 bits are v. Used by
// callers that still carry numeric ids.
func MessageIDFromUint64(v uint64) MessageID {
	var id uuid.UUID
	for i := 0; i < 8; i++ {
		id[15-i] = byte(v >> (8 * i))
	}
	return id
}

// ParseMessageID accepts the canonical uuid text form.
func ParseMessageID(s string) (MessageID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid message id %q: %w", s, err)
	}
	return id, nil
}

// BlobReference points at a binary object held by the blob storage service.
type BlobReference struct {
	CanisterID string `msgpack:"c" json:"canister_id"`
	BlobID     uint64 `msgpack:"b" json:"blob_id"`
}

func (b BlobReference) String() string {
	return b.CanisterID + "/" + strconv.FormatUint(b.BlobID, 10)
}
