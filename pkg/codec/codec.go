// Package codec is the durable binary encoding of events and message
// content. Encoding always writes the current layout; decoding accepts
// the current layout and the two before it, and never fails for a whole
// envelope: unreadable payloads come back as FailedToDeserialize.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/liangmulu/open-chat/pkg/content"
	"github.com/liangmulu/open-chat/pkg/events"
	"github.com/liangmulu/open-chat/pkg/logger"
)

// Version identifies which layout a value was read from.
type Version uint8

const (
	// Current is a map keyed by short tags.
	Current Version = iota
	// Prev1 is a map keyed by the long field names.
	Prev1
	// Prev2 is a positional array.
	Prev2
)

func (v Version) String() string {
	switch v {
	case Current:
		return "current"
	case Prev1:
		return "prev1"
	case Prev2:
		return "prev2"
	}
	return "unknown"
}

func older(a, b Version) Version {
	if b > a {
		return b
	}
	return a
}

var ErrUnknownTag = errors.New("unknown wire tag")

var decodeFailures atomic.Uint64

// DecodeFailures returns how many envelopes have been read as
// FailedToDeserialize since start.
func DecodeFailures() uint64 { return decodeFailures.Load() }

func newEncoder(buf *bytes.Buffer) *msgpack.Encoder {
	enc := msgpack.NewEncoder(buf)
	enc.UseCompactInts(true)
	enc.SetSortMapKeys(true)
	return enc
}

// EncodeEvent writes env in the current layout.
func EncodeEvent(env *events.Envelope) ([]byte, error) {
	if env.Event == nil {
		return nil, errors.New("codec: envelope without event")
	}
	var buf bytes.Buffer
	if err := encodeRecord(newEncoder(&buf), reflect.ValueOf(env).Elem()); err != nil {
		return nil, fmt.Errorf("codec: encode event %d: %w", env.Index, err)
	}
	return buf.Bytes(), nil
}

// DecodeEvent reads an envelope. It never fails: if the payload cannot be
// read the event is FailedToDeserialize, and if the header cannot be read
// either the index is zero and the caller supplies it from the key.
func DecodeEvent(b []byte) events.Envelope {
	env, _, _ := DecodeEventVersion(b)
	return env
}

// DecodeEventVersion is DecodeEvent that also reports the oldest layout
// found in the envelope and the decode error, if any. On error the
// returned envelope still carries a FailedToDeserialize event.
func DecodeEventVersion(b []byte) (events.Envelope, Version, error) {
	var env events.Envelope
	v, err := decodeRecord(b, reflect.ValueOf(&env).Elem())
	if err != nil {
		decodeFailures.Add(1)
		if !errors.Is(err, errPoisoned) {
			env = events.Envelope{}
		}
		if _, ok := env.Event.(*events.FailedToDeserialize); !ok {
			env.Event = &events.FailedToDeserialize{Reason: err.Error()}
		}
		logger.Warn("event_decode_failed", "index", env.Index, "bytes", len(b), "error", err)
		return env, v, err
	}
	if env.Event == nil {
		decodeFailures.Add(1)
		err := errors.New("envelope has no event")
		env.Event = &events.FailedToDeserialize{Reason: err.Error()}
		logger.Warn("event_decode_failed", "index", env.Index, "bytes", len(b), "error", err)
		return env, v, err
	}
	return env, v, nil
}

// EncodeContent writes c as a {tag: payload} union in the current layout.
func EncodeContent(c content.Internal) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeUnion(newEncoder(&buf), contentUnion, c); err != nil {
		return nil, fmt.Errorf("codec: encode content: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeContent reads a content union and reports its layout.
func DecodeContent(b []byte) (content.Internal, Version, error) {
	v, ver, err := decodeUnion(b, contentUnion)
	if err != nil {
		return nil, Current, fmt.Errorf("codec: decode content: %w", err)
	}
	return v.(content.Internal), ver, nil
}

// Reencode decodes b and writes it back in the current layout. It
// reports whether the bytes changed. Poison pills are left untouched.
func Reencode(b []byte) ([]byte, bool, error) {
	env, v, err := DecodeEventVersion(b)
	if err != nil {
		return b, false, err
	}
	if v == Current {
		return b, false, nil
	}
	out, err := EncodeEvent(&env)
	if err != nil {
		return b, false, err
	}
	return out, !bytes.Equal(out, b), nil
}
