// Package workflow runs the resumable background jobs that settle prizes,
// swaps, transfers, content purges and group imports. A job is a state
// record persisted between steps; Runner.Advance performs one step.
package workflow

import (
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/liangmulu/open-chat/pkg/models"
)

type Kind string

const (
	KindFinalPrizePayments       Kind = "final_prize_payments"
	KindMakeTransfer             Kind = "make_transfer"
	KindP2PSwapAccept            Kind = "p2p_swap_accept"
	KindCancelP2PSwapInEscrow    Kind = "cancel_p2p_swap_in_escrow"
	KindMarkP2PSwapExpired       Kind = "mark_p2p_swap_expired"
	KindEndPoll                  Kind = "end_poll"
	KindMarkVideoCallEnded       Kind = "mark_video_call_ended"
	KindHardDeleteMessageContent Kind = "hard_delete_message_content"
	KindDeleteFileReferences     Kind = "delete_file_references"
	KindImportGroupEvents        Kind = "import_group_events"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// Job is the persisted state of one workflow.
type Job struct {
	ID        string                 `msgpack:"id" json:"id"`
	Kind      Kind                   `msgpack:"k" json:"kind"`
	Attempt   uint32                 `msgpack:"a" json:"attempt"`
	DueAt     models.TimestampMillis `msgpack:"d" json:"due_at"`
	Payload   msgpack.RawMessage     `msgpack:"p" json:"-"`
	Status    Status                 `msgpack:"s" json:"status"`
	LastError string                 `msgpack:"e,omitempty" json:"last_error,omitempty"`
}

// NewJob returns a pending job with a fresh id.
func NewJob(kind Kind, due models.TimestampMillis, payload any) (*Job, error) {
	raw, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return &Job{
		ID:      ulid.Make().String(),
		Kind:    kind,
		DueAt:   due,
		Payload: raw,
		Status:  StatusPending,
	}, nil
}

func (j *Job) decode(v any) error {
	if err := msgpack.Unmarshal(j.Payload, v); err != nil {
		return permanent(fmt.Errorf("decode %s payload: %w", j.Kind, err))
	}
	return nil
}

func (j *Job) encode(v any) error {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	j.Payload = raw
	return nil
}

func (j *Job) String() string {
	return fmt.Sprintf("%s/%s#%d", j.Kind, j.ID, j.Attempt)
}

// MessageRef locates the message a job acts on.
type MessageRef struct {
	Chat      models.Chat          `msgpack:"c"`
	Thread    *models.MessageIndex `msgpack:"t,omitempty"`
	MessageID models.MessageID     `msgpack:"m"`
}

// Cursor is the last event an import has applied.
type Cursor struct {
	Thread *models.MessageIndex `msgpack:"t,omitempty" json:"thread,omitempty"`
	Index  models.EventIndex    `msgpack:"i" json:"index"`
}

func encodeJob(j *Job) ([]byte, error) {
	if len(j.Payload) == 0 {
		j.Payload = msgpack.RawMessage{0xc0}
	}
	return msgpack.Marshal(j)
}

func decodeJob(b []byte) (*Job, error) {
	var j Job
	if err := msgpack.Unmarshal(b, &j); err != nil {
		return nil, err
	}
	return &j, nil
}
