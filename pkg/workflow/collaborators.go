package workflow

import (
	"context"

	"github.com/liangmulu/open-chat/pkg/chatlog"
	"github.com/liangmulu/open-chat/pkg/content"
	"github.com/liangmulu/open-chat/pkg/events"
	"github.com/liangmulu/open-chat/pkg/models"
)

// Chats gives a step exclusive access to one chat log.
type Chats interface {
	With(chat models.Chat, fn func(c *chatlog.ChatEvents) error) error
}

// Ledger executes token transfers.
type Ledger interface {
	Transfer(ctx context.Context, t content.PendingTransfer) (blockIndex uint64, err error)
}

type DepositOutcome uint8

const (
	DepositAccepted DepositOutcome = iota + 1
	DepositCompleted
	DepositSwapExpired
)

// DepositResult is the escrow's answer to a deposit notification.
type DepositResult struct {
	Outcome      DepositOutcome `json:"outcome"`
	Token1TxnIn  uint64         `json:"token1_txn_in"`
	Token0TxnOut uint64         `json:"token0_txn_out,omitempty"`
	Token1TxnOut uint64         `json:"token1_txn_out,omitempty"`
}

// Escrow holds the funds of P2P swaps.
type Escrow interface {
	NotifyDeposit(ctx context.Context, swapID uint32, user models.UserID) (DepositResult, error)
	// CancelSwap treats an already accepted or expired swap as success.
	CancelSwap(ctx context.Context, swapID uint32) error
}

// BlobStore releases stored files. It returns the references that could
// not be deleted and should be retried.
type BlobStore interface {
	DeleteFiles(ctx context.Context, refs []models.BlobReference) ([]models.BlobReference, error)
}

// ExportedEvent is one event of a group being exported.
type ExportedEvent struct {
	Thread *models.MessageIndex
	Event  events.Envelope
}

// ExportPage is one page of a group export, in import order.
type ExportPage struct {
	Events   []ExportedEvent
	Finished bool
}

// GroupExporter pages through the events of a group after a cursor.
type GroupExporter interface {
	ExportEvents(ctx context.Context, group string, after *Cursor) (ExportPage, error)
}

// Collaborators are the external services steps call out to. A nil
// collaborator makes the steps that need it fail and retry.
type Collaborators struct {
	Ledger   Ledger
	Escrow   Escrow
	Blobs    BlobStore
	Exporter GroupExporter
}
