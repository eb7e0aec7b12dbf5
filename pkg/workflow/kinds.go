package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/liangmulu/open-chat/pkg/chatlog"
	"github.com/liangmulu/open-chat/pkg/content"
	"github.com/liangmulu/open-chat/pkg/events"
	"github.com/liangmulu/open-chat/pkg/logger"
	"github.com/liangmulu/open-chat/pkg/models"
)

const (
	second = models.Milliseconds(1000)
	minute = 60 * second
	day    = 24 * 60 * minute
)

type handler struct {
	step        func(ctx context.Context, r *Runner, j *Job, now models.TimestampMillis) (Outcome, error)
	maxAttempts uint32
	backoff     models.Milliseconds
	// exhausted undoes what the job reserved once retries run out.
	exhausted func(ctx context.Context, r *Runner, j *Job, now models.TimestampMillis) error
}

var handlers map[Kind]handler

func init() {
	handlers = map[Kind]handler{
		KindFinalPrizePayments:       {step: finalPrizePayments, maxAttempts: 5, backoff: minute},
		KindMakeTransfer:             {step: makeTransfer, maxAttempts: 50, backoff: minute, exhausted: transferExhausted},
		KindP2PSwapAccept:            {step: p2pSwapAccept, maxAttempts: 20, backoff: 10 * second, exhausted: swapAcceptExhausted},
		KindCancelP2PSwapInEscrow:    {step: cancelSwapInEscrow, maxAttempts: 20, backoff: 10 * second},
		KindMarkP2PSwapExpired:       {step: markSwapExpired, maxAttempts: 5, backoff: minute},
		KindEndPoll:                  {step: endPoll, maxAttempts: 5, backoff: minute},
		KindMarkVideoCallEnded:       {step: markVideoCallEnded, maxAttempts: 5, backoff: minute},
		KindHardDeleteMessageContent: {step: hardDeleteMessageContent, maxAttempts: 5, backoff: minute},
		KindDeleteFileReferences:     {step: deleteFileReferences, maxAttempts: 10, backoff: minute},
		KindImportGroupEvents:        {step: importGroupEvents, maxAttempts: 10, backoff: 10 * second},
	}
}

// settled reports chatlog errors that mean the step has nothing left to do.
func settled(err error) bool {
	return errors.Is(err, chatlog.ErrMessageNotFound) ||
		errors.Is(err, content.ErrContentTypeMismatch)
}

// withChat runs fn with exclusive access to chat.
func (r *Runner) withChat(chat models.Chat, fn func(c *chatlog.ChatEvents) error) error {
	if r.chats == nil {
		return ErrNoCollaborator
	}
	return r.chats.With(chat, fn)
}

// Final prize payments

func NewFinalPrizePaymentsJob(ref MessageRef, endDate models.TimestampMillis) (*Job, error) {
	return NewJob(KindFinalPrizePayments, endDate, ref)
}

func finalPrizePayments(_ context.Context, r *Runner, j *Job, now models.TimestampMillis) (Outcome, error) {
	var ref MessageRef
	if err := j.decode(&ref); err != nil {
		return Outcome{}, err
	}
	var refunds []content.PendingTransfer
	err := r.withChat(ref.Chat, func(c *chatlog.ChatEvents) error {
		var err error
		refunds, err = c.FinalPrizePayments(ref.Thread, ref.MessageID, now)
		return err
	})
	if settled(err) {
		return done(), nil
	}
	if err != nil {
		return Outcome{}, err
	}
	follow := make([]*Job, 0, len(refunds))
	for _, t := range refunds {
		fj, err := NewMakeTransferJob(t, &ref, now)
		if err != nil {
			return Outcome{}, permanent(err)
		}
		follow = append(follow, fj)
	}
	if len(follow) > 0 {
		logger.Info("prize_final_payments", "chat", ref.Chat.Key(), "message_id", ref.MessageID, "refunds", len(follow))
	}
	return done(follow...), nil
}

// Make transfer

type transferPayload struct {
	Transfer content.PendingTransfer `msgpack:"t"`
	// Prize is set when the transfer settles a prize message.
	Prize *MessageRef `msgpack:"p,omitempty"`
}

func NewMakeTransferJob(t content.PendingTransfer, prize *MessageRef, due models.TimestampMillis) (*Job, error) {
	return NewJob(KindMakeTransfer, due, transferPayload{Transfer: t, Prize: prize})
}

func makeTransfer(ctx context.Context, r *Runner, j *Job, now models.TimestampMillis) (Outcome, error) {
	var p transferPayload
	if err := j.decode(&p); err != nil {
		return Outcome{}, err
	}
	if r.collab.Ledger == nil {
		return Outcome{}, ErrNoCollaborator
	}
	// The ledger rejects transfers created more than a day ago.
	if created := models.TimestampMillis(p.Transfer.CreatedNanos / 1_000_000); created.Add(day) < now {
		p.Transfer.CreatedNanos = uint64(now) * 1_000_000
		if err := j.encode(p); err != nil {
			return Outcome{}, permanent(err)
		}
	}
	block, err := r.collab.Ledger.Transfer(ctx, p.Transfer)
	if err != nil {
		return Outcome{}, fmt.Errorf("transfer %d %s to %s: %w", p.Transfer.Amount, p.Transfer.Token, p.Transfer.To, err)
	}
	logger.Info("transfer_completed", "to", p.Transfer.To, "amount", p.Transfer.Amount, "token", p.Transfer.Token, "block", block)
	return done(), nil
}

func transferExhausted(_ context.Context, r *Runner, j *Job, now models.TimestampMillis) error {
	var p transferPayload
	if err := j.decode(&p); err != nil || p.Prize == nil {
		return err
	}
	return r.withChat(p.Prize.Chat, func(c *chatlog.ChatEvents) error {
		return c.MarkPrizeLedgerError(p.Prize.Thread, p.Prize.MessageID, now)
	})
}

// P2P swap accept

type swapAcceptPayload struct {
	Message  MessageRef    `msgpack:"m"`
	User     models.UserID `msgpack:"u"`
	SwapID   uint32        `msgpack:"s"`
	Reserved bool          `msgpack:"r,omitempty"`
}

func NewP2PSwapAcceptJob(ref MessageRef, user models.UserID, swapID uint32, now models.TimestampMillis) (*Job, error) {
	return NewJob(KindP2PSwapAccept, now, swapAcceptPayload{Message: ref, User: user, SwapID: swapID})
}

func p2pSwapAccept(ctx context.Context, r *Runner, j *Job, now models.TimestampMillis) (Outcome, error) {
	var p swapAcceptPayload
	if err := j.decode(&p); err != nil {
		return Outcome{}, err
	}
	ref := p.Message
	if !p.Reserved {
		err := r.withChat(ref.Chat, func(c *chatlog.ChatEvents) error {
			_, err := c.ReserveP2PSwap(ref.Thread, ref.MessageID, p.User, now)
			return err
		})
		if err != nil {
			return Outcome{}, permanent(err)
		}
		p.Reserved = true
		if err := j.encode(p); err != nil {
			return Outcome{}, permanent(err)
		}
	}
	if r.collab.Escrow == nil {
		return Outcome{}, ErrNoCollaborator
	}
	res, err := r.collab.Escrow.NotifyDeposit(ctx, p.SwapID, p.User)
	if err != nil {
		return Outcome{}, fmt.Errorf("notify escrow of swap %d: %w", p.SwapID, err)
	}

	err = r.withChat(ref.Chat, func(c *chatlog.ChatEvents) error {
		switch res.Outcome {
		case DepositSwapExpired:
			return c.UnreserveP2PSwap(ref.Thread, ref.MessageID, p.User, now)
		case DepositAccepted, DepositCompleted:
			if err := c.AcceptP2PSwap(ref.Thread, ref.MessageID, p.User, res.Token1TxnIn, now); err != nil {
				return err
			}
			if res.Outcome == DepositCompleted {
				return c.CompleteP2PSwap(ref.Thread, ref.MessageID, p.User, res.Token0TxnOut, res.Token1TxnOut, now)
			}
			return nil
		}
		return fmt.Errorf("unknown deposit outcome %d", res.Outcome)
	})
	if err != nil {
		return Outcome{}, permanent(err)
	}
	return done(), nil
}

func swapAcceptExhausted(_ context.Context, r *Runner, j *Job, now models.TimestampMillis) error {
	var p swapAcceptPayload
	if err := j.decode(&p); err != nil || !p.Reserved {
		return err
	}
	return r.withChat(p.Message.Chat, func(c *chatlog.ChatEvents) error {
		return c.UnreserveP2PSwap(p.Message.Thread, p.Message.MessageID, p.User, now)
	})
}

// Cancel P2P swap in escrow

type swapPayload struct {
	SwapID uint32 `msgpack:"s"`
}

func NewCancelP2PSwapInEscrowJob(swapID uint32, now models.TimestampMillis) (*Job, error) {
	return NewJob(KindCancelP2PSwapInEscrow, now, swapPayload{SwapID: swapID})
}

func cancelSwapInEscrow(ctx context.Context, r *Runner, j *Job, _ models.TimestampMillis) (Outcome, error) {
	var p swapPayload
	if err := j.decode(&p); err != nil {
		return Outcome{}, err
	}
	if r.collab.Escrow == nil {
		return Outcome{}, ErrNoCollaborator
	}
	if err := r.collab.Escrow.CancelSwap(ctx, p.SwapID); err != nil {
		return Outcome{}, fmt.Errorf("cancel swap %d: %w", p.SwapID, err)
	}
	return done(), nil
}

// Scheduled state changes

func NewMarkP2PSwapExpiredJob(ref MessageRef, expiresAt models.TimestampMillis) (*Job, error) {
	return NewJob(KindMarkP2PSwapExpired, expiresAt, ref)
}

func NewEndPollJob(ref MessageRef, endDate models.TimestampMillis) (*Job, error) {
	return NewJob(KindEndPoll, endDate, ref)
}

func NewMarkVideoCallEndedJob(ref MessageRef, due models.TimestampMillis) (*Job, error) {
	return NewJob(KindMarkVideoCallEnded, due, ref)
}

// messageStep runs fn on the referenced message. A message that is gone
// or no longer in the expected state leaves nothing to do.
func messageStep(fn func(c *chatlog.ChatEvents, ref MessageRef, now models.TimestampMillis) error) func(context.Context, *Runner, *Job, models.TimestampMillis) (Outcome, error) {
	return func(_ context.Context, r *Runner, j *Job, now models.TimestampMillis) (Outcome, error) {
		var ref MessageRef
		if err := j.decode(&ref); err != nil {
			return Outcome{}, err
		}
		err := r.withChat(ref.Chat, func(c *chatlog.ChatEvents) error { return fn(c, ref, now) })
		switch {
		case err == nil, settled(err), errors.Is(err, chatlog.ErrMessageDeleted):
			return done(), nil
		case errors.Is(err, content.ErrSwapNotOpen):
			return done(), nil
		}
		return Outcome{}, err
	}
}

var (
	markSwapExpired = messageStep(func(c *chatlog.ChatEvents, ref MessageRef, now models.TimestampMillis) error {
		return c.ExpireP2PSwap(ref.Thread, ref.MessageID, now)
	})
	endPoll = messageStep(func(c *chatlog.ChatEvents, ref MessageRef, now models.TimestampMillis) error {
		_, err := c.EndPoll(ref.Thread, ref.MessageID, now)
		return err
	})
	markVideoCallEnded = messageStep(func(c *chatlog.ChatEvents, ref MessageRef, now models.TimestampMillis) error {
		_, err := c.EndVideoCall(ref.Thread, ref.MessageID, now)
		return err
	})
)

// Hard delete message content

func NewHardDeleteMessageContentJob(ref MessageRef, due models.TimestampMillis) (*Job, error) {
	return NewJob(KindHardDeleteMessageContent, due, ref)
}

func hardDeleteMessageContent(_ context.Context, r *Runner, j *Job, now models.TimestampMillis) (Outcome, error) {
	var ref MessageRef
	if err := j.decode(&ref); err != nil {
		return Outcome{}, err
	}
	var removed content.Internal
	var sender models.UserID
	err := r.withChat(ref.Chat, func(c *chatlog.ChatEvents) error {
		sender, _ = c.MessageSender(ref.Thread, ref.MessageID)
		var err error
		removed, err = c.RemoveDeletedContent(ref.Thread, ref.MessageID, now)
		return err
	})
	switch {
	case errors.Is(err, chatlog.ErrMessageNotDeleted):
		return Outcome{}, permanent(err)
	case settled(err):
		return done(), nil
	case err != nil:
		return Outcome{}, err
	}

	// Prizes whose final payments never started are refunded to the sender.
	var refunds []content.PendingTransfer
	if prize, ok := removed.(*content.PrizeContent); ok {
		refunds = prize.FinalPayments(sender, uint64(now)*1_000_000)
	}
	var follow []*Job
	for _, t := range refunds {
		fj, err := NewMakeTransferJob(t, nil, now)
		if err != nil {
			return Outcome{}, permanent(err)
		}
		follow = append(follow, fj)
	}
	if removed == nil {
		return done(follow...), nil
	}
	if blobs := content.BlobReferences(removed); len(blobs) > 0 {
		fj, err := NewDeleteFileReferencesJob(blobs, now)
		if err != nil {
			return Outcome{}, permanent(err)
		}
		follow = append(follow, fj)
	}
	if swap, ok := removed.(*content.P2PSwapContent); ok && swap.Status.State == content.SwapOpen {
		fj, err := NewCancelP2PSwapInEscrowJob(swap.SwapID, now)
		if err != nil {
			return Outcome{}, permanent(err)
		}
		follow = append(follow, fj)
	}
	return done(follow...), nil
}

// Delete file references

type blobsPayload struct {
	Files []models.BlobReference `msgpack:"f"`
}

func NewDeleteFileReferencesJob(files []models.BlobReference, now models.TimestampMillis) (*Job, error) {
	return NewJob(KindDeleteFileReferences, now, blobsPayload{Files: files})
}

func deleteFileReferences(ctx context.Context, r *Runner, j *Job, _ models.TimestampMillis) (Outcome, error) {
	var p blobsPayload
	if err := j.decode(&p); err != nil {
		return Outcome{}, err
	}
	if len(p.Files) == 0 {
		return done(), nil
	}
	if r.collab.Blobs == nil {
		return Outcome{}, ErrNoCollaborator
	}
	retry, err := r.collab.Blobs.DeleteFiles(ctx, p.Files)
	if err == nil && len(retry) == 0 {
		return done(), nil
	}
	if err == nil {
		err = fmt.Errorf("%d of %d files not deleted", len(retry), len(p.Files))
	}
	if len(retry) > 0 && len(retry) < len(p.Files) {
		p.Files = retry
		if eerr := j.encode(p); eerr != nil {
			return Outcome{}, permanent(eerr)
		}
	}
	return Outcome{}, err
}

// Import group events

type importPayload struct {
	Group  string      `msgpack:"g"`
	Target models.Chat `msgpack:"c"`
	After  *Cursor     `msgpack:"a,omitempty"`
}

func NewImportGroupEventsJob(group string, target models.Chat, after *Cursor, now models.TimestampMillis) (*Job, error) {
	return NewJob(KindImportGroupEvents, now, importPayload{Group: group, Target: target, After: after})
}

func importGroupEvents(ctx context.Context, r *Runner, j *Job, now models.TimestampMillis) (Outcome, error) {
	var p importPayload
	if err := j.decode(&p); err != nil {
		return Outcome{}, err
	}
	if r.collab.Exporter == nil {
		return Outcome{}, ErrNoCollaborator
	}
	page, err := r.collab.Exporter.ExportEvents(ctx, p.Group, p.After)
	if err != nil {
		return Outcome{}, fmt.Errorf("export group %s: %w", p.Group, err)
	}

	var added, skipped int
	err = r.withChat(p.Target, func(c *chatlog.ChatEvents) error {
		for _, run := range threadRuns(page.Events) {
			res, err := c.ImportEvents(run.thread, run.events)
			if err != nil {
				return err
			}
			added += res.Added
			skipped += res.Skipped
		}
		return nil
	})
	if err != nil {
		return Outcome{}, permanent(err)
	}
	logger.Info("group_events_imported", "group", p.Group, "target", p.Target.Key(), "added", added, "skipped", skipped, "finished", page.Finished)

	if page.Finished || len(page.Events) == 0 {
		return done(), nil
	}
	last := page.Events[len(page.Events)-1]
	next, err := NewImportGroupEventsJob(p.Group, p.Target, &Cursor{Thread: last.Thread, Index: last.Event.Index}, now)
	if err != nil {
		return Outcome{}, permanent(err)
	}
	return done(next), nil
}

type threadRun struct {
	thread *models.MessageIndex
	events []events.Envelope
}

// threadRuns groups consecutive events of the same log.
func threadRuns(in []ExportedEvent) []threadRun {
	var out []threadRun
	for _, e := range in {
		n := len(out)
		if n > 0 && sameThread(out[n-1].thread, e.Thread) {
			out[n-1].events = append(out[n-1].events, e.Event)
			continue
		}
		out = append(out, threadRun{thread: e.Thread, events: []events.Envelope{e.Event}})
	}
	return out
}

func sameThread(a, b *models.MessageIndex) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
