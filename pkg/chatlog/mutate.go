package chatlog

import (
	"errors"

	"github.com/liangmulu/open-chat/pkg/codec"
	"github.com/liangmulu/open-chat/pkg/content"
	"github.com/liangmulu/open-chat/pkg/events"
	"github.com/liangmulu/open-chat/pkg/metrics"
	"github.com/liangmulu/open-chat/pkg/models"
)

// updateMessage applies fn to a copy of the message and, when fn reports
// a change, persists the copy and swaps it in. fn must not keep msg.
func (c *ChatEvents) updateMessage(thread *models.MessageIndex, id models.MessageID, now models.TimestampMillis, fn func(msg *events.MessageInternal) (bool, error)) error {
	return c.rewriteMessage(thread, id, now, fn, func(before metrics.MessageState, msg *events.MessageInternal) {
		c.metrics.OnMessageChanged(before, msg, now)
	})
}

// rewriteMessage is updateMessage with the metrics update supplied by the
// caller. record runs only after the change is committed.
func (c *ChatEvents) rewriteMessage(thread *models.MessageIndex, id models.MessageID, now models.TimestampMillis, fn func(msg *events.MessageInternal) (bool, error), record func(before metrics.MessageState, msg *events.MessageInternal)) error {
	ref, ok := c.ids[id]
	if !ok || !ref.in(thread) {
		return ErrMessageNotFound
	}
	l := c.log(thread)
	if l == nil {
		return ErrMessageNotFound
	}
	env := l.get(ref.event)
	if env == nil || env.ExpiredAt(now) {
		return ErrMessageNotFound
	}
	next, err := cloneEnvelope(env)
	if err != nil {
		return err
	}
	msg, ok := next.Message()
	if !ok {
		return ErrMessageNotFound
	}
	before := metrics.StateOf(msg)
	changed, err := fn(msg)
	if err != nil || !changed {
		return err
	}
	value, err := codec.EncodeEvent(next)
	if err != nil {
		return err
	}
	if err := c.commit(c.batch(Write{Thread: copyThread(thread), Index: next.Index, Value: value})); err != nil {
		return err
	}
	l.replace(next)
	record(before, msg)
	return nil
}

func live(msg *events.MessageInternal) error {
	if msg.IsDeleted() {
		return ErrMessageDeleted
	}
	return nil
}

// DeleteMessage tombstones a message. The content is kept until
// RemoveDeletedContent purges it.
func (c *ChatEvents) DeleteMessage(thread *models.MessageIndex, id models.MessageID, by models.UserID, now models.TimestampMillis) error {
	return c.updateMessage(thread, id, now, func(msg *events.MessageInternal) (bool, error) {
		if msg.IsDeleted() {
			return false, nil
		}
		msg.DeletedBy = &events.DeletedBy{DeletedBy: by, Timestamp: now}
		return true, nil
	})
}

// UndeleteMessage reverses DeleteMessage while the content is still held.
func (c *ChatEvents) UndeleteMessage(thread *models.MessageIndex, id models.MessageID, now models.TimestampMillis) error {
	return c.updateMessage(thread, id, now, func(msg *events.MessageInternal) (bool, error) {
		if !msg.IsDeleted() {
			return false, nil
		}
		if _, purged := msg.Content.(*content.DeletedContent); purged {
			return false, ErrMessageDeleted
		}
		msg.DeletedBy = nil
		return true, nil
	})
}

// RemoveDeletedContent replaces the content of a tombstoned message with
// a Deleted marker and returns what was removed. It returns nil if the
// content was already purged.
func (c *ChatEvents) RemoveDeletedContent(thread *models.MessageIndex, id models.MessageID, now models.TimestampMillis) (content.Internal, error) {
	var removed content.Internal
	err := c.rewriteMessage(thread, id, now, func(msg *events.MessageInternal) (bool, error) {
		if !msg.IsDeleted() {
			return false, ErrMessageNotDeleted
		}
		if _, purged := msg.Content.(*content.DeletedContent); purged {
			return false, nil
		}
		removed = msg.Content
		msg.Content = &content.DeletedContent{DeletedBy: msg.DeletedBy.DeletedBy, Timestamp: msg.DeletedBy.Timestamp}
		return true, nil
	}, func(metrics.MessageState, *events.MessageInternal) {
		c.metrics.OnHardDelete(content.TypeOf(removed))
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// EditMessage replaces the editable content of a message sent by by.
func (c *ChatEvents) EditMessage(thread *models.MessageIndex, id models.MessageID, by models.UserID, replacement content.Initial, now models.TimestampMillis) error {
	if err := content.Validate(replacement, content.ValidateContext{Now: now, ChatKind: c.chat.Kind}); err != nil {
		return err
	}
	return c.updateMessage(thread, id, now, func(msg *events.MessageInternal) (bool, error) {
		if err := live(msg); err != nil {
			return false, err
		}
		if msg.Sender != by {
			return false, ErrNotAuthorized
		}
		next, err := content.Edit(msg.Content, replacement)
		if err != nil {
			return false, err
		}
		msg.Content = next
		edited := now
		msg.LastEdited = &edited
		return true, nil
	})
}

// AddReaction reports whether the reaction was new.
func (c *ChatEvents) AddReaction(thread *models.MessageIndex, id models.MessageID, user models.UserID, reaction string, now models.TimestampMillis) (bool, error) {
	var added bool
	err := c.updateMessage(thread, id, now, func(msg *events.MessageInternal) (bool, error) {
		if err := live(msg); err != nil {
			return false, err
		}
		added = msg.AddReaction(user, reaction)
		return added, nil
	})
	return added, err
}

// RemoveReaction reports whether the reaction was present.
func (c *ChatEvents) RemoveReaction(thread *models.MessageIndex, id models.MessageID, user models.UserID, reaction string, now models.TimestampMillis) (bool, error) {
	var removed bool
	err := c.updateMessage(thread, id, now, func(msg *events.MessageInternal) (bool, error) {
		if err := live(msg); err != nil {
			return false, err
		}
		removed = msg.RemoveReaction(user, reaction)
		return removed, nil
	})
	return removed, err
}

// TipMessage records a completed tip from user.
func (c *ChatEvents) TipMessage(thread *models.MessageIndex, id models.MessageID, ledger string, user models.UserID, amount uint64, now models.TimestampMillis) error {
	return c.updateMessage(thread, id, now, func(msg *events.MessageInternal) (bool, error) {
		if err := live(msg); err != nil {
			return false, err
		}
		if msg.Sender == user {
			return false, ErrNotAuthorized
		}
		msg.AddTip(ledger, user, amount)
		return true, nil
	})
}

func (c *ChatEvents) RegisterPollVote(thread *models.MessageIndex, id models.MessageID, user models.UserID, option uint32, op content.VoteOperation, now models.TimestampMillis) error {
	return c.updateMessage(thread, id, now, func(msg *events.MessageInternal) (bool, error) {
		if err := live(msg); err != nil {
			return false, err
		}
		poll, ok := msg.Content.(*content.PollContent)
		if !ok {
			return false, content.ErrContentTypeMismatch
		}
		return true, poll.RegisterVote(user, option, op, now)
	})
}

// EndPoll reports whether the poll was still open.
func (c *ChatEvents) EndPoll(thread *models.MessageIndex, id models.MessageID, now models.TimestampMillis) (bool, error) {
	var ended bool
	err := c.updateMessage(thread, id, now, func(msg *events.MessageInternal) (bool, error) {
		poll, ok := msg.Content.(*content.PollContent)
		if !ok {
			return false, content.ErrContentTypeMismatch
		}
		ended = poll.End()
		return ended, nil
	})
	return ended, err
}

// prize applies fn to a prize message. Settlement steps also run on deleted
// messages unless requireLive is set.
func (c *ChatEvents) prize(thread *models.MessageIndex, id models.MessageID, now models.TimestampMillis, requireLive bool, fn func(p *content.PrizeContent, sender models.UserID) error) error {
	return c.updateMessage(thread, id, now, func(msg *events.MessageInternal) (bool, error) {
		if requireLive {
			if err := live(msg); err != nil {
				return false, err
			}
		}
		p, ok := msg.Content.(*content.PrizeContent)
		if !ok {
			return false, content.ErrContentTypeMismatch
		}
		if err := fn(p, msg.Sender); err != nil {
			return false, err
		}
		return true, nil
	})
}

// ReservePrize locks the next prize for user and returns its amount.
func (c *ChatEvents) ReservePrize(thread *models.MessageIndex, id models.MessageID, user models.UserID, now models.TimestampMillis) (uint64, error) {
	var amount uint64
	err := c.prize(thread, id, now, true, func(p *content.PrizeContent, _ models.UserID) error {
		var err error
		amount, err = p.Reserve(user, now)
		return err
	})
	return amount, err
}

// ClaimPrize turns user's reservation into a win once paid.
func (c *ChatEvents) ClaimPrize(thread *models.MessageIndex, id models.MessageID, user models.UserID, now models.TimestampMillis) (uint64, error) {
	var amount uint64
	err := c.prize(thread, id, now, false, func(p *content.PrizeContent, _ models.UserID) error {
		var err error
		amount, err = p.Claim(user)
		return err
	})
	return amount, err
}

// UnreservePrize releases user's reservation. Once final payments have
// started the prize is refunded to the sender and the transfer returned.
func (c *ChatEvents) UnreservePrize(thread *models.MessageIndex, id models.MessageID, user models.UserID, now models.TimestampMillis) (*content.PendingTransfer, error) {
	var refund *content.PendingTransfer
	err := c.prize(thread, id, now, false, func(p *content.PrizeContent, sender models.UserID) error {
		var err error
		refund, err = p.Unreserve(user, sender, nanos(now))
		return err
	})
	return refund, err
}

// FinalPrizePayments drains unclaimed prizes into refunds to the sender.
// Only the first call returns transfers.
func (c *ChatEvents) FinalPrizePayments(thread *models.MessageIndex, id models.MessageID, now models.TimestampMillis) ([]content.PendingTransfer, error) {
	var refunds []content.PendingTransfer
	err := c.prize(thread, id, now, false, func(p *content.PrizeContent, sender models.UserID) error {
		if p.FinalPaymentsStarted {
			return errUnchanged
		}
		refunds = p.FinalPayments(sender, nanos(now))
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil, nil
	}
	return refunds, err
}

// MarkPrizeLedgerError stops further reservations after a ledger failure.
func (c *ChatEvents) MarkPrizeLedgerError(thread *models.MessageIndex, id models.MessageID, now models.TimestampMillis) error {
	err := c.prize(thread, id, now, false, func(p *content.PrizeContent, _ models.UserID) error {
		if p.LedgerError {
			return errUnchanged
		}
		p.LedgerError = true
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

var errUnchanged = errors.New("unchanged")

func nanos(ms models.TimestampMillis) uint64 { return uint64(ms) * 1_000_000 }

func (c *ChatEvents) swap(thread *models.MessageIndex, id models.MessageID, now models.TimestampMillis, fn func(s *content.P2PSwapContent, sender models.UserID) error) (*content.P2PSwapContent, error) {
	var out content.P2PSwapContent
	err := c.updateMessage(thread, id, now, func(msg *events.MessageInternal) (bool, error) {
		if err := live(msg); err != nil {
			return false, err
		}
		s, ok := msg.Content.(*content.P2PSwapContent)
		if !ok {
			return false, content.ErrContentTypeMismatch
		}
		if err := fn(s, msg.Sender); err != nil {
			return false, err
		}
		out = *s
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ReserveP2PSwap locks an open swap for user and returns the swap as
// reserved.
func (c *ChatEvents) ReserveP2PSwap(thread *models.MessageIndex, id models.MessageID, user models.UserID, now models.TimestampMillis) (*content.P2PSwapContent, error) {
	return c.swap(thread, id, now, func(s *content.P2PSwapContent, sender models.UserID) error {
		return s.Reserve(user, sender, now)
	})
}

func (c *ChatEvents) UnreserveP2PSwap(thread *models.MessageIndex, id models.MessageID, user models.UserID, now models.TimestampMillis) error {
	_, err := c.swap(thread, id, now, func(s *content.P2PSwapContent, _ models.UserID) error {
		return s.Unreserve(user)
	})
	return err
}

func (c *ChatEvents) AcceptP2PSwap(thread *models.MessageIndex, id models.MessageID, user models.UserID, token1TxnIn uint64, now models.TimestampMillis) error {
	_, err := c.swap(thread, id, now, func(s *content.P2PSwapContent, _ models.UserID) error {
		return s.Accept(user, token1TxnIn, now)
	})
	return err
}

func (c *ChatEvents) CompleteP2PSwap(thread *models.MessageIndex, id models.MessageID, user models.UserID, token0TxnOut, token1TxnOut uint64, now models.TimestampMillis) error {
	_, err := c.swap(thread, id, now, func(s *content.P2PSwapContent, _ models.UserID) error {
		return s.Complete(user, token0TxnOut, token1TxnOut, now)
	})
	return err
}

// CancelP2PSwap withdraws an open offer. Only the sender may cancel.
func (c *ChatEvents) CancelP2PSwap(thread *models.MessageIndex, id models.MessageID, by models.UserID, now models.TimestampMillis) (*content.P2PSwapContent, error) {
	return c.swap(thread, id, now, func(s *content.P2PSwapContent, sender models.UserID) error {
		if by != sender {
			return ErrNotAuthorized
		}
		return s.Cancel(now)
	})
}

func (c *ChatEvents) ExpireP2PSwap(thread *models.MessageIndex, id models.MessageID, now models.TimestampMillis) error {
	_, err := c.swap(thread, id, now, func(s *content.P2PSwapContent, _ models.UserID) error {
		return s.Expire(now)
	})
	return err
}

func (c *ChatEvents) JoinVideoCall(thread *models.MessageIndex, id models.MessageID, user models.UserID, hidden bool, now models.TimestampMillis) error {
	return c.updateMessage(thread, id, now, func(msg *events.MessageInternal) (bool, error) {
		call, ok := msg.Content.(*content.VideoCallContent)
		if !ok {
			return false, content.ErrContentTypeMismatch
		}
		n := len(call.Participants) + len(call.HiddenParticipants)
		if err := call.Join(user, now, hidden); err != nil {
			return false, err
		}
		return len(call.Participants)+len(call.HiddenParticipants) != n, nil
	})
}

// EndVideoCall reports whether the call was still running.
func (c *ChatEvents) EndVideoCall(thread *models.MessageIndex, id models.MessageID, now models.TimestampMillis) (bool, error) {
	var ended bool
	err := c.updateMessage(thread, id, now, func(msg *events.MessageInternal) (bool, error) {
		call, ok := msg.Content.(*content.VideoCallContent)
		if !ok {
			return false, content.ErrContentTypeMismatch
		}
		ended = call.End(now)
		return ended, nil
	})
	return ended, err
}

// FollowThread makes user follow the thread rooted at root.
func (c *ChatEvents) FollowThread(root models.MessageIndex, user models.UserID, follow bool, now models.TimestampMillis) (bool, error) {
	rootEnv := c.threadRoot(root, now)
	if rootEnv == nil {
		return false, ErrThreadRootNotFound
	}
	msg, _ := rootEnv.Message()
	var changed bool
	err := c.updateMessage(nil, msg.MessageID, now, func(msg *events.MessageInternal) (bool, error) {
		if msg.ThreadSummary == nil {
			return false, ErrThreadRootNotFound
		}
		if follow {
			changed = msg.ThreadSummary.Follow(user)
		} else {
			changed = msg.ThreadSummary.Unfollow(user)
		}
		return changed, nil
	})
	return changed, err
}
