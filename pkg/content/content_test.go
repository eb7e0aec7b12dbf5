package content

import (
	"errors"
	"strings"
	"testing"

	"github.com/liangmulu/open-chat/pkg/models"
)

func blob(id uint64) *models.BlobReference {
	return &models.BlobReference{CanisterID: "bucket-1", BlobID: id}
}

func pendingTransfer(amount uint64) CryptoTransaction {
	return CryptoTransaction{State: TransferPending, Ledger: "ledger-1", Token: "CHAT", Amount: amount, Fee: 10, To: "bob"}
}

func reasonOf(t *testing.T, err error) *ValidationError {
	t.Helper()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	return ve
}

func TestValidate(t *testing.T) {
	now := models.TimestampMillis(1_000)
	past := models.TimestampMillis(500)
	group := ValidateContext{Now: now, ChatKind: models.ChatGroup}

	tests := []struct {
		name    string
		content Initial
		ctx     ValidateContext
		want    Reason
		poll    PollReason
	}{
		{name: "text ok", content: &TextContent{Text: "hello"}, ctx: group},
		{name: "missing content", content: nil, ctx: group, want: ReasonEmpty},
		{name: "nil text", content: (*TextContent)(nil), ctx: group, want: ReasonEmpty},
		{name: "missing content forwarded", content: nil, ctx: ValidateContext{Now: now, ChatKind: models.ChatGroup, Forwarding: true}, want: ReasonEmpty},
		{name: "text empty", content: &TextContent{Text: "  "}, ctx: group, want: ReasonEmpty},
		{name: "text too long", content: &TextContent{Text: strings.Repeat("a", MaxTextLength+1)}, ctx: group, want: ReasonTextTooLong},
		{name: "text at limit in runes", content: &TextContent{Text: strings.Repeat("é", MaxTextLength)}, ctx: group},
		{name: "image without blob", content: &ImageContent{MimeType: "image/png"}, ctx: group, want: ReasonEmpty},
		{name: "image ok", content: &ImageContent{MimeType: "image/png", BlobReference: blob(1)}, ctx: group},
		{name: "poll in direct chat", content: &PollInitial{Config: PollConfig{Options: []string{"a", "b"}}},
			ctx: ValidateContext{Now: now, ChatKind: models.ChatDirect}, want: ReasonInvalidPoll, poll: PollsNotValidForDirectChats},
		{name: "poll too few options", content: &PollInitial{Config: PollConfig{Options: []string{"a"}}}, ctx: group,
			want: ReasonInvalidPoll, poll: PollTooFewOptions},
		{name: "poll too many options", content: &PollInitial{Config: PollConfig{Options: strings.Split("a,b,c,d,e,f,g,h,i,j,k", ",")}}, ctx: group,
			want: ReasonInvalidPoll, poll: PollTooManyOptions},
		{name: "poll duplicate options", content: &PollInitial{Config: PollConfig{Options: []string{"Yes", "yes "}}}, ctx: group,
			want: ReasonInvalidPoll, poll: PollDuplicateOptions},
		{name: "poll ended", content: &PollInitial{Config: PollConfig{Options: []string{"a", "b"}, EndDate: &past}}, ctx: group,
			want: ReasonInvalidPoll, poll: PollEndDateInThePast},
		{name: "crypto zero", content: &CryptoInitial{Recipient: "bob", Transfer: pendingTransfer(0)}, ctx: group, want: ReasonTransferCannotBeZero},
		{name: "crypto not pending", content: &CryptoInitial{Recipient: "bob", Transfer: CryptoTransaction{State: TransferCompleted, Amount: 5}},
			ctx: group, want: ReasonTransferMustBePending},
		{name: "prize in the past", content: &PrizeInitial{Prizes: []uint64{1, 2}, Transfer: pendingTransfer(3), EndDate: past}, ctx: group,
			want: ReasonPrizeEndDateInThePast},
		{name: "prize ok", content: &PrizeInitial{Prizes: []uint64{1, 2}, Transfer: pendingTransfer(3), EndDate: now + 10}, ctx: group},
		{name: "forwarding crypto", content: &CryptoInitial{Recipient: "bob", Transfer: pendingTransfer(1)},
			ctx: ValidateContext{Now: now, ChatKind: models.ChatGroup, Forwarding: true}, want: ReasonInvalidTypeForForwarding},
		{name: "forwarding text", content: &TextContent{Text: "fwd"}, ctx: ValidateContext{Now: now, Forwarding: true}},
		{name: "reminder from human", content: &MessageReminderContent{ReminderID: 1}, ctx: group, want: ReasonUnauthorized},
		{name: "reminder from bot", content: &MessageReminderContent{ReminderID: 1}, ctx: ValidateContext{Now: now, SenderIsBot: true}},
		{name: "custom without kind", content: &CustomContent{}, ctx: group, want: ReasonEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.content, tt.ctx)
			if tt.want == 0 {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			ve := reasonOf(t, err)
			if ve.Reason != tt.want {
				t.Fatalf("Validate() reason = %v, want %v", ve.Reason, tt.want)
			}
			if tt.poll != 0 && ve.Poll != tt.poll {
				t.Fatalf("Validate() poll reason = %v, want %v", ve.Poll, tt.poll)
			}
		})
	}
}

func TestBlobReferencesAndText(t *testing.T) {
	caption := "look"
	video := &VideoContent{Caption: &caption, ImageBlobReference: blob(1), VideoBlobReference: blob(2)}
	refs := BlobReferences(video)
	if len(refs) != 2 || refs[0].BlobID != 2 || refs[1].BlobID != 1 {
		t.Fatalf("video refs = %+v, want video then image blob", refs)
	}
	if got := BlobReferences(&TextContent{Text: "x"}); len(got) != 0 {
		t.Fatalf("text refs = %+v, want none", got)
	}
	if got := BlobReferences(&FileContent{Name: "a.pdf", BlobReference: blob(9)}); len(got) != 1 {
		t.Fatalf("file refs = %+v", got)
	}

	question := "lunch?"
	cases := []struct {
		c    Internal
		want string
		ok   bool
	}{
		{&TextContent{Text: "hi"}, "hi", true},
		{video, "look", true},
		{&PollContent{Config: PollConfig{Text: &question}}, "lunch?", true},
		{&ProposalContent{Proposal: Proposal{Title: "upgrade"}}, "upgrade", true},
		{&DeletedContent{DeletedBy: "a"}, "", false},
		{&PrizeWinnerContent{Winner: "a"}, "", false},
	}
	for _, c := range cases {
		got, ok := Text(c.c)
		if got != c.want || ok != c.ok {
			t.Errorf("Text(%T) = %q,%v want %q,%v", c.c, got, ok, c.want, c.ok)
		}
	}
}

func TestContentTypeStable(t *testing.T) {
	if TypeOf(&CustomContent{Kind: "sticker"}) != CustomType("sticker") {
		t.Fatalf("custom type mismatch")
	}
	ct := CustomType("sticker")
	if !ct.IsCustom() || ct.CustomKind() != "sticker" {
		t.Fatalf("custom kind not recoverable from %q", ct)
	}
	if TypeOf(&P2PSwapContent{}) != "p2p_swap" || TypeOf(&GiphyContent{}) != "giphy" {
		t.Fatalf("content type strings changed")
	}
}

func TestMentions(t *testing.T) {
	got := Mentions(&TextContent{Text: "hi @UserId(alice) and @UserId(bob), again @UserId(alice)"})
	if len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("Mentions() = %v", got)
	}
}

func TestPrizeLifecycle(t *testing.T) {
	p := ToInternal(&PrizeInitial{Prizes: []uint64{10, 20, 30}, Transfer: pendingTransfer(60), EndDate: 100}, ConvertContext{Now: 1}).(*PrizeContent)

	if _, err := p.Reserve("u1", 50); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := p.Reserve("u1", 50); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("double reserve err = %v", err)
	}
	if _, err := p.Claim("u1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := p.Reserve("u2", 60); err != nil {
		t.Fatalf("reserve u2: %v", err)
	}

	refunds := p.FinalPayments("sender", 7)
	if len(refunds) != 1 || refunds[0].Amount != 10 || refunds[0].To != "sender" {
		t.Fatalf("refunds = %+v", refunds)
	}
	if again := p.FinalPayments("sender", 8); len(again) != 0 {
		t.Fatalf("second FinalPayments produced %d transfers", len(again))
	}
	refund, err := p.Unreserve("u2", "sender", 9)
	if err != nil || refund == nil || refund.Amount != 20 {
		t.Fatalf("unreserve after final payments = %+v, %v", refund, err)
	}
	if _, err := p.Reserve("u3", 60); !errors.Is(err, ErrPrizeEnded) {
		t.Fatalf("reserve after end err = %v", err)
	}
}

func TestP2PSwapStateMachine(t *testing.T) {
	s := ToInternal(&P2PSwapInitial{Token0Amount: 1, Token1Amount: 2, ExpiresIn: 100}, ConvertContext{Now: 10, SwapID: 7}).(*P2PSwapContent)
	if s.ExpiresAt != 110 || s.Status.State != SwapOpen {
		t.Fatalf("unexpected initial swap %+v", s)
	}
	if err := s.Reserve("owner", "owner", 20); !errors.Is(err, ErrSwapOwnOffer) {
		t.Fatalf("own reserve err = %v", err)
	}
	if err := s.Reserve("bob", "owner", 20); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := s.Reserve("carol", "owner", 21); !errors.Is(err, ErrSwapNotOpen) {
		t.Fatalf("second reserve err = %v", err)
	}
	if err := s.Unreserve("bob"); err != nil || s.Status.State != SwapOpen {
		t.Fatalf("unreserve: %v state=%s", err, s.Status.State)
	}
	if err := s.Reserve("bob", "owner", 22); err != nil {
		t.Fatalf("reserve again: %v", err)
	}
	if err := s.Accept("bob", 5, 23); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := s.Complete("bob", 6, 7, 24); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if s.Status.State != SwapCompleted || s.Status.Token1TxnIn != 5 {
		t.Fatalf("final status %+v", s.Status)
	}
	if err := s.Cancel(25); !errors.Is(err, ErrSwapNotOpen) {
		t.Fatalf("cancel completed err = %v", err)
	}

	other := &P2PSwapContent{ExpiresAt: 100, Status: P2PSwapStatus{State: SwapOpen}}
	if err := other.Expire(99); err == nil {
		t.Fatalf("expire before deadline succeeded")
	}
	if err := other.Expire(100); err != nil || other.Status.State != SwapExpired {
		t.Fatalf("expire: %v", err)
	}
}

func TestPollVotingAndHydration(t *testing.T) {
	end := models.TimestampMillis(100)
	p := &PollContent{Config: PollConfig{Options: []string{"a", "b"}, EndDate: &end, AllowUserToChangeVote: true}}
	if err := p.RegisterVote("u1", 0, VoteRegister, 10); err != nil {
		t.Fatal(err)
	}
	if err := p.RegisterVote("u1", 1, VoteRegister, 11); err != nil {
		t.Fatal(err)
	}
	if got := p.UserVotes("u1"); len(got) != 1 || got[0] != 1 {
		t.Fatalf("vote change not applied: %v", got)
	}
	if err := p.RegisterVote("u2", 5, VoteRegister, 12); !errors.Is(err, ErrPollOptionInvalid) {
		t.Fatalf("invalid option err = %v", err)
	}

	viewer := models.UserID("u1")
	before := Hydrate(p, &viewer, 50).(PollView)
	if before.Votes.Voters != nil || before.Votes.Total != nil || len(before.Votes.User) != 1 {
		t.Fatalf("votes visible before end: %+v", before.Votes)
	}
	after := Hydrate(p, &viewer, 150).(PollView)
	if len(after.Votes.Voters[1]) != 1 {
		t.Fatalf("voters after end: %+v", after.Votes)
	}
	if err := p.RegisterVote("u2", 0, VoteRegister, 150); !errors.Is(err, ErrPollEnded) {
		t.Fatalf("vote after end err = %v", err)
	}
}

func TestEdit(t *testing.T) {
	next, err := Edit(&TextContent{Text: "a"}, &TextContent{Text: "b"})
	if err != nil || next.(*TextContent).Text != "b" {
		t.Fatalf("edit text: %v", err)
	}
	if _, err := Edit(&TextContent{Text: "a"}, &GiphyContent{Title: "g"}); !errors.Is(err, ErrContentTypeMismatch) {
		t.Fatalf("type change err = %v", err)
	}
	if _, err := Edit(&PollContent{}, &PollInitial{}); !errors.Is(err, ErrContentNotEditable) {
		t.Fatalf("poll edit err = %v", err)
	}
}
