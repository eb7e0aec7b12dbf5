package content

import "github.com/liangmulu/open-chat/pkg/models"

// Field tags: the msgpack tag is the current wire name; the legacy tag is
// the name the field was written under before tags were shortened. Field
// order is the positional order of the oldest array encoding, so new
// fields are only ever appended.

type TextContent struct {
	Text string `msgpack:"t" legacy:"text"`
}

type ImageContent struct {
	Width         uint32                `msgpack:"w" legacy:"width"`
	Height        uint32                `msgpack:"h" legacy:"height"`
	ThumbnailData string                `msgpack:"th" legacy:"thumbnail_data"`
	Caption       *string               `msgpack:"c,omitempty" legacy:"caption"`
	MimeType      string                `msgpack:"m" legacy:"mime_type"`
	BlobReference *models.BlobReference `msgpack:"b,omitempty" legacy:"blob_reference"`
}

type VideoContent struct {
	Width              uint32                `msgpack:"w" legacy:"width"`
	Height             uint32                `msgpack:"h" legacy:"height"`
	ThumbnailData      string                `msgpack:"th" legacy:"thumbnail_data"`
	Caption            *string               `msgpack:"c,omitempty" legacy:"caption"`
	MimeType           string                `msgpack:"m" legacy:"mime_type"`
	ImageBlobReference *models.BlobReference `msgpack:"i,omitempty" legacy:"image_blob_reference"`
	VideoBlobReference *models.BlobReference `msgpack:"v,omitempty" legacy:"video_blob_reference"`
}

type AudioContent struct {
	Caption       *string               `msgpack:"c,omitempty" legacy:"caption"`
	MimeType      string                `msgpack:"m" legacy:"mime_type"`
	BlobReference *models.BlobReference `msgpack:"b,omitempty" legacy:"blob_reference"`
}

type FileContent struct {
	Name          string                `msgpack:"n" legacy:"name"`
	Caption       *string               `msgpack:"c,omitempty" legacy:"caption"`
	MimeType      string                `msgpack:"m" legacy:"mime_type"`
	FileSize      uint32                `msgpack:"s" legacy:"file_size"`
	BlobReference *models.BlobReference `msgpack:"b,omitempty" legacy:"blob_reference"`
}

type PollConfig struct {
	Text                      *string                 `msgpack:"t,omitempty"`
	Options                   []string                `msgpack:"o"`
	EndDate                   *models.TimestampMillis `msgpack:"e,omitempty"`
	Anonymous                 bool                    `msgpack:"a,omitempty"`
	ShowVotesBeforeEndDate    bool                    `msgpack:"s,omitempty"`
	AllowMultipleVotesPerUser bool                    `msgpack:"m,omitempty"`
	AllowUserToChangeVote     bool                    `msgpack:"c,omitempty"`
}

type PollContent struct {
	Config PollConfig                 `msgpack:"c" legacy:"config"`
	Votes  map[uint32][]models.UserID `msgpack:"v,omitempty" legacy:"votes"`
	Ended  bool                       `msgpack:"e,omitempty" legacy:"ended"`
}

// TransferState tracks a ledger transfer from submission to settlement.
type TransferState string

const (
	TransferPending   TransferState = "pending"
	TransferCompleted TransferState = "completed"
	TransferFailed    TransferState = "failed"
)

type CryptoTransaction struct {
	State        TransferState `msgpack:"s"`
	Ledger       string        `msgpack:"l"`
	Token        string        `msgpack:"k"`
	Amount       uint64        `msgpack:"a"`
	Fee          uint64        `msgpack:"f"`
	From         string        `msgpack:"fr,omitempty"`
	To           string        `msgpack:"to"`
	Memo         []byte        `msgpack:"mo,omitempty"`
	CreatedNanos uint64        `msgpack:"cr,omitempty"`
	BlockIndex   uint64        `msgpack:"b,omitempty"`
	Error        string        `msgpack:"er,omitempty"`
}

type CryptoContent struct {
	Recipient models.UserID     `msgpack:"r" legacy:"recipient"`
	Transfer  CryptoTransaction `msgpack:"t" legacy:"transfer"`
	Caption   *string           `msgpack:"c,omitempty" legacy:"caption"`
}

// DeletedContent is the tombstone shown in place of deleted content.
type DeletedContent struct {
	DeletedBy models.UserID          `msgpack:"d" legacy:"deleted_by"`
	Timestamp models.TimestampMillis `msgpack:"t" legacy:"timestamp"`
}

type GiphyImage struct {
	Width    uint32 `msgpack:"w"`
	Height   uint32 `msgpack:"h"`
	URL      string `msgpack:"u"`
	MimeType string `msgpack:"m"`
}

type GiphyContent struct {
	Caption *string    `msgpack:"c,omitempty" legacy:"caption"`
	Title   string     `msgpack:"t" legacy:"title"`
	Desktop GiphyImage `msgpack:"d" legacy:"desktop"`
	Mobile  GiphyImage `msgpack:"m" legacy:"mobile"`
}

type Tally struct {
	Yes uint64 `msgpack:"y"`
	No  uint64 `msgpack:"n"`
}

type Proposal struct {
	ID       uint64                 `msgpack:"i"`
	Title    string                 `msgpack:"t"`
	Summary  string                 `msgpack:"s,omitempty"`
	URL      string                 `msgpack:"u,omitempty"`
	Status   string                 `msgpack:"st"`
	Tally    Tally                  `msgpack:"ta"`
	Deadline models.TimestampMillis `msgpack:"d"`
}

type ProposalContent struct {
	GovernanceCanisterID string                 `msgpack:"g" legacy:"governance_canister_id"`
	Proposal             Proposal               `msgpack:"p" legacy:"proposal"`
	Votes                map[models.UserID]bool `msgpack:"v,omitempty" legacy:"votes"`
}

type PrizeReservation struct {
	User   models.UserID `msgpack:"u"`
	Amount uint64        `msgpack:"a"`
}

type PrizeContent struct {
	PrizesRemaining      []uint64               `msgpack:"p" legacy:"prizes_remaining"`
	Reservations         []PrizeReservation     `msgpack:"r,omitempty" legacy:"reservations"`
	Winners              []models.UserID        `msgpack:"w,omitempty" legacy:"winners"`
	Transaction          CryptoTransaction      `msgpack:"t" legacy:"transaction"`
	EndDate              models.TimestampMillis `msgpack:"e" legacy:"end_date"`
	Caption              *string                `msgpack:"c,omitempty" legacy:"caption"`
	DiamondOnly          bool                   `msgpack:"d,omitempty" legacy:"diamond_only"`
	LifetimeDiamondOnly  bool                   `msgpack:"l,omitempty" legacy:"lifetime_diamond_only"`
	UniquePersonOnly     bool                   `msgpack:"u,omitempty" legacy:"unique_person_only"`
	StreakOnly           uint16                 `msgpack:"s,omitempty" legacy:"streak_only"`
	FinalPaymentsStarted bool                   `msgpack:"f,omitempty" legacy:"final_payments_started"`
	LedgerError          bool                   `msgpack:"le,omitempty" legacy:"ledger_error"`
	PrizesPaid           uint64                 `msgpack:"pp,omitempty" legacy:"prizes_paid"`
	FeePercent           uint8                  `msgpack:"fp,omitempty" legacy:"fee_percent"`
	RequiresCaptcha      bool                   `msgpack:"rc,omitempty" legacy:"requires_captcha"`
}

type PrizeWinnerContent struct {
	Winner       models.UserID       `msgpack:"w" legacy:"winner"`
	Ledger       string              `msgpack:"l" legacy:"ledger"`
	TokenSymbol  string              `msgpack:"s" legacy:"token_symbol"`
	Amount       uint64              `msgpack:"a" legacy:"amount"`
	Fee          uint64              `msgpack:"f" legacy:"fee"`
	BlockIndex   uint64              `msgpack:"b" legacy:"block_index"`
	PrizeMessage models.MessageIndex `msgpack:"m" legacy:"prize_message"`
}

type MessageReminderCreatedContent struct {
	ReminderID uint64                 `msgpack:"r" legacy:"reminder_id"`
	RemindAt   models.TimestampMillis `msgpack:"a" legacy:"remind_at"`
	Notes      *string                `msgpack:"n,omitempty" legacy:"notes"`
	Hidden     bool                   `msgpack:"h,omitempty" legacy:"hidden"`
}

type MessageReminderContent struct {
	ReminderID uint64  `msgpack:"r" legacy:"reminder_id"`
	Notes      *string `msgpack:"n,omitempty" legacy:"notes"`
}

type MessageReport struct {
	ReportedBy models.UserID          `msgpack:"r"`
	Timestamp  models.TimestampMillis `msgpack:"t"`
	ReasonCode uint32                 `msgpack:"c"`
	Notes      *string                `msgpack:"n,omitempty"`
}

type ReportedMessageContent struct {
	Reports []MessageReport `msgpack:"r" legacy:"reports"`
	Count   uint32          `msgpack:"c" legacy:"count"`
}

type TokenInfo struct {
	Symbol   string `msgpack:"s"`
	Ledger   string `msgpack:"l"`
	Decimals uint8  `msgpack:"d"`
	Fee      uint64 `msgpack:"f"`
}

// SwapState is the lifecycle position of a P2P swap.
type SwapState string

const (
	SwapOpen      SwapState = "open"
	SwapReserved  SwapState = "reserved"
	SwapAccepted  SwapState = "accepted"
	SwapCompleted SwapState = "completed"
	SwapCancelled SwapState = "cancelled"
	SwapExpired   SwapState = "expired"
)

type P2PSwapStatus struct {
	State        SwapState              `msgpack:"s"`
	By           models.UserID          `msgpack:"u,omitempty"`
	At           models.TimestampMillis `msgpack:"a,omitempty"`
	Token1TxnIn  uint64                 `msgpack:"i1,omitempty"`
	Token0TxnOut uint64                 `msgpack:"o0,omitempty"`
	Token1TxnOut uint64                 `msgpack:"o1,omitempty"`
}

type P2PSwapContent struct {
	SwapID       uint32                 `msgpack:"i" legacy:"swap_id"`
	Token0       TokenInfo              `msgpack:"t0" legacy:"token0"`
	Token0Amount uint64                 `msgpack:"a0" legacy:"token0_amount"`
	Token1       TokenInfo              `msgpack:"t1" legacy:"token1"`
	Token1Amount uint64                 `msgpack:"a1" legacy:"token1_amount"`
	ExpiresAt    models.TimestampMillis `msgpack:"e" legacy:"expires_at"`
	Caption      *string                `msgpack:"c,omitempty" legacy:"caption"`
	Token0TxnIn  uint64                 `msgpack:"x" legacy:"token0_txn_in"`
	Status       P2PSwapStatus          `msgpack:"s" legacy:"status"`
}

type CallType string

const (
	CallDefault   CallType = "default"
	CallBroadcast CallType = "broadcast"
)

type CallParticipant struct {
	User   models.UserID          `msgpack:"u"`
	Joined models.TimestampMillis `msgpack:"j"`
}

type VideoCallContent struct {
	CallType           CallType                `msgpack:"t" legacy:"call_type"`
	Ended              *models.TimestampMillis `msgpack:"e,omitempty" legacy:"ended"`
	Participants       []CallParticipant       `msgpack:"p,omitempty" legacy:"participants"`
	HiddenParticipants []CallParticipant       `msgpack:"h,omitempty" legacy:"hidden_participants"`
}

// EncryptedContent is end-to-end encrypted content; the server only
// stores it.
type EncryptedContent struct {
	ContentType         string `msgpack:"t" legacy:"content_type"`
	Version             uint32 `msgpack:"v" legacy:"version"`
	EncryptedMessageKey []byte `msgpack:"k" legacy:"encrypted_message_key"`
	PublicKey           []byte `msgpack:"p" legacy:"public_key"`
	EncryptedData       []byte `msgpack:"d" legacy:"encrypted_data"`
}

type CustomContent struct {
	Kind string `msgpack:"k" legacy:"kind"`
	Data []byte `msgpack:"d" legacy:"data"`
}
