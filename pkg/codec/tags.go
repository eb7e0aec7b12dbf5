package codec

import (
	"reflect"

	"github.com/liangmulu/open-chat/pkg/content"
	"github.com/liangmulu/open-chat/pkg/events"
)

// variant binds a union member to its wire tag. Legacy is the variant
// name written before tags were shortened.
type variant struct {
	tag    string
	legacy string
	typ    reflect.Type // struct type, not pointer
	unit   bool         // encoded as a bare tag string
}

type union struct {
	name     string
	variants []variant
	byType   map[reflect.Type]*variant
	byTag    map[string]*variant
	byLegacy map[string]*variant
}

func newUnion(name string, vs []variant) *union {
	u := &union{
		name:     name,
		variants: vs,
		byType:   make(map[reflect.Type]*variant, len(vs)),
		byTag:    make(map[string]*variant, len(vs)),
		byLegacy: make(map[string]*variant, len(vs)),
	}
	for i := range u.variants {
		v := &u.variants[i]
		u.byType[v.typ] = v
		u.byTag[v.tag] = v
		u.byLegacy[v.legacy] = v
	}
	return u
}

func typeOf[T any]() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }

var contentUnion = newUnion("content", []variant{
	{tag: "t", legacy: "Text", typ: typeOf[content.TextContent]()},
	{tag: "i", legacy: "Image", typ: typeOf[content.ImageContent]()},
	{tag: "v", legacy: "Video", typ: typeOf[content.VideoContent]()},
	{tag: "a", legacy: "Audio", typ: typeOf[content.AudioContent]()},
	{tag: "f", legacy: "File", typ: typeOf[content.FileContent]()},
	{tag: "p", legacy: "Poll", typ: typeOf[content.PollContent]()},
	{tag: "c", legacy: "Crypto", typ: typeOf[content.CryptoContent]()},
	{tag: "d", legacy: "Deleted", typ: typeOf[content.DeletedContent]()},
	{tag: "g", legacy: "Giphy", typ: typeOf[content.GiphyContent]()},
	{tag: "gp", legacy: "GovernanceProposal", typ: typeOf[content.ProposalContent]()},
	{tag: "pz", legacy: "Prize", typ: typeOf[content.PrizeContent]()},
	{tag: "pw", legacy: "PrizeWinner", typ: typeOf[content.PrizeWinnerContent]()},
	{tag: "mrc", legacy: "MessageReminderCreated", typ: typeOf[content.MessageReminderCreatedContent]()},
	{tag: "mr", legacy: "MessageReminder", typ: typeOf[content.MessageReminderContent]()},
	{tag: "rm", legacy: "ReportedMessage", typ: typeOf[content.ReportedMessageContent]()},
	{tag: "p2p", legacy: "P2PSwap", typ: typeOf[content.P2PSwapContent]()},
	{tag: "vc", legacy: "VideoCall", typ: typeOf[content.VideoCallContent]()},
	{tag: "e", legacy: "Encrypted", typ: typeOf[content.EncryptedContent]()},
	{tag: "cu", legacy: "Custom", typ: typeOf[content.CustomContent]()},
})

var eventUnion = newUnion("event", []variant{
	{tag: "m", legacy: "Message", typ: typeOf[events.MessageInternal]()},
	{tag: "dcc", legacy: "DirectChatCreated", typ: typeOf[events.DirectChatCreated]()},
	{tag: "gcc", legacy: "GroupChatCreated", typ: typeOf[events.GroupCreated]()},
	{tag: "nc", legacy: "GroupNameChanged", typ: typeOf[events.NameChanged]()},
	{tag: "dc", legacy: "GroupDescriptionChanged", typ: typeOf[events.DescriptionChanged]()},
	{tag: "grc", legacy: "GroupRulesChanged", typ: typeOf[events.RulesChanged]()},
	{tag: "ac", legacy: "AvatarChanged", typ: typeOf[events.AvatarChanged]()},
	{tag: "bc", legacy: "BannerChanged", typ: typeOf[events.BannerChanged]()},
	{tag: "ma", legacy: "ParticipantsAdded", typ: typeOf[events.MembersAdded]()},
	{tag: "mr", legacy: "ParticipantsRemoved", typ: typeOf[events.MembersRemoved]()},
	{tag: "mj", legacy: "ParticipantJoined", typ: typeOf[events.MemberJoined]()},
	{tag: "ml", legacy: "ParticipantLeft", typ: typeOf[events.MemberLeft]()},
	{tag: "rc", legacy: "RoleChanged", typ: typeOf[events.RoleChanged]()},
	{tag: "ub", legacy: "UsersBlocked", typ: typeOf[events.UsersBlocked]()},
	{tag: "uub", legacy: "UsersUnblocked", typ: typeOf[events.UsersUnblocked]()},
	{tag: "mp", legacy: "MessagePinned", typ: typeOf[events.MessagePinned]()},
	{tag: "mup", legacy: "MessageUnpinned", typ: typeOf[events.MessageUnpinned]()},
	{tag: "pc", legacy: "PermissionsChanged", typ: typeOf[events.PermissionsChanged]()},
	{tag: "vc", legacy: "GroupVisibilityChanged", typ: typeOf[events.VisibilityChanged]()},
	{tag: "icc", legacy: "GroupInviteCodeChanged", typ: typeOf[events.InviteCodeChanged]()},
	{tag: "fz", legacy: "ChatFrozen", typ: typeOf[events.Frozen]()},
	{tag: "ufz", legacy: "ChatUnfrozen", typ: typeOf[events.Unfrozen]()},
	{tag: "ttl", legacy: "EventsTimeToLiveUpdated", typ: typeOf[events.EventsTTLUpdated]()},
	{tag: "gu", legacy: "GroupGateUpdated", typ: typeOf[events.GateUpdated]()},
	{tag: "ui", legacy: "UsersInvited", typ: typeOf[events.UsersInvited]()},
	{tag: "adc", legacy: "MembersAddedToPublicChannel", typ: typeOf[events.MembersAddedToDefaultChannel]()},
	{tag: "xu", legacy: "ExternalUrlUpdated", typ: typeOf[events.ExternalURLUpdated]()},
	{tag: "ba", legacy: "BotAdded", typ: typeOf[events.BotAdded]()},
	{tag: "br", legacy: "BotRemoved", typ: typeOf[events.BotRemoved]()},
	{tag: "bu", legacy: "BotUpdated", typ: typeOf[events.BotUpdated]()},
	{tag: "e", legacy: "Empty", typ: typeOf[events.Empty](), unit: true},
	{tag: "fd", legacy: "FailedToDeserialize", typ: typeOf[events.FailedToDeserialize](), unit: true},
})

var (
	contentIface = typeOf[content.Internal]()
	eventIface   = typeOf[events.Event]()
)

// ContentTag returns the wire tag of c.
func ContentTag(c content.Internal) string {
	if v, ok := contentUnion.byType[reflect.TypeOf(c).Elem()]; ok {
		return v.tag
	}
	return ""
}

// EventTag returns the wire tag of e.
func EventTag(e events.Event) string {
	if v, ok := eventUnion.byType[reflect.TypeOf(e).Elem()]; ok {
		return v.tag
	}
	return ""
}
