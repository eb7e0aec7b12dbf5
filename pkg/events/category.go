package events

import (
	"github.com/liangmulu/open-chat/pkg/models"
)

// Category groups event types for filtered queries and bot fan-out.
type Category uint8

const (
	CategoryMessage Category = iota
	CategoryMembership
	CategoryDetails
)

func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "message"
	case CategoryMembership:
		return "membership"
	case CategoryDetails:
		return "details"
	}
	return "unknown"
}

// EventType is the stable name of an event kind. Values are metric keys.
type EventType string

const (
	// Message category. The non plain variants describe mutations of an
	// existing message rather than appended events.
	TypeMessage                 EventType = "message"
	TypeMessageEdited           EventType = "message_edited"
	TypeMessageReaction         EventType = "message_reaction"
	TypeMessageTipped           EventType = "message_tipped"
	TypeMessageDeleted          EventType = "message_deleted"
	TypeMessageUndeleted        EventType = "message_undeleted"
	TypeMessagePollVote         EventType = "message_poll_vote"
	TypeMessagePollEnded        EventType = "message_poll_ended"
	TypeMessagePrizeClaim       EventType = "message_prize_claim"
	TypeMessageP2PSwapCompleted EventType = "message_p2p_swap_completed"
	TypeMessageP2PSwapCancelled EventType = "message_p2p_swap_cancelled"
	TypeMessageVideoCall        EventType = "message_video_call"
	TypeMessageOther            EventType = "message_other"

	// Details category.
	TypeCreated                     EventType = "created"
	TypeNameChanged                 EventType = "name_changed"
	TypeDescriptionChanged          EventType = "description_changed"
	TypeRulesChanged                EventType = "rules_changed"
	TypeAvatarChanged               EventType = "avatar_changed"
	TypeBannerChanged               EventType = "banner_changed"
	TypeExternalURLUpdated          EventType = "external_url_updated"
	TypePermissionsChanged          EventType = "permissions_changed"
	TypeGateUpdated                 EventType = "gate_updated"
	TypeVisibilityChanged           EventType = "visibility_changed"
	TypeInviteCodeChanged           EventType = "invite_code_changed"
	TypeFrozen                      EventType = "frozen"
	TypeUnfrozen                    EventType = "unfrozen"
	TypeDisappearingMessagesUpdated EventType = "disappearing_messages_updated"
	TypeMessagePinned               EventType = "message_pinned"
	TypeMessageUnpinned             EventType = "message_unpinned"

	// Membership category.
	TypeMembersJoined  EventType = "members_joined"
	TypeMembersLeft    EventType = "members_left"
	TypeRoleChanged    EventType = "role_changed"
	TypeUsersInvited   EventType = "users_invited"
	TypeUsersBlocked   EventType = "users_blocked"
	TypeUsersUnblocked EventType = "users_unblocked"
	TypeBotAdded       EventType = "bot_added"
	TypeBotRemoved     EventType = "bot_removed"
	TypeBotUpdated     EventType = "bot_updated"
)

// AppendedTypes lists the event types an appended event can map to, in a
// fixed order. Mutation-only message types are not included.
var AppendedTypes = []EventType{
	TypeMessage,
	TypeCreated, TypeNameChanged, TypeDescriptionChanged, TypeRulesChanged, TypeAvatarChanged,
	TypeBannerChanged, TypeExternalURLUpdated, TypePermissionsChanged, TypeGateUpdated,
	TypeVisibilityChanged, TypeInviteCodeChanged, TypeFrozen, TypeUnfrozen,
	TypeDisappearingMessagesUpdated, TypeMessagePinned, TypeMessageUnpinned,
	TypeMembersJoined, TypeMembersLeft, TypeRoleChanged, TypeUsersInvited, TypeUsersBlocked,
	TypeUsersUnblocked, TypeBotAdded, TypeBotRemoved, TypeBotUpdated,
}

// Category returns the category t belongs to.
func (t EventType) Category() Category {
	switch t {
	case TypeMessage, TypeMessageEdited, TypeMessageReaction, TypeMessageTipped, TypeMessageDeleted,
		TypeMessageUndeleted, TypeMessagePollVote, TypeMessagePollEnded, TypeMessagePrizeClaim,
		TypeMessageP2PSwapCompleted, TypeMessageP2PSwapCancelled, TypeMessageVideoCall, TypeMessageOther:
		return CategoryMessage
	case TypeMembersJoined, TypeMembersLeft, TypeRoleChanged, TypeUsersInvited, TypeUsersBlocked,
		TypeUsersUnblocked, TypeBotAdded, TypeBotRemoved, TypeBotUpdated:
		return CategoryMembership
	}
	return CategoryDetails
}

// TypeOf maps e to its event type. Empty and FailedToDeserialize have
// none.
func TypeOf(e Event) (EventType, bool) {
	switch e.(type) {
	case *MessageInternal:
		return TypeMessage, true
	case *DirectChatCreated, *GroupCreated:
		return TypeCreated, true
	case *NameChanged:
		return TypeNameChanged, true
	case *DescriptionChanged:
		return TypeDescriptionChanged, true
	case *RulesChanged:
		return TypeRulesChanged, true
	case *AvatarChanged:
		return TypeAvatarChanged, true
	case *BannerChanged:
		return TypeBannerChanged, true
	case *MembersAdded, *MemberJoined, *MembersAddedToDefaultChannel:
		return TypeMembersJoined, true
	case *MembersRemoved, *MemberLeft:
		return TypeMembersLeft, true
	case *RoleChanged:
		return TypeRoleChanged, true
	case *UsersBlocked:
		return TypeUsersBlocked, true
	case *UsersUnblocked:
		return TypeUsersUnblocked, true
	case *MessagePinned:
		return TypeMessagePinned, true
	case *MessageUnpinned:
		return TypeMessageUnpinned, true
	case *PermissionsChanged:
		return TypePermissionsChanged, true
	case *VisibilityChanged:
		return TypeVisibilityChanged, true
	case *InviteCodeChanged:
		return TypeInviteCodeChanged, true
	case *Frozen:
		return TypeFrozen, true
	case *Unfrozen:
		return TypeUnfrozen, true
	case *EventsTTLUpdated:
		return TypeDisappearingMessagesUpdated, true
	case *GateUpdated:
		return TypeGateUpdated, true
	case *UsersInvited:
		return TypeUsersInvited, true
	case *ExternalURLUpdated:
		return TypeExternalURLUpdated, true
	case *BotAdded:
		return TypeBotAdded, true
	case *BotRemoved:
		return TypeBotRemoved, true
	case *BotUpdated:
		return TypeBotUpdated, true
	case *Empty, *FailedToDeserialize:
		return "", false
	}
	panic(unknownEvent(e))
}

// CategoryOf returns the category of e. Empty and FailedToDeserialize
// have none.
func CategoryOf(e Event) (Category, bool) {
	t, ok := TypeOf(e)
	if !ok {
		return 0, false
	}
	return t.Category(), true
}

// ValidFor reports whether e may be appended to a log of the given chat
// kind, or to a thread of such a chat.
func ValidFor(e Event, kind models.ChatKind, inThread bool) bool {
	if inThread {
		return IsMessage(e)
	}
	switch e.(type) {
	case *MessageInternal, *EventsTTLUpdated:
		return true
	case *DirectChatCreated:
		return kind == models.ChatDirect
	case *Empty, *FailedToDeserialize:
		return false
	case *GroupCreated, *NameChanged, *DescriptionChanged, *RulesChanged, *AvatarChanged, *BannerChanged,
		*MembersAdded, *MembersRemoved, *MemberJoined, *MemberLeft, *RoleChanged, *UsersBlocked,
		*UsersUnblocked, *MessagePinned, *MessageUnpinned, *PermissionsChanged, *VisibilityChanged,
		*InviteCodeChanged, *Frozen, *Unfrozen, *GateUpdated, *UsersInvited, *MembersAddedToDefaultChannel,
		*ExternalURLUpdated, *BotAdded, *BotRemoved, *BotUpdated:
		return kind == models.ChatGroup || kind == models.ChatChannel
	}
	panic(unknownEvent(e))
}

type unknownEventError struct{ e Event }

func (unknownEventError) Error() string { return "events: unknown event variant" }

func unknownEvent(e Event) error { return unknownEventError{e} }
