// Package events defines the closed union of everything a chat log
// records, the envelope that indexes it, and the viewer relative views
// built from both.
package events

import (
	"github.com/liangmulu/open-chat/pkg/models"
)

// Event is one recorded change. The set of implementations is closed.
type Event interface {
	isEvent()
}

func (*MessageInternal) isEvent()              {}
func (*DirectChatCreated) isEvent()            {}
func (*GroupCreated) isEvent()                 {}
func (*NameChanged) isEvent()                  {}
func (*DescriptionChanged) isEvent()           {}
func (*RulesChanged) isEvent()                 {}
func (*AvatarChanged) isEvent()                {}
func (*BannerChanged) isEvent()                {}
func (*MembersAdded) isEvent()                 {}
func (*MembersRemoved) isEvent()               {}
func (*MemberJoined) isEvent()                 {}
func (*MemberLeft) isEvent()                   {}
func (*RoleChanged) isEvent()                  {}
func (*UsersBlocked) isEvent()                 {}
func (*UsersUnblocked) isEvent()               {}
func (*MessagePinned) isEvent()                {}
func (*MessageUnpinned) isEvent()              {}
func (*PermissionsChanged) isEvent()           {}
func (*VisibilityChanged) isEvent()            {}
func (*InviteCodeChanged) isEvent()            {}
func (*Frozen) isEvent()                       {}
func (*Unfrozen) isEvent()                     {}
func (*EventsTTLUpdated) isEvent()             {}
func (*GateUpdated) isEvent()                  {}
func (*UsersInvited) isEvent()                 {}
func (*MembersAddedToDefaultChannel) isEvent() {}
func (*ExternalURLUpdated) isEvent()           {}
func (*BotAdded) isEvent()                     {}
func (*BotRemoved) isEvent()                   {}
func (*BotUpdated) isEvent()                   {}
func (*Empty) isEvent()                        {}
func (*FailedToDeserialize) isEvent()          {}

type GroupRole string

const (
	RoleOwner     GroupRole = "owner"
	RoleAdmin     GroupRole = "admin"
	RoleModerator GroupRole = "moderator"
	RoleMember    GroupRole = "member"
)

// GroupPermissions maps a permission name to the lowest role holding it.
type GroupPermissions map[string]GroupRole

type InviteCodeChange string

const (
	InviteCodeEnabled  InviteCodeChange = "enabled"
	InviteCodeDisabled InviteCodeChange = "disabled"
	InviteCodeReset    InviteCodeChange = "reset"
)

type AccessGateConfig struct {
	Gate   string               `msgpack:"g" json:"gate"`
	Expiry *models.Milliseconds `msgpack:"e,omitempty" json:"expiry,omitempty"`
}

type DirectChatCreated struct{}

type GroupCreated struct {
	Name        string        `msgpack:"n" legacy:"name" json:"name"`
	Description string        `msgpack:"d" legacy:"description" json:"description"`
	CreatedBy   models.UserID `msgpack:"b" legacy:"created_by" json:"created_by"`
}

type NameChanged struct {
	NewName      string        `msgpack:"n" legacy:"new_name" json:"new_name"`
	PreviousName string        `msgpack:"p" legacy:"previous_name" json:"previous_name"`
	ChangedBy    models.UserID `msgpack:"b" legacy:"changed_by" json:"changed_by"`
}

type DescriptionChanged struct {
	NewDescription      string        `msgpack:"n" legacy:"new_description" json:"new_description"`
	PreviousDescription string        `msgpack:"p" legacy:"previous_description" json:"previous_description"`
	ChangedBy           models.UserID `msgpack:"b" legacy:"changed_by" json:"changed_by"`
}

type RulesChanged struct {
	Enabled     bool          `msgpack:"e" legacy:"enabled" json:"enabled"`
	PrevEnabled bool          `msgpack:"p" legacy:"prev_enabled" json:"prev_enabled"`
	ChangedBy   models.UserID `msgpack:"b" legacy:"changed_by" json:"changed_by"`
}

type AvatarChanged struct {
	NewAvatar      *uint64       `msgpack:"n,omitempty" legacy:"new_avatar" json:"new_avatar,omitempty"`
	PreviousAvatar *uint64       `msgpack:"p,omitempty" legacy:"previous_avatar" json:"previous_avatar,omitempty"`
	ChangedBy      models.UserID `msgpack:"b" legacy:"changed_by" json:"changed_by"`
}

type BannerChanged struct {
	NewBanner      *uint64       `msgpack:"n,omitempty" legacy:"new_banner" json:"new_banner,omitempty"`
	PreviousBanner *uint64       `msgpack:"p,omitempty" legacy:"previous_banner" json:"previous_banner,omitempty"`
	ChangedBy      models.UserID `msgpack:"b" legacy:"changed_by" json:"changed_by"`
}

type MembersAdded struct {
	UserIDs   []models.UserID `msgpack:"u" legacy:"user_ids" json:"user_ids"`
	AddedBy   models.UserID   `msgpack:"b" legacy:"added_by" json:"added_by"`
	Unblocked []models.UserID `msgpack:"ub,omitempty" legacy:"unblocked" json:"unblocked,omitempty"`
}

type MembersRemoved struct {
	UserIDs   []models.UserID `msgpack:"u" legacy:"user_ids" json:"user_ids"`
	RemovedBy models.UserID   `msgpack:"b" legacy:"removed_by" json:"removed_by"`
}

type MemberJoined struct {
	UserID    models.UserID  `msgpack:"u" legacy:"user_id" json:"user_id"`
	InvitedBy *models.UserID `msgpack:"i,omitempty" legacy:"invited_by" json:"invited_by,omitempty"`
}

type MemberLeft struct {
	UserID models.UserID `msgpack:"u" legacy:"user_id" json:"user_id"`
}

type RoleChanged struct {
	UserIDs   []models.UserID `msgpack:"u" legacy:"user_ids" json:"user_ids"`
	ChangedBy models.UserID   `msgpack:"b" legacy:"changed_by" json:"changed_by"`
	OldRole   GroupRole       `msgpack:"o" legacy:"old_role" json:"old_role"`
	NewRole   GroupRole       `msgpack:"n" legacy:"new_role" json:"new_role"`
}

type UsersBlocked struct {
	UserIDs   []models.UserID `msgpack:"u" legacy:"user_ids" json:"user_ids"`
	BlockedBy models.UserID   `msgpack:"b" legacy:"blocked_by" json:"blocked_by"`
}

type UsersUnblocked struct {
	UserIDs     []models.UserID `msgpack:"u" legacy:"user_ids" json:"user_ids"`
	UnblockedBy models.UserID   `msgpack:"b" legacy:"unblocked_by" json:"unblocked_by"`
}

type MessagePinned struct {
	MessageIndex models.MessageIndex `msgpack:"m" legacy:"message_index" json:"message_index"`
	PinnedBy     models.UserID       `msgpack:"b" legacy:"pinned_by" json:"pinned_by"`
}

type MessageUnpinned struct {
	MessageIndex        models.MessageIndex `msgpack:"m" legacy:"message_index" json:"message_index"`
	UnpinnedBy          models.UserID       `msgpack:"b" legacy:"unpinned_by" json:"unpinned_by"`
	DueToMessageDeleted bool                `msgpack:"d,omitempty" legacy:"due_to_message_deleted" json:"due_to_message_deleted"`
}

type PermissionsChanged struct {
	OldPermissions GroupPermissions `msgpack:"o" legacy:"old_permissions_v2" json:"old_permissions"`
	NewPermissions GroupPermissions `msgpack:"n" legacy:"new_permissions_v2" json:"new_permissions"`
	ChangedBy      models.UserID    `msgpack:"b" legacy:"changed_by" json:"changed_by"`
}

type VisibilityChanged struct {
	Public                      *bool         `msgpack:"p,omitempty" legacy:"public" json:"public,omitempty"`
	MessagesVisibleToNonMembers *bool         `msgpack:"m,omitempty" legacy:"messages_visible_to_non_members" json:"messages_visible_to_non_members,omitempty"`
	ChangedBy                   models.UserID `msgpack:"b" legacy:"changed_by" json:"changed_by"`
}

type InviteCodeChanged struct {
	Change    InviteCodeChange `msgpack:"c" legacy:"change" json:"change"`
	ChangedBy models.UserID    `msgpack:"b" legacy:"changed_by" json:"changed_by"`
}

type Frozen struct {
	FrozenBy models.UserID `msgpack:"b" legacy:"frozen_by" json:"frozen_by"`
	Reason   *string       `msgpack:"r,omitempty" legacy:"reason" json:"reason,omitempty"`
}

type Unfrozen struct {
	UnfrozenBy models.UserID `msgpack:"b" legacy:"unfrozen_by" json:"unfrozen_by"`
}

// EventsTTLUpdated changes the time to live applied to new events. A nil
// NewTTL disables expiry.
type EventsTTLUpdated struct {
	UpdatedBy models.UserID        `msgpack:"b" legacy:"updated_by" json:"updated_by"`
	NewTTL    *models.Milliseconds `msgpack:"t,omitempty" legacy:"new_ttl" json:"new_ttl,omitempty"`
}

type GateUpdated struct {
	UpdatedBy     models.UserID     `msgpack:"b" legacy:"updated_by" json:"updated_by"`
	NewGateConfig *AccessGateConfig `msgpack:"g,omitempty" legacy:"new_gate_config" json:"new_gate_config,omitempty"`
}

type UsersInvited struct {
	UserIDs   []models.UserID `msgpack:"u" legacy:"user_ids" json:"user_ids"`
	InvitedBy models.UserID   `msgpack:"b" legacy:"invited_by" json:"invited_by"`
}

type MembersAddedToDefaultChannel struct {
	UserIDs []models.UserID `msgpack:"u" legacy:"user_ids" json:"user_ids"`
}

type ExternalURLUpdated struct {
	UpdatedBy models.UserID `msgpack:"b" legacy:"updated_by" json:"updated_by"`
	NewURL    *string       `msgpack:"u,omitempty" legacy:"new_url" json:"new_url,omitempty"`
}

type BotAdded struct {
	UserID  models.UserID `msgpack:"u" legacy:"user_id" json:"user_id"`
	AddedBy models.UserID `msgpack:"b" legacy:"added_by" json:"added_by"`
}

type BotRemoved struct {
	UserID    models.UserID `msgpack:"u" legacy:"user_id" json:"user_id"`
	RemovedBy models.UserID `msgpack:"b" legacy:"removed_by" json:"removed_by"`
}

type BotUpdated struct {
	UserID    models.UserID `msgpack:"u" legacy:"user_id" json:"user_id"`
	UpdatedBy models.UserID `msgpack:"b" legacy:"updated_by" json:"updated_by"`
}

// Empty fills a slot whose event was cleared.
type Empty struct{}

// FailedToDeserialize stands in for an envelope whose bytes could not be
// read. Reason is kept in memory only.
type FailedToDeserialize struct {
	Reason string `msgpack:"-" json:"reason,omitempty"`
}

// IsMessage reports whether e is a message.
func IsMessage(e Event) bool {
	_, ok := e.(*MessageInternal)
	return ok
}

// AsMessage returns e as a message, if it is one.
func AsMessage(e Event) (*MessageInternal, bool) {
	m, ok := e.(*MessageInternal)
	return m, ok
}
