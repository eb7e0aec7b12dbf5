package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// ChatKind distinguishes direct chats from multi user chats.
type ChatKind uint8

const (
	ChatDirect ChatKind = iota + 1
	ChatGroup
	ChatChannel
)

func (k ChatKind) String() string {
	switch k {
	case ChatDirect:
		return "direct"
	case ChatGroup:
		return "group"
	case ChatChannel:
		return "channel"
	default:
		return "unknown"
	}
}

// Chat identifies a direct chat, a group, or a channel inside a community.
type Chat struct {
	Kind    ChatKind
	ID      string // user id of the other party, group id, or community id
	Channel uint32
}

func DirectChat(other string) Chat { return Chat{Kind: ChatDirect, ID: other} }

func GroupChat(id string) Chat { return Chat{Kind: ChatGroup, ID: id} }

func ChannelChat(community string, ch uint32) Chat {
	return Chat{Kind: ChatChannel, ID: community, Channel: ch}
}

// Key returns the stable text form used in storage keys and logs.
func (c Chat) Key() string {
	switch c.Kind {
	case ChatDirect:
		return "d:" + c.ID
	case ChatGroup:
		return "g:" + c.ID
	case ChatChannel:
		return "c:" + c.ID + ":" + strconv.FormatUint(uint64(c.Channel), 10)
	default:
		return ""
	}
}

func (c Chat) String() string { return c.Key() }

// ParseChatKey is the inverse of Chat.Key.
func ParseChatKey(s string) (Chat, error) {
	parts := strings.Split(s, ":")
	switch {
	case len(parts) == 2 && parts[0] == "d" && parts[1] != "":
		return DirectChat(parts[1]), nil
	case len(parts) == 2 && parts[0] == "g" && parts[1] != "":
		return GroupChat(parts[1]), nil
	case len(parts) == 3 && parts[0] == "c" && parts[1] != "":
		ch, err := strconv.ParseUint(parts[2], 10, 32)
		if err != nil {
			return Chat{}, fmt.Errorf("invalid channel in chat key %q: %w", s, err)
		}
		return ChannelChat(parts[1], uint32(ch)), nil
	}
	return Chat{}, fmt.Errorf("invalid chat key %q", s)
}

var _ msgpack.CustomEncoder = Chat{}
var _ msgpack.CustomDecoder = (*Chat)(nil)

// EncodeMsgpack writes {"d":id}, {"g":id} or {"c":[community,channel]}.
func (c Chat) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(1); err != nil {
		return err
	}
	switch c.Kind {
	case ChatDirect:
		if err := enc.EncodeString("d"); err != nil {
			return err
		}
		return enc.EncodeString(c.ID)
	case ChatGroup:
		if err := enc.EncodeString("g"); err != nil {
			return err
		}
		return enc.EncodeString(c.ID)
	case ChatChannel:
		if err := enc.EncodeString("c"); err != nil {
			return err
		}
		if err := enc.EncodeArrayLen(2); err != nil {
			return err
		}
		if err := enc.EncodeString(c.ID); err != nil {
			return err
		}
		return enc.EncodeUint(uint64(c.Channel))
	}
	return fmt.Errorf("cannot encode chat of kind %d", c.Kind)
}

func (c *Chat) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("chat: expected single entry map, got %d", n)
	}
	tag, err := dec.DecodeString()
	if err != nil {
		return err
	}
	switch tag {
	case "d", "g":
		id, err := dec.DecodeString()
		if err != nil {
			return err
		}
		if tag == "d" {
			*c = DirectChat(id)
		} else {
			*c = GroupChat(id)
		}
		return nil
	case "c":
		l, err := dec.DecodeArrayLen()
		if err != nil {
			return err
		}
		if l != 2 {
			return fmt.Errorf("chat: channel tuple has %d items", l)
		}
		id, err := dec.DecodeString()
		if err != nil {
			return err
		}
		ch, err := dec.DecodeUint32()
		if err != nil {
			return err
		}
		*c = ChannelChat(id, ch)
		return nil
	}
	return fmt.Errorf("chat: unknown tag %q", tag)
}
