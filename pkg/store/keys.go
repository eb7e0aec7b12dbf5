package store

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/liangmulu/open-chat/pkg/models"
)

// Key format constants and padding widths. Keep these in one place so
// formatting and parsing stay consistent.
const (
	chatMetaPrefix = "chat:"
	chatMetaFmt    = "chat:%s"
	mainEventFmt   = "ev:%s:m:%s"
	threadEventFmt = "ev:%s:t:%s:%s"
	jobPrefix      = "job:"
	jobKeyFmt      = "job:%s"
	versionKey     = "system:version"
	migrationKey   = "system:migration_in_progress"

	indexPadWidth = 10 // fits every uint32
)

var idRegexp = regexp.MustCompile(`^[A-Za-z0-9._-]{1,256}$`)

// ValidateChat ensures a chat id is safe to embed in keys.
func ValidateChat(chat models.Chat) error {
	if chat.ID == "" {
		return errors.New("chat id empty")
	}
	if !idRegexp.MatchString(chat.ID) {
		return fmt.Errorf("invalid chat id: %q", chat.ID)
	}
	if chat.Key() == "" {
		return fmt.Errorf("invalid chat kind: %d", chat.Kind)
	}
	return nil
}

// FormatIndex returns a zero-padded event or message index.
func FormatIndex(i uint32) string {
	return fmt.Sprintf("%0*d", indexPadWidth, i)
}

// ParseIndex parses an index formatted with FormatIndex.
func ParseIndex(s string) (uint32, error) {
	if len(s) == 0 || len(s) > indexPadWidth {
		return 0, fmt.Errorf("index length invalid: %s", s)
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse index: %w", err)
	}
	return uint32(v), nil
}

func ChatMetaKey(chat models.Chat) string {
	return fmt.Sprintf(chatMetaFmt, chat.Key())
}

// EventKey returns the key of one event in the main log (thread nil) or
// in the thread rooted at *thread.
func EventKey(chat models.Chat, thread *models.MessageIndex, i models.EventIndex) string {
	if thread == nil {
		return fmt.Sprintf(mainEventFmt, chat.Key(), FormatIndex(uint32(i)))
	}
	return fmt.Sprintf(threadEventFmt, chat.Key(), FormatIndex(uint32(*thread)), FormatIndex(uint32(i)))
}

// EventPrefix covers every event of a chat, main log and threads.
func EventPrefix(chat models.Chat) string {
	return "ev:" + chat.Key() + ":"
}

// ThreadPrefix covers every event of one thread.
func ThreadPrefix(chat models.Chat, root models.MessageIndex) string {
	return fmt.Sprintf("ev:%s:t:%s:", chat.Key(), FormatIndex(uint32(root)))
}

// ParseEventKey splits the part of an event key after EventPrefix into
// thread and index.
func ParseEventKey(chat models.Chat, key string) (*models.MessageIndex, models.EventIndex, error) {
	rest, ok := strings.CutPrefix(key, EventPrefix(chat))
	if !ok {
		return nil, 0, fmt.Errorf("key %q is not an event of %s", key, chat)
	}
	parts := strings.Split(rest, ":")
	switch {
	case len(parts) == 2 && parts[0] == "m":
		i, err := ParseIndex(parts[1])
		if err != nil {
			return nil, 0, err
		}
		return nil, models.EventIndex(i), nil
	case len(parts) == 3 && parts[0] == "t":
		root, err := ParseIndex(parts[1])
		if err != nil {
			return nil, 0, err
		}
		i, err := ParseIndex(parts[2])
		if err != nil {
			return nil, 0, err
		}
		r := models.MessageIndex(root)
		return &r, models.EventIndex(i), nil
	}
	return nil, 0, fmt.Errorf("invalid event key: %q", key)
}

func JobKey(id string) string {
	return fmt.Sprintf(jobKeyFmt, id)
}

// prefixEnd returns the first key after every key starting with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
