// Command inspect dumps stored chat events as JSON lines, one per event,
// flagging events written in a legacy layout and events that no longer
// decode.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/liangmulu/open-chat/pkg/chatlog"
	"github.com/liangmulu/open-chat/pkg/codec"
	"github.com/liangmulu/open-chat/pkg/logger"
	"github.com/liangmulu/open-chat/pkg/models"
	"github.com/liangmulu/open-chat/pkg/state"
	"github.com/liangmulu/open-chat/pkg/store"
)

type line struct {
	Chat      string                  `json:"chat"`
	Thread    *models.MessageIndex    `json:"thread,omitempty"`
	Index     models.EventIndex       `json:"index"`
	Version   string                  `json:"version"`
	Legacy    bool                    `json:"legacy,omitempty"`
	Poison    bool                    `json:"poison,omitempty"`
	Event     string                  `json:"event,omitempty"`
	Timestamp models.TimestampMillis  `json:"timestamp"`
	ExpiresAt *models.TimestampMillis `json:"expires_at,omitempty"`
	Bytes     int                     `json:"bytes"`
	Error     string                  `json:"error,omitempty"`
}

type summary struct {
	Chats  int `json:"chats"`
	Events int `json:"events"`
	Legacy int `json:"legacy"`
	Poison int `json:"poison"`
}

type source interface {
	ListChats() ([]models.Chat, error)
	LoadChat(chat models.Chat) (*chatlog.Meta, []chatlog.Record, error)
}

// dump writes one line per stored event of chats, or of every chat when
// chats is empty, followed by a summary line.
func dump(w io.Writer, src source, chats []models.Chat) (summary, error) {
	var sum summary
	if len(chats) == 0 {
		all, err := src.ListChats()
		if err != nil {
			return sum, fmt.Errorf("list chats: %w", err)
		}
		chats = all
	}
	enc := json.NewEncoder(w)
	for _, chat := range chats {
		_, records, err := src.LoadChat(chat)
		if err != nil {
			return sum, fmt.Errorf("load %s: %w", chat.Key(), err)
		}
		sum.Chats++
		for _, r := range records {
			l := describe(chat, r)
			if err := enc.Encode(l); err != nil {
				return sum, err
			}
			sum.count(l)
		}
	}
	return sum, nil
}

func describe(chat models.Chat, r chatlog.Record) line {
	l := line{Chat: chat.Key(), Thread: r.Thread, Index: r.Index, Bytes: len(r.Value)}
	env, v, err := codec.DecodeEventVersion(r.Value)
	l.Version = v.String()
	l.Timestamp = env.Timestamp
	l.ExpiresAt = env.ExpiresAt
	if err != nil {
		l.Poison = true
		l.Error = err.Error()
		return l
	}
	l.Legacy = v != codec.Current
	l.Event = codec.EventTag(env.Event)
	return l
}

func (s *summary) count(l line) {
	s.Events++
	if l.Legacy {
		s.Legacy++
	}
	if l.Poison {
		s.Poison++
	}
}

func main() {
	os.Exit(run())
}

func run() int {
	var dbPath, chatKey string
	flag.StringVar(&dbPath, "db", "./.chatlog", "database root directory")
	flag.StringVar(&chatKey, "chat", "", "only dump this chat key (e.g. g:abc)")
	flag.Parse()

	logger.InitWriter(os.Stderr, "warn")

	var chats []models.Chat
	if chatKey != "" {
		chat, err := models.ParseChatKey(chatKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid --chat: %v\n", err)
			return 2
		}
		chats = append(chats, chat)
	}

	st, err := store.Open(state.PathsFor(dbPath).Store, store.Options{ReadOnly: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		return 1
	}
	defer st.Close()

	sum, err := dump(os.Stdout, st, chats)
	if err != nil {
		fmt.Fprintf(os.Stderr, "inspect: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "chats=%d events=%d legacy=%d poison=%d\n", sum.Chats, sum.Events, sum.Legacy, sum.Poison)
	return 0
}
