package domain

import (
	"strings"
	"time"
)

// ChatKind is the audience size of the chat a message arrived in.
type ChatKind string

const (
	KindPrivate    ChatKind = "private"
	KindGroup      ChatKind = "group"
	KindSupergroup ChatKind = "supergroup"
	KindChannel    ChatKind = "channel"
)

// ParseChatKind maps a provider chat type onto a ChatKind.
// Unknown types fall back to KindGroup.
func ParseChatKind(s string) ChatKind {
	switch ChatKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindPrivate:
		return KindPrivate
	case KindSupergroup:
		return KindSupergroup
	case KindChannel:
		return KindChannel
	case KindGroup:
		return KindGroup
	default:
		return KindGroup
	}
}

// InboundMessage is the canonical form of one webhook delivery.
// It is built once by a channel adapter and never mutated afterwards.
type InboundMessage struct {
	Channel        string // "telegram" | "whatsapp"
	ChatID         string
	ChatTitle      string
	Kind           ChatKind
	SenderID       string
	SenderName     string
	SenderUsername string
	Text           string
	UpdateID       int
	Timestamp      time.Time
}

// IsCommand reports whether the message text starts with the command prefix.
func (m InboundMessage) IsCommand() bool {
	return strings.HasPrefix(m.Text, CommandPrefix)
}

// CommandPrefix marks slash-commands.
const CommandPrefix = "/"

// TopicMatch is the ordered set of vocabulary keywords found in a message.
type TopicMatch []string

// Matched reports whether any keyword was found.
func (t TopicMatch) Matched() bool { return len(t) > 0 }

// ResponseDecision is the outcome of the response policy for one message.
type ResponseDecision struct {
	Respond bool
	Text    string
}
