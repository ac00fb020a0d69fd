package domain

import "time"

// FeedbackEvent is recorded whenever a topic is detected in an inbound message.
// Events are append-only; retention is handled outside the gateway.
type FeedbackEvent struct {
	SenderID   string    `json:"user_id"`
	SenderName string    `json:"user_name"`
	Username   string    `json:"username,omitempty"`
	Text       string    `json:"text"`
	Keywords   []string  `json:"keywords"`
	ChatID     string    `json:"chat_id"`
	ChatTitle  string    `json:"chat_title"`
	ChatKind   ChatKind  `json:"chat_type"`
	Channel    string    `json:"channel"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewFeedbackEvent builds the event for a message and its matched keywords.
func NewFeedbackEvent(msg InboundMessage, keywords TopicMatch, now time.Time) FeedbackEvent {
	name := msg.SenderName
	if name == "" {
		name = "Unknown"
	}
	title := msg.ChatTitle
	if title == "" {
		title = "Private Chat"
	}
	return FeedbackEvent{
		SenderID:   msg.SenderID,
		SenderName: name,
		Username:   msg.SenderUsername,
		Text:       msg.Text,
		Keywords:   append([]string(nil), keywords...),
		ChatID:     msg.ChatID,
		ChatTitle:  title,
		ChatKind:   msg.Kind,
		Channel:    msg.Channel,
		Timestamp:  now,
	}
}
