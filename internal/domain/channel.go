package domain

import "context"

// MediaKind identifies a non-text part of a reply.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaAudio MediaKind = "audio"
)

// Channel is the outbound capability shared by every messaging provider.
// Inbound parsing is provider specific and lives on the concrete adapters.
type Channel interface {
	Name() string
	SendText(ctx context.Context, chatID string, text string) error
	SendMedia(ctx context.Context, chatID string, kind MediaKind, url string) error
}
