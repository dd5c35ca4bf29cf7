// Package transport defines the chat-delivery boundary the Strategy
// Renderer invokes. It is deliberately minimal and untrusted: any
// failure here becomes a send failure for the calling outbox event, and
// successful delivery is never assumed idempotent by the transport
// itself; that guarantee comes from the receipt store.
package transport

import "context"

// MediaItem is a single media attachment to send as part of a group.
// Caption is only honored on the first item of a group by convention;
// callers building later items leave it blank.
type MediaItem struct {
	Source  string
	Caption string
}

// Action is an inline call-to-action attached to a text message.
type Action struct {
	Label string
	URL   string
}

// Transport accepts a rendered message bundle and returns message IDs.
// Both operations may fail; any failure propagates as a send failure for
// the event.
type Transport interface {
	SendMediaGroup(ctx context.Context, chat string, items []MediaItem) ([]string, error)
	SendMessage(ctx context.Context, chat string, text string, action *Action) (string, error)
}
