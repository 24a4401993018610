package channels

import (
	"context"
)

// Channel is a chat surface that turns incoming messages into agent
// commands and relays agent announcements back out.
type Channel interface {
	Name() string

	// Start runs until ctx is done or the channel cannot continue.
	Start(ctx context.Context) error
}
