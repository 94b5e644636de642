// Package msgsync maintains the message list of one open conversation. It
// merges optimistic local sends, confirmed store writes and push events into
// a single ordered, duplicate-free sequence, converging to the same state
// regardless of the arrival order between the write confirmation and the
// push event for the same logical message.
package msgsync

import (
	"time"

	"dm-service/internal/models"
)

// Entry is one element of the conversation sequence: either an Optimistic
// local send awaiting confirmation, or a Confirmed durable message. The two
// carry distinct identifier types, so a local id can never be compared
// against a durable one.
type Entry interface {
	entry()
}

// Optimistic is a locally originated message shown before the store confirms
// the write. LocalID doubles as the correlation token attached to the write
// request; the server echoes it on the durable message.
type Optimistic struct {
	LocalID    string
	Content    string
	SenderID   int
	ReceiverID int
	CreatedAt  time.Time
}

func (Optimistic) entry() {}

// Confirmed wraps a durable message from the store.
type Confirmed struct {
	Message models.Message
}

func (Confirmed) entry() {}
