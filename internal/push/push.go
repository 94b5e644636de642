// Package push is the conversation fan-out channel. A Broker carries
// message-created events between server instances and connected clients.
// Consumers must not assume ordering, uniqueness or delivery: the channel may
// duplicate, delay or drop events and the sync engine tolerates all three.
package push

import (
	"context"
	"fmt"

	"dm-service/internal/models"
)

// EventNewMessage is emitted whenever a message is persisted.
const EventNewMessage = "new-message"

// Event is the payload delivered on a conversation topic.
type Event struct {
	Type    string         `json:"type"`
	Message models.Message `json:"message"`
}

// Topic derives the canonical subject for the unordered pair of user ids.
// Both participants compute the same topic regardless of argument order.
func Topic(userID, otherID int) string {
	if otherID < userID {
		userID, otherID = otherID, userID
	}
	return fmt.Sprintf("dm.conversation.%d.%d", userID, otherID)
}

// Subscription is a live event stream for one topic. Close must be called on
// every exit path of the consumer; after Close the Events channel is closed.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Broker publishes and subscribes conversation events.
type Broker interface {
	Publish(ctx context.Context, topic string, ev Event) error
	Subscribe(topic string) (Subscription, error)
	Close() error
}
