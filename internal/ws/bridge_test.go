package ws

import (
	"testing"

	"dm-service/internal/push"
)

func TestBridgeSubscribesOncePerTopic(t *testing.T) {
	broker := push.NewMemoryBroker()
	bridge := NewBridge(broker, NewHub())
	topic := push.Topic(1, 2)

	if err := bridge.Ensure(topic); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := bridge.Ensure(topic); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if got := broker.SubscriberCount(topic); got != 1 {
		t.Fatalf("expected one broker subscription, got %d", got)
	}
}

func TestBridgeReleaseOnlyWhenRoomEmpty(t *testing.T) {
	broker := push.NewMemoryBroker()
	hub := NewHub()
	bridge := NewBridge(broker, hub)
	topic := push.Topic(1, 2)

	if err := bridge.Ensure(topic); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	hub.AddClient(topic, nil, ConnInfo{UserID: 1})

	bridge.Release(topic)
	if got := broker.SubscriberCount(topic); got != 1 {
		t.Fatalf("release with a live client must keep the subscription, got %d", got)
	}

	hub.RemoveClient(topic, nil)
	bridge.Release(topic)
	if got := broker.SubscriberCount(topic); got != 0 {
		t.Fatalf("expected subscription to be released, got %d", got)
	}
}

func TestBridgeCloseReleasesAllTopics(t *testing.T) {
	broker := push.NewMemoryBroker()
	bridge := NewBridge(broker, NewHub())

	topics := []string{push.Topic(1, 2), push.Topic(1, 3)}
	for _, topic := range topics {
		if err := bridge.Ensure(topic); err != nil {
			t.Fatalf("ensure: %v", err)
		}
	}

	bridge.Close()
	for _, topic := range topics {
		if got := broker.SubscriberCount(topic); got != 0 {
			t.Fatalf("expected %s released, got %d", topic, got)
		}
	}
}
