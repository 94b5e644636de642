package ws

import (
	"log"
	"sync"

	"dm-service/internal/push"
)

// Bridge subscribes this instance to conversation topics on the push broker
// and relays events into the hub's rooms. Topics are subscribed on the first
// local client and released when the room empties, so an instance only
// listens to conversations it is actually showing.
type Bridge struct {
	broker push.Broker
	hub    *Hub
	mu     sync.Mutex
	subs   map[string]push.Subscription
}

// NewBridge wires a bridge between broker and hub.
func NewBridge(broker push.Broker, hub *Hub) *Bridge {
	return &Bridge{broker: broker, hub: hub, subs: make(map[string]push.Subscription)}
}

// Ensure subscribes the topic if this instance is not yet listening.
func (b *Bridge) Ensure(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[topic]; ok {
		return nil
	}
	sub, err := b.broker.Subscribe(topic)
	if err != nil {
		return err
	}
	b.subs[topic] = sub
	go b.pump(topic, sub)
	return nil
}

// Release drops the topic subscription if no local clients remain.
func (b *Bridge) Release(topic string) {
	if b.hub.RoomSize(topic) > 0 {
		return
	}
	b.mu.Lock()
	sub, ok := b.subs[topic]
	if ok {
		delete(b.subs, topic)
	}
	b.mu.Unlock()
	if ok {
		if err := sub.Close(); err != nil {
			log.Printf("ws: release topic %s: %v", topic, err)
		}
	}
}

// Close releases every topic subscription.
func (b *Bridge) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]push.Subscription)
	b.mu.Unlock()
	for topic, sub := range subs {
		if err := sub.Close(); err != nil {
			log.Printf("ws: close topic %s: %v", topic, err)
		}
	}
}

func (b *Bridge) pump(topic string, sub push.Subscription) {
	for ev := range sub.Events() {
		b.hub.Broadcast(topic, ev)
	}
}
