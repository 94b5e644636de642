package push

import (
	"context"
	"sync"
)

// subscriptionBuffer bounds the per-subscriber event queue. Events beyond the
// buffer are dropped rather than blocking the publisher; the channel contract
// allows drops and consumers recover via history reload.
const subscriptionBuffer = 64

// MemoryBroker is an in-process Broker. It backs tests and single-node
// deployments where no NATS server is configured.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[string]map[*memorySubscription]struct{}
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[*memorySubscription]struct{})}
}

// Publish delivers the event to every current subscriber of the topic.
func (b *MemoryBroker) Publish(ctx context.Context, topic string, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[topic] {
		select {
		case sub.events <- ev:
		default:
			// slow consumer, drop
		}
	}
	return nil
}

// Subscribe registers a new subscription for the topic.
func (b *MemoryBroker) Subscribe(topic string) (Subscription, error) {
	sub := &memorySubscription{
		broker: b,
		topic:  topic,
		events: make(chan Event, subscriptionBuffer),
	}
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*memorySubscription]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

// Close tears down all subscriptions.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]map[*memorySubscription]struct{})
	b.mu.Unlock()

	for _, set := range subs {
		for sub := range set {
			sub.closeChannel()
		}
	}
	return nil
}

// SubscriberCount reports the live subscriptions for a topic.
func (b *MemoryBroker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

type memorySubscription struct {
	broker *MemoryBroker
	topic  string
	events chan Event
	once   sync.Once
}

func (s *memorySubscription) Events() <-chan Event { return s.events }

func (s *memorySubscription) Close() error {
	s.broker.mu.Lock()
	if subs, ok := s.broker.subs[s.topic]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.broker.subs, s.topic)
		}
	}
	s.broker.mu.Unlock()
	s.closeChannel()
	return nil
}

func (s *memorySubscription) closeChannel() {
	s.once.Do(func() { close(s.events) })
}
