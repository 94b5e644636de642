package push

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NewBroker connects to NATS, or falls back to an in-process broker when no
// URL is configured or the connection fails. Single-node deployments work
// fine on the fallback; multi-node fan-out needs NATS.
func NewBroker(url string) Broker {
	if url == "" {
		log.Printf("nats disabled, using in-memory push broker")
		return NewMemoryBroker()
	}

	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		log.Printf("nats unavailable, using in-memory push broker: %v", err)
		return NewMemoryBroker()
	}

	log.Printf("nats connected url=%s", url)
	return &natsBroker{conn: conn}
}

type natsBroker struct {
	conn *nats.Conn
}

func (b *natsBroker) Publish(ctx context.Context, topic string, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.conn.Publish(topic, body)
}

func (b *natsBroker) Subscribe(topic string) (Subscription, error) {
	sub := &natsSubscription{events: make(chan Event, subscriptionBuffer)}
	natsSub, err := b.conn.Subscribe(topic, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("push: drop malformed event on %s: %v", topic, err)
			return
		}
		sub.deliver(ev)
	})
	if err != nil {
		return nil, err
	}
	sub.natsSub = natsSub
	return sub, nil
}

func (b *natsBroker) Close() error {
	b.conn.Close()
	return nil
}

type natsSubscription struct {
	natsSub *nats.Subscription
	events  chan Event
	mu      sync.Mutex
	closed  bool
}

func (s *natsSubscription) Events() <-chan Event { return s.events }

func (s *natsSubscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		// slow consumer, drop
	}
}

func (s *natsSubscription) Close() error {
	err := s.natsSub.Unsubscribe()
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()
	return err
}
