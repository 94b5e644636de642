package client

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"dm-service/internal/push"
)

const eventBuffer = 64

// Subscribe opens the websocket for the conversation with the partner and
// returns it as a push.Subscription. The stream ends when the server closes
// the connection or Close is called.
func (c *Client) Subscribe(partnerID int) (push.Subscription, error) {
	endpoint := strings.Replace(c.baseURL, "http", "ws", 1) +
		"/ws/conversations/" + strconv.Itoa(partnerID) + "?token=" + c.token

	conn, resp, err := websocket.DefaultDialer.Dial(endpoint, http.Header{})
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	sub := &wsSubscription{conn: conn, events: make(chan push.Event, eventBuffer)}
	go sub.readLoop()
	return sub, nil
}

type wsSubscription struct {
	conn   *websocket.Conn
	events chan push.Event
	once   sync.Once
}

func (s *wsSubscription) Events() <-chan push.Event { return s.events }

func (s *wsSubscription) Close() error {
	err := s.conn.Close()
	return err
}

func (s *wsSubscription) readLoop() {
	defer s.once.Do(func() { close(s.events) })
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var ev push.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			continue
		}
		select {
		case s.events <- ev:
		default:
			// slow consumer, drop
		}
	}
}
