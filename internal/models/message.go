package models

import "time"

// Message is a durable direct message between two users.
//
// ClientToken carries the correlation token the sending client attached to
// the write request. It is echoed in the create response and in push events
// so the sender can match the durable message against its pending optimistic
// entry.
type Message struct {
	ID          int       `db:"id" json:"id"`
	SenderID    int       `db:"sender_id" json:"sender_id"`
	ReceiverID  int       `db:"receiver_id" json:"receiver_id"`
	Content     string    `db:"content" json:"content"`
	ClientToken string    `db:"client_token" json:"client_token,omitempty"`
	IsRead      bool      `db:"is_read" json:"is_read"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`

	Sender   *User `json:"sender,omitempty"`
	Receiver *User `json:"receiver,omitempty"`
}

// MaxContentLength bounds the content of a single message.
const MaxContentLength = 500
