package models

import "time"

// LastMessage is the most recent message of a conversation as shown in the
// inbox list.
type LastMessage struct {
	Content   string    `json:"content"`
	SenderID  int       `json:"sender_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationSummary is the derived inbox row for one conversation partner.
// It is recomputed on demand from the message history and never stored.
type ConversationSummary struct {
	Partner     User        `json:"partner"`
	LastMessage LastMessage `json:"last_message"`
	UnreadCount int         `json:"unread_count"`
}
