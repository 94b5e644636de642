// Package conversations derives per-partner inbox summaries from the flat
// message table.
package conversations

import (
	"context"

	"dm-service/internal/models"
	"dm-service/internal/repositories"
)

// Service aggregates a user's messages into one summary per distinct
// conversation partner.
type Service struct {
	messages repositories.MessageRepository
}

// NewService constructs an aggregator over the message store.
func NewService(messages repositories.MessageRepository) *Service {
	return &Service{messages: messages}
}

// Summaries returns one entry per distinct partner, each carrying the most
// recent message and the count of unread messages from that partner. The
// scan runs newest-first, so the first sight of a partner is that
// conversation's last message and the output order follows the recency of
// each conversation's latest message. A user with no messages yields an
// empty slice.
func (s *Service) Summaries(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	msgs, err := s.messages.ListUserMessages(ctx, userID)
	if err != nil {
		return nil, err
	}

	index := make(map[int]int)
	out := make([]models.ConversationSummary, 0, len(msgs))
	for _, m := range msgs {
		sentBySelf := m.SenderID == userID

		var partner *models.User
		if sentBySelf {
			partner = m.Receiver
		} else {
			partner = m.Sender
		}
		if partner == nil {
			// partner profile no longer resolvable, leave the row out
			continue
		}

		pos, seen := index[partner.ID]
		if !seen {
			pos = len(out)
			index[partner.ID] = pos
			out = append(out, models.ConversationSummary{
				Partner: *partner,
				LastMessage: models.LastMessage{
					Content:   m.Content,
					SenderID:  m.SenderID,
					CreatedAt: m.CreatedAt,
				},
			})
		}

		// Own messages never count toward the user's unread badge.
		if !sentBySelf && !m.IsRead {
			out[pos].UnreadCount++
		}
	}
	return out, nil
}
