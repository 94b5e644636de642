package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"dm-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions with the durable message store.
type MessageRepository interface {
	CreateMessage(ctx context.Context, senderID, receiverID int, content, clientToken string) (models.Message, error)
	ConversationHistory(ctx context.Context, userID, partnerID int) ([]models.Message, error)
	ListUserMessages(ctx context.Context, userID int) ([]models.Message, error)
	MarkConversationRead(ctx context.Context, userID, partnerID int) (int64, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `m.id, m.sender_id, m.receiver_id, m.content, COALESCE(m.client_token, '') AS client_token, m.is_read, m.created_at,
        s.id, s.username, s.display_name, s.avatar_url, s.created_at,
        r.id, r.username, r.display_name, r.avatar_url, r.created_at`

const messageJoins = `FROM messages m
        JOIN users s ON s.id = m.sender_id
        JOIN users r ON r.id = m.receiver_id`

// CreateMessage persists a message and returns it with sender and receiver
// snapshots embedded and the client token echoed.
func (r *MessageRepo) CreateMessage(ctx context.Context, senderID, receiverID int, content, clientToken string) (models.Message, error) {
	var id int
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (sender_id, receiver_id, content, client_token) VALUES ($1, $2, $3, $4) RETURNING id`,
		senderID, receiverID, content, clientToken).Scan(&id)
	if err != nil {
		return models.Message{}, err
	}
	return r.GetMessage(ctx, id)
}

// GetMessage retrieves a single message with profile snapshots.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+messageColumns+` `+messageJoins+` WHERE m.id=$1`, messageID)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ConversationHistory returns every message between the two users, ordered
// oldest-first.
func (r *MessageRepo) ConversationHistory(ctx context.Context, userID, partnerID int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` ` + messageJoins + `
        WHERE (m.sender_id=$1 AND m.receiver_id=$2) OR (m.sender_id=$2 AND m.receiver_id=$1)
        ORDER BY m.created_at ASC, m.id ASC`
	rows, err := r.db.QueryxContext(ctx, query, userID, partnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListUserMessages returns every message the user sent or received, ordered
// newest-first. The conversation aggregator scans this order so the first
// sight of a partner is necessarily that conversation's latest message.
func (r *MessageRepo) ListUserMessages(ctx context.Context, userID int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` ` + messageJoins + `
        WHERE m.sender_id=$1 OR m.receiver_id=$1
        ORDER BY m.created_at DESC, m.id DESC`
	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MarkConversationRead flips the read flag on the partner's unread messages
// to the user. Only the receiver's read action mutates the flag.
func (r *MessageRepo) MarkConversationRead(ctx context.Context, userID, partnerID int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_read = TRUE WHERE sender_id=$1 AND receiver_id=$2 AND is_read = FALSE`,
		partnerID, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (models.Message, error) {
	var msg models.Message
	var sender, receiver models.User
	err := row.Scan(
		&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.ClientToken, &msg.IsRead, &msg.CreatedAt,
		&sender.ID, &sender.Username, &sender.DisplayName, &sender.AvatarURL, &sender.CreatedAt,
		&receiver.ID, &receiver.Username, &receiver.DisplayName, &receiver.AvatarURL, &receiver.CreatedAt,
	)
	if err != nil {
		return models.Message{}, err
	}
	msg.Sender = &sender
	msg.Receiver = &receiver
	return msg, nil
}

func scanMessages(rows *sqlx.Rows) ([]models.Message, error) {
	var msgs []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}
