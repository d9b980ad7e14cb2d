package stubserver

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"coach-messaging/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// Repository abstracts stub backend persistence.
type Repository interface {
	CreateOrGetConversation(ctx context.Context, coach, client models.Participant) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error)
	CreateMessage(ctx context.Context, conversationID, senderID, content string, attachment *models.Attachment, correlationID string) (models.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID string) error
	UnreadCounts(ctx context.Context, userID string) (models.UnreadCounts, error)
}

// SQLRepository is a sqlx implementation of Repository.
type SQLRepository struct {
	db *sqlx.DB
}

// NewSQLRepository constructs a SQLRepository.
func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

type conversationRow struct {
	ID            string    `db:"id"`
	CoachID       string    `db:"coach_id"`
	CoachName     string    `db:"coach_name"`
	ClientID      string    `db:"client_id"`
	ClientName    string    `db:"client_name"`
	LastMessageAt time.Time `db:"last_message_at"`
}

func (r conversationRow) toModel() models.Conversation {
	return models.Conversation{
		ID:            r.ID,
		Coach:         models.Participant{ID: r.CoachID, Role: models.RoleCoach, DisplayName: r.CoachName},
		Client:        models.Participant{ID: r.ClientID, Role: models.RoleClient, DisplayName: r.ClientName},
		LastMessageAt: r.LastMessageAt,
	}
}

type messageRow struct {
	ID             string    `db:"id"`
	ConversationID string    `db:"conversation_id"`
	SenderID       string    `db:"sender_id"`
	Content        string    `db:"content"`
	AttachmentURL  string    `db:"attachment_url"`
	AttachmentMime string    `db:"attachment_mime"`
	AttachmentName string    `db:"attachment_name"`
	AttachmentSize int64     `db:"attachment_size"`
	CorrelationID  string    `db:"correlation_id"`
	IsRead         bool      `db:"is_read"`
	CreatedAt      time.Time `db:"created_at"`
}

func (r messageRow) toModel() models.Message {
	msg := models.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		Content:        r.Content,
		CreatedAt:      r.CreatedAt,
		IsRead:         r.IsRead,
		CorrelationID:  r.CorrelationID,
	}
	if r.AttachmentURL != "" {
		msg.Attachment = &models.Attachment{
			URL:         r.AttachmentURL,
			MimeType:    r.AttachmentMime,
			DisplayName: r.AttachmentName,
			Size:        r.AttachmentSize,
		}
	}
	return msg
}

// CreateOrGetConversation creates the coach/client pair if it does not exist.
func (r *SQLRepository) CreateOrGetConversation(ctx context.Context, coach, client models.Participant) (models.Conversation, error) {
	var row conversationRow
	err := r.db.GetContext(ctx, &row,
		`SELECT id, coach_id, coach_name, client_id, client_name, last_message_at
         FROM conversations WHERE coach_id=$1 AND client_id=$2`, coach.ID, client.ID)
	if err == nil {
		return row.toModel(), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, err
	}

	row = conversationRow{
		ID:            uuid.NewString(),
		CoachID:       coach.ID,
		CoachName:     coach.DisplayName,
		ClientID:      client.ID,
		ClientName:    client.DisplayName,
		LastMessageAt: time.Now().UTC(),
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO conversations (id, coach_id, coach_name, client_id, client_name, last_message_at)
         VALUES ($1, $2, $3, $4, $5, $6)`,
		row.ID, row.CoachID, row.CoachName, row.ClientID, row.ClientName, row.LastMessageAt)
	if err != nil {
		return models.Conversation{}, err
	}
	return row.toModel(), nil
}

// GetConversation fetches one conversation by id.
func (r *SQLRepository) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var row conversationRow
	err := r.db.GetContext(ctx, &row,
		`SELECT id, coach_id, coach_name, client_id, client_name, last_message_at
         FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, err
	}
	return row.toModel(), nil
}

// ListConversations returns the user's conversations with their last message,
// most recent first.
func (r *SQLRepository) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	var rows []conversationRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, coach_id, coach_name, client_id, client_name, last_message_at
         FROM conversations WHERE coach_id=$1 OR client_id=$1
         ORDER BY last_message_at DESC`, userID)
	if err != nil {
		return nil, err
	}

	conversations := make([]models.Conversation, 0, len(rows))
	for _, row := range rows {
		conv := row.toModel()
		var last messageRow
		err := r.db.GetContext(ctx, &last,
			`SELECT id, conversation_id, sender_id, content, attachment_url, attachment_mime,
                    attachment_name, attachment_size, correlation_id, is_read, created_at
             FROM messages WHERE conversation_id=$1 ORDER BY created_at DESC LIMIT 1`, conv.ID)
		if err == nil {
			msg := last.toModel()
			conv.LastMessage = &msg
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, nil
}

// ListMessages returns a conversation's messages ordered oldest first.
func (r *SQLRepository) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, conversation_id, sender_id, content, attachment_url, attachment_mime,
                attachment_name, attachment_size, correlation_id, is_read, created_at
         FROM messages WHERE conversation_id=$1
         ORDER BY created_at ASC LIMIT $2 OFFSET $3`, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.toModel())
	}
	return messages, nil
}

// CreateMessage stores a message and bumps the conversation's last_message_at.
func (r *SQLRepository) CreateMessage(ctx context.Context, conversationID, senderID, content string, attachment *models.Attachment, correlationID string) (models.Message, error) {
	row := messageRow{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CorrelationID:  correlationID,
		CreatedAt:      time.Now().UTC(),
	}
	if attachment != nil {
		row.AttachmentURL = attachment.URL
		row.AttachmentMime = attachment.MimeType
		row.AttachmentName = attachment.DisplayName
		row.AttachmentSize = attachment.Size
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, content, attachment_url,
                attachment_mime, attachment_name, attachment_size, correlation_id, is_read, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, $10)`,
		row.ID, row.ConversationID, row.SenderID, row.Content, row.AttachmentURL,
		row.AttachmentMime, row.AttachmentName, row.AttachmentSize, row.CorrelationID, row.CreatedAt)
	if err != nil {
		return models.Message{}, err
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_at=$1 WHERE id=$2`, row.CreatedAt, conversationID)
	if err != nil {
		return models.Message{}, err
	}
	return row.toModel(), nil
}

// MarkRead marks every message not sent by the reader as read.
func (r *SQLRepository) MarkRead(ctx context.Context, conversationID, readerID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE messages SET is_read=TRUE WHERE conversation_id=$1 AND sender_id<>$2`,
		conversationID, readerID)
	return err
}

// UnreadCounts returns per-conversation and total unread counts for the user.
func (r *SQLRepository) UnreadCounts(ctx context.Context, userID string) (models.UnreadCounts, error) {
	type countRow struct {
		ConversationID string `db:"conversation_id"`
		Count          int    `db:"n"`
	}
	var rows []countRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT m.conversation_id AS conversation_id, COUNT(*) AS n
         FROM messages m
         JOIN conversations c ON c.id = m.conversation_id
         WHERE m.is_read = FALSE AND m.sender_id <> $1
           AND (c.coach_id = $1 OR c.client_id = $1)
         GROUP BY m.conversation_id`, userID)
	if err != nil {
		return models.UnreadCounts{}, err
	}

	counts := models.UnreadCounts{PerConversation: make(map[string]int, len(rows))}
	for _, row := range rows {
		counts.PerConversation[row.ConversationID] = row.Count
		counts.Total += row.Count
	}
	return counts, nil
}

var _ Repository = (*SQLRepository)(nil)
