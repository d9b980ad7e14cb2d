package models

import "time"

// SendState tracks the lifecycle of an optimistic send.
type SendState string

const (
	SendPending   SendState = "pending"
	SendConfirmed SendState = "confirmed"
	SendFailed    SendState = "failed"
)

// Attachment describes a file referenced by a message. Only the descriptor
// travels through the sync core; the bytes live behind the URL.
type Attachment struct {
	URL         string `json:"url"`
	MimeType    string `json:"mime_type"`
	DisplayName string `json:"display_name"`
	Size        int64  `json:"size"`
}

// Message is a single chat message. Once confirmed by the server a message is
// immutable except for IsRead. CorrelationID is client-assigned and reconciles
// optimistic sends with the server-confirmed record; the server echoes it back.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Content        string      `json:"content"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	IsRead         bool        `json:"is_read"`
	CorrelationID  string      `json:"correlation_id,omitempty"`

	// Delivery is client-local state for optimistic entries. Empty for
	// server-confirmed messages; never serialized to the backend.
	Delivery SendState `json:"delivery,omitempty"`
}

// Confirmed reports whether the message carries a server identity.
func (m Message) Confirmed() bool {
	return m.ID != ""
}

// PendingSend is an in-flight optimistic message keyed by correlation id.
// Failed sends are retained, not deleted, so the user can retry or dismiss.
type PendingSend struct {
	CorrelationID string
	Message       Message
	State         SendState
	LastError     string
	SubmittedAt   time.Time
}
