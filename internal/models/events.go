package models

import "time"

// EventType tags transport events.
type EventType string

const (
	EventNewMessage  EventType = "new_message"
	EventReadReceipt EventType = "read_receipt"
	EventCountDelta  EventType = "count_delta"
)

// ReadReceipt reports that ReaderID has read the conversation up to ReadAt.
type ReadReceipt struct {
	ConversationID string    `json:"conversation_id"`
	ReaderID       string    `json:"reader_id"`
	ReadAt         time.Time `json:"read_at"`
}

// CountDelta is an incremental unread-count adjustment for one conversation.
type CountDelta struct {
	ConversationID string `json:"conversation_id"`
	Delta          int    `json:"delta"`
}

// Event is the uniform transport event. Exactly one payload field is set,
// matching Type.
type Event struct {
	Type    EventType    `json:"type"`
	Message *Message     `json:"message,omitempty"`
	Receipt *ReadReceipt `json:"receipt,omitempty"`
	Delta   *CountDelta  `json:"delta,omitempty"`
}

// NotificationEvent is the single visible unread alert. Ephemeral: created from
// a ledger delta, displayed, and discarded on dismissal or timeout.
type NotificationEvent struct {
	ConversationID string    `json:"conversation_id"`
	PreviousTotal  int       `json:"previous_total"`
	NewTotal       int       `json:"new_total"`
	OccurredAt     time.Time `json:"occurred_at"`
}
