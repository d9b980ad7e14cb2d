package models

import "time"

// Participant roles inside a conversation. Roles are fixed: every conversation
// pairs exactly one coach with exactly one client.
const (
	RoleCoach  = "coach"
	RoleClient = "client"
)

// Participant identifies one side of a conversation.
type Participant struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name,omitempty"`
}

// Conversation is a summary of a coach/client thread as rendered in list views.
type Conversation struct {
	ID            string      `json:"id"`
	Coach         Participant `json:"coach"`
	Client        Participant `json:"client"`
	LastMessage   *Message    `json:"last_message,omitempty"`
	LastMessageAt time.Time   `json:"last_message_at"`
}

// Other returns the participant that is not viewerID.
func (c Conversation) Other(viewerID string) Participant {
	if c.Coach.ID == viewerID {
		return c.Client
	}
	return c.Coach
}

// HasParticipant reports whether userID belongs to the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	return c.Coach.ID == userID || c.Client.ID == userID
}

// UnreadCounts is the server's unread snapshot. Snapshots may be partial:
// conversations absent from PerConversation are simply unknown to this response.
type UnreadCounts struct {
	PerConversation map[string]int `json:"per_conversation"`
	Total           int            `json:"total"`
}
