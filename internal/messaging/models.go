package messaging

import "time"

// Conversation is scoped to one fulfillment unit; participants are the unit's
// seller and the order's buyer.
type Conversation struct {
	ID        string    `json:"id"`
	UnitID    string    `json:"unit_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"` // last message time
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	IsSystem       bool      `json:"is_system"`
	CreatedAt      time.Time `json:"created_at"`
}
