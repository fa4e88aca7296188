package session

import "time"

// Role constants define valid message roles. The store treats the role as an
// opaque tag and never interprets it.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session represents a conversation session. MessageCount is derived from the
// messages table at read time, never stored.
type Session struct {
	ID           string         `json:"session_id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	MessageCount int            `json:"message_count"`
	Metadata     map[string]any `json:"metadata"`
}

// Message is a single conversation turn, immutable once written. ID is
// assigned by the database at insertion and breaks ordering ties when two
// messages share a timestamp.
type Message struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}
