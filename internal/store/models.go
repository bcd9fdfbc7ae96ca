package store

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// UserProfile identifies a chat user as the front-end sees them.
type UserProfile struct {
	ExternalID int64  `json:"external_id"`
	Username   string `json:"username,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
}

type User struct {
	ID         int64     `json:"id"`
	ExternalID int64     `json:"external_id"`
	Username   *string   `json:"username"`
	FirstName  *string   `json:"first_name"`
	LastName   *string   `json:"last_name"`
	CreatedAt  time.Time `json:"created_at"`
}

type Turn struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	TokenCount int       `json:"token_count"`
	CreatedAt  time.Time `json:"created_at"`
}

type Document struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Source     *string   `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
	ChunkCount int       `json:"chunk_count"`
}

type Chunk struct {
	ID         int64     `json:"id"`
	DocumentID int64     `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"` // stored as embedding_json
}

// DailyUsage is derived from the turns created inside one UTC day.
type DailyUsage struct {
	Turns  int `json:"turns"`
	Tokens int `json:"tokens"`
}
