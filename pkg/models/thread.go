package models

import "time"

// Thread is a conversation container. The ID is immutable once assigned;
// CreatedBy may be empty for ownerless threads and is cleared, not
// cascaded, when the owning actor is removed.
type Thread struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CreatedBy   string    `json:"created_by,omitempty"`
	AssistantID string    `json:"assistant_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Actor is the acting party for permission checks. It stands in for
// whatever identity the embedding application uses.
type Actor struct {
	ID          string `json:"id"`
	Username    string `json:"username,omitempty"`
	IsSuperuser bool   `json:"is_superuser,omitempty"`
}
