package models

import "fmt"

// SessionKey identifies one long-lived conversation.
type SessionKey struct {
	UserID string `json:"user_id"`
	ChatID string `json:"chat_id"`
}

// Valid reports whether both components are present. Requests without a
// full key skip file processing entirely.
func (k SessionKey) Valid() bool {
	return k.UserID != "" && k.ChatID != ""
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%s/%s", k.UserID, k.ChatID)
}
