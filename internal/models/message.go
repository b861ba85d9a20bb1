package models

// Message is one entry of the host-supplied conversation history.

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Message struct {
	// ID is the host's per-turn identifier. The host does not always send
	// one, so it may be empty even for user turns.
	ID      string  `json:"id,omitempty"`
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// IsUser reports whether the message is a user-authored turn.
func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

// CloneMessages copies the slice together with every Content parts slice,
// so callers may rewrite entries without touching the input.
func CloneMessages(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, m := range messages {
		out[i] = m
		if m.Content.Parts != nil {
			parts := make([]ContentPart, len(m.Content.Parts))
			copy(parts, m.Content.Parts)
			out[i].Content.Parts = parts
		}
	}
	return out
}
