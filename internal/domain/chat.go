package domain

// ChatMessage is the provider-agnostic chat message shape passed to the
// content generator.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
