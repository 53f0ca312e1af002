package domain

import "time"

// EmailMessage is a message summary returned by the email gateway and exposed
// through the demo API.
type EmailMessage struct {
	ID        string    `json:"id"`
	InboxID   string    `json:"inboxId"`
	From      string    `json:"from"`
	To        []string  `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
