package domain

import "time"

// InboundEmailEvent is a provider-pushed notification of an inbound email
// delivery. The provider delivers at least once: the same EventID may arrive
// more than once, and historical messages may be replayed with fresh ids.
type InboundEmailEvent struct {
	EventID   string
	InboxID   string
	EmailID   string
	From      string
	To        string
	Subject   string
	Body      string
	CreatedAt time.Time
}

// Webhook processing outcomes recorded for operator visibility.
const (
	OutcomeReplied          = "replied"
	OutcomeDuplicate        = "duplicate"
	OutcomeStale            = "stale"
	OutcomeNoSession        = "no_session"
	OutcomeUnknownRecipient = "unknown_recipient"
	OutcomeCapped           = "capped"
	OutcomeFlagged          = "flagged"
	OutcomeError            = "error"
)

// WebhookRecord is one processed webhook delivery, persisted for the
// operator-facing webhook log.
type WebhookRecord struct {
	ID        string
	EventID   string
	Role      string
	From      string
	Subject   string
	Outcome   string
	Detail    string
	CreatedAt time.Time
}
