package domain

import "time"

// Session status values.
const (
	SessionActive = "active"
	SessionCapped = "capped"
)

// Session pairs one seller inbox with one buyer inbox for a single demo
// conversation. At most one session is active at a time.
type Session struct {
	SellerInboxID string
	SellerEmail   string
	BuyerInboxID  string
	BuyerEmail    string
	Exchanges     int
	CreatedAt     time.Time
	Status        string
}

// Role identifies which side of the conversation received an inbound message.
type Role string

const (
	RoleSeller  Role = "seller"
	RoleBuyer   Role = "buyer"
	RoleUnknown Role = "unknown"
)

// RoleFor attributes an inbound message to a conversational role by matching
// the recipient inbox identifier against the session's inbox identifiers.
func (s Session) RoleFor(inboxID string) Role {
	switch inboxID {
	case s.SellerInboxID:
		return RoleSeller
	case s.BuyerInboxID:
		return RoleBuyer
	default:
		return RoleUnknown
	}
}
