// internal/model/session.go
package model

import "time"

type SessionStatus string

const (
	SessionIdle         SessionStatus = "idle"
	SessionConnecting   SessionStatus = "connecting"
	SessionAwaitingScan SessionStatus = "awaiting_scan"
	SessionConnected    SessionStatus = "connected"
	SessionDisconnected SessionStatus = "disconnected"
	SessionBlocked      SessionStatus = "blocked"
)

// LinkedAccountSession is one linked messaging account. Only the session
// state machine mutates it; callers get copies.
type LinkedAccountSession struct {
	ID              string        `json:"id"`
	OwnerID         string        `json:"owner_id"`
	PhoneNumber     string        `json:"phone_number,omitempty"`
	Status          SessionStatus `json:"status"`
	PairingArtifact string        `json:"qr_code,omitempty"`
	RetryCount      int           `json:"retry_count"`
	CooldownUntil   *time.Time    `json:"cooldown_until,omitempty"`
	LastError       string        `json:"last_error,omitempty"`
	LastActivity    time.Time     `json:"last_activity"`
}

// Account is a connected linked account eligible to carry campaign traffic.
type Account struct {
	SessionID   string `db:"session_id" json:"session_id"`
	OwnerID     string `db:"owner_id" json:"owner_id"`
	PhoneNumber string `db:"phone_number" json:"phone_number"`
}

// NumberUsageStat tracks per-account send volume for rotation decisions.
type NumberUsageStat struct {
	AccountID   string    `json:"account_id"`
	InWindow    int       `json:"messages_in_current_hour"`
	WindowStart time.Time `json:"window_start"`
	TotalSent   int64     `json:"total_sent"`
	TotalFailed int64     `json:"total_failed"`
}
