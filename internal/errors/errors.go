// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrCampaignNotFound is returned when a campaign id does not resolve.
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ConnectionKind classifies why a linked-account connection failed or closed.
type ConnectionKind string

const (
	RateLimited ConnectionKind = "rate_limited"
	AuthFailed  ConnectionKind = "auth_failed"
	LoggedOut   ConnectionKind = "logged_out"
	BadSession  ConnectionKind = "bad_session"
	TimedOut    ConnectionKind = "timed_out"
	NetworkLost ConnectionKind = "network_lost"
	Unknown     ConnectionKind = "unknown"
)

// Transient reports whether the kind is eligible for automatic reconnect.
func (k ConnectionKind) Transient() bool {
	return k == TimedOut || k == NetworkLost || k == Unknown
}

var (
	ErrRateLimited     = &ConnectionError{Kind: RateLimited}
	ErrNotConnected    = errors.New("session is not connected")
	ErrConnectInFlight = errors.New("connect already in progress for session")
	ErrSessionNotFound = errors.New("session not found")
)

type ConnectionError struct {
	Kind      ConnectionKind
	SessionID string
	Err       error
}

func (e *ConnectionError) Error() string {
	msg := "connection " + string(e.Kind)
	if e.SessionID != "" {
		msg += " (session " + e.SessionID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Is matches any ConnectionError of the same kind, so callers can write
// errors.Is(err, appErrors.ErrRateLimited).
func (e *ConnectionError) Is(target error) bool {
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func NewConnectionError(kind ConnectionKind, sessionID string, err error) error {
	return &ConnectionError{Kind: kind, SessionID: sessionID, Err: err}
}

// CampaignKind classifies broadcast failures.
type CampaignKind string

const (
	AlreadyRunning       CampaignKind = "already_running"
	NoTargets            CampaignKind = "no_targets"
	NoNumbersAvailable   CampaignKind = "no_numbers_available"
	PerContactSendFailed CampaignKind = "per_contact_send_failed"
)

var (
	ErrAlreadyRunning       = &CampaignError{Kind: AlreadyRunning}
	ErrNoTargets            = &CampaignError{Kind: NoTargets}
	ErrNoNumbersAvailable   = &CampaignError{Kind: NoNumbersAvailable}
	ErrPerContactSendFailed = &CampaignError{Kind: PerContactSendFailed}
	ErrInvalidTransition    = errors.New("invalid campaign status transition")
)

type CampaignError struct {
	Kind       CampaignKind
	CampaignID int
	Err        error
}

func (e *CampaignError) Error() string {
	msg := "campaign " + string(e.Kind)
	if e.CampaignID != 0 {
		msg = fmt.Sprintf("campaign %d %s", e.CampaignID, e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CampaignError) Unwrap() error { return e.Err }

func (e *CampaignError) Is(target error) bool {
	t, ok := target.(*CampaignError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func NewCampaignError(kind CampaignKind, campaignID int, err error) error {
	return &CampaignError{Kind: kind, CampaignID: campaignID, Err: err}
}

// KindOf extracts the connection kind from err, or Unknown.
func KindOf(err error) ConnectionKind {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return Unknown
}
