// Package protocol describes the messaging-platform client the session layer
// drives. The wire protocol, pairing handshake and encryption live behind
// Adapter; this package only fixes the event vocabulary and classification.
package protocol

import (
	"context"

	appErrors "github.com/unclebandit/linkcast-backend/internal/errors"
)

type EventKind int

const (
	// EventPairing carries a raw pairing payload to be shown to the user.
	EventPairing EventKind = iota + 1
	// EventOpen means the account is authenticated and usable.
	EventOpen
	// EventClose ends the connection; Cause says why.
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventPairing:
		return "pairing"
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind      EventKind
	Pairing   string
	AccountID string
	Cause     appErrors.ConnectionKind
	Err       error
}

// CredentialsRef identifies where an adapter loads and saves its auth state.
type CredentialsRef struct {
	SessionID string
	Store     CredentialStore
}

type CredentialStore interface {
	Load(ctx context.Context, sessionID string) ([]byte, error)
	Save(ctx context.Context, sessionID string, blob []byte) error
	Clear(ctx context.Context, sessionID string) error
}

// Adapter is one live connection to the messaging platform. The event
// channel is closed by the adapter after its final EventClose.
type Adapter interface {
	Connect(ctx context.Context, creds CredentialsRef) (<-chan Event, error)
	Send(ctx context.Context, recipient, text string) error
	Disconnect() error
}

// Factory builds a fresh adapter for every connect attempt.
type Factory func(sessionID string) Adapter

// Platform disconnect status codes.
const (
	StatusLoggedOut          = 401
	StatusForbidden          = 403
	StatusTimedOut           = 408
	StatusConnectionClosed   = 428
	StatusRateLimited        = 429
	StatusConnectionReplaced = 440
	StatusBadSession         = 500
	StatusUnavailable        = 503
	StatusRestartRequired    = 515
)

// ClassifyStatus maps a platform disconnect status code to a connection kind.
func ClassifyStatus(code int) appErrors.ConnectionKind {
	switch code {
	case StatusLoggedOut, StatusConnectionReplaced:
		return appErrors.LoggedOut
	case StatusForbidden:
		return appErrors.AuthFailed
	case StatusTimedOut:
		return appErrors.TimedOut
	case StatusConnectionClosed, StatusUnavailable, StatusRestartRequired:
		return appErrors.NetworkLost
	case StatusRateLimited:
		return appErrors.RateLimited
	case StatusBadSession:
		return appErrors.BadSession
	default:
		return appErrors.Unknown
	}
}
