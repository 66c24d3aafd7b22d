package session

import (
	"time"

	"github.com/unclebandit/linkcast-backend/internal/config"
	appErrors "github.com/unclebandit/linkcast-backend/internal/errors"
)

// Policy decides how the state machine reacts to close causes.
type Policy struct {
	PairingTimeout         time.Duration
	RateLimitCooldown      time.Duration
	AuthFailedCooldown     time.Duration
	RetryDelay             time.Duration
	MaxAutoRetries         int
	ConnectAttemptInterval time.Duration
}

func PolicyFromConfig(c config.SessionConfig) Policy {
	return Policy{
		PairingTimeout:         c.PairingTimeout,
		RateLimitCooldown:      c.RateLimitCooldown,
		AuthFailedCooldown:     c.AuthFailedCooldown,
		RetryDelay:             c.RetryDelay,
		MaxAutoRetries:         c.MaxAutoRetries,
		ConnectAttemptInterval: c.ConnectAttemptInterval,
	}
}

// CooldownFor returns the owner cooldown a close cause imposes, or zero.
func (p Policy) CooldownFor(kind appErrors.ConnectionKind) time.Duration {
	switch kind {
	case appErrors.RateLimited:
		return p.RateLimitCooldown
	case appErrors.AuthFailed:
		return p.AuthFailedCooldown
	default:
		return 0
	}
}
