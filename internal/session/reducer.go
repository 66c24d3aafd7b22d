package session

import (
	"math"
	"time"

	appErrors "github.com/unclebandit/linkcast-backend/internal/errors"
	"github.com/unclebandit/linkcast-backend/internal/model"
)

type EventType int

const (
	EvConnect EventType = iota + 1
	EvPairing
	EvOpen
	EvClose
	EvPairingTimeout
	EvDisconnect
	EvRetry
)

func (t EventType) String() string {
	switch t {
	case EvConnect:
		return "connect"
	case EvPairing:
		return "pairing"
	case EvOpen:
		return "open"
	case EvClose:
		return "close"
	case EvPairingTimeout:
		return "pairing_timeout"
	case EvDisconnect:
		return "disconnect"
	case EvRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// Event is one input to the state machine: a caller command, a protocol
// event or a timer firing.
type Event struct {
	Type      EventType
	Artifact  string
	AccountID string
	Cause     appErrors.ConnectionKind
	Err       error
	// Until is the owner cooldown in force when an EvRetry fires.
	Until time.Time
}

type EffectType int

const (
	EffPush EffectType = iota + 1
	EffStartAdapter
	EffTeardown
	EffArmPairingTimer
	EffStopPairingTimer
	EffScheduleRetry
	EffCancelRetry
	EffPersistAccount
	EffPersistDisconnected
	EffPersistCooldown
	EffClearCredentials
)

// Effect is work the runtime performs after a transition. Reduce itself
// never touches adapters, timers or storage.
type Effect struct {
	Type  EffectType
	Push  model.PushMessage
	Delay time.Duration
	Until time.Time
}

func pushEffect(msg model.PushMessage) Effect { return Effect{Type: EffPush, Push: msg} }

func canRetry(v bool) *bool { return &v }

// Reduce applies ev to s. Protocol events that do not fit the current state
// (late frames from a torn-down adapter) are ignored. Only caller commands
// return errors; a rejected command leaves s untouched.
func Reduce(s model.LinkedAccountSession, ev Event, p Policy, now time.Time) (model.LinkedAccountSession, []Effect, error) {
	switch ev.Type {
	case EvConnect:
		return reduceConnect(s, p, now)
	case EvRetry:
		if s.Status != model.SessionDisconnected {
			return s, nil, nil
		}
		if now.Before(ev.Until) {
			s.RetryCount = 0
			s.LastActivity = now
			return s, []Effect{
				pushEffect(model.PushMessage{Type: model.PushBlocked, SessionID: s.ID, RemainingMinutes: remainingMinutes(ev.Until, now), Message: string(appErrors.RateLimited)}),
			}, nil
		}
		return startConnecting(s, p, now, s.RetryCount)
	case EvPairing:
		if s.Status != model.SessionConnecting && s.Status != model.SessionAwaitingScan {
			return s, nil, nil
		}
		s.Status = model.SessionAwaitingScan
		s.PairingArtifact = ev.Artifact
		s.LastActivity = now
		return s, []Effect{pushEffect(model.PushMessage{Type: model.PushQRReady, SessionID: s.ID, QRCode: ev.Artifact})}, nil
	case EvOpen:
		if s.Status != model.SessionConnecting && s.Status != model.SessionAwaitingScan {
			return s, nil, nil
		}
		s.Status = model.SessionConnected
		s.PhoneNumber = ev.AccountID
		s.PairingArtifact = ""
		s.RetryCount = 0
		s.CooldownUntil = nil
		s.LastError = ""
		s.LastActivity = now
		return s, []Effect{
			{Type: EffStopPairingTimer},
			{Type: EffPersistAccount},
			pushEffect(model.PushMessage{Type: model.PushConnected, SessionID: s.ID, PhoneNumber: s.PhoneNumber}),
		}, nil
	case EvPairingTimeout:
		if s.Status != model.SessionConnecting && s.Status != model.SessionAwaitingScan {
			return s, nil, nil
		}
		s.Status = model.SessionDisconnected
		s.PairingArtifact = ""
		s.LastError = appErrors.NewConnectionError(appErrors.TimedOut, s.ID, nil).Error()
		s.LastActivity = now
		effs := []Effect{{Type: EffTeardown}}
		if s.RetryCount < p.MaxAutoRetries {
			s.RetryCount++
			return s, append(effs,
				Effect{Type: EffScheduleRetry, Delay: p.RetryDelay},
				pushEffect(model.PushMessage{Type: model.PushError, SessionID: s.ID, Message: "pairing timed out; retrying"}),
			), nil
		}
		return s, append(effs,
			pushEffect(model.PushMessage{Type: model.PushError, SessionID: s.ID, Message: "pairing timed out; request a new QR code"}),
		), nil
	case EvDisconnect:
		if s.Status == model.SessionIdle {
			return s, nil, nil
		}
		effs := []Effect{{Type: EffStopPairingTimer}, {Type: EffCancelRetry}, {Type: EffTeardown}}
		if s.Status == model.SessionConnected {
			effs = append(effs, Effect{Type: EffPersistDisconnected})
		}
		s.Status = model.SessionDisconnected
		s.PairingArtifact = ""
		s.RetryCount = 0
		s.LastActivity = now
		effs = append(effs, pushEffect(model.PushMessage{Type: model.PushDisconnected, SessionID: s.ID, Message: "disconnected", CanRetry: canRetry(true)}))
		return s, effs, nil
	case EvClose:
		return reduceClose(s, ev, p, now)
	}
	return s, nil, nil
}

func reduceConnect(s model.LinkedAccountSession, p Policy, now time.Time) (model.LinkedAccountSession, []Effect, error) {
	switch s.Status {
	case model.SessionConnecting, model.SessionAwaitingScan:
		return s, nil, appErrors.ErrConnectInFlight
	case model.SessionConnected:
		return s, []Effect{pushEffect(model.PushMessage{Type: model.PushConnected, SessionID: s.ID, PhoneNumber: s.PhoneNumber})}, nil
	case model.SessionBlocked:
		if s.CooldownUntil != nil && now.Before(*s.CooldownUntil) {
			return s, nil, appErrors.NewConnectionError(appErrors.RateLimited, s.ID, nil)
		}
	}
	return startConnecting(s, p, now, 0)
}

func startConnecting(s model.LinkedAccountSession, p Policy, now time.Time, retries int) (model.LinkedAccountSession, []Effect, error) {
	s.Status = model.SessionConnecting
	s.PairingArtifact = ""
	s.LastError = ""
	s.CooldownUntil = nil
	s.RetryCount = retries
	s.LastActivity = now
	return s, []Effect{
		{Type: EffCancelRetry},
		{Type: EffStartAdapter},
		{Type: EffArmPairingTimer, Delay: p.PairingTimeout},
		pushEffect(model.PushMessage{Type: model.PushConnecting, SessionID: s.ID}),
	}, nil
}

func reduceClose(s model.LinkedAccountSession, ev Event, p Policy, now time.Time) (model.LinkedAccountSession, []Effect, error) {
	switch s.Status {
	case model.SessionIdle, model.SessionDisconnected, model.SessionBlocked:
		return s, nil, nil
	}

	kind := ev.Cause
	if kind == "" {
		kind = appErrors.Unknown
	}
	effs := []Effect{{Type: EffStopPairingTimer}, {Type: EffTeardown}}
	if s.Status == model.SessionConnected {
		effs = append(effs, Effect{Type: EffPersistDisconnected})
	}
	s.PairingArtifact = ""
	s.LastError = appErrors.NewConnectionError(kind, s.ID, ev.Err).Error()
	s.LastActivity = now

	switch kind {
	case appErrors.LoggedOut:
		s.Status = model.SessionDisconnected
		s.RetryCount = 0
		effs = append(effs,
			Effect{Type: EffClearCredentials},
			pushEffect(model.PushMessage{Type: model.PushDisconnected, SessionID: s.ID, Message: "logged out; scan a new QR code to link again", CanRetry: canRetry(true)}),
		)
	case appErrors.RateLimited, appErrors.AuthFailed:
		until := now.Add(p.CooldownFor(kind))
		s.Status = model.SessionBlocked
		s.CooldownUntil = &until
		effs = append(effs,
			Effect{Type: EffPersistCooldown, Until: until},
			pushEffect(model.PushMessage{Type: model.PushBlocked, SessionID: s.ID, RemainingMinutes: remainingMinutes(until, now), Message: string(kind)}),
		)
	case appErrors.BadSession:
		s.Status = model.SessionDisconnected
		s.RetryCount = 0
		effs = append(effs,
			Effect{Type: EffClearCredentials},
			pushEffect(model.PushMessage{Type: model.PushDisconnected, SessionID: s.ID, Message: "session data invalid; reconnect to pair again", CanRetry: canRetry(true)}),
		)
	default:
		s.Status = model.SessionDisconnected
		if s.RetryCount < p.MaxAutoRetries {
			s.RetryCount++
			effs = append(effs,
				Effect{Type: EffScheduleRetry, Delay: p.RetryDelay},
				pushEffect(model.PushMessage{Type: model.PushDisconnected, SessionID: s.ID, Message: "connection lost; reconnecting", CanRetry: canRetry(true)}),
			)
		} else {
			effs = append(effs, pushEffect(model.PushMessage{Type: model.PushDisconnected, SessionID: s.ID, Message: "connection lost", CanRetry: canRetry(true)}))
		}
	}
	return s, effs, nil
}

func remainingMinutes(until, now time.Time) int {
	if !until.After(now) {
		return 0
	}
	return int(math.Ceil(until.Sub(now).Minutes()))
}
