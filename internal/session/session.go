package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	appErrors "github.com/unclebandit/linkcast-backend/internal/errors"
	"github.com/unclebandit/linkcast-backend/internal/model"
	"github.com/unclebandit/linkcast-backend/internal/protocol"
	"github.com/unclebandit/linkcast-backend/internal/push"
)

// session is the runtime around Reduce for one linked account. mu
// serialises every transition for this id; adapter events, timers and caller
// commands all enter through dispatch.
type session struct {
	id  string
	reg *Registry
	log zerolog.Logger

	mu      sync.Mutex
	state   model.LinkedAccountSession
	adapter protocol.Adapter
	cancel  context.CancelFunc
	// gen increments whenever the adapter changes so late events from an
	// old adapter or an old pairing timer are dropped.
	gen          uint64
	pairingTimer *time.Timer
	retryTimer   *time.Timer
	limiter      *rate.Limiter
}

func newSession(reg *Registry, id, ownerID string) *session {
	return &session{
		id:      id,
		reg:     reg,
		log:     reg.log.With().Str("session_id", id).Str("owner_id", ownerID).Logger(),
		state:   model.LinkedAccountSession{ID: id, OwnerID: ownerID, Status: model.SessionIdle, LastActivity: reg.now()},
		limiter: rate.NewLimiter(rate.Limit(reg.sendRate), reg.sendBurst),
	}
}

func (s *session) snapshot() model.LinkedAccountSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// dispatch feeds ev through Reduce. gen 0 means "current"; any other value
// must match the live adapter generation or the event is dropped.
func (s *session) dispatch(ev Event, gen uint64) error {
	_, err := s.apply(ev, gen)
	return err
}

// apply is dispatch that also reports whether a new adapter was started.
func (s *session) apply(ev Event, gen uint64) (bool, error) {
	s.mu.Lock()
	if gen != 0 && gen != s.gen {
		s.mu.Unlock()
		s.log.Debug().Str("event", ev.Type.String()).Uint64("gen", gen).Msg("dropping stale event")
		return false, nil
	}

	now := s.reg.now()
	prev := s.state.Status
	next, effs, err := Reduce(s.state, ev, s.reg.policy, now)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.state = next

	started := false
	var (
		pushes []model.PushMessage
		async  []func(context.Context)
	)
	for _, eff := range effs {
		switch eff.Type {
		case EffPush:
			pushes = append(pushes, eff.Push)
		case EffStartAdapter:
			s.startAdapterLocked()
			started = true
		case EffTeardown:
			s.teardownLocked()
		case EffArmPairingTimer:
			s.stopTimer(&s.pairingTimer)
			if eff.Delay > 0 {
				g := s.gen
				s.pairingTimer = time.AfterFunc(eff.Delay, func() {
					_ = s.dispatch(Event{Type: EvPairingTimeout}, g)
				})
			}
		case EffStopPairingTimer:
			s.stopTimer(&s.pairingTimer)
		case EffScheduleRetry:
			s.stopTimer(&s.retryTimer)
			owner := next.OwnerID
			s.retryTimer = time.AfterFunc(eff.Delay, func() {
				if err := s.dispatch(Event{Type: EvRetry, Until: s.reg.ownerCooldown(owner)}, 0); err != nil {
					s.log.Warn().Err(err).Msg("auto retry rejected")
				}
			})
		case EffCancelRetry:
			s.stopTimer(&s.retryTimer)
		case EffPersistAccount:
			acc := model.Account{SessionID: next.ID, OwnerID: next.OwnerID, PhoneNumber: next.PhoneNumber}
			async = append(async, func(ctx context.Context) {
				if s.reg.store != nil {
					if err := s.reg.store.MarkConnected(ctx, acc); err != nil {
						s.log.Error().Err(err).Msg("failed to persist connected account")
					}
				}
			})
		case EffPersistDisconnected:
			id := next.ID
			async = append(async, func(ctx context.Context) {
				if s.reg.store != nil {
					if err := s.reg.store.MarkDisconnected(ctx, id); err != nil {
						s.log.Error().Err(err).Msg("failed to persist disconnected account")
					}
				}
			})
		case EffPersistCooldown:
			owner, until := next.OwnerID, eff.Until
			async = append(async, func(ctx context.Context) {
				if s.reg.store != nil {
					if err := s.reg.store.SaveOwnerCooldown(ctx, owner, until); err != nil {
						s.log.Error().Err(err).Msg("failed to persist owner cooldown")
					}
				}
			})
		case EffClearCredentials:
			id := next.ID
			async = append(async, func(ctx context.Context) {
				if s.reg.creds != nil {
					if err := s.reg.creds.Clear(ctx, id); err != nil {
						s.log.Error().Err(err).Msg("failed to clear credentials")
					}
				}
			})
		}
	}
	s.mu.Unlock()

	if prev != next.Status {
		s.log.Info().Str("event", ev.Type.String()).Str("from", string(prev)).Str("to", string(next.Status)).Msg("session transition")
	}
	switch {
	case next.Status == model.SessionConnected && prev != model.SessionConnected:
		s.reg.onConnected(next.OwnerID)
	case next.Status == model.SessionBlocked && next.CooldownUntil != nil && prev != model.SessionBlocked:
		s.reg.onBlocked(next.OwnerID, *next.CooldownUntil)
	case ev.Type == EvClose && ev.Cause == appErrors.BadSession && prev != next.Status:
		s.reg.onBadSession(next.OwnerID)
	}
	for _, msg := range pushes {
		s.reg.hub.Publish(push.SessionTopic(next.ID), msg)
	}
	for _, fn := range async {
		go func(fn func(context.Context)) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			fn(ctx)
		}(fn)
	}
	return started, nil
}

func (s *session) stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// startAdapterLocked replaces any live adapter with a fresh one and starts
// pumping its events.
func (s *session) startAdapterLocked() {
	s.teardownLocked()

	ctx, cancel := context.WithCancel(context.Background())
	a := s.reg.factory(s.id)
	s.adapter = a
	s.cancel = cancel
	gen := s.gen

	go s.pump(ctx, a, gen)
}

func (s *session) teardownLocked() {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if a := s.adapter; a != nil {
		s.adapter = nil
		go func() {
			if err := a.Disconnect(); err != nil {
				s.log.Debug().Err(err).Msg("adapter disconnect")
			}
		}()
	}
}

func (s *session) pump(ctx context.Context, a protocol.Adapter, gen uint64) {
	events, err := a.Connect(ctx, protocol.CredentialsRef{SessionID: s.id, Store: s.reg.creds})
	if err != nil {
		s.log.Warn().Err(err).Msg("adapter connect failed")
		_ = s.dispatch(Event{Type: EvClose, Cause: appErrors.KindOf(err), Err: err}, gen)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case pe, ok := <-events:
			if !ok {
				_ = s.dispatch(Event{Type: EvClose, Cause: appErrors.NetworkLost, Err: fmt.Errorf("event stream ended")}, gen)
				return
			}
			_ = s.dispatch(s.translate(pe), gen)
		}
	}
}

func (s *session) translate(pe protocol.Event) Event {
	switch pe.Kind {
	case protocol.EventPairing:
		artifact, err := RenderPairing(pe.Pairing)
		if err != nil {
			s.log.Warn().Err(err).Msg("pairing payload not renderable; sending raw")
			artifact = pe.Pairing
		}
		return Event{Type: EvPairing, Artifact: artifact}
	case protocol.EventOpen:
		return Event{Type: EvOpen, AccountID: pe.AccountID}
	default:
		return Event{Type: EvClose, Cause: pe.Cause, Err: pe.Err}
	}
}

func (s *session) send(ctx context.Context, recipient, text string) error {
	s.mu.Lock()
	a := s.adapter
	connected := s.state.Status == model.SessionConnected
	s.mu.Unlock()
	if !connected || a == nil {
		return appErrors.ErrNotConnected
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send throttle: %w", err)
	}
	if err := a.Send(ctx, recipient, text); err != nil {
		return fmt.Errorf("send to %s: %w", recipient, err)
	}

	s.mu.Lock()
	s.state.LastActivity = s.reg.now()
	s.mu.Unlock()
	return nil
}
