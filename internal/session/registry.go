package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/linkcast-backend/internal/errors"
	"github.com/unclebandit/linkcast-backend/internal/model"
	"github.com/unclebandit/linkcast-backend/internal/protocol"
	"github.com/unclebandit/linkcast-backend/internal/push"
)

// AccountStore persists the side effects of session transitions.
type AccountStore interface {
	MarkConnected(ctx context.Context, acc model.Account) error
	MarkDisconnected(ctx context.Context, sessionID string) error
	SaveOwnerCooldown(ctx context.Context, ownerID string, until time.Time) error
	ActiveCooldowns(ctx context.Context, now time.Time) (map[string]time.Time, error)
}

type Options struct {
	Policy      Policy
	Factory     protocol.Factory
	Credentials protocol.CredentialStore
	Store       AccountStore
	Hub         push.Publisher
	Log         zerolog.Logger
	Now         func() time.Time
	SendRate    float64
	SendBurst   int
}

type ownerState struct {
	cooldownUntil time.Time
	lastAttempt   time.Time
}

// Registry owns every live session and the per-owner cooldown table. It is
// the only entry point for connect, disconnect, status and send.
type Registry struct {
	policy    Policy
	factory   protocol.Factory
	creds     protocol.CredentialStore
	store     AccountStore
	hub       push.Publisher
	log       zerolog.Logger
	now       func() time.Time
	sendRate  float64
	sendBurst int

	mu       sync.Mutex
	sessions map[string]*session
	owners   map[string]*ownerState
}

func NewRegistry(opts Options) *Registry {
	if opts.Hub == nil {
		opts.Hub = nopPublisher{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SendRate <= 0 {
		opts.SendRate = 1
	}
	if opts.SendBurst <= 0 {
		opts.SendBurst = 1
	}
	return &Registry{
		policy:    opts.Policy,
		factory:   opts.Factory,
		creds:     opts.Credentials,
		store:     opts.Store,
		hub:       opts.Hub,
		log:       opts.Log,
		now:       opts.Now,
		sendRate:  opts.SendRate,
		sendBurst: opts.SendBurst,
		sessions:  map[string]*session{},
		owners:    map[string]*ownerState{},
	}
}

// Restore reloads unexpired owner cooldowns from storage.
func (r *Registry) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	cds, err := r.store.ActiveCooldowns(ctx, r.now())
	if err != nil {
		return fmt.Errorf("restore cooldowns: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for owner, until := range cds {
		r.ownerLocked(owner).cooldownUntil = until
	}
	r.log.Info().Int("owners", len(cds)).Msg("restored owner cooldowns")
	return nil
}

func (r *Registry) ownerLocked(ownerID string) *ownerState {
	st := r.owners[ownerID]
	if st == nil {
		st = &ownerState{}
		r.owners[ownerID] = st
	}
	return st
}

// RequestConnect starts linking a session for ownerID. An empty sessionID
// gets a fresh id. It returns once the attempt is started; progress is
// pushed on the session topic.
func (r *Registry) RequestConnect(ctx context.Context, ownerID, sessionID string) (string, error) {
	if ownerID == "" {
		return "", fmt.Errorf("owner id is required")
	}
	now := r.now()

	r.mu.Lock()
	st := r.ownerLocked(ownerID)
	if now.Before(st.cooldownUntil) {
		r.mu.Unlock()
		return sessionID, appErrors.NewConnectionError(appErrors.RateLimited, sessionID,
			fmt.Errorf("owner cooldown active for %d more minutes", remainingMinutes(st.cooldownUntil, now)))
	}
	if !st.lastAttempt.IsZero() && now.Sub(st.lastAttempt) < r.policy.ConnectAttemptInterval {
		r.mu.Unlock()
		return sessionID, appErrors.NewConnectionError(appErrors.RateLimited, sessionID,
			fmt.Errorf("connect attempts are limited to one per %s", r.policy.ConnectAttemptInterval))
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	s := r.sessions[sessionID]
	if s == nil {
		s = newSession(r, sessionID, ownerID)
		r.sessions[sessionID] = s
	} else if s.snapshot().OwnerID != ownerID {
		r.mu.Unlock()
		return sessionID, fmt.Errorf("session %s belongs to another owner", sessionID)
	}
	// Reserve the attempt slot so concurrent requests see it, and hand it
	// back if this request did not start connecting.
	prevAttempt := st.lastAttempt
	st.lastAttempt = now
	r.mu.Unlock()

	started, err := s.apply(Event{Type: EvConnect}, 0)
	if !started {
		r.mu.Lock()
		if st.lastAttempt.Equal(now) {
			st.lastAttempt = prevAttempt
		}
		r.mu.Unlock()
	}
	if err != nil {
		return sessionID, err
	}
	return sessionID, nil
}

// RequestDisconnect tears down the adapter and keeps the record for polling.
func (r *Registry) RequestDisconnect(ctx context.Context, sessionID string) error {
	s, err := r.get(sessionID)
	if err != nil {
		return err
	}
	return s.dispatch(Event{Type: EvDisconnect}, 0)
}

func (r *Registry) GetStatus(sessionID string) (model.LinkedAccountSession, error) {
	s, err := r.get(sessionID)
	if err != nil {
		return model.LinkedAccountSession{}, err
	}
	return s.snapshot(), nil
}

// Send delivers text through the session's adapter. It fails with
// ErrNotConnected unless the session is Connected.
func (r *Registry) Send(ctx context.Context, sessionID, recipient, text string) error {
	s, err := r.get(sessionID)
	if err != nil {
		return err
	}
	return s.send(ctx, recipient, text)
}

func (r *Registry) IsConnected(sessionID string) bool {
	s, err := r.get(sessionID)
	if err != nil {
		return false
	}
	return s.snapshot().Status == model.SessionConnected
}

// ConnectedAccounts lists ownerID's live connected sessions, ordered by id.
func (r *Registry) ConnectedAccounts(ownerID string) []model.Account {
	r.mu.Lock()
	list := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()

	var out []model.Account
	for _, s := range list {
		st := s.snapshot()
		if st.OwnerID == ownerID && st.Status == model.SessionConnected {
			out = append(out, model.Account{SessionID: st.ID, OwnerID: st.OwnerID, PhoneNumber: st.PhoneNumber})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// CooldownRemaining reports how long ownerID is still barred from connecting.
func (r *Registry) CooldownRemaining(ownerID string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.owners[ownerID]
	if st == nil {
		return 0
	}
	if d := st.cooldownUntil.Sub(r.now()); d > 0 {
		return d
	}
	return 0
}

// Close disconnects every session.
func (r *Registry) Close() {
	r.mu.Lock()
	list := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()
	for _, s := range list {
		_ = s.dispatch(Event{Type: EvDisconnect}, 0)
	}
}

func (r *Registry) get(sessionID string) (*session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[sessionID]
	if s == nil {
		return nil, appErrors.ErrSessionNotFound
	}
	return s, nil
}

func (r *Registry) onConnected(ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.ownerLocked(ownerID)
	st.cooldownUntil = time.Time{}
	st.lastAttempt = time.Time{}
}

// onBadSession frees the attempt slot: invalid credentials are cleared and
// the user may pair again straight away.
func (r *Registry) onBadSession(ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ownerLocked(ownerID).lastAttempt = time.Time{}
}

func (r *Registry) ownerCooldown(ownerID string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st := r.owners[ownerID]; st != nil {
		return st.cooldownUntil
	}
	return time.Time{}
}

func (r *Registry) onBlocked(ownerID string, until time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.ownerLocked(ownerID)
	if until.After(st.cooldownUntil) {
		st.cooldownUntil = until
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, model.PushMessage) {}
