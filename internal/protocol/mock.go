package protocol

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	appErrors "github.com/unclebandit/linkcast-backend/internal/errors"
)

// MockAdapter simulates a platform connection for local runs. Without stored
// credentials it emits a pairing payload and "scans" itself after ScanAfter;
// with them it opens straight away. Once open it accepts sends, failing
// roughly FailRate of them.
type MockAdapter struct {
	SessionID string
	ScanAfter time.Duration
	FailRate  float64

	mu     sync.Mutex
	events chan Event
	open   bool
	closed bool
}

func NewMockFactory(scanAfter time.Duration, failRate float64) Factory {
	return func(sessionID string) Adapter {
		return &MockAdapter{SessionID: sessionID, ScanAfter: scanAfter, FailRate: failRate}
	}
}

func (m *MockAdapter) Connect(ctx context.Context, creds CredentialsRef) (<-chan Event, error) {
	var blob []byte
	if creds.Store != nil {
		b, err := creds.Store.Load(ctx, creds.SessionID)
		if err != nil {
			return nil, appErrors.NewConnectionError(ClassifyStatus(StatusBadSession), creds.SessionID, err)
		}
		blob = b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events != nil {
		return nil, errors.New("mock adapter already connected")
	}
	m.events = make(chan Event, 4)

	if len(blob) > 0 {
		m.open = true
		m.events <- Event{Kind: EventOpen, AccountID: string(blob)}
		return m.events, nil
	}
	m.events <- Event{Kind: EventPairing, Pairing: "mock-pair:" + m.SessionID}

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.ScanAfter):
		}
		account := fmt.Sprintf("+2547%08d", rand.IntN(1e8))
		if creds.Store != nil {
			if err := creds.Store.Save(ctx, creds.SessionID, []byte(account)); err != nil {
				m.Drop(StatusBadSession, fmt.Errorf("save credentials: %w", err))
				return
			}
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return
		}
		m.open = true
		m.events <- Event{Kind: EventOpen, AccountID: account}
	}()
	return m.events, nil
}

// Drop ends the connection from the platform side with a disconnect status
// code.
func (m *MockAdapter) Drop(code int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked(Event{Kind: EventClose, Cause: ClassifyStatus(code), Err: err})
}

func (m *MockAdapter) Send(ctx context.Context, recipient, text string) error {
	m.mu.Lock()
	open := m.open
	m.mu.Unlock()
	if !open {
		return appErrors.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if rand.Float64() < m.FailRate {
		return fmt.Errorf("mock send to %s failed", recipient)
	}
	return nil
}

func (m *MockAdapter) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked(Event{Kind: EventClose, Cause: ClassifyStatus(StatusConnectionClosed)})
	return nil
}

func (m *MockAdapter) closeLocked(ev Event) {
	if m.closed || m.events == nil {
		return
	}
	m.closed = true
	m.open = false
	m.events <- ev
	close(m.events)
}
