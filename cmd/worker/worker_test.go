package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/linkcast-backend/internal/errors"
	"github.com/unclebandit/linkcast-backend/internal/model"
	"github.com/unclebandit/linkcast-backend/internal/queue"
)

// MockCampaignStore records writes in memory
type MockCampaignStore struct {
	mu       sync.Mutex
	counters map[int]model.CampaignCounters
	statuses map[int]model.CampaignStatus
	err      error
}

func newStore() *MockCampaignStore {
	return &MockCampaignStore{
		counters: map[int]model.CampaignCounters{},
		statuses: map[int]model.CampaignStatus{},
	}
}

func (m *MockCampaignStore) UpdateCounters(_ context.Context, id int, c model.CampaignCounters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.counters[id] = c
	return nil
}

func (m *MockCampaignStore) UpdateStatus(_ context.Context, id int, s model.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.statuses[id] = s
	return nil
}

func TestRecorderIgnoresIntermediateEvents(t *testing.T) {
	store := newStore()
	rec := &ProgressRecorder{Store: store, Log: zerolog.Nop()}

	err := rec.Handle(queue.ProgressEvent{
		CampaignID: 1,
		Status:     model.CampaignActive,
		Counters:   model.CampaignCounters{Sent: 1, Delivered: 1},
		ContactID:  10,
		Outcome:    "delivered",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.counters) != 0 || len(store.statuses) != 0 {
		t.Errorf("intermediate event must not write, got %v %v", store.counters, store.statuses)
	}
}

func TestRecorderReconcilesFinalEventFromBroker(t *testing.T) {
	store := newStore()
	rec := &ProgressRecorder{Store: store, Log: zerolog.Nop()}

	body, _ := json.Marshal(queue.ProgressEvent{
		CampaignID: 2,
		Status:     model.CampaignCompleted,
		Counters:   model.CampaignCounters{Sent: 3, Delivered: 2, Failed: 1},
		Final:      true,
		At:         time.Now(),
	})
	if err := rec.Handle(body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := store.counters[2]; got.Sent != 3 || got.Delivered != 2 || got.Failed != 1 {
		t.Errorf("unexpected counters %+v", got)
	}
	if store.statuses[2] != model.CampaignCompleted {
		t.Errorf("expected completed, got %s", store.statuses[2])
	}
}

func TestRecorderSkipsPausedFinalEvent(t *testing.T) {
	store := newStore()
	rec := &ProgressRecorder{Store: store, Log: zerolog.Nop()}

	if err := rec.Handle(queue.ProgressEvent{CampaignID: 5, Status: model.CampaignPaused, Final: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.statuses[5]; ok {
		t.Error("paused run must not be reconciled")
	}
}

func TestRecorderAcksMalformedPayloads(t *testing.T) {
	rec := &ProgressRecorder{Store: newStore(), Log: zerolog.Nop()}

	if err := rec.Handle([]byte("{not json")); err != nil {
		t.Errorf("malformed payload should be acked, got %v", err)
	}
	if err := rec.Handle(queue.ProgressEvent{Final: true}); err != nil {
		t.Errorf("missing campaign id should be acked, got %v", err)
	}
}

func TestRecorderRetriesOnStoreFailure(t *testing.T) {
	store := newStore()
	store.err = errors.New("db down")
	rec := &ProgressRecorder{Store: store, Log: zerolog.Nop()}

	err := rec.Handle(queue.ProgressEvent{CampaignID: 3, Status: model.CampaignCancelled, Final: true})
	if err == nil {
		t.Fatal("expected error so the delivery is retried")
	}
}

func TestRecorderThroughInMemoryQueue(t *testing.T) {
	store := newStore()
	rec := &ProgressRecorder{Store: store, Log: zerolog.Nop()}

	done := make(chan struct{})
	q := queue.NewInMemoryQueue(zerolog.Nop())
	q.Subscribe(queue.TopicCampaignProgress, func(p any) error {
		defer close(done)
		return rec.Handle(p)
	})

	if err := q.Publish(queue.TopicCampaignProgress, queue.ProgressEvent{
		CampaignID: 4,
		Status:     model.CampaignCancelled,
		Counters:   model.CampaignCounters{Sent: 1, Skipped: 2},
		Final:      true,
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not invoked")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.statuses[4] != model.CampaignCancelled || store.counters[4].Skipped != 2 {
		t.Errorf("unexpected store state %v %v", store.statuses, store.counters)
	}
}

func TestRecorderDropsEventsForMissingCampaign(t *testing.T) {
	store := newStore()
	store.err = appErrors.NewCampaignNotFound(6)
	rec := &ProgressRecorder{Store: store, Log: zerolog.Nop()}

	if err := rec.Handle(queue.ProgressEvent{CampaignID: 6, Status: model.CampaignCompleted, Final: true}); err != nil {
		t.Errorf("missing campaign should be acked, got %v", err)
	}
}
