package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/linkcast-backend/internal/errors"
	"github.com/unclebandit/linkcast-backend/internal/queue"
	"github.com/unclebandit/linkcast-backend/internal/service"
)

// MockRunner records the commands it receives
type MockRunner struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (m *MockRunner) record(action string, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, action)
	return m.err
}

func (m *MockRunner) Start(_ context.Context, id int) error { return m.record("start", id) }
func (m *MockRunner) Pause(_ context.Context, id int) error { return m.record("pause", id) }
func (m *MockRunner) Stop(_ context.Context, id int) error  { return m.record("stop", id) }

func TestWorkerDispatchesCommands(t *testing.T) {
	runner := &MockRunner{}
	w := service.NewWorker(runner, zerolog.Nop())

	for _, action := range []string{queue.ActionStart, queue.ActionPause, queue.ActionStop} {
		if err := w.Handle(queue.Command{Action: action, CampaignID: 1}); err != nil {
			t.Fatalf("%s: %v", action, err)
		}
	}
	// broker deliveries arrive as raw JSON
	raw, _ := json.Marshal(queue.Command{Action: queue.ActionStart, CampaignID: 2})
	if err := w.Handle(raw); err != nil {
		t.Fatal(err)
	}

	want := []string{"start", "pause", "stop", "start"}
	if len(runner.calls) != len(want) {
		t.Fatalf("expected %v, got %v", want, runner.calls)
	}
	for i := range want {
		if runner.calls[i] != want[i] {
			t.Errorf("call %d: expected %s, got %s", i, want[i], runner.calls[i])
		}
	}
}

func TestWorkerAcksPermanentErrors(t *testing.T) {
	for _, err := range []error{
		appErrors.NewCampaignError(appErrors.AlreadyRunning, 1, nil),
		appErrors.NewCampaignError(appErrors.NoTargets, 1, nil),
		appErrors.NewCampaignError(appErrors.NoNumbersAvailable, 1, nil),
		appErrors.NewCampaignNotFound(1),
	} {
		w := service.NewWorker(&MockRunner{err: err}, zerolog.Nop())
		if got := w.Handle(queue.Command{Action: queue.ActionStart, CampaignID: 1}); got != nil {
			t.Errorf("%v should be acknowledged, got %v", err, got)
		}
	}

	w := service.NewWorker(&MockRunner{err: errors.New("connection reset")}, zerolog.Nop())
	if err := w.Handle(queue.Command{Action: queue.ActionStart, CampaignID: 1}); err == nil {
		t.Error("transient error should be returned for retry")
	}
}

func TestWorkerDropsUnknownAndMalformed(t *testing.T) {
	runner := &MockRunner{}
	w := service.NewWorker(runner, zerolog.Nop())

	if err := w.Handle(queue.Command{Action: "explode", CampaignID: 1}); err != nil {
		t.Errorf("unknown action should be dropped, got %v", err)
	}
	if err := w.Handle([]byte("not json")); err != nil {
		t.Errorf("malformed payload should be dropped, got %v", err)
	}
	if len(runner.calls) != 0 {
		t.Errorf("runner should not be called, got %v", runner.calls)
	}
}

func TestWorkerSubscribesToCommands(t *testing.T) {
	runner := &MockRunner{}
	q := queue.NewInMemoryQueue(zerolog.Nop())
	if err := service.NewWorker(runner, zerolog.Nop()).Subscribe(q); err != nil {
		t.Fatal(err)
	}
	if err := q.Publish(queue.TopicCampaignCommands, queue.Command{Action: queue.ActionStop, CampaignID: 9}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		runner.mu.Lock()
		n := len(runner.calls)
		runner.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("command never reached the runner")
}
