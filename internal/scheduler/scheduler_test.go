package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/linkcast-backend/internal/queue"
)

type fakeRepo struct {
	ids []int
	err error
	at  time.Time
}

func (r *fakeRepo) DueScheduled(_ context.Context, now time.Time) ([]int, error) {
	r.at = now
	return r.ids, r.err
}

type recordingQueue struct {
	mu        sync.Mutex
	published []queue.Command
	failFor   int
}

func (q *recordingQueue) Publish(topic string, payload any) error {
	cmd := payload.(queue.Command)
	if cmd.CampaignID == q.failFor {
		return errors.New("broker down")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, cmd)
	return nil
}

func (q *recordingQueue) Subscribe(string, func(any) error) error { return nil }

func TestTickPublishesStartForDueCampaigns(t *testing.T) {
	repo := &fakeRepo{ids: []int{3, 5, 8}}
	q := &recordingQueue{failFor: 5}
	s, err := New("@every 1m", repo, q, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if n := s.Tick(context.Background()); n != 2 {
		t.Fatalf("expected 2 published, got %d", n)
	}
	if !repo.at.Equal(now) {
		t.Errorf("repo queried with %v", repo.at)
	}
	for _, cmd := range q.published {
		if cmd.Action != queue.ActionStart || cmd.CampaignID == 5 {
			t.Errorf("unexpected command %+v", cmd)
		}
	}
}

func TestTickRepoError(t *testing.T) {
	s, _ := New("*/5 * * * *", &fakeRepo{err: errors.New("db down")}, &recordingQueue{}, zerolog.Nop())
	if n := s.Tick(context.Background()); n != 0 {
		t.Errorf("expected nothing published, got %d", n)
	}
}

func TestNewRejectsBadSpec(t *testing.T) {
	if _, err := New("every minute", &fakeRepo{}, &recordingQueue{}, zerolog.Nop()); err == nil {
		t.Error("expected parse error")
	}
}

func TestStartStop(t *testing.T) {
	s, _ := New("@every 1h", &fakeRepo{}, &recordingQueue{}, zerolog.Nop())
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second start should be a no-op: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	s.Stop(ctx)
}
