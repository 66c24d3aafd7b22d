// Package scheduler turns due Scheduled campaigns into start commands.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/unclebandit/linkcast-backend/internal/queue"
)

// DueLister finds Scheduled campaigns whose start time has passed.
type DueLister interface {
	DueScheduled(ctx context.Context, now time.Time) ([]int, error)
}

type Scheduler struct {
	spec   string
	repo   DueLister
	queue  queue.Queue
	log    zerolog.Logger
	now    func() time.Time
	parser cron.Parser

	mu sync.Mutex
	c  *cron.Cron
}

// New validates spec (standard five fields or a descriptor such as
// "@every 1m").
func New(spec string, repo DueLister, q queue.Queue, log zerolog.Logger) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	return &Scheduler{spec: spec, repo: repo, queue: q, log: log, now: time.Now, parser: parser}, nil
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.spec, func() { s.Tick(context.Background()) }); err != nil {
		return fmt.Errorf("register tick: %w", err)
	}
	c.Start()
	s.c = c
	s.log.Info().Str("spec", s.spec).Msg("scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Tick publishes a start command for every due campaign and returns how many
// were published. A campaign that is already starting is rejected by the
// executor, so repeated ticks are harmless.
func (s *Scheduler) Tick(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := s.now()
	ids, err := s.repo.DueScheduled(ctx, now)
	if err != nil {
		s.log.Error().Err(err).Msg("list due campaigns")
		return 0
	}
	published := 0
	for _, id := range ids {
		err := s.queue.Publish(queue.TopicCampaignCommands, queue.Command{Action: queue.ActionStart, CampaignID: id, IssuedAt: now})
		if err != nil {
			if errors.Is(err, queue.ErrNoSubscribers) {
				s.log.Warn().Int("campaign_id", id).Msg("no command worker listening")
			} else {
				s.log.Error().Err(err).Int("campaign_id", id).Msg("publish start command")
			}
			continue
		}
		published++
	}
	if published > 0 {
		s.log.Info().Int("count", published).Msg("scheduled campaigns due")
	}
	return published
}
