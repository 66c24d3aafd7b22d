package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/linkcast-backend/internal/errors"
	"github.com/unclebandit/linkcast-backend/internal/queue"
)

// CampaignRunner is the executor control surface the worker drives.
type CampaignRunner interface {
	Start(ctx context.Context, campaignID int) error
	Pause(ctx context.Context, campaignID int) error
	Stop(ctx context.Context, campaignID int) error
}

// Worker processes campaign commands from the queue
type Worker struct {
	Runner  CampaignRunner
	Log     zerolog.Logger
	Timeout time.Duration
}

// Constructor
func NewWorker(runner CampaignRunner, log zerolog.Logger) *Worker {
	return &Worker{Runner: runner, Log: log, Timeout: 30 * time.Second}
}

// Subscribe registers the worker on the command topic.
func (w *Worker) Subscribe(q queue.Queue) error {
	return q.Subscribe(queue.TopicCampaignCommands, w.Handle)
}

// Handle runs one command. Errors a redelivery cannot fix are logged and
// acknowledged; only the rest are returned. A due campaign that was rejected
// stays Scheduled and is picked up again on the next scheduler tick.
func (w *Worker) Handle(payload any) error {
	var cmd queue.Command
	if err := queue.Decode(payload, &cmd); err != nil {
		w.Log.Warn().Err(err).Msg("dropping malformed command")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.Timeout)
	defer cancel()

	var err error
	switch cmd.Action {
	case queue.ActionStart:
		err = w.Runner.Start(ctx, cmd.CampaignID)
	case queue.ActionPause:
		err = w.Runner.Pause(ctx, cmd.CampaignID)
	case queue.ActionStop:
		err = w.Runner.Stop(ctx, cmd.CampaignID)
	default:
		w.Log.Warn().Str("action", cmd.Action).Int("campaign_id", cmd.CampaignID).Msg("dropping unknown command")
		return nil
	}

	log := w.Log.With().Str("action", cmd.Action).Int("campaign_id", cmd.CampaignID).Logger()
	switch {
	case err == nil:
		log.Info().Msg("command applied")
		return nil
	case permanent(err):
		log.Warn().Err(err).Msg("command rejected")
		return nil
	default:
		log.Error().Err(err).Msg("command failed")
		return fmt.Errorf("%s campaign %d: %w", cmd.Action, cmd.CampaignID, err)
	}
}

func permanent(err error) bool {
	var nf *appErrors.ErrCampaignNotFound
	return errors.As(err, &nf) ||
		errors.Is(err, appErrors.ErrAlreadyRunning) ||
		errors.Is(err, appErrors.ErrNoTargets) ||
		errors.Is(err, appErrors.ErrNoNumbersAvailable) ||
		errors.Is(err, appErrors.ErrInvalidTransition)
}
