package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/unclebandit/linkcast-backend/internal/config"
	"github.com/unclebandit/linkcast-backend/internal/db"
	appErrors "github.com/unclebandit/linkcast-backend/internal/errors"
	"github.com/unclebandit/linkcast-backend/internal/logger"
	"github.com/unclebandit/linkcast-backend/internal/model"
	"github.com/unclebandit/linkcast-backend/internal/queue"
	"github.com/unclebandit/linkcast-backend/internal/repository"
)

// CampaignStore is where final run results are reconciled.
type CampaignStore interface {
	UpdateCounters(ctx context.Context, campaignID int, counters model.CampaignCounters) error
	UpdateStatus(ctx context.Context, campaignID int, status model.CampaignStatus) error
}

// ProgressRecorder consumes campaign progress events. Every event is logged;
// terminal events are written back so a lost end-of-run write on the server
// is repaired. Paused is left alone since a resumed run may already be
// Active again when a late event arrives.
type ProgressRecorder struct {
	Store CampaignStore
	Log   zerolog.Logger
}

func (p *ProgressRecorder) Handle(payload any) error {
	var ev queue.ProgressEvent
	if err := queue.Decode(payload, &ev); err != nil {
		// Malformed payloads will never succeed; ack them.
		p.Log.Error().Err(err).Msg("invalid progress event")
		return nil
	}
	if ev.CampaignID <= 0 {
		p.Log.Error().Int("campaign_id", ev.CampaignID).Msg("progress event without campaign id")
		return nil
	}

	p.Log.Info().
		Int("campaign_id", ev.CampaignID).
		Str("status", string(ev.Status)).
		Int64("contact_id", ev.ContactID).
		Str("session_id", ev.SessionID).
		Str("outcome", ev.Outcome).
		Int("sent", ev.Counters.Sent).
		Int("delivered", ev.Counters.Delivered).
		Int("failed", ev.Counters.Failed).
		Int("skipped", ev.Counters.Skipped).
		Bool("final", ev.Final).
		Msg("campaign progress")

	if !ev.Final || !terminal(ev.Status) {
		return nil
	}

	ctx := context.Background()
	err := p.Store.UpdateCounters(ctx, ev.CampaignID, ev.Counters)
	if err == nil {
		err = p.Store.UpdateStatus(ctx, ev.CampaignID, ev.Status)
	}
	var nf *appErrors.ErrCampaignNotFound
	switch {
	case errors.As(err, &nf):
		p.Log.Warn().Int("campaign_id", ev.CampaignID).Msg("campaign gone; dropping progress event")
		return nil
	case err != nil:
		return fmt.Errorf("reconcile campaign %d: %w", ev.CampaignID, err)
	}
	return nil
}

func terminal(s model.CampaignStatus) bool {
	return s == model.CampaignCompleted || s == model.CampaignCancelled
}

func main() {
	cfg, err := config.Load()
	log := logger.New(cfg.Log.Level, cfg.Log.Console)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.AMQPURL == "" {
		log.Fatal().Msg("AMQP_URL is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DB, logger.Component(log, "db"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to DB")
	}
	defer database.Close()

	q, err := queue.DialAMQP(cfg.AMQPURL, logger.Component(log, "queue"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer q.Close()

	rec := &ProgressRecorder{
		Store: &repository.CampaignRepository{DB: database},
		Log:   logger.Component(log, "progress"),
	}
	if err := q.Subscribe(queue.TopicCampaignProgress, rec.Handle); err != nil {
		log.Fatal().Err(err).Msg("failed to register consumer")
	}

	log.Info().Msg("worker running, waiting for messages")
	<-ctx.Done()
	log.Info().Msg("worker stopping")
}
