// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/linkcast-backend/internal/broadcast"
	"github.com/unclebandit/linkcast-backend/internal/config"
	"github.com/unclebandit/linkcast-backend/internal/controller"
	"github.com/unclebandit/linkcast-backend/internal/credstore"
	"github.com/unclebandit/linkcast-backend/internal/db"
	"github.com/unclebandit/linkcast-backend/internal/handler"
	"github.com/unclebandit/linkcast-backend/internal/logger"
	"github.com/unclebandit/linkcast-backend/internal/protocol"
	"github.com/unclebandit/linkcast-backend/internal/push"
	"github.com/unclebandit/linkcast-backend/internal/queue"
	"github.com/unclebandit/linkcast-backend/internal/repository"
	"github.com/unclebandit/linkcast-backend/internal/rotation"
	"github.com/unclebandit/linkcast-backend/internal/scheduler"
	"github.com/unclebandit/linkcast-backend/internal/service"
	"github.com/unclebandit/linkcast-backend/internal/session"
)

func main() {
	cfg, err := config.Load()
	log := logger.New(cfg.Log.Level, cfg.Log.Console)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	database, err := db.Open(ctx, cfg.DB, logger.Component(log, "db"))
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.Migrate(ctx, database); err != nil {
		return err
	}

	creds, err := credstore.Open(cfg.CredentialsDB)
	if err != nil {
		return err
	}
	defer creds.Close()

	q, err := openQueue(cfg, logger.Component(log, "queue"))
	if err != nil {
		return err
	}
	if c, ok := q.(io.Closer); ok {
		defer c.Close()
	}

	hub := push.NewHub(logger.Component(log, "push"))
	gw := repository.NewGateway(database)

	registry := session.NewRegistry(session.Options{
		Policy:      session.PolicyFromConfig(cfg.Session),
		Factory:     protocol.NewMockFactory(cfg.Session.MockScanAfter, cfg.Session.MockFailRate),
		Credentials: creds,
		Store:       gw.Accounts,
		Hub:         hub,
		Log:         logger.Component(log, "session"),
		SendRate:    cfg.Session.SendRatePerSecond,
		SendBurst:   cfg.Session.SendBurst,
	})
	if err := registry.Restore(ctx); err != nil {
		return err
	}
	defer registry.Close()

	executor := broadcast.NewExecutor(broadcast.Options{
		Gateway:  gw,
		Sender:   registry,
		Selector: rotation.NewSelector(nil, nil),
		Hub:      hub,
		Queue:    q,
		Log:      logger.Component(log, "broadcast"),
		Defaults: cfg.Broadcast.Defaults,
	})

	campaignService := &service.CampaignService{
		CampaignRepo: gw.Campaigns,
		ContactRepo:  gw.Contacts,
		Stats:        gw.Messages,
		Log:          logger.Component(log, "service"),
	}

	if err := service.NewWorker(executor, logger.Component(log, "commands")).Subscribe(q); err != nil {
		return err
	}

	sched, err := scheduler.New(cfg.Broadcast.ScheduleSpec, gw.Campaigns, q, logger.Component(log, "scheduler"))
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}

	httpLog := logger.Component(log, "http")
	router := controller.NewRouter(
		&controller.CampaignController{CampaignService: campaignService, Executor: executor, Log: httpLog},
		&controller.SessionController{Sessions: registry, Log: httpLog},
		controller.Sockets{
			Sessions:  &handler.SessionHandler{Sessions: registry, Hub: hub, Log: logger.Component(log, "ws")},
			Campaigns: &handler.CampaignHandler{Hub: hub, Log: logger.Component(log, "ws")},
		},
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("server running")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sched.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	// Active runs are paused so the next start resumes them.
	if err := executor.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("executor shutdown")
	}
	return nil
}

func openQueue(cfg config.Config, log zerolog.Logger) (queue.Queue, error) {
	if cfg.AMQPURL == "" {
		log.Info().Msg("AMQP_URL not set; using in-memory queue")
		return queue.NewInMemoryQueue(log), nil
	}
	q, err := queue.DialAMQP(cfg.AMQPURL, log)
	if err != nil {
		return nil, err
	}
	return q, nil
}
