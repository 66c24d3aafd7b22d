// Package broadcast runs campaigns: it walks the target contacts one at a
// time, rotates sends across the owner's connected accounts and paces them
// with anti-blocking delays.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/linkcast-backend/internal/errors"
	"github.com/unclebandit/linkcast-backend/internal/model"
	"github.com/unclebandit/linkcast-backend/internal/push"
	"github.com/unclebandit/linkcast-backend/internal/queue"
	"github.com/unclebandit/linkcast-backend/internal/rotation"
	"github.com/unclebandit/linkcast-backend/internal/service"
)

// Gateway is the persistence the executor needs.
type Gateway interface {
	GetCampaign(ctx context.Context, id int) (*model.Campaign, error)
	GetContacts(ctx context.Context, ownerID string) ([]model.Contact, error)
	GetConnectedAccounts(ctx context.Context, ownerID string) ([]model.Account, error)
	GetOrCreateConversation(ctx context.Context, ownerID string, contactID int64) (*model.Conversation, error)
	CreateMessage(ctx context.Context, msg *model.OutboundMessage) error
	UpdateCampaignCounters(ctx context.Context, id int, counters model.CampaignCounters) error
	UpdateCampaignStatus(ctx context.Context, id int, status model.CampaignStatus) error
	MessagedContactIDs(ctx context.Context, campaignID int) (map[int64]bool, error)
}

// Sender delivers through a linked session. session.Registry implements it.
type Sender interface {
	Send(ctx context.Context, sessionID, recipient, text string) error
	IsConnected(sessionID string) bool
}

// Outcome is the result of handling one contact.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
	// OutcomeSkippedNoCapacity means no live account could take the send.
	// It counts toward neither sent nor failed.
	OutcomeSkippedNoCapacity    Outcome = "skipped_no_capacity"
	OutcomeSkippedOutsideWindow Outcome = "skipped_outside_window"
)

type Options struct {
	Gateway  Gateway
	Sender   Sender
	Selector *rotation.Selector
	Hub      push.Publisher
	Queue    queue.Queue
	Log      zerolog.Logger
	Defaults model.AntiBlockingConfig

	Now         func() time.Time
	NewRand     func() *rand.Rand
	Sleep       func(ctx context.Context, d time.Duration) error
	SendTimeout time.Duration
}

type Executor struct {
	gw       Gateway
	sender   Sender
	selector *rotation.Selector
	hub      push.Publisher
	queue    queue.Queue
	log      zerolog.Logger
	defaults model.AntiBlockingConfig

	now         func() time.Time
	newRand     func() *rand.Rand
	sleep       func(ctx context.Context, d time.Duration) error
	sendTimeout time.Duration

	mu   sync.Mutex
	runs map[int]*run
}

// run is the runtime state of one campaign's loop.
type run struct {
	id   int
	done chan struct{}

	mu        sync.Mutex
	cancel    context.CancelFunc
	requested model.CampaignStatus
	finished  bool
}

func (r *run) stopping() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requested != ""
}

func NewExecutor(opts Options) *Executor {
	if opts.Selector == nil {
		opts.Selector = rotation.NewSelector(nil, opts.Now)
	}
	if opts.Hub == nil {
		opts.Hub = nopPublisher{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewRand == nil {
		opts.NewRand = func() *rand.Rand {
			return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		}
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = time.Minute
	}
	return &Executor{
		gw:          opts.Gateway,
		sender:      opts.Sender,
		selector:    opts.Selector,
		hub:         opts.Hub,
		queue:       opts.Queue,
		log:         opts.Log,
		defaults:    opts.Defaults,
		now:         opts.Now,
		newRand:     opts.NewRand,
		sleep:       opts.Sleep,
		sendTimeout: opts.SendTimeout,
		runs:        map[int]*run{},
	}
}

// Start validates the campaign and launches its loop in the background.
// AlreadyRunning, NoTargets and NoNumbersAvailable are returned before any
// state is written. Starting a Paused campaign resumes it: contacts that
// already have a message record are not sent again and their counters are
// kept. Skipped contacts have no record, so Skipped restarts from zero.
func (e *Executor) Start(ctx context.Context, campaignID int) error {
	r := &run{id: campaignID, done: make(chan struct{})}
	e.mu.Lock()
	if _, ok := e.runs[campaignID]; ok {
		e.mu.Unlock()
		return appErrors.NewCampaignError(appErrors.AlreadyRunning, campaignID, nil)
	}
	e.runs[campaignID] = r
	e.mu.Unlock()

	launched := false
	defer func() {
		if !launched {
			e.release(r)
		}
	}()

	c, err := e.gw.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	// Active without a run means the previous process died mid-run.
	if !c.Status.Startable() && c.Status != model.CampaignActive {
		return fmt.Errorf("%w: campaign %d is %s", appErrors.ErrInvalidTransition, campaignID, c.Status)
	}
	cfg := c.AntiBlocking.WithDefaults(e.defaults)

	contacts, err := e.gw.GetContacts(ctx, c.OwnerID)
	if err != nil {
		return fmt.Errorf("load contacts: %w", err)
	}
	targets := ResolveTargets(c, contacts)
	if len(targets) == 0 {
		return appErrors.NewCampaignError(appErrors.NoTargets, campaignID, nil)
	}

	pool, err := e.gw.GetConnectedAccounts(ctx, c.OwnerID)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	pool = e.live(pool)
	if len(pool) == 0 {
		return appErrors.NewCampaignError(appErrors.NoNumbersAvailable, campaignID, nil)
	}

	var counters model.CampaignCounters
	if c.Status == model.CampaignPaused || c.Status == model.CampaignActive {
		counters = c.Counters
		counters.Skipped = 0
		done, err := e.gw.MessagedContactIDs(ctx, campaignID)
		if err != nil {
			return fmt.Errorf("load messaged contacts: %w", err)
		}
		remaining := targets[:0]
		for _, t := range targets {
			if !done[t.ID] {
				remaining = append(remaining, t)
			}
		}
		targets = remaining
	}

	if err := e.gw.UpdateCampaignStatus(ctx, campaignID, model.CampaignActive); err != nil {
		return fmt.Errorf("mark campaign active: %w", err)
	}
	if err := e.gw.UpdateCampaignCounters(ctx, campaignID, counters); err != nil {
		return fmt.Errorf("reset campaign counters: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancel = cancel
	if r.requested != "" {
		cancel()
	}
	r.mu.Unlock()

	e.log.Info().Int("campaign_id", campaignID).Int("targets", len(targets)).Int("accounts", len(pool)).
		Str("rotation", string(cfg.Rotation)).Msg("campaign run started")
	e.publish(c.ID, model.CampaignActive, counters, queue.ProgressEvent{})

	launched = true
	go e.loop(runCtx, r, c, targets, pool, cfg, counters)
	return nil
}

// Pause asks a running campaign to stop after the contact in flight. The
// Paused status is written immediately.
func (e *Executor) Pause(ctx context.Context, campaignID int) error {
	r := e.get(campaignID)
	if r == nil {
		return fmt.Errorf("%w: campaign %d is not running", appErrors.ErrInvalidTransition, campaignID)
	}
	return e.requestEnd(ctx, r, model.CampaignPaused)
}

// Stop cancels a campaign. A running loop ends after the contact in flight;
// a campaign that is not running is cancelled directly unless it already
// finished.
func (e *Executor) Stop(ctx context.Context, campaignID int) error {
	if r := e.get(campaignID); r != nil {
		return e.requestEnd(ctx, r, model.CampaignCancelled)
	}
	c, err := e.gw.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if c.Status == model.CampaignCompleted || c.Status == model.CampaignCancelled {
		return fmt.Errorf("%w: campaign %d is %s", appErrors.ErrInvalidTransition, campaignID, c.Status)
	}
	if err := e.gw.UpdateCampaignStatus(ctx, campaignID, model.CampaignCancelled); err != nil {
		return fmt.Errorf("cancel campaign: %w", err)
	}
	e.publish(campaignID, model.CampaignCancelled, c.Counters, queue.ProgressEvent{Final: true})
	return nil
}

func (e *Executor) requestEnd(ctx context.Context, r *run, status model.CampaignStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return fmt.Errorf("%w: campaign %d already finished", appErrors.ErrInvalidTransition, r.id)
	}
	r.requested = status
	if r.cancel != nil {
		r.cancel()
	}
	if err := e.gw.UpdateCampaignStatus(ctx, r.id, status); err != nil {
		return fmt.Errorf("mark campaign %s: %w", status, err)
	}
	e.log.Info().Int("campaign_id", r.id).Str("status", string(status)).Msg("campaign end requested")
	return nil
}

// ListActiveCampaignIDs returns the ids with a live run, ascending.
func (e *Executor) ListActiveCampaignIDs() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]int, 0, len(e.runs))
	for id := range e.runs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Wait blocks until campaignID has no live run.
func (e *Executor) Wait(campaignID int) {
	if r := e.get(campaignID); r != nil {
		<-r.done
	}
}

// Shutdown pauses every live run so it can be resumed later, then waits for
// the loops to exit or ctx to expire.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	runs := make([]*run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	for _, r := range runs {
		if err := e.requestEnd(ctx, r, model.CampaignPaused); err != nil {
			e.log.Warn().Err(err).Int("campaign_id", r.id).Msg("pause on shutdown")
		}
	}
	for _, r := range runs {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *Executor) get(campaignID int) *run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs[campaignID]
}

func (e *Executor) release(r *run) {
	e.mu.Lock()
	if e.runs[r.id] == r {
		delete(e.runs, r.id)
	}
	e.mu.Unlock()
	close(r.done)
}

// live keeps only accounts whose session is currently Connected.
func (e *Executor) live(pool []model.Account) []model.Account {
	out := make([]model.Account, 0, len(pool))
	for _, acc := range pool {
		if e.sender.IsConnected(acc.SessionID) {
			out = append(out, acc)
		}
	}
	return out
}

func (e *Executor) loop(ctx context.Context, r *run, c *model.Campaign, targets []model.Contact, pool []model.Account, cfg model.AntiBlockingConfig, counters model.CampaignCounters) {
	log := e.log.With().Int("campaign_id", c.ID).Logger()
	final := model.CampaignCompleted
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("campaign run aborted")
			final = model.CampaignCancelled
		}
		e.finish(r, c.ID, final, counters)
	}()

	rng := e.newRand()
	if cfg.ShuffleTargets {
		rng.Shuffle(len(targets), func(i, j int) { targets[i], targets[j] = targets[j], targets[i] })
	}
	cur := &rotation.Cursor{}
	lastAccount := ""

	for i, ct := range targets {
		if r.stopping() || ctx.Err() != nil {
			break
		}

		res := e.processContact(ctx, c, ct, pool, cfg, cur, rng)
		switch res.outcome {
		case OutcomeDelivered:
			counters.Sent++
			counters.Delivered++
		case OutcomeFailed:
			counters.Sent++
			counters.Failed++
			e.selector.RecordFailure(res.sessionID)
			log.Warn().Err(res.err).Int64("contact_id", ct.ID).Str("session_id", res.sessionID).Msg("send failed")
		default:
			counters.Skipped++
			log.Info().Int64("contact_id", ct.ID).Str("outcome", string(res.outcome)).Msg("contact skipped")
		}

		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := e.gw.UpdateCampaignCounters(persistCtx, c.ID, counters); err != nil {
			log.Error().Err(err).Msg("failed to persist counters")
		}
		cancel()
		e.publish(c.ID, model.CampaignActive, counters, queue.ProgressEvent{
			ContactID: ct.ID,
			SessionID: res.sessionID,
			Outcome:   string(res.outcome),
		})

		if res.sessionID == "" || i == len(targets)-1 {
			continue
		}
		rotated := lastAccount != "" && lastAccount != res.sessionID
		lastAccount = res.sessionID
		if err := e.sleep(ctx, Delay(cfg, rotated, rng)); err != nil {
			break
		}
	}
}

type contactResult struct {
	outcome   Outcome
	sessionID string
	err       error
}

// processContact handles one contact end to end. It never returns a
// loop-fatal error; every failure maps to an outcome. Work for the contact
// runs on a context detached from ctx so pause and stop do not cut a send
// short.
func (e *Executor) processContact(ctx context.Context, c *model.Campaign, ct model.Contact, pool []model.Account, cfg model.AntiBlockingConfig, cur *rotation.Cursor, rng *rand.Rand) contactResult {
	if !InSendWindow(cfg, e.now()) {
		return contactResult{outcome: OutcomeSkippedOutsideWindow}
	}

	pick, err := e.selector.Select(e.live(pool), cfg.Rotation, cfg.HourlyCap, cur)
	if err != nil {
		return contactResult{outcome: OutcomeSkippedNoCapacity, err: err}
	}
	if pick.Saturated {
		e.log.Warn().Int("campaign_id", c.ID).Str("session_id", pick.Account.SessionID).Msg("all accounts at hourly cap; using least used")
	}
	sessionID := pick.Account.SessionID

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.sendTimeout)
	defer cancel()

	msg := &model.OutboundMessage{
		CampaignID:      c.ID,
		ContactID:       ct.ID,
		SessionID:       sessionID,
		RenderedContent: service.RenderForContact(c.BaseTemplate, ct),
	}

	sendErr := func() error {
		conv, err := e.gw.GetOrCreateConversation(opCtx, c.OwnerID, ct.ID)
		if err != nil {
			return fmt.Errorf("resolve conversation: %w", err)
		}
		msg.ConversationID = conv.ID

		if err := e.sleep(opCtx, TypingPause(cfg, rng)); err != nil {
			return err
		}
		return e.safeSend(opCtx, sessionID, ct.Phone, msg.RenderedContent)
	}()

	res := contactResult{outcome: OutcomeDelivered, sessionID: sessionID}
	msg.Status = model.MessageSent
	if sendErr != nil {
		res.outcome = OutcomeFailed
		res.err = appErrors.NewCampaignError(appErrors.PerContactSendFailed, c.ID, sendErr)
		msg.Status = model.MessageFailed
		msg.LastError = sendErr.Error()
	}
	if err := e.gw.CreateMessage(opCtx, msg); err != nil {
		e.log.Error().Err(err).Int("campaign_id", c.ID).Int64("contact_id", ct.ID).Msg("failed to record message")
	}
	return res
}

// safeSend turns a panicking adapter into an ordinary send failure.
func (e *Executor) safeSend(ctx context.Context, sessionID, recipient, text string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("adapter panic: %v", rec)
		}
	}()
	return e.sender.Send(ctx, sessionID, recipient, text)
}

func (e *Executor) finish(r *run, campaignID int, final model.CampaignStatus, counters model.CampaignCounters) {
	r.mu.Lock()
	if final != model.CampaignCancelled && r.requested != "" {
		final = r.requested
	}
	r.finished = true
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.gw.UpdateCampaignCounters(ctx, campaignID, counters); err != nil {
		e.log.Error().Err(err).Int("campaign_id", campaignID).Msg("failed to persist final counters")
	}
	if err := e.gw.UpdateCampaignStatus(ctx, campaignID, final); err != nil {
		e.log.Error().Err(err).Int("campaign_id", campaignID).Msg("failed to persist final status")
	}

	e.log.Info().Int("campaign_id", campaignID).Str("status", string(final)).
		Int("sent", counters.Sent).Int("delivered", counters.Delivered).
		Int("failed", counters.Failed).Int("skipped", counters.Skipped).Msg("campaign run finished")
	e.publish(campaignID, final, counters, queue.ProgressEvent{Final: true})
	e.release(r)
}

func (e *Executor) publish(campaignID int, status model.CampaignStatus, counters model.CampaignCounters, ev queue.ProgressEvent) {
	cp := counters
	e.hub.Publish(push.CampaignTopic(campaignID), model.PushMessage{
		Type:       model.PushProgress,
		CampaignID: campaignID,
		Status:     string(status),
		Counters:   &cp,
	})
	if e.queue == nil {
		return
	}
	ev.CampaignID = campaignID
	ev.Status = status
	ev.Counters = counters
	ev.At = e.now()
	if err := e.queue.Publish(queue.TopicCampaignProgress, ev); err != nil && !errors.Is(err, queue.ErrNoSubscribers) {
		e.log.Warn().Err(err).Int("campaign_id", campaignID).Msg("failed to publish progress")
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, model.PushMessage) {}
