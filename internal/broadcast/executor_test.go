package broadcast

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/linkcast-backend/internal/errors"
	"github.com/unclebandit/linkcast-backend/internal/model"
	"github.com/unclebandit/linkcast-backend/internal/rotation"
)

type memGateway struct {
	mu        sync.Mutex
	campaigns map[int]*model.Campaign
	contacts  []model.Contact
	accounts  []model.Account
	messages  []model.OutboundMessage
	convs     map[int64]*model.Conversation

	panicOnConversation bool
}

func newGateway() *memGateway {
	return &memGateway{campaigns: map[int]*model.Campaign{}, convs: map[int64]*model.Conversation{}}
}

func (g *memGateway) GetCampaign(_ context.Context, id int) (*model.Campaign, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (g *memGateway) GetContacts(_ context.Context, ownerID string) ([]model.Contact, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []model.Contact
	for _, c := range g.contacts {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (g *memGateway) GetConnectedAccounts(_ context.Context, ownerID string) ([]model.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []model.Account
	for _, a := range g.accounts {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (g *memGateway) GetOrCreateConversation(_ context.Context, ownerID string, contactID int64) (*model.Conversation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.panicOnConversation {
		panic("conversation store exploded")
	}
	if c, ok := g.convs[contactID]; ok {
		return c, nil
	}
	c := &model.Conversation{ID: int64(len(g.convs) + 1), ContactID: contactID, OwnerID: ownerID}
	g.convs[contactID] = c
	return c, nil
}

func (g *memGateway) CreateMessage(_ context.Context, msg *model.OutboundMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	msg.ID = int64(len(g.messages) + 1)
	g.messages = append(g.messages, *msg)
	return nil
}

func (g *memGateway) UpdateCampaignCounters(_ context.Context, id int, counters model.CampaignCounters) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.campaigns[id].Counters = counters
	return nil
}

func (g *memGateway) UpdateCampaignStatus(_ context.Context, id int, status model.CampaignStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.campaigns[id].Status = status
	return nil
}

func (g *memGateway) MessagedContactIDs(_ context.Context, campaignID int) (map[int64]bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := map[int64]bool{}
	for _, m := range g.messages {
		if m.CampaignID == campaignID {
			out[m.ContactID] = true
		}
	}
	return out, nil
}

func (g *memGateway) campaign(id int) model.Campaign {
	g.mu.Lock()
	defer g.mu.Unlock()
	return *g.campaigns[id]
}

func (g *memGateway) recorded() []model.OutboundMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]model.OutboundMessage(nil), g.messages...)
}

type sentMsg struct {
	session, to, text string
}

type fakeSender struct {
	mu        sync.Mutex
	connected map[string]bool
	sent      []sentMsg
	fail      map[string]error
	panicOn   string
	gate      chan struct{}
	// afterSend runs after every send with the running count.
	afterSend func(n int)
}

func (s *fakeSender) Send(ctx context.Context, sessionID, recipient, text string) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	if recipient == s.panicOn {
		s.mu.Unlock()
		panic("adapter blew up")
	}
	s.sent = append(s.sent, sentMsg{sessionID, recipient, text})
	n := len(s.sent)
	err := s.fail[recipient]
	hook := s.afterSend
	s.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return err
}

func (s *fakeSender) IsConnected(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected[sessionID]
}

func (s *fakeSender) setConnected(id string, v bool) {
	s.mu.Lock()
	s.connected[id] = v
	s.mu.Unlock()
}

func (s *fakeSender) messages() []sentMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMsg(nil), s.sent...)
}

type harness struct {
	gw     *memGateway
	sender *fakeSender
	exec   *Executor
	sleeps []time.Duration
	mu     sync.Mutex
	// blockSleep makes pacing waits last until the run is cancelled.
	blockSleep atomic.Bool
}

func newHarness(t *testing.T, contacts int, mutate func(*model.Campaign)) *harness {
	t.Helper()
	h := &harness{gw: newGateway(), sender: &fakeSender{connected: map[string]bool{"s1": true}, fail: map[string]error{}}}

	c := &model.Campaign{
		ID:             1,
		OwnerID:        "o1",
		Name:           "launch",
		Status:         model.CampaignDraft,
		BaseTemplate:   "Hi {first_name}",
		TargetGroupIDs: []int64{100},
	}
	if mutate != nil {
		mutate(c)
	}
	h.gw.campaigns[c.ID] = c
	for i := 1; i <= contacts; i++ {
		h.gw.contacts = append(h.gw.contacts, model.Contact{
			ID: int64(i), OwnerID: "o1", Phone: "+2547000000" + string(rune('0'+i)), FirstName: "c" + string(rune('0'+i)),
			GroupIDs: []int64{100},
		})
	}
	h.gw.accounts = []model.Account{{SessionID: "s1", OwnerID: "o1", PhoneNumber: "+15550001"}}

	h.exec = NewExecutor(Options{
		Gateway:  h.gw,
		Sender:   h.sender,
		Selector: rotation.NewSelector(rand.New(rand.NewPCG(1, 2)), nil),
		Log:      zerolog.Nop(),
		Defaults: model.AntiBlockingConfig{DelayMs: 5000, JitterPercent: 20, RotationCooldownMs: 3000, Rotation: model.RotationSequential, HourlyCap: 100},
		NewRand:  func() *rand.Rand { return rand.New(rand.NewPCG(9, 9)) },
		Sleep: func(ctx context.Context, d time.Duration) error {
			if d == 0 {
				return nil
			}
			h.mu.Lock()
			h.sleeps = append(h.sleeps, d)
			h.mu.Unlock()
			if h.blockSleep.Load() {
				<-ctx.Done()
				return ctx.Err()
			}
			return nil
		},
	})
	return h
}

func (h *harness) pacing() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestThreeContactsOneAccount(t *testing.T) {
	h := newHarness(t, 3, nil)

	if err := h.exec.Start(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	h.exec.Wait(1)

	c := h.gw.campaign(1)
	if c.Status != model.CampaignCompleted {
		t.Fatalf("expected completed, got %s", c.Status)
	}
	if c.Counters.Sent != 3 || c.Counters.Failed != 0 || c.Counters.Delivered != 3 {
		t.Errorf("unexpected counters %+v", c.Counters)
	}
	sent := h.sender.messages()
	if len(sent) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(sent))
	}
	for _, m := range sent {
		if m.session != "s1" {
			t.Errorf("send used %s, expected s1", m.session)
		}
	}
	if sent[0].text != "Hi c1" {
		t.Errorf("template not personalised: %q", sent[0].text)
	}
	msgs := h.gw.recorded()
	if len(msgs) != 3 || msgs[2].Status != model.MessageSent || msgs[2].ConversationID == 0 {
		t.Errorf("unexpected message records %+v", msgs)
	}

	// pacing only between sends, same account so no rotation cooldown
	p := h.pacing()
	if len(p) != 2 {
		t.Fatalf("expected 2 pacing waits, got %v", p)
	}
	for _, d := range p {
		if d < 4*time.Second || d > 6*time.Second {
			t.Errorf("pacing %v outside [4s, 6s]", d)
		}
	}
	if ids := h.exec.ListActiveCampaignIDs(); len(ids) != 0 {
		t.Errorf("run should be released, active %v", ids)
	}
}

func TestSecondStartIsAlreadyRunning(t *testing.T) {
	h := newHarness(t, 2, nil)
	h.sender.gate = make(chan struct{})

	if err := h.exec.Start(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	err := h.exec.Start(context.Background(), 1)
	if !errors.Is(err, appErrors.ErrAlreadyRunning) {
		t.Fatalf("expected AlreadyRunning, got %v", err)
	}
	if ids := h.exec.ListActiveCampaignIDs(); len(ids) != 1 || ids[0] != 1 {
		t.Errorf("expected [1] active, got %v", ids)
	}

	close(h.sender.gate)
	h.exec.Wait(1)
	if c := h.gw.campaign(1); c.Counters.Sent != 2 {
		t.Errorf("expected a single run to send twice, got %+v", c.Counters)
	}
}

func TestNoTargetsLeavesDraft(t *testing.T) {
	h := newHarness(t, 0, nil)

	err := h.exec.Start(context.Background(), 1)
	if !errors.Is(err, appErrors.ErrNoTargets) {
		t.Fatalf("expected NoTargets, got %v", err)
	}
	if c := h.gw.campaign(1); c.Status != model.CampaignDraft {
		t.Errorf("expected draft, got %s", c.Status)
	}
	if ids := h.exec.ListActiveCampaignIDs(); len(ids) != 0 {
		t.Errorf("failed start must not hold a run, got %v", ids)
	}
}

func TestNoNumbersAvailable(t *testing.T) {
	h := newHarness(t, 2, nil)
	h.sender.setConnected("s1", false)

	err := h.exec.Start(context.Background(), 1)
	if !errors.Is(err, appErrors.ErrNoNumbersAvailable) {
		t.Fatalf("expected NoNumbersAvailable, got %v", err)
	}
	if c := h.gw.campaign(1); c.Status != model.CampaignDraft {
		t.Errorf("expected draft, got %s", c.Status)
	}
}

func TestCompletedCampaignCannotStart(t *testing.T) {
	h := newHarness(t, 1, func(c *model.Campaign) { c.Status = model.CampaignCompleted })
	if err := h.exec.Start(context.Background(), 1); !errors.Is(err, appErrors.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestSendFailureDoesNotAbortRun(t *testing.T) {
	h := newHarness(t, 3, nil)
	h.sender.fail["+25470000002"] = errors.New("recipient not on platform")

	h.exec.Start(context.Background(), 1)
	h.exec.Wait(1)

	c := h.gw.campaign(1)
	if c.Status != model.CampaignCompleted {
		t.Fatalf("expected completed, got %s", c.Status)
	}
	if c.Counters != (model.CampaignCounters{Sent: 3, Delivered: 2, Failed: 1}) {
		t.Errorf("unexpected counters %+v", c.Counters)
	}
	msgs := h.gw.recorded()
	if msgs[1].Status != model.MessageFailed || msgs[1].LastError == "" {
		t.Errorf("expected failed record with error, got %+v", msgs[1])
	}
}

func TestAdapterPanicCountsAsFailure(t *testing.T) {
	h := newHarness(t, 2, nil)
	h.sender.panicOn = "+25470000001"

	h.exec.Start(context.Background(), 1)
	h.exec.Wait(1)

	c := h.gw.campaign(1)
	if c.Status != model.CampaignCompleted || c.Counters.Failed != 1 || c.Counters.Delivered != 1 {
		t.Errorf("unexpected result %s %+v", c.Status, c.Counters)
	}
}

func TestLoopPanicCancelsCampaign(t *testing.T) {
	h := newHarness(t, 2, nil)
	h.gw.panicOnConversation = true

	if err := h.exec.Start(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	h.exec.Wait(1)

	if c := h.gw.campaign(1); c.Status != model.CampaignCancelled {
		t.Errorf("expected cancelled, got %s", c.Status)
	}
	if ids := h.exec.ListActiveCampaignIDs(); len(ids) != 0 {
		t.Errorf("run should be released, active %v", ids)
	}
}

func TestDisconnectedAccountSkipsWithoutCounting(t *testing.T) {
	h := newHarness(t, 3, nil)
	h.sender.afterSend = func(n int) {
		if n == 1 {
			h.sender.setConnected("s1", false)
		}
	}

	h.exec.Start(context.Background(), 1)
	h.exec.Wait(1)

	c := h.gw.campaign(1)
	if c.Status != model.CampaignCompleted {
		t.Fatalf("expected completed, got %s", c.Status)
	}
	if c.Counters != (model.CampaignCounters{Sent: 1, Delivered: 1, Skipped: 2}) {
		t.Errorf("unexpected counters %+v", c.Counters)
	}
	if n := len(h.gw.recorded()); n != 1 {
		t.Errorf("skipped contacts must not get message records, got %d", n)
	}
}

func TestWeekendExclusionSkipsAll(t *testing.T) {
	h := newHarness(t, 2, func(c *model.Campaign) { c.AntiBlocking.ExcludeWeekends = true })
	h.exec.now = func() time.Time { return time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC) }

	h.exec.Start(context.Background(), 1)
	h.exec.Wait(1)

	c := h.gw.campaign(1)
	if c.Counters != (model.CampaignCounters{Skipped: 2}) || len(h.sender.messages()) != 0 {
		t.Errorf("expected everything skipped, got %+v", c.Counters)
	}
	if len(h.pacing()) != 0 {
		t.Errorf("skips must not wait, got %v", h.pacing())
	}
}

func TestRotationAddsCooldown(t *testing.T) {
	h := newHarness(t, 3, nil)
	h.sender.setConnected("s2", true)
	h.gw.accounts = append(h.gw.accounts, model.Account{SessionID: "s2", OwnerID: "o1"})

	h.exec.Start(context.Background(), 1)
	h.exec.Wait(1)

	sent := h.sender.messages()
	if sent[0].session == sent[1].session || sent[1].session == sent[2].session {
		t.Errorf("sequential rotation should alternate, got %+v", sent)
	}
	p := h.pacing()
	// first wait follows the first send so nothing has rotated yet
	if p[0] > 6*time.Second {
		t.Errorf("first wait %v should not include rotation cooldown", p[0])
	}
	if p[1] < 6400*time.Millisecond {
		t.Errorf("second wait %v should include rotation cooldown", p[1])
	}
}

func TestPauseThenResume(t *testing.T) {
	h := newHarness(t, 3, nil)
	h.blockSleep.Store(true)

	if err := h.exec.Start(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return len(h.pacing()) == 1 })
	if err := h.exec.Pause(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	h.exec.Wait(1)

	c := h.gw.campaign(1)
	if c.Status != model.CampaignPaused || c.Counters.Sent != 1 {
		t.Fatalf("expected paused after one send, got %s %+v", c.Status, c.Counters)
	}

	h.blockSleep.Store(false)
	if err := h.exec.Start(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	h.exec.Wait(1)

	c = h.gw.campaign(1)
	if c.Status != model.CampaignCompleted || c.Counters.Sent != 3 {
		t.Errorf("expected completed with 3 sent, got %s %+v", c.Status, c.Counters)
	}
	seen := map[string]int{}
	for _, m := range h.sender.messages() {
		seen[m.to]++
	}
	for to, n := range seen {
		if n != 1 {
			t.Errorf("%s messaged %d times", to, n)
		}
	}
}

func TestResumeRecountsSkippedContacts(t *testing.T) {
	h := newHarness(t, 3, func(c *model.Campaign) {
		c.Status = model.CampaignPaused
		c.Counters = model.CampaignCounters{Sent: 1, Delivered: 1, Skipped: 2}
	})
	h.gw.messages = []model.OutboundMessage{{ID: 1, CampaignID: 1, ContactID: 1, SessionID: "s1", Status: model.MessageSent}}

	if err := h.exec.Start(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	h.exec.Wait(1)

	c := h.gw.campaign(1)
	if c.Status != model.CampaignCompleted {
		t.Fatalf("expected completed, got %s", c.Status)
	}
	if c.Counters != (model.CampaignCounters{Sent: 3, Delivered: 3}) {
		t.Errorf("previously skipped contacts must not stay counted once sent, got %+v", c.Counters)
	}
	if n := len(h.sender.messages()); n != 2 {
		t.Errorf("expected only the two skipped contacts to be sent, got %d", n)
	}
}

func TestStopRunningCampaign(t *testing.T) {
	h := newHarness(t, 3, nil)
	h.blockSleep.Store(true)

	h.exec.Start(context.Background(), 1)
	eventually(t, func() bool { return len(h.pacing()) == 1 })
	if err := h.exec.Stop(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	h.exec.Wait(1)

	if c := h.gw.campaign(1); c.Status != model.CampaignCancelled || c.Counters.Sent != 1 {
		t.Errorf("expected cancelled after one send, got %s %+v", c.Status, c.Counters)
	}
	if err := h.exec.Start(context.Background(), 1); !errors.Is(err, appErrors.ErrInvalidTransition) {
		t.Errorf("cancelled campaign must not restart, got %v", err)
	}
}

func TestStopAndPauseWithoutRun(t *testing.T) {
	h := newHarness(t, 1, nil)

	if err := h.exec.Pause(context.Background(), 1); !errors.Is(err, appErrors.ErrInvalidTransition) {
		t.Errorf("pause without run: got %v", err)
	}
	if err := h.exec.Stop(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if c := h.gw.campaign(1); c.Status != model.CampaignCancelled {
		t.Errorf("expected cancelled, got %s", c.Status)
	}
	if err := h.exec.Stop(context.Background(), 1); !errors.Is(err, appErrors.ErrInvalidTransition) {
		t.Errorf("stopping a cancelled campaign: got %v", err)
	}
}
