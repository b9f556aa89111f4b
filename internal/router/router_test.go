package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentmesh/relay/internal/analytics"
	"github.com/agentmesh/relay/internal/compress"
	"github.com/agentmesh/relay/internal/delivery"
	"github.com/agentmesh/relay/internal/models"
	"github.com/agentmesh/relay/internal/queue"
	"github.com/agentmesh/relay/internal/registry"
	"github.com/agentmesh/relay/internal/transport"
)

type fixture struct {
	registry  *registry.Registry
	dispatch  *queue.Dispatch
	store     *delivery.MemoryStore
	transport *transport.Transport
	monitor   *analytics.Monitor
	router    *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.New()
	dispatch := queue.NewDispatch()
	store := delivery.NewMemoryStore(0)
	tr := transport.New(store, zerolog.Nop())
	monitor := analytics.NewMonitor()
	r := New(reg, dispatch, store, tr, monitor, compress.NewCodec(0), zerolog.Nop())
	return &fixture{registry: reg, dispatch: dispatch, store: store, transport: tr, monitor: monitor, router: r}
}

func (f *fixture) session(t *testing.T, id string, participants ...string) {
	t.Helper()
	if _, err := f.registry.Create(id, models.SessionAgent, participants, nil); err != nil {
		t.Fatal(err)
	}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func textMessage(body string, targets ...string) *models.Message {
	return models.NewMessage("bot", models.SenderAgent, models.TypeText, models.PriorityNormal, []byte(body), targets)
}

func TestRouteDeliversToEachTargetOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.session(t, "a")
	f.session(t, "b")

	msg := textMessage("build green", "a", "b")
	result := f.router.Route(ctx, msg)
	if result.Routed != 2 {
		t.Fatalf("routed = %d, want 2", result.Routed)
	}

	for _, id := range []string{"a", "b"} {
		hist := f.router.History(id, 10)
		if len(hist) != 1 || hist[0].ID != msg.ID {
			t.Fatalf("history for %s = %d entries, want exactly one", id, len(hist))
		}
	}

	// Re-routing the same message must not duplicate history.
	f.router.Route(ctx, msg)
	if hist := f.router.History("a", 10); len(hist) != 1 {
		t.Fatalf("history after redelivery = %d entries, want 1", len(hist))
	}
}

func TestRouteBumpsSessionActivity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.session(t, "a")

	before, _ := f.registry.Get("a")
	f.router.Route(ctx, textMessage("ping", "a"))
	after, _ := f.registry.Get("a")

	if after.MessageCount != before.MessageCount+1 {
		t.Errorf("message count = %d, want %d", after.MessageCount, before.MessageCount+1)
	}
}

func TestHandlerErrorsIsolated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.session(t, "a")

	secondRan := false
	f.router.AddRoute(models.TypeText, func(ctx context.Context, msg *models.Message) error {
		return errors.New("boom")
	})
	f.router.AddRoute(models.TypeText, func(ctx context.Context, msg *models.Message) error {
		secondRan = true
		return nil
	})

	result := f.router.Route(ctx, textMessage("hello", "a"))
	if result.Routed != 1 {
		t.Errorf("routed = %d, want 1 despite handler failure", result.Routed)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "boom") {
		t.Errorf("errors = %v, want the handler failure", result.Errors)
	}
	if !secondRan {
		t.Error("second handler skipped after first failed")
	}
}

func TestFilterDropsMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.session(t, "a")

	f.router.AddFilter(models.TypeText, func(msg *models.Message) bool {
		return !strings.Contains(msg.Body(), "spam")
	})

	result := f.router.Route(ctx, textMessage("spam offer", "a"))
	if result.Routed != 0 {
		t.Errorf("routed = %d, want 0 for filtered message", result.Routed)
	}
	if len(result.Errors) != 0 {
		t.Errorf("filtered drop produced errors: %v", result.Errors)
	}
	if len(f.router.History("a", 10)) != 0 {
		t.Error("filtered message reached history")
	}

	result = f.router.Route(ctx, textMessage("legit news", "a"))
	if result.Routed != 1 {
		t.Errorf("unfiltered message routed = %d, want 1", result.Routed)
	}
}

func TestSubmitResolvesTargets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.session(t, "dev")
	f.session(t, "qa")
	f.registry.Close("qa")

	msg := textMessage("hi", "dev", "qa", "ghost")
	result, err := f.router.Submit(ctx, msg)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if result.Routed != 1 {
		t.Errorf("routed = %d, want 1 (only dev is active)", result.Routed)
	}
	if len(result.Errors) != 2 {
		t.Errorf("errors = %v, want two dropped targets", result.Errors)
	}
	if len(msg.TargetIDs) != 1 || msg.TargetIDs[0] != "dev" {
		t.Errorf("resolved targets = %v, want [dev]", msg.TargetIDs)
	}
}

func TestSubmitNoValidTargets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.router.Submit(ctx, textMessage("void", "nobody")); err == nil {
		t.Fatal("Submit() with no resolvable targets should fail")
	}
}

func TestSubmitCompressesLargePayloads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.session(t, "dev")

	body := strings.Repeat("the build is green and the tests pass ", 100)
	msg := textMessage(body, "dev")
	if _, err := f.router.Submit(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if msg.Compression != "gzip" {
		t.Fatalf("compression = %q, want gzip", msg.Compression)
	}
	if msg.CompressedSize >= msg.OriginalSize {
		t.Fatalf("compressed %d >= original %d", msg.CompressedSize, msg.OriginalSize)
	}

	// The dispatcher restores the original payload before delivery.
	f.router.Start(ctx)
	defer f.router.Stop(time.Second)

	waitFor(t, func() bool { return len(f.router.History("dev", 1)) == 1 })
	got := f.router.History("dev", 1)[0]
	if got.Body() != body {
		t.Fatal("payload not restored after queue transit")
	}
	if got.Compression != "none" {
		t.Errorf("delivered compression marker = %q, want none", got.Compression)
	}
}

func TestDispatcherDropsExpiredAtDelivery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.session(t, "dev")

	stale := textMessage("too late", "dev")
	stale.TTLSeconds = 1
	stale.Timestamp = time.Now().Add(-2 * time.Second)

	fresh := textMessage("on time", "dev")

	if _, err := f.router.Submit(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if _, err := f.router.Submit(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	f.router.Start(ctx)
	defer f.router.Stop(time.Second)

	waitFor(t, func() bool { return len(f.router.History("dev", 10)) == 1 })
	hist := f.router.History("dev", 10)
	if hist[0].Body() != "on time" {
		t.Fatalf("delivered %q, want only the fresh message", hist[0].Body())
	}
}

func TestDispatcherPriorityOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.session(t, "dev")

	low := textMessage("low", "dev")
	low.Priority = models.PriorityLow
	critical := textMessage("critical", "dev")
	critical.Priority = models.PriorityCritical

	if _, err := f.router.Submit(ctx, low); err != nil {
		t.Fatal(err)
	}
	if _, err := f.router.Submit(ctx, critical); err != nil {
		t.Fatal(err)
	}

	f.router.Start(ctx)
	defer f.router.Stop(time.Second)

	waitFor(t, func() bool { return len(f.router.History("dev", 10)) == 2 })
	hist := f.router.History("dev", 10) // newest first
	if hist[1].Body() != "critical" || hist[0].Body() != "low" {
		t.Fatalf("delivery order wrong: first %q, then %q", hist[1].Body(), hist[0].Body())
	}
}

func TestBroadcastReachesOnlyActiveSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.session(t, "dev")
	f.session(t, "qa")

	result := f.router.Broadcast(ctx, textMessage("build green", registry.TargetAll))
	if result.Routed != 2 {
		t.Fatalf("routed = %d, want 2", result.Routed)
	}
	if len(f.router.History("qa", 10)) != 1 {
		t.Fatal("qa history missing the broadcast")
	}

	f.registry.Close("qa")
	result = f.router.Broadcast(ctx, textMessage("second", registry.TargetAll))
	if result.Routed != 1 {
		t.Fatalf("routed after close = %d, want 1", result.Routed)
	}
	if len(f.router.History("qa", 10)) != 1 {
		t.Fatal("closed session received a broadcast")
	}
}

func TestOfflineParticipantFallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.session(t, "dev", "agent-1")

	msg := textMessage("while away", "dev")
	f.router.Route(ctx, msg)

	backlog, err := f.store.GetOffline(ctx, "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(backlog) != 1 || backlog[0].ID != msg.ID {
		t.Fatalf("offline backlog for disconnected participant = %d, want 1", len(backlog))
	}
}

func TestSearchHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.session(t, "dev")
	f.session(t, "qa")

	f.router.Route(ctx, textMessage("Deploy started", "dev"))
	f.router.Route(ctx, textMessage("deploy finished", "dev"))
	f.router.Route(ctx, textMessage("unrelated chatter", "qa"))

	hits := f.router.SearchHistory("DEPLOY", "", 10)
	if len(hits) != 2 {
		t.Fatalf("search hits = %d, want 2 (case-insensitive)", len(hits))
	}
	if hits[0].Body() != "deploy finished" {
		t.Errorf("first hit = %q, want newest first", hits[0].Body())
	}

	hits = f.router.SearchHistory("deploy", "qa", 10)
	if len(hits) != 0 {
		t.Errorf("session-scoped search hits = %d, want 0", len(hits))
	}

	hits = f.router.SearchHistory("deploy", "dev", 1)
	if len(hits) != 1 {
		t.Errorf("limited search hits = %d, want 1", len(hits))
	}
}

func TestStopLeavesQueuedMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.session(t, "dev")

	f.router.Start(ctx)
	if err := f.router.Stop(time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	// Enqueue after close fails; nothing already queued is dropped.
	if _, err := f.router.Submit(ctx, textMessage("late", "dev")); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("Submit() after stop = %v, want ErrClosed", err)
	}
}
