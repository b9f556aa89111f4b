package broker

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/agentmesh/relay/internal/analytics"
	"github.com/agentmesh/relay/internal/compress"
	"github.com/agentmesh/relay/internal/delivery"
	"github.com/agentmesh/relay/internal/models"
	"github.com/agentmesh/relay/internal/queue"
	"github.com/agentmesh/relay/internal/registry"
	"github.com/agentmesh/relay/internal/router"
	"github.com/agentmesh/relay/internal/transport"
)

func newTestBroker(t *testing.T, enabled bool) (*Broker, *registry.Registry, *queue.Dispatch) {
	t.Helper()
	reg := registry.New()
	dispatch := queue.NewDispatch()
	store := delivery.NewMemoryStore(0)
	tr := transport.New(store, zerolog.Nop())
	r := router.New(reg, dispatch, store, tr, analytics.NewMonitor(), compress.NewCodec(0), zerolog.Nop())
	return New(r, zerolog.Nop(), enabled), reg, dispatch
}

func TestShareBetweenLinkedProjects(t *testing.T) {
	ctx := context.Background()
	b, reg, dispatch := newTestBroker(t, true)
	defer dispatch.Close()

	// The target project's coordinator session shares its id.
	if _, err := reg.Create("p2", models.SessionCoordinator, nil, nil); err != nil {
		t.Fatal(err)
	}

	b.Link("p1", "p2")
	if !b.Share(ctx, "p1", "p2", "tip", []byte(`{"content":"use retries"}`)) {
		t.Fatal("Share() between linked projects = false, want true")
	}

	hist := b.History("p1")
	if len(hist) != 1 {
		t.Fatalf("history = %d entries, want 1", len(hist))
	}
	if hist[0].Target != "p2" || hist[0].KnowledgeType != "tip" {
		t.Fatalf("history entry = %+v", hist[0])
	}

	// The knowledge message went onto the dispatch queue.
	msg, err := dispatch.Dequeue()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != models.TypeKnowledgeShare {
		t.Errorf("message type = %v, want knowledge_share", msg.Type)
	}
	if len(msg.TargetIDs) != 1 || msg.TargetIDs[0] != "p2" {
		t.Errorf("targets = %v, want [p2]", msg.TargetIDs)
	}
}

func TestShareUnlinkedRejected(t *testing.T) {
	ctx := context.Background()
	b, _, dispatch := newTestBroker(t, true)
	defer dispatch.Close()

	if b.Share(ctx, "p1", "p2", "tip", []byte("x")) {
		t.Fatal("Share() without a link = true, want false")
	}

	b.Link("p1", "p2")
	b.Unlink("p1", "p2")
	if b.Share(ctx, "p1", "p2", "tip", []byte("x")) {
		t.Fatal("Share() after unlink = true, want false")
	}
	if len(b.History("")) != 0 {
		t.Error("rejected shares must not be recorded")
	}
}

func TestShareGloballyDisabled(t *testing.T) {
	ctx := context.Background()
	b, _, dispatch := newTestBroker(t, false)
	defer dispatch.Close()

	b.Link("p1", "p2")
	if b.Share(ctx, "p1", "p2", "tip", []byte("x")) {
		t.Fatal("Share() while disabled = true, want false")
	}
}

func TestLinkSymmetry(t *testing.T) {
	b, _, dispatch := newTestBroker(t, true)
	defer dispatch.Close()

	b.Link("p1", "p2")
	if !b.Linked("p2", "p1") {
		t.Error("link not symmetric")
	}

	b.Unlink("p2", "p1")
	if b.Linked("p1", "p2") {
		t.Error("unlink not symmetric")
	}

	// Self-links are meaningless and ignored.
	b.Link("p1", "p1")
	if b.Linked("p1", "p1") {
		t.Error("self-link should be ignored")
	}
}

func TestHistoryFilterAndBound(t *testing.T) {
	ctx := context.Background()
	b, reg, dispatch := newTestBroker(t, true)
	defer dispatch.Close()

	if _, err := reg.Create("p2", models.SessionCoordinator, nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Create("p3", models.SessionCoordinator, nil, nil); err != nil {
		t.Fatal(err)
	}

	b.Link("p1", "p2")
	b.Link("p1", "p3")

	for i := 0; i < maxHistory+50; i++ {
		target := "p2"
		if i%2 == 0 {
			target = "p3"
		}
		if !b.Share(ctx, "p1", target, "note", []byte(fmt.Sprintf("n%d", i))) {
			t.Fatal("share failed")
		}
	}

	if got := len(b.History("")); got != maxHistory {
		t.Fatalf("history length = %d, want bounded at %d", got, maxHistory)
	}

	for _, rec := range b.History("p2") {
		if rec.Source != "p2" && rec.Target != "p2" {
			t.Fatalf("filtered history leaked record %+v", rec)
		}
	}
}
