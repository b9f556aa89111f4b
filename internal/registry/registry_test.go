package registry

import (
	"errors"
	"sort"
	"testing"

	"github.com/agentmesh/relay/internal/models"
)

func TestCreateAndDuplicate(t *testing.T) {
	r := New()

	session, err := r.Create("dev", models.SessionAgent, []string{"bot"}, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !session.Active {
		t.Error("new session should be active")
	}
	if session.Kind != models.SessionAgent {
		t.Errorf("kind = %v, want agent", session.Kind)
	}

	_, err = r.Create("dev", models.SessionUser, nil, nil)
	var dup *models.DuplicateSessionError
	if !errors.As(err, &dup) {
		t.Fatalf("duplicate Create() error = %v, want DuplicateSessionError", err)
	}

	// A closed id stays taken.
	r.Close("dev")
	if _, err := r.Create("dev", models.SessionUser, nil, nil); !errors.As(err, &dup) {
		t.Fatalf("Create() on closed id error = %v, want DuplicateSessionError", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	r := New()
	if _, err := r.Create("qa", models.SessionUser, nil, nil); err != nil {
		t.Fatal(err)
	}

	if !r.Close("qa") {
		t.Error("Close() = false, want true")
	}
	if r.Close("qa") {
		t.Error("second Close() = true, want false (already closed)")
	}
	if r.Close("missing") {
		t.Error("Close(missing) = true, want false")
	}

	// Closed sessions stay queryable.
	session, ok := r.Get("qa")
	if !ok {
		t.Fatal("closed session should remain queryable")
	}
	if session.Active {
		t.Error("closed session should be inactive")
	}
}

func TestSubscriptions(t *testing.T) {
	r := New()
	if _, err := r.Create("dev", models.SessionAgent, nil, nil); err != nil {
		t.Fatal(err)
	}

	if err := r.Subscribe("agent-1", "dev"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	var unknown *models.UnknownSessionError
	if err := r.Subscribe("agent-1", "nope"); !errors.As(err, &unknown) {
		t.Fatalf("Subscribe(unknown) error = %v, want UnknownSessionError", err)
	}

	subs := r.Subscriptions("agent-1")
	if len(subs) != 1 || subs[0] != "dev" {
		t.Fatalf("Subscriptions() = %v, want [dev]", subs)
	}

	// Unsubscribe is a no-op when absent.
	r.Unsubscribe("agent-1", "dev")
	r.Unsubscribe("agent-1", "dev")
	r.Unsubscribe("nobody", "dev")
	if len(r.Subscriptions("agent-1")) != 0 {
		t.Error("subscription not removed")
	}
}

func TestResolveTargets(t *testing.T) {
	r := New()
	for _, id := range []string{"dev", "qa", "ops"} {
		if _, err := r.Create(id, models.SessionAgent, nil, nil); err != nil {
			t.Fatal(err)
		}
	}
	r.Close("ops")

	resolved, dropped := r.ResolveTargets([]string{"dev", "ops", "ghost"})
	if len(resolved) != 1 || resolved[0] != "dev" {
		t.Fatalf("resolved = %v, want [dev]", resolved)
	}
	sort.Strings(dropped)
	if len(dropped) != 2 || dropped[0] != "ghost" || dropped[1] != "ops" {
		t.Fatalf("dropped = %v, want [ghost ops]", dropped)
	}
}

func TestResolveAll(t *testing.T) {
	r := New()
	for _, id := range []string{"dev", "qa", "ops"} {
		if _, err := r.Create(id, models.SessionAgent, nil, nil); err != nil {
			t.Fatal(err)
		}
	}
	r.Close("ops")

	resolved, dropped := r.ResolveTargets([]string{TargetAll})
	sort.Strings(resolved)
	if len(resolved) != 2 || resolved[0] != "dev" || resolved[1] != "qa" {
		t.Fatalf("resolved = %v, want active sessions [dev qa]", resolved)
	}
	if len(dropped) != 0 {
		t.Fatalf("dropped = %v, want none", dropped)
	}

	// "all" mixed with a concrete id must not duplicate the id.
	resolved, _ = r.ResolveTargets([]string{"dev", TargetAll})
	sort.Strings(resolved)
	if len(resolved) != 2 {
		t.Fatalf("resolved = %v, want deduplicated [dev qa]", resolved)
	}
}

func TestLoadPreservesState(t *testing.T) {
	r := New()

	restored := &models.ChatSession{
		ID:           "dev",
		Kind:         models.SessionAgent,
		Participants: []string{"bot"},
		Active:       false,
		MessageCount: 42,
	}
	if !r.Load(restored) {
		t.Fatal("Load() = false for fresh id")
	}

	got, ok := r.Get("dev")
	if !ok {
		t.Fatal("loaded session not found")
	}
	if got.Active || got.MessageCount != 42 {
		t.Fatalf("loaded session = %+v, counters not preserved", got)
	}

	// Existing ids win over restored records.
	if r.Load(&models.ChatSession{ID: "dev", MessageCount: 0}) {
		t.Error("Load() = true for taken id")
	}
	got, _ = r.Get("dev")
	if got.MessageCount != 42 {
		t.Error("Load over a taken id must not overwrite")
	}
}

func TestTouchAndCounts(t *testing.T) {
	r := New()
	if _, err := r.Create("dev", models.SessionAgent, nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Create("qa", models.SessionUser, nil, nil); err != nil {
		t.Fatal(err)
	}
	r.Close("qa")

	before, _ := r.Get("dev")
	r.Touch("dev")
	after, _ := r.Get("dev")

	if after.MessageCount != before.MessageCount+1 {
		t.Errorf("message count = %d, want %d", after.MessageCount, before.MessageCount+1)
	}
	if after.LastActivity.Before(before.LastActivity) {
		t.Error("last activity moved backwards")
	}

	total, active := r.Counts()
	if total != 2 || active != 1 {
		t.Errorf("Counts() = (%d, %d), want (2, 1)", total, active)
	}
}
