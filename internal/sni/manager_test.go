package sni

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/veilnet/veil/internal/config"
	"github.com/veilnet/veil/internal/model"
	"github.com/veilnet/veil/internal/state"
)

func newTestManager(t *testing.T, cfg *config.RuntimeConfig) (*Manager, *state.Repo) {
	t.Helper()
	dir := t.TempDir()
	db, err := state.OpenDB(dir + "/state.db")
	if err != nil {
		t.Fatal(err)
	}
	if err := state.MigrateDB(db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	repo := state.NewRepo(db)
	if cfg == nil {
		cfg = config.NewDefaultRuntimeConfig()
	}
	return NewManager(repo, func() *config.RuntimeConfig { return cfg }), repo
}

func createDomain(t *testing.T, repo *state.Repo, hostname string, tier, score int) model.SniDomain {
	t.Helper()
	d, err := repo.CreateDomain(hostname, tier, score, "", time.Now().UnixNano())
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func createNode(t *testing.T, repo *state.Repo, name string) model.RelayNode {
	t.Helper()
	n, err := repo.CreateNode(model.RelayNode{
		Name:          name,
		Address:       name + ".relay.example.net",
		Port:          443,
		RelayAuthMode: "NONE",
	}, time.Now().UnixNano())
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestManager_Assign_PriorityAndCapacitySpill(t *testing.T) {
	cfg := config.NewDefaultRuntimeConfig()
	cfg.DefaultMaxNodesPerDomain = 1
	mgr, repo := newTestManager(t, cfg)

	best := createDomain(t, repo, "best.example.com", 1, 95)
	second := createDomain(t, repo, "second.example.com", 1, 80)

	n1 := createNode(t, repo, "node-1")
	n2 := createNode(t, repo, "node-2")
	n3 := createNode(t, repo, "node-3")

	d, err := mgr.Assign(n1.ID, 5, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if d.ID != best.ID {
		t.Fatalf("expected highest-score domain first, got %s", d.Domain)
	}

	// best is full (cap 1): the next node spills to the runner-up.
	d, err = mgr.Assign(n2.ID, 5, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if d.ID != second.ID {
		t.Fatalf("expected spill to %s, got %s", second.Domain, d.Domain)
	}

	// Pool exhausted.
	if _, err := mgr.Assign(n3.ID, 5, time.Now()); !errors.Is(err, ErrNoEligibleDomain) {
		t.Fatalf("expected ErrNoEligibleDomain, got %v", err)
	}
}

func TestManager_Assign_Idempotent(t *testing.T) {
	mgr, repo := newTestManager(t, nil)
	createDomain(t, repo, "a.example.com", 1, 90)
	createDomain(t, repo, "b.example.com", 1, 90)
	n := createNode(t, repo, "node-1")

	first, err := mgr.Assign(n.ID, 5, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	again, err := mgr.Assign(n.ID, 5, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != again.ID {
		t.Fatalf("re-assign must keep the binding: %s vs %s", first.Domain, again.Domain)
	}

	logs, err := mgr.Logs(n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 0 {
		t.Fatalf("plain assignment must not log rotations, got %d entries", len(logs))
	}
}

func TestManager_Assign_SkipsInactiveAndTierCeiling(t *testing.T) {
	mgr, repo := newTestManager(t, nil)

	inactive := createDomain(t, repo, "inactive.example.com", 1, 99)
	off := false
	if _, err := repo.UpdateDomain(inactive.ID, nil, &off, nil, time.Now().UnixNano()); err != nil {
		t.Fatal(err)
	}
	createDomain(t, repo, "hightier.example.com", 3, 99)
	want := createDomain(t, repo, "ok.example.com", 2, 50)

	n := createNode(t, repo, "node-1")
	d, err := mgr.Assign(n.ID, 2, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if d.ID != want.ID {
		t.Fatalf("expected %s, got %s", want.Domain, d.Domain)
	}
}

func TestManager_Rotate_ExcludesCurrentAndLogs(t *testing.T) {
	mgr, repo := newTestManager(t, nil)
	a := createDomain(t, repo, "a.example.com", 1, 90)
	b := createDomain(t, repo, "b.example.com", 1, 70)
	n := createNode(t, repo, "node-1")

	d, err := mgr.Assign(n.ID, 5, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if d.ID != a.ID {
		t.Fatalf("setup: expected %s, got %s", a.Domain, d.Domain)
	}

	rotated, err := mgr.Rotate(n.ID, 5, ReasonHealthDegraded, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if rotated.ID != b.ID {
		t.Fatalf("rotation must exclude the current domain, got %s", rotated.Domain)
	}

	logs, err := mgr.Logs(n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(logs))
	}
	e := logs[0]
	if e.OldSni != a.Domain || e.NewSni != b.Domain || e.Reason != string(ReasonHealthDegraded) || e.NodeName != n.Name {
		t.Fatalf("unexpected log entry: %+v", e)
	}
}

func TestManager_Rotate_NoCandidateLeavesStateIntact(t *testing.T) {
	mgr, repo := newTestManager(t, nil)
	only := createDomain(t, repo, "only.example.com", 1, 90)
	n := createNode(t, repo, "node-1")

	if _, err := mgr.Assign(n.ID, 5, time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Rotate(n.ID, 5, ReasonManualOverride, time.Now()); !errors.Is(err, ErrNoEligibleDomain) {
		t.Fatalf("expected ErrNoEligibleDomain, got %v", err)
	}

	// Binding unchanged, nothing logged.
	assignment, err := repo.GetAssignment(n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if assignment.DomainID != only.ID {
		t.Fatalf("failed rotation must keep the old binding, got %s", assignment.DomainID)
	}
	logs, err := mgr.Logs(n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 0 {
		t.Fatalf("failed rotation must not log, got %d entries", len(logs))
	}
}

func TestManager_Rotate_InvalidReason(t *testing.T) {
	mgr, repo := newTestManager(t, nil)
	createDomain(t, repo, "a.example.com", 1, 90)
	n := createNode(t, repo, "node-1")

	if _, err := mgr.Rotate(n.ID, 5, RotationReason("WHIM"), time.Now()); !errors.Is(err, ErrInvalidReason) {
		t.Fatalf("expected ErrInvalidReason, got %v", err)
	}
}

func TestManager_Rotate_Unassigned(t *testing.T) {
	mgr, repo := newTestManager(t, nil)
	createDomain(t, repo, "a.example.com", 1, 90)
	n := createNode(t, repo, "node-1")

	if _, err := mgr.Rotate(n.ID, 5, ReasonManualOverride, time.Now()); !errors.Is(err, state.ErrUnassigned) {
		t.Fatalf("expected ErrUnassigned, got %v", err)
	}
}

func TestManager_RotateAllForDomain(t *testing.T) {
	mgr, repo := newTestManager(t, nil)
	dying := createDomain(t, repo, "dying.example.com", 1, 90)
	createDomain(t, repo, "haven.example.com", 1, 70)

	n1 := createNode(t, repo, "node-1")
	n2 := createNode(t, repo, "node-2")
	now := time.Now()
	if _, err := repo.UpsertAssignment(n1.ID, dying.ID, 0, now.UnixNano(), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.UpsertAssignment(n2.ID, dying.ID, 0, now.UnixNano(), nil); err != nil {
		t.Fatal(err)
	}

	moved, stuck, err := mgr.RotateAllForDomain(dying.ID, 5, ReasonDomainDeactivated, now)
	if err != nil {
		t.Fatal(err)
	}
	if moved != 2 || stuck != 0 {
		t.Fatalf("expected 2 moved 0 stuck, got %d/%d", moved, stuck)
	}
	remaining, err := repo.ListAssignmentsForDomain(dying.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 0 {
		t.Fatalf("nodes still bound to rotated domain: %d", len(remaining))
	}
}

func TestManager_ConcurrentAssign_HonorsCapacity(t *testing.T) {
	cfg := config.NewDefaultRuntimeConfig()
	cfg.DefaultMaxNodesPerDomain = 2
	mgr, repo := newTestManager(t, cfg)

	d := createDomain(t, repo, "tight.example.com", 1, 90)

	const workers = 8
	nodes := make([]model.RelayNode, workers)
	for i := range nodes {
		nodes[i] = createNode(t, repo, "node-"+string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(nodeID string) {
			defer wg.Done()
			// Only one domain exists: some assigns fail once it is full.
			_, _ = mgr.Assign(nodeID, 5, time.Now())
		}(nodes[i].ID)
	}
	wg.Wait()

	count, err := repo.CountAssignments(d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count > 2 {
		t.Fatalf("capacity cap overshot: %d nodes bound", count)
	}
}
