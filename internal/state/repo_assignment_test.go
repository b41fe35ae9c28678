package state

import (
	"errors"
	"testing"
	"time"

	"github.com/veilnet/veil/internal/model"
)

func mustCreateNode(t *testing.T, repo *Repo, name string) model.RelayNode {
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

func TestRepo_UpsertAssignment_CapacityRecheck(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now().UnixNano()

	d, err := repo.CreateDomain("cap.example.com", 1, 70, "", now)
	if err != nil {
		t.Fatal(err)
	}
	n1 := mustCreateNode(t, repo, "node-1")
	n2 := mustCreateNode(t, repo, "node-2")

	if _, err := repo.UpsertAssignment(n1.ID, d.ID, 1, now, nil); err != nil {
		t.Fatal(err)
	}
	// Cap 1: second node is refused at commit time.
	if _, err := repo.UpsertAssignment(n2.ID, d.ID, 1, now, nil); !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("expected ErrAtCapacity, got %v", err)
	}
	// Re-binding the same node does not count against the cap.
	if _, err := repo.UpsertAssignment(n1.ID, d.ID, 1, now+1, nil); err != nil {
		t.Fatalf("re-upsert of holder must pass: %v", err)
	}
	// Cap 0 means unlimited.
	if _, err := repo.UpsertAssignment(n2.ID, d.ID, 0, now, nil); err != nil {
		t.Fatal(err)
	}

	count, err := repo.CountAssignments(d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("expected 2 assignments, got %d", count)
	}
}

func TestRepo_UpsertAssignment_AtomicRotationLog(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now().UnixNano()

	d1, err := repo.CreateDomain("old.example.com", 1, 70, "", now)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := repo.CreateDomain("new.example.com", 1, 70, "", now)
	if err != nil {
		t.Fatal(err)
	}
	n := mustCreateNode(t, repo, "node-1")

	if _, err := repo.UpsertAssignment(n.ID, d1.ID, 0, now, nil); err != nil {
		t.Fatal(err)
	}

	entry := &model.SniRotationLogEntry{
		NodeID:      n.ID,
		NodeName:    n.Name,
		OldSni:      d1.Domain,
		NewSni:      d2.Domain,
		Reason:      "MANUAL_OVERRIDE",
		RotatedAtNs: now + 1,
	}
	a, err := repo.UpsertAssignment(n.ID, d2.ID, 0, now+1, entry)
	if err != nil {
		t.Fatal(err)
	}
	if a.DomainID != d2.ID {
		t.Fatalf("expected binding to %s, got %s", d2.ID, a.DomainID)
	}
	if entry.ID == "" {
		t.Fatal("log entry must receive an ID")
	}

	logs, err := repo.ListRotationLog(n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(logs))
	}
	if logs[0].OldSni != d1.Domain || logs[0].NewSni != d2.Domain || logs[0].Reason != "MANUAL_OVERRIDE" {
		t.Fatalf("unexpected log entry: %+v", logs[0])
	}
}

func TestRepo_ListRotationLog_MostRecentFirst(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now().UnixNano()

	d1, _ := repo.CreateDomain("a.example.com", 1, 70, "", now)
	d2, _ := repo.CreateDomain("b.example.com", 1, 70, "", now)
	d3, _ := repo.CreateDomain("c.example.com", 1, 70, "", now)
	n := mustCreateNode(t, repo, "node-1")

	if _, err := repo.UpsertAssignment(n.ID, d1.ID, 0, now, nil); err != nil {
		t.Fatal(err)
	}
	first := &model.SniRotationLogEntry{NodeID: n.ID, OldSni: d1.Domain, NewSni: d2.Domain, Reason: "MANUAL_OVERRIDE", RotatedAtNs: now + 1}
	if _, err := repo.UpsertAssignment(n.ID, d2.ID, 0, now+1, first); err != nil {
		t.Fatal(err)
	}
	second := &model.SniRotationLogEntry{NodeID: n.ID, OldSni: d2.Domain, NewSni: d3.Domain, Reason: "HEALTH_DEGRADED", RotatedAtNs: now + 2}
	if _, err := repo.UpsertAssignment(n.ID, d3.ID, 0, now+2, second); err != nil {
		t.Fatal(err)
	}

	logs, err := repo.ListRotationLog("")
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(logs))
	}
	if logs[0].NewSni != d3.Domain || logs[1].NewSni != d2.Domain {
		t.Fatalf("expected most recent first, got %s then %s", logs[0].NewSni, logs[1].NewSni)
	}
}

func TestRepo_GetAssignment_Unassigned(t *testing.T) {
	repo := newTestRepo(t)
	n := mustCreateNode(t, repo, "node-1")

	if _, err := repo.GetAssignment(n.ID); !errors.Is(err, ErrUnassigned) {
		t.Fatalf("expected ErrUnassigned, got %v", err)
	}
	// DeleteAssignment is idempotent.
	if err := repo.DeleteAssignment(n.ID); err != nil {
		t.Fatal(err)
	}
}

func TestRepo_DeleteNode_CascadesAssignmentAndKeys(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now().UnixNano()

	d, _ := repo.CreateDomain("d.example.com", 1, 70, "", now)
	n := mustCreateNode(t, repo, "node-1")
	if _, err := repo.UpsertAssignment(n.ID, d.ID, 0, now, nil); err != nil {
		t.Fatal(err)
	}
	km := model.NodeKeyMaterial{
		NodeID:      n.ID,
		PrivateKey:  []byte{1, 2, 3},
		PublicKey:   "pub",
		ClientUUID:  "uuid",
		ShortIDs:    []string{"aabbccdd"},
		Generation:  1,
		CreatedAtNs: now,
	}
	if err := repo.InsertKeyMaterial(km); err != nil {
		t.Fatal(err)
	}

	if err := repo.DeleteNode(n.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.GetAssignment(n.ID); !errors.Is(err, ErrUnassigned) {
		t.Fatalf("assignment must be gone, got %v", err)
	}
	if _, err := repo.GetKeyMaterial(n.ID); !errors.Is(err, ErrNotProvisioned) {
		t.Fatalf("key material must be gone, got %v", err)
	}
}
