package state

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/veilnet/veil/internal/model"
)

func TestRepo_KeyMaterial_Lifecycle(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now().UnixNano()
	n := mustCreateNode(t, repo, "node-1")

	if _, err := repo.GetKeyMaterial(n.ID); !errors.Is(err, ErrNotProvisioned) {
		t.Fatalf("expected ErrNotProvisioned, got %v", err)
	}

	km := model.NodeKeyMaterial{
		NodeID:      n.ID,
		PrivateKey:  []byte{0xde, 0xad, 0xbe, 0xef},
		PublicKey:   "pub-1",
		ClientUUID:  "uuid-1",
		ShortIDs:    []string{"0011223344556677", "8899aabbccddeeff"},
		Generation:  1,
		CreatedAtNs: now,
	}
	if err := repo.InsertKeyMaterial(km); err != nil {
		t.Fatal(err)
	}
	if err := repo.InsertKeyMaterial(km); !errors.Is(err, ErrAlreadyProvisioned) {
		t.Fatalf("expected ErrAlreadyProvisioned, got %v", err)
	}

	got, err := repo.GetKeyMaterial(n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.PrivateKey, km.PrivateKey) {
		t.Fatal("private key round trip mismatch")
	}
	if got.PublicKey != "pub-1" || got.ClientUUID != "uuid-1" || got.Generation != 1 {
		t.Fatalf("unexpected material: %+v", got)
	}
	if len(got.ShortIDs) != 2 || got.ShortIDs[0] != "0011223344556677" {
		t.Fatalf("unexpected short ids: %v", got.ShortIDs)
	}

	// Replace bumps generation and keeps created_at.
	next := got
	next.PrivateKey = []byte{0x01}
	next.PublicKey = "pub-2"
	next.ClientUUID = "uuid-2"
	next.Generation = 2
	next.RotatedAtNs = now + 1
	if err := repo.ReplaceKeyMaterial(next); err != nil {
		t.Fatal(err)
	}
	got, err = repo.GetKeyMaterial(n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Generation != 2 || got.PublicKey != "pub-2" || got.RotatedAtNs != now+1 {
		t.Fatalf("replace not applied: %+v", got)
	}
	if got.CreatedAtNs != now {
		t.Fatalf("created_at must survive replacement, got %d", got.CreatedAtNs)
	}
}

func TestRepo_ReplaceKeyMaterial_NotProvisioned(t *testing.T) {
	repo := newTestRepo(t)
	n := mustCreateNode(t, repo, "node-1")

	err := repo.ReplaceKeyMaterial(model.NodeKeyMaterial{NodeID: n.ID, PrivateKey: []byte{1}, Generation: 2})
	if !errors.Is(err, ErrNotProvisioned) {
		t.Fatalf("expected ErrNotProvisioned, got %v", err)
	}
}
