// Package keymat generates and manages per-node REALITY key material.
package keymat

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/curve25519"

	"github.com/veilnet/veil/internal/model"
	"github.com/veilnet/veil/internal/state"
)

// Provider owns the key material lifecycle: provision once, regenerate on
// explicit request, read for config generation. Private keys never appear in
// log output or error strings.
type Provider struct {
	repo         *state.Repo
	shortIDCount func() int
}

// NewProvider creates a Provider. shortIDCount is read per call so runtime
// config updates take effect without restart.
func NewProvider(repo *state.Repo, shortIDCount func() int) *Provider {
	return &Provider{repo: repo, shortIDCount: shortIDCount}
}

// Provision generates fresh material for a node that has none.
// Returns state.ErrAlreadyProvisioned when material already exists.
func (p *Provider) Provision(nodeID string, now time.Time) (model.NodeKeyMaterial, error) {
	km, err := p.generate(nodeID, 1, now)
	if err != nil {
		return model.NodeKeyMaterial{}, err
	}
	if err := p.repo.InsertKeyMaterial(km); err != nil {
		return model.NodeKeyMaterial{}, err
	}
	log.Printf("[keymat] provisioned node %s (public key %s)", nodeID, km.PublicKey)
	return km, nil
}

// Regenerate replaces a node's material with a fresh set and bumps the
// generation counter. The reason is recorded in the log so key rollovers
// stay auditable. Returns state.ErrNotProvisioned when the node was never
// provisioned.
func (p *Provider) Regenerate(nodeID, reason string, now time.Time) (model.NodeKeyMaterial, error) {
	prev, err := p.repo.GetKeyMaterial(nodeID)
	if err != nil {
		return model.NodeKeyMaterial{}, err
	}
	km, err := p.generate(nodeID, prev.Generation+1, now)
	if err != nil {
		return model.NodeKeyMaterial{}, err
	}
	km.CreatedAtNs = prev.CreatedAtNs
	km.RotatedAtNs = now.UnixNano()
	if err := p.repo.ReplaceKeyMaterial(km); err != nil {
		return model.NodeKeyMaterial{}, err
	}
	if reason == "" {
		reason = "unspecified"
	}
	log.Printf("[keymat] regenerated node %s generation %d, reason %q (public key %s)", nodeID, km.Generation, reason, km.PublicKey)
	return km, nil
}

// Get returns the node's current material, or state.ErrNotProvisioned.
func (p *Provider) Get(nodeID string) (model.NodeKeyMaterial, error) {
	return p.repo.GetKeyMaterial(nodeID)
}

func (p *Provider) generate(nodeID string, generation int, now time.Time) (model.NodeKeyMaterial, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return model.NodeKeyMaterial{}, fmt.Errorf("generate private key: %w", err)
	}
	// X25519 scalar clamping.
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return model.NodeKeyMaterial{}, fmt.Errorf("derive public key: %w", err)
	}

	count := p.shortIDCount()
	if count < 1 {
		count = 1
	}
	shortIDs := make([]string, 0, count)
	for i := 0; i < count; i++ {
		b := make([]byte, 8)
		if _, err := rand.Read(b); err != nil {
			return model.NodeKeyMaterial{}, fmt.Errorf("generate short id: %w", err)
		}
		shortIDs = append(shortIDs, hex.EncodeToString(b))
	}

	return model.NodeKeyMaterial{
		NodeID:      nodeID,
		PrivateKey:  priv,
		PublicKey:   base64.RawURLEncoding.EncodeToString(pub),
		ClientUUID:  uuid.NewString(),
		ShortIDs:    shortIDs,
		Generation:  generation,
		CreatedAtNs: now.UnixNano(),
	}, nil
}
