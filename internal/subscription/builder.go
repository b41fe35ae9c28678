package subscription

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/veilnet/veil/internal/config"
	"github.com/veilnet/veil/internal/keymat"
	"github.com/veilnet/veil/internal/model"
	"github.com/veilnet/veil/internal/state"
)

// NodeFailure records why one node could not be included in a subscription.
type NodeFailure struct {
	NodeID   string `json:"node_id"`
	NodeName string `json:"node_name"`
	Cause    string `json:"cause"`
}

// PartialGenerationError reports that some nodes were skipped while others
// produced descriptors. Callers that accept partial payloads check for it
// with errors.As and serve the descriptors anyway.
type PartialGenerationError struct {
	Failures []NodeFailure
}

func (e *PartialGenerationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.NodeName, f.Cause))
	}
	return fmt.Sprintf("subscription: %d node(s) skipped: %s", len(e.Failures), strings.Join(parts, "; "))
}

// PlanMetadata annotates a user subscription with entitlement limits. It is
// rendered into the JSON encoding and surfaced as response headers for the
// line-oriented encodings, matching what subscription clients expect.
type PlanMetadata struct {
	ExpiresAtNs       int64 `json:"expires_at_ns,omitempty"`
	TrafficQuotaBytes int64 `json:"traffic_quota_bytes,omitempty"`
}

// Builder assembles subscription descriptors from the node registry, the
// current SNI assignments, and key material.
type Builder struct {
	repo *state.Repo
	keys *keymat.Provider
	cfg  func() *config.RuntimeConfig
}

// NewBuilder creates a Builder.
func NewBuilder(repo *state.Repo, keys *keymat.Provider, cfg func() *config.RuntimeConfig) *Builder {
	return &Builder{repo: repo, keys: keys, cfg: cfg}
}

// Build produces one descriptor per usable node, in registry order (name
// ascending). A node missing its assignment or key material is skipped and
// reported; the returned error is a *PartialGenerationError when at least
// one descriptor was produced, so callers can still serve the payload.
func (b *Builder) Build() ([]Descriptor, error) {
	nodes, err := b.repo.ListNodes()
	if err != nil {
		return nil, err
	}
	return b.assemble(nodes)
}

// BuildFor produces descriptors for an explicit entitlement list, preserving
// the caller's node order. Unknown node IDs are reported as failures, not
// hard errors, so one stale entitlement does not break the whole payload.
func (b *Builder) BuildFor(nodeIDs []string) ([]Descriptor, error) {
	nodes := make([]model.RelayNode, 0, len(nodeIDs))
	var missing []NodeFailure
	for _, id := range nodeIDs {
		n, err := b.repo.GetNode(id)
		if err != nil {
			missing = append(missing, NodeFailure{NodeID: id, Cause: err.Error()})
			continue
		}
		nodes = append(nodes, n)
	}

	descriptors, err := b.assemble(nodes)
	if len(missing) == 0 {
		return descriptors, err
	}
	var partial *PartialGenerationError
	if errors.As(err, &partial) {
		partial.Failures = append(missing, partial.Failures...)
		return descriptors, partial
	}
	if err != nil {
		return descriptors, err
	}
	return descriptors, &PartialGenerationError{Failures: missing}
}

func (b *Builder) assemble(nodes []model.RelayNode) ([]Descriptor, error) {
	flow := b.cfg().SubscriptionFlow

	var descriptors []Descriptor
	var failures []NodeFailure
	for _, n := range nodes {
		a, err := b.repo.GetAssignment(n.ID)
		if err != nil {
			failures = append(failures, NodeFailure{NodeID: n.ID, NodeName: n.Name, Cause: err.Error()})
			continue
		}
		domain, err := b.repo.GetDomain(a.DomainID)
		if err != nil {
			failures = append(failures, NodeFailure{NodeID: n.ID, NodeName: n.Name, Cause: err.Error()})
			continue
		}
		km, err := b.keys.Get(n.ID)
		if err != nil {
			failures = append(failures, NodeFailure{NodeID: n.ID, NodeName: n.Name, Cause: err.Error()})
			continue
		}
		shortID := ""
		if len(km.ShortIDs) > 0 {
			shortID = km.ShortIDs[0]
		}
		descriptors = append(descriptors, Descriptor{
			NodeID:     n.ID,
			Name:       n.Name,
			Address:    n.Address,
			Port:       n.Port,
			ClientUUID: km.ClientUUID,
			ServerName: domain.Domain,
			PublicKey:  km.PublicKey,
			ShortID:    shortID,
			Flow:       flow,
		})
	}

	if len(failures) > 0 {
		log.Printf("[subscription] %d of %d nodes skipped", len(failures), len(nodes))
		return descriptors, &PartialGenerationError{Failures: failures}
	}
	return descriptors, nil
}
