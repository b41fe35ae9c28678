// Package sni assigns camouflage domains to relay nodes and rotates them.
package sni

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/veilnet/veil/internal/config"
	"github.com/veilnet/veil/internal/model"
	"github.com/veilnet/veil/internal/state"
)

// Manager selects domains for nodes by eligibility priority (tier ascending,
// health descending, least recently probed first) while honoring per-tier
// capacity caps. Selection races on the same domain are serialized with a
// per-domain lock; the capacity cap itself is enforced again inside the
// assignment transaction, so a lost race degrades to a retry with the next
// candidate.
type Manager struct {
	repo  *state.Repo
	cfg   func() *config.RuntimeConfig
	locks *xsync.Map[string, *sync.Mutex]
}

// NewManager creates a Manager. cfg is read per operation so runtime config
// updates take effect without restart.
func NewManager(repo *state.Repo, cfg func() *config.RuntimeConfig) *Manager {
	return &Manager{
		repo:  repo,
		cfg:   cfg,
		locks: xsync.NewMap[string, *sync.Mutex](),
	}
}

func (m *Manager) lockFor(domainID string) *sync.Mutex {
	mu, _ := m.locks.LoadOrStore(domainID, &sync.Mutex{})
	return mu
}

// Assign binds a node to the best eligible domain with tier <= tierCeiling.
// If the node already holds an assignment to an active domain, that binding
// is returned unchanged. Returns ErrNoEligibleDomain when every candidate is
// inactive, over the ceiling, or at capacity.
func (m *Manager) Assign(nodeID string, tierCeiling int, now time.Time) (model.SniDomain, error) {
	if _, err := m.repo.GetNode(nodeID); err != nil {
		return model.SniDomain{}, err
	}

	if a, err := m.repo.GetAssignment(nodeID); err == nil {
		d, err := m.repo.GetDomain(a.DomainID)
		if err == nil && d.IsActive {
			return d, nil
		}
		// Stale binding to a deactivated or deleted domain; fall through
		// and pick a fresh one.
	} else if !errors.Is(err, state.ErrUnassigned) {
		return model.SniDomain{}, err
	}

	d, err := m.selectAndBind(nodeID, tierCeiling, "", now, nil)
	if err != nil {
		return model.SniDomain{}, err
	}
	log.Printf("[sni] assigned node %s -> %s (tier %d, score %d)", nodeID, d.Domain, d.Tier, d.HealthScore)
	return d, nil
}

// Rotate moves a node off its current domain onto the next best eligible one,
// recording the swap in the rotation log atomically with the assignment
// update. The current domain is excluded from candidates. When no candidate
// remains the existing assignment stays in place and nothing is logged.
func (m *Manager) Rotate(nodeID string, tierCeiling int, reason RotationReason, now time.Time) (model.SniDomain, error) {
	if !reason.IsValid() {
		return model.SniDomain{}, ErrInvalidReason
	}
	node, err := m.repo.GetNode(nodeID)
	if err != nil {
		return model.SniDomain{}, err
	}
	a, err := m.repo.GetAssignment(nodeID)
	if err != nil {
		return model.SniDomain{}, err
	}

	oldSni := ""
	if old, err := m.repo.GetDomain(a.DomainID); err == nil {
		oldSni = old.Domain
	}

	entry := &model.SniRotationLogEntry{
		NodeID:      nodeID,
		NodeName:    node.Name,
		OldSni:      oldSni,
		Reason:      string(reason),
		RotatedAtNs: now.UnixNano(),
	}
	d, err := m.selectAndBind(nodeID, tierCeiling, a.DomainID, now, entry)
	if err != nil {
		return model.SniDomain{}, err
	}
	log.Printf("[sni] rotated node %s: %s -> %s (%s)", nodeID, oldSni, d.Domain, reason)
	return d, nil
}

// RotateAllForDomain rotates every node bound to the given domain, typically
// after the domain was deactivated. Per-node failures are logged and skipped
// so one stuck node does not block the rest; the count of nodes that could
// not be moved is returned.
func (m *Manager) RotateAllForDomain(domainID string, tierCeiling int, reason RotationReason, now time.Time) (moved, stuck int, err error) {
	assignments, err := m.repo.ListAssignmentsForDomain(domainID)
	if err != nil {
		return 0, 0, err
	}
	for _, a := range assignments {
		if _, err := m.Rotate(a.NodeID, tierCeiling, reason, now); err != nil {
			log.Printf("[sni] rotate node %s off domain %s: %v", a.NodeID, domainID, err)
			stuck++
			continue
		}
		moved++
	}
	return moved, stuck, nil
}

// Logs returns rotation history, most recent first. Empty nodeID means the
// whole fleet.
func (m *Manager) Logs(nodeID string) ([]model.SniRotationLogEntry, error) {
	return m.repo.ListRotationLog(nodeID)
}

// selectAndBind walks the eligibility-ordered candidates and binds the node
// to the first one with spare capacity. excludeDomainID skips the node's
// current domain during rotation. entry, when non-nil, is completed with the
// new SNI and appended atomically with the binding.
func (m *Manager) selectAndBind(nodeID string, tierCeiling int, excludeDomainID string, now time.Time, entry *model.SniRotationLogEntry) (model.SniDomain, error) {
	candidates, err := m.repo.ListEligibleDomains(tierCeiling)
	if err != nil {
		return model.SniDomain{}, err
	}
	cfg := m.cfg()

	for _, d := range candidates {
		if d.ID == excludeDomainID {
			continue
		}

		mu := m.lockFor(d.ID)
		mu.Lock()
		if entry != nil {
			entry.NewSni = d.Domain
		}
		_, err := m.repo.UpsertAssignment(nodeID, d.ID, cfg.CapacityFor(d.Tier), now.UnixNano(), entry)
		mu.Unlock()

		if errors.Is(err, state.ErrAtCapacity) {
			continue
		}
		if err != nil {
			return model.SniDomain{}, err
		}
		return d, nil
	}
	return model.SniDomain{}, ErrNoEligibleDomain
}
