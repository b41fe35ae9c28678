package service

import (
	"fmt"
	"math"
	"time"

	"github.com/veilnet/veil/internal/model"
	"github.com/veilnet/veil/internal/netutil"
	"github.com/veilnet/veil/internal/sni"
)

// ------------------------------------------------------------------
// Domains
// ------------------------------------------------------------------

// CreateDomainRequest carries the operator-supplied fields for a new domain.
type CreateDomainRequest struct {
	Domain string `json:"domain"`
	Tier   int    `json:"tier"`
	Notes  string `json:"notes"`
}

// CreateDomain normalizes and registers a camouflage domain. New domains
// start active with the configured default health score.
func (s *ControlPlaneService) CreateDomain(req CreateDomainRequest) (model.SniDomain, error) {
	hostname, err := netutil.NormalizeHostname(req.Domain)
	if err != nil {
		return model.SniDomain{}, invalidArg(err.Error())
	}
	if req.Tier < 0 {
		return model.SniDomain{}, invalidArg("tier must not be negative")
	}

	d, err := s.Repo.CreateDomain(hostname, req.Tier, s.Config().DefaultHealthScore, req.Notes, time.Now().UnixNano())
	if err != nil {
		return model.SniDomain{}, wrapDomainError(err)
	}
	return d, nil
}

// ListDomains returns the full pool ordered by tier then hostname.
func (s *ControlPlaneService) ListDomains() ([]model.SniDomain, error) {
	domains, err := s.Repo.ListDomains()
	if err != nil {
		return nil, internal("list domains", err)
	}
	return domains, nil
}

// ListEligibleDomains returns active domains at or below the tier ceiling,
// best candidates first (tier, then health score, then staleness).
func (s *ControlPlaneService) ListEligibleDomains(tierCeiling int) ([]model.SniDomain, error) {
	if tierCeiling < 0 {
		return nil, invalidArg("tier_ceiling must not be negative")
	}
	domains, err := s.Repo.ListEligibleDomains(tierCeiling)
	if err != nil {
		return nil, internal("list eligible domains", err)
	}
	return domains, nil
}

// GetDomain returns one domain by ID.
func (s *ControlPlaneService) GetDomain(id string) (model.SniDomain, error) {
	d, err := s.Repo.GetDomain(id)
	if err != nil {
		return model.SniDomain{}, wrapDomainError(err)
	}
	return d, nil
}

// UpdateDomainRequest patches mutable domain fields. Nil means unchanged.
type UpdateDomainRequest struct {
	Tier     *int    `json:"tier"`
	IsActive *bool   `json:"is_active"`
	Notes    *string `json:"notes"`
}

// UpdateDomain patches tier, active flag, and notes. Deactivating a domain
// here rotates every bound node off it, same as a probe-driven deactivation.
func (s *ControlPlaneService) UpdateDomain(id string, req UpdateDomainRequest) (model.SniDomain, error) {
	if req.Tier != nil && *req.Tier < 0 {
		return model.SniDomain{}, invalidArg("tier must not be negative")
	}

	prev, err := s.Repo.GetDomain(id)
	if err != nil {
		return model.SniDomain{}, wrapDomainError(err)
	}

	d, err := s.Repo.UpdateDomain(id, req.Tier, req.IsActive, req.Notes, time.Now().UnixNano())
	if err != nil {
		return model.SniDomain{}, wrapDomainError(err)
	}

	if prev.IsActive && !d.IsActive {
		if _, _, err := s.Sni.RotateAllForDomain(id, math.MaxInt32, sni.ReasonManualOverride, time.Now()); err != nil {
			return model.SniDomain{}, internal("rotate nodes off deactivated domain", err)
		}
	}
	s.Generator.Invalidate()
	return d, nil
}

// DeleteDomain removes a domain from the pool. Nodes bound to it are rotated
// off first; if any node cannot be moved the deletion is refused so no node
// is left pointing at a ghost SNI.
func (s *ControlPlaneService) DeleteDomain(id string) error {
	if _, err := s.Repo.GetDomain(id); err != nil {
		return wrapDomainError(err)
	}

	_, stuck, err := s.Sni.RotateAllForDomain(id, math.MaxInt32, sni.ReasonDomainDeactivated, time.Now())
	if err != nil {
		return internal("rotate nodes off domain", err)
	}
	if stuck > 0 {
		return conflict("NO_ELIGIBLE_DOMAIN",
			fmt.Sprintf("%d node(s) have no replacement domain; deletion refused", stuck))
	}

	if err := s.Repo.DeleteDomain(id); err != nil {
		return wrapDomainError(err)
	}
	s.Generator.Invalidate()
	return nil
}

// ProbeDomainNow runs an immediate health check against one domain.
func (s *ControlPlaneService) ProbeDomainNow(id string) (model.SniDomain, error) {
	d, err := s.Repo.GetDomain(id)
	if err != nil {
		return model.SniDomain{}, wrapDomainError(err)
	}
	s.ProbeMgr.ProbeDomain(d)

	updated, err := s.Repo.GetDomain(id)
	if err != nil {
		return model.SniDomain{}, wrapDomainError(err)
	}
	return updated, nil
}

// RecordDomainProbe folds an externally observed probe outcome into the
// domain's health score, applying the same scoring and deactivation policy
// as the built-in prober.
func (s *ControlPlaneService) RecordDomainProbe(id string, success bool, latency time.Duration) (model.SniDomain, error) {
	if latency < 0 {
		return model.SniDomain{}, invalidArg("latency_ms must not be negative")
	}
	d, err := s.Repo.GetDomain(id)
	if err != nil {
		return model.SniDomain{}, wrapDomainError(err)
	}
	s.ProbeMgr.Record(d, success, latency, nil)

	updated, err := s.Repo.GetDomain(id)
	if err != nil {
		return model.SniDomain{}, wrapDomainError(err)
	}
	return updated, nil
}
