package service

import (
	"math"
	"time"

	"github.com/veilnet/veil/internal/model"
	"github.com/veilnet/veil/internal/sni"
)

// ------------------------------------------------------------------
// Assignments and rotation
// ------------------------------------------------------------------

// AssignmentView joins the raw binding with the domain hostname for API
// responses.
type AssignmentView struct {
	NodeID       string `json:"node_id"`
	DomainID     string `json:"domain_id"`
	Sni          string `json:"sni"`
	Status       string `json:"status"`
	AssignedAtNs int64  `json:"assigned_at_ns"`
	UpdatedAtNs  int64  `json:"updated_at_ns"`
}

func tierCeilingOrMax(tierCeiling *int) int {
	if tierCeiling == nil {
		return math.MaxInt32
	}
	return *tierCeiling
}

// AssignNode gives the node an SNI domain within the tier ceiling. Already
// assigned nodes keep their binding.
func (s *ControlPlaneService) AssignNode(nodeID string, tierCeiling *int) (AssignmentView, error) {
	if tierCeiling != nil && *tierCeiling < 0 {
		return AssignmentView{}, invalidArg("tier_ceiling must not be negative")
	}
	if _, err := s.Sni.Assign(nodeID, tierCeilingOrMax(tierCeiling), time.Now()); err != nil {
		return AssignmentView{}, wrapDomainError(err)
	}
	s.Generator.Invalidate()
	return s.GetNodeAssignment(nodeID)
}

// RotateNode swaps the node onto the next best domain, recording the reason.
func (s *ControlPlaneService) RotateNode(nodeID string, tierCeiling *int, reason string) (AssignmentView, error) {
	if tierCeiling != nil && *tierCeiling < 0 {
		return AssignmentView{}, invalidArg("tier_ceiling must not be negative")
	}
	r := sni.RotationReason(reason)
	if reason == "" {
		r = sni.ReasonManualOverride
	}
	if _, err := s.Sni.Rotate(nodeID, tierCeilingOrMax(tierCeiling), r, time.Now()); err != nil {
		return AssignmentView{}, wrapDomainError(err)
	}
	s.Generator.Invalidate()
	return s.GetNodeAssignment(nodeID)
}

// GetNodeAssignment returns the node's current binding with the hostname
// resolved.
func (s *ControlPlaneService) GetNodeAssignment(nodeID string) (AssignmentView, error) {
	if _, err := s.Repo.GetNode(nodeID); err != nil {
		return AssignmentView{}, wrapDomainError(err)
	}
	a, err := s.Repo.GetAssignment(nodeID)
	if err != nil {
		return AssignmentView{}, wrapDomainError(err)
	}
	d, err := s.Repo.GetDomain(a.DomainID)
	if err != nil {
		return AssignmentView{}, wrapDomainError(err)
	}
	return AssignmentView{
		NodeID:       a.NodeID,
		DomainID:     a.DomainID,
		Sni:          d.Domain,
		Status:       string(a.Status),
		AssignedAtNs: a.AssignedAtNs,
		UpdatedAtNs:  a.UpdatedAtNs,
	}, nil
}

// UnassignNode drops the node's binding. Idempotent.
func (s *ControlPlaneService) UnassignNode(nodeID string) error {
	if _, err := s.Repo.GetNode(nodeID); err != nil {
		return wrapDomainError(err)
	}
	if err := s.Repo.DeleteAssignment(nodeID); err != nil {
		return internal("delete assignment", err)
	}
	s.Generator.Invalidate()
	return nil
}

// RotationLogs returns rotation history, most recent first. Empty nodeID
// means the whole fleet.
func (s *ControlPlaneService) RotationLogs(nodeID string) ([]model.SniRotationLogEntry, error) {
	if nodeID != "" {
		if _, err := s.Repo.GetNode(nodeID); err != nil {
			return nil, wrapDomainError(err)
		}
	}
	entries, err := s.Sni.Logs(nodeID)
	if err != nil {
		return nil, internal("list rotation log", err)
	}
	return entries, nil
}
