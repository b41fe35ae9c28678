package service

import (
	"strings"
	"time"

	"github.com/veilnet/veil/internal/model"
	"github.com/veilnet/veil/internal/nodeconfig"
)

// ------------------------------------------------------------------
// Nodes
// ------------------------------------------------------------------

// CreateNodeRequest carries the fields for registering a relay node.
type CreateNodeRequest struct {
	Name          string   `json:"name"`
	Address       string   `json:"address"`
	Port          int      `json:"port"`
	TransportCaps []string `json:"transport_caps"`
	RelayAuthMode string   `json:"relay_auth_mode"`
}

func validateNodeFields(name, address string, port int, authMode string, caps []string) *ServiceError {
	if strings.TrimSpace(name) == "" {
		return invalidArg("name must not be empty")
	}
	if strings.TrimSpace(address) == "" {
		return invalidArg("address must not be empty")
	}
	if port < 1 || port > 65535 {
		return invalidArg("port must be 1-65535")
	}
	mode := nodeconfig.RelayAuthMode(authMode)
	if !mode.IsValid() {
		return invalidArg("relay_auth_mode must be one of NONE, SHARED_TOKEN, MUTUAL_TLS")
	}
	if !mode.SupportedBy(caps) {
		return conflict("UNSUPPORTED_AUTH_MODE", "relay auth mode not supported by node transport capabilities")
	}
	return nil
}

// CreateNode registers a relay node.
func (s *ControlPlaneService) CreateNode(req CreateNodeRequest) (model.RelayNode, error) {
	if req.RelayAuthMode == "" {
		req.RelayAuthMode = string(nodeconfig.AuthModeNone)
	}
	if err := validateNodeFields(req.Name, req.Address, req.Port, req.RelayAuthMode, req.TransportCaps); err != nil {
		return model.RelayNode{}, err
	}

	n, err := s.Repo.CreateNode(model.RelayNode{
		Name:          strings.TrimSpace(req.Name),
		Address:       strings.TrimSpace(req.Address),
		Port:          req.Port,
		TransportCaps: req.TransportCaps,
		RelayAuthMode: req.RelayAuthMode,
	}, time.Now().UnixNano())
	if err != nil {
		return model.RelayNode{}, wrapDomainError(err)
	}
	return n, nil
}

// ListNodes returns the registry ordered by name.
func (s *ControlPlaneService) ListNodes() ([]model.RelayNode, error) {
	nodes, err := s.Repo.ListNodes()
	if err != nil {
		return nil, internal("list nodes", err)
	}
	return nodes, nil
}

// GetNode returns one node by ID.
func (s *ControlPlaneService) GetNode(id string) (model.RelayNode, error) {
	n, err := s.Repo.GetNode(id)
	if err != nil {
		return model.RelayNode{}, wrapDomainError(err)
	}
	return n, nil
}

// UpdateNodeRequest patches mutable node fields. Nil means unchanged.
type UpdateNodeRequest struct {
	Name          *string   `json:"name"`
	Address       *string   `json:"address"`
	Port          *int      `json:"port"`
	TransportCaps *[]string `json:"transport_caps"`
	RelayAuthMode *string   `json:"relay_auth_mode"`
}

// UpdateNode patches a node's registry row.
func (s *ControlPlaneService) UpdateNode(id string, req UpdateNodeRequest) (model.RelayNode, error) {
	n, err := s.Repo.GetNode(id)
	if err != nil {
		return model.RelayNode{}, wrapDomainError(err)
	}
	if req.Name != nil {
		n.Name = strings.TrimSpace(*req.Name)
	}
	if req.Address != nil {
		n.Address = strings.TrimSpace(*req.Address)
	}
	if req.Port != nil {
		n.Port = *req.Port
	}
	if req.TransportCaps != nil {
		n.TransportCaps = *req.TransportCaps
	}
	if req.RelayAuthMode != nil {
		n.RelayAuthMode = *req.RelayAuthMode
	}
	if err := validateNodeFields(n.Name, n.Address, n.Port, n.RelayAuthMode, n.TransportCaps); err != nil {
		return model.RelayNode{}, err
	}

	updated, err := s.Repo.UpdateNode(n, time.Now().UnixNano())
	if err != nil {
		return model.RelayNode{}, wrapDomainError(err)
	}
	s.Generator.Invalidate()
	return updated, nil
}

// DeleteNode removes a node, its assignment, and its key material.
func (s *ControlPlaneService) DeleteNode(id string) error {
	if err := s.Repo.DeleteNode(id); err != nil {
		return wrapDomainError(err)
	}
	s.Generator.Invalidate()
	return nil
}

// ProvisionNode generates initial key material for a node.
func (s *ControlPlaneService) ProvisionNode(id string) (model.NodeKeyMaterial, error) {
	if _, err := s.Repo.GetNode(id); err != nil {
		return model.NodeKeyMaterial{}, wrapDomainError(err)
	}
	km, err := s.Keys.Provision(id, time.Now())
	if err != nil {
		return model.NodeKeyMaterial{}, wrapDomainError(err)
	}
	return km, nil
}

// RegenerateNodeKeys replaces a node's key material and bumps its generation.
// The reason is free text for the audit log; empty means unspecified.
func (s *ControlPlaneService) RegenerateNodeKeys(id, reason string) (model.NodeKeyMaterial, error) {
	if _, err := s.Repo.GetNode(id); err != nil {
		return model.NodeKeyMaterial{}, wrapDomainError(err)
	}
	km, err := s.Keys.Regenerate(id, reason, time.Now())
	if err != nil {
		return model.NodeKeyMaterial{}, wrapDomainError(err)
	}
	s.Generator.Invalidate()
	return km, nil
}

// GenerateNodeConfig renders the node's deterministic server config.
func (s *ControlPlaneService) GenerateNodeConfig(id string) ([]byte, error) {
	rendered, err := s.Generator.Generate(id)
	if err != nil {
		return nil, wrapDomainError(err)
	}
	return rendered, nil
}
