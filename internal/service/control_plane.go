// Package service implements the control plane operations behind the API.
// Handlers call its methods; business logic lives here, not in handlers.
package service

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veilnet/veil/internal/config"
	"github.com/veilnet/veil/internal/keymat"
	"github.com/veilnet/veil/internal/nodeconfig"
	"github.com/veilnet/veil/internal/probe"
	"github.com/veilnet/veil/internal/sni"
	"github.com/veilnet/veil/internal/state"
	"github.com/veilnet/veil/internal/subscription"
)

// ServiceError wraps an error with a code for API response mapping.
type ServiceError struct {
	Code    string // INVALID_ARGUMENT, NOT_FOUND, CONFLICT, INTERNAL, ...
	Message string
	Err     error
}

func (e *ServiceError) Error() string { return e.Message }
func (e *ServiceError) Unwrap() error { return e.Err }

func invalidArg(msg string) *ServiceError {
	return &ServiceError{Code: "INVALID_ARGUMENT", Message: msg}
}

func notFound(msg string) *ServiceError {
	return &ServiceError{Code: "NOT_FOUND", Message: msg}
}

func conflict(code, msg string) *ServiceError {
	return &ServiceError{Code: code, Message: msg}
}

func internal(msg string, err error) *ServiceError {
	return &ServiceError{Code: "INTERNAL", Message: msg, Err: err}
}

// wrapDomainError maps known sentinel errors from the lower layers onto
// ServiceError codes. Unknown errors become INTERNAL with the storage cause
// preserved for logging but not leaked to clients.
func wrapDomainError(err error) *ServiceError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, state.ErrDomainNotFound):
		return notFound("domain not found")
	case errors.Is(err, state.ErrNodeNotFound):
		return notFound("node not found")
	case errors.Is(err, state.ErrDuplicateDomain):
		return conflict("DUPLICATE_DOMAIN", "domain already registered")
	case errors.Is(err, state.ErrDuplicateNode):
		return conflict("DUPLICATE_NODE", "node name already registered")
	case errors.Is(err, state.ErrUnassigned):
		return conflict("UNASSIGNED", "node has no SNI assignment")
	case errors.Is(err, state.ErrAlreadyProvisioned):
		return conflict("ALREADY_PROVISIONED", "key material already provisioned")
	case errors.Is(err, state.ErrNotProvisioned):
		return conflict("NOT_PROVISIONED", "key material not provisioned")
	case errors.Is(err, sni.ErrNoEligibleDomain):
		return conflict("NO_ELIGIBLE_DOMAIN", "no eligible domain available")
	case errors.Is(err, sni.ErrInvalidReason):
		return invalidArg("invalid rotation reason")
	case errors.Is(err, nodeconfig.ErrUnsupportedAuthMode):
		return conflict("UNSUPPORTED_AUTH_MODE", "relay auth mode not supported by node")
	default:
		return internal("storage failure", err)
	}
}

// SystemInfo contains version and runtime information.
type SystemInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime string    `json:"build_time"`
	StartedAt time.Time `json:"started_at"`
}

// ControlPlaneService provides all control plane operations.
type ControlPlaneService struct {
	Repo       *state.Repo
	Sni        *sni.Manager
	Keys       *keymat.Provider
	Generator  *nodeconfig.Generator
	SubBuilder *subscription.Builder
	ProbeMgr   *probe.Manager
	RuntimeCfg *atomic.Pointer[config.RuntimeConfig]
	EnvCfg     *config.EnvConfig

	configMu      sync.Mutex
	configVersion int
}

// Config returns the current runtime config snapshot.
func (s *ControlPlaneService) Config() *config.RuntimeConfig {
	return s.RuntimeCfg.Load()
}

// SetConfigVersion seeds the persisted config version at startup.
func (s *ControlPlaneService) SetConfigVersion(v int) {
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.configVersion = v
}

// UpdateRuntimeConfig validates and persists a full replacement runtime
// config, then swaps the live pointer so subsequent operations see it.
func (s *ControlPlaneService) UpdateRuntimeConfig(next *config.RuntimeConfig) (*config.RuntimeConfig, error) {
	if err := config.ValidateRuntimeConfig(next); err != nil {
		return nil, invalidArg(err.Error())
	}

	s.configMu.Lock()
	defer s.configMu.Unlock()

	version := s.configVersion + 1
	if err := s.Repo.SaveSystemConfig(next, version, time.Now().UnixNano()); err != nil {
		return nil, internal("persist runtime config", err)
	}
	s.configVersion = version
	s.RuntimeCfg.Store(next)
	s.Generator.Invalidate()
	return next, nil
}
