package state

import "errors"

// Sentinel errors surfaced by the repos. Callers match with errors.Is and
// translate to their own failure vocabulary; anything else is a storage
// failure and is propagated unchanged.
var (
	ErrDuplicateDomain    = errors.New("state: domain already registered")
	ErrDomainNotFound     = errors.New("state: domain not found")
	ErrNodeNotFound       = errors.New("state: node not found")
	ErrDuplicateNode      = errors.New("state: node name already registered")
	ErrUnassigned         = errors.New("state: node has no SNI assignment")
	ErrAlreadyProvisioned = errors.New("state: key material already provisioned")
	ErrNotProvisioned     = errors.New("state: key material not provisioned")
	ErrAtCapacity         = errors.New("state: domain is at capacity")
)
