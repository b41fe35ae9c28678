// Package model defines domain structs shared across the persistence layer.
package model

// SniDomain is a candidate camouflage target: a real, reachable site whose
// hostname relay nodes present as their TLS SNI.
type SniDomain struct {
	ID                  string `json:"id"`
	Domain              string `json:"domain"`
	Tier                int    `json:"tier"`
	HealthScore         int    `json:"health_score"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastCheckNs         int64  `json:"last_check_ns"`
	LastLatencyNs       int64  `json:"last_latency_ns"`
	Country             string `json:"country,omitempty"`
	IsActive            bool   `json:"is_active"`
	Notes               string `json:"notes"`
	CreatedAtNs         int64  `json:"created_at_ns"`
	UpdatedAtNs         int64  `json:"updated_at_ns"`
}

// AssignmentStatus is the explicit lifecycle tag on a node's SNI binding.
type AssignmentStatus string

const (
	AssignmentStatusAssigned AssignmentStatus = "ASSIGNED"
)

// NodeSniAssignment is the current binding between a relay node and a
// camouflage domain. One node holds at most one assignment; one domain
// serves many nodes up to its tier's capacity cap.
type NodeSniAssignment struct {
	NodeID       string           `json:"node_id"`
	DomainID     string           `json:"domain_id"`
	Status       AssignmentStatus `json:"status"`
	AssignedAtNs int64            `json:"assigned_at_ns"`
	UpdatedAtNs  int64            `json:"updated_at_ns"`
}

// SniRotationLogEntry is an immutable audit record written once per
// rotation. Initial assignments are not rotations and are never logged here.
type SniRotationLogEntry struct {
	ID          string `json:"id"`
	NodeID      string `json:"node_id"`
	NodeName    string `json:"node_name,omitempty"`
	OldSni      string `json:"old_sni"`
	NewSni      string `json:"new_sni"`
	Reason      string `json:"reason"`
	RotatedAtNs int64  `json:"rotated_at_ns"`
}

// NodeKeyMaterial is the per-node cryptographic identity for the camouflage
// protocol. PrivateKey never crosses the API or log boundary.
type NodeKeyMaterial struct {
	NodeID      string   `json:"node_id"`
	PrivateKey  []byte   `json:"-"`
	PublicKey   string   `json:"public_key"`
	ClientUUID  string   `json:"client_uuid"`
	ShortIDs    []string `json:"short_ids"`
	Generation  int      `json:"generation"`
	CreatedAtNs int64    `json:"created_at_ns"`
	RotatedAtNs int64    `json:"rotated_at_ns,omitempty"`
}

// RelayNode is a relay node identity registered with the control plane.
// TransportCaps declares which auth/transport features the node's relay
// binary supports (e.g. "vision", "token", "mtls").
type RelayNode struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Address       string   `json:"address"`
	Port          int      `json:"port"`
	TransportCaps []string `json:"transport_caps"`
	RelayAuthMode string   `json:"relay_auth_mode"`
	CreatedAtNs   int64    `json:"created_at_ns"`
	UpdatedAtNs   int64    `json:"updated_at_ns"`
}
