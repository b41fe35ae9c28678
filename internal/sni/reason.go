package sni

// RotationReason is the closed set of causes recorded in the rotation log.
type RotationReason string

const (
	ReasonHealthDegraded    RotationReason = "HEALTH_DEGRADED"
	ReasonCapacityRebalance RotationReason = "CAPACITY_REBALANCE"
	ReasonManualOverride    RotationReason = "MANUAL_OVERRIDE"
	ReasonDomainDeactivated RotationReason = "DOMAIN_DEACTIVATED"
)

// IsValid reports whether the reason is one of the known values.
func (r RotationReason) IsValid() bool {
	switch r {
	case ReasonHealthDegraded, ReasonCapacityRebalance, ReasonManualOverride, ReasonDomainDeactivated:
		return true
	}
	return false
}
