package nodeconfig

// RelayAuthMode selects how a relay node authenticates control-plane peers.
type RelayAuthMode string

const (
	AuthModeNone        RelayAuthMode = "NONE"
	AuthModeSharedToken RelayAuthMode = "SHARED_TOKEN"
	AuthModeMutualTLS   RelayAuthMode = "MUTUAL_TLS"
)

// IsValid reports whether the mode is one of the known values.
func (m RelayAuthMode) IsValid() bool {
	switch m {
	case AuthModeNone, AuthModeSharedToken, AuthModeMutualTLS:
		return true
	}
	return false
}

// requiredCap maps a mode to the transport capability a node must advertise.
// NONE needs nothing.
func (m RelayAuthMode) requiredCap() string {
	switch m {
	case AuthModeSharedToken:
		return "shared-token"
	case AuthModeMutualTLS:
		return "mtls"
	}
	return ""
}

// SupportedBy reports whether a node advertising the given transport
// capabilities can run this auth mode.
func (m RelayAuthMode) SupportedBy(caps []string) bool {
	need := m.requiredCap()
	if need == "" {
		return true
	}
	for _, c := range caps {
		if c == need {
			return true
		}
	}
	return false
}
