package sni

import "errors"

var (
	// ErrNoEligibleDomain means no active domain within the tier ceiling
	// could accept the node. The node's existing assignment, if any, is
	// left untouched and nothing is logged.
	ErrNoEligibleDomain = errors.New("sni: no eligible domain available")

	// ErrInvalidReason means the rotation reason is outside the closed set.
	ErrInvalidReason = errors.New("sni: invalid rotation reason")
)
