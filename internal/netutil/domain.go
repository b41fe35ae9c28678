// Package netutil provides hostname normalization helpers.
package netutil

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// NormalizeHostname canonicalizes a camouflage hostname: trims whitespace,
// lowercases, converts Unicode labels to their ASCII (punycode) form, and
// rejects values that cannot serve as an SNI (IP addresses, values with a
// port or scheme, bare public suffixes).
//
// Examples:
//
//	"WWW.Example.COM " -> "www.example.com"
//	"bücher.example"   -> "xn--bcher-kva.example"
//	"203.0.113.7"      -> error
//	"com"              -> error
func NormalizeHostname(raw string) (string, error) {
	host := strings.ToLower(strings.TrimSpace(raw))
	if host == "" {
		return "", fmt.Errorf("hostname is empty")
	}
	if strings.Contains(host, "://") || strings.Contains(host, "/") {
		return "", fmt.Errorf("hostname %q must not contain a scheme or path", raw)
	}
	if strings.Contains(host, ":") {
		return "", fmt.Errorf("hostname %q must not contain a port", raw)
	}
	if net.ParseIP(host) != nil {
		return "", fmt.Errorf("hostname %q is an IP address", raw)
	}

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("hostname %q is not a valid IDNA name: %w", raw, err)
	}
	ascii = strings.TrimSuffix(ascii, ".")

	// A bare public suffix ("com", "co.uk") is not a real site and would
	// make a worthless SNI.
	if _, err := publicsuffix.EffectiveTLDPlusOne(ascii); err != nil {
		return "", fmt.Errorf("hostname %q is not a registrable domain", raw)
	}
	return ascii, nil
}
