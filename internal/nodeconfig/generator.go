// Package nodeconfig renders deterministic VLESS+REALITY server configs.
package nodeconfig

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/maypok86/otter"
	"github.com/zeebo/xxh3"

	"github.com/veilnet/veil/internal/config"
	"github.com/veilnet/veil/internal/keymat"
	"github.com/veilnet/veil/internal/state"
)

const renderCacheEntries = 1024

// Generator produces the full server-side config document for a relay node
// from its registry row, current SNI assignment, and key material. Output is
// byte-identical for identical inputs: the document is built as nested maps
// and encoding/json sorts keys at every level. Renders are memoized in a
// bounded cache keyed by a 128-bit hash of the canonical inputs, so repeated
// generation for an unchanged node costs one hash.
type Generator struct {
	repo  *state.Repo
	keys  *keymat.Provider
	cfg   func() *config.RuntimeConfig
	cache otter.Cache[string, []byte]
}

// NewGenerator creates a Generator.
func NewGenerator(repo *state.Repo, keys *keymat.Provider, cfg func() *config.RuntimeConfig) *Generator {
	cache, err := otter.MustBuilder[string, []byte](renderCacheEntries).
		Cost(func(_ string, _ []byte) uint32 { return 1 }).
		Build()
	if err != nil {
		panic("nodeconfig: failed to create render cache: " + err.Error())
	}
	return &Generator{repo: repo, keys: keys, cfg: cfg, cache: cache}
}

// Generate renders the config JSON for nodeID. Fails with state.ErrUnassigned
// when the node has no SNI assignment, state.ErrNotProvisioned when key
// material is missing, and ErrUnsupportedAuthMode when the node's auth mode
// is outside its transport capabilities.
func (g *Generator) Generate(nodeID string) ([]byte, error) {
	node, err := g.repo.GetNode(nodeID)
	if err != nil {
		return nil, err
	}
	a, err := g.repo.GetAssignment(nodeID)
	if err != nil {
		return nil, err
	}
	domain, err := g.repo.GetDomain(a.DomainID)
	if err != nil {
		return nil, err
	}
	km, err := g.keys.Get(nodeID)
	if err != nil {
		return nil, err
	}

	mode := RelayAuthMode(node.RelayAuthMode)
	if !mode.IsValid() || !mode.SupportedBy(node.TransportCaps) {
		return nil, fmt.Errorf("%w: node %s mode %q caps %v", ErrUnsupportedAuthMode, nodeID, node.RelayAuthMode, node.TransportCaps)
	}

	cfg := g.cfg()
	key := renderKey(node.ID, node.Address, node.Port, string(mode),
		domain.Domain, km.ClientUUID, km.PublicKey, km.Generation, cfg.SubscriptionFlow)
	if cached, ok := g.cache.Get(key); ok {
		return cached, nil
	}

	doc := map[string]any{
		"log": map[string]any{
			"level": "warn",
		},
		"inbounds": []any{
			map[string]any{
				"type":        "vless",
				"tag":         "vless-in",
				"listen":      "::",
				"listen_port": node.Port,
				"users": []any{
					map[string]any{
						"uuid": km.ClientUUID,
						"flow": cfg.SubscriptionFlow,
					},
				},
				"tls": map[string]any{
					"enabled":     true,
					"server_name": domain.Domain,
					"reality": map[string]any{
						"enabled":     true,
						"private_key": base64.RawURLEncoding.EncodeToString(km.PrivateKey),
						"short_id":    toAnySlice(km.ShortIDs),
						"handshake": map[string]any{
							"server":      domain.Domain,
							"server_port": 443,
						},
					},
				},
			},
		},
		"relay": map[string]any{
			"auth_mode": string(mode),
		},
	}
	rendered, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("render config for node %s: %w", nodeID, err)
	}

	g.cache.Set(key, rendered)
	return rendered, nil
}

// Invalidate drops any memoized render for a node after its inputs changed
// out of band (key regeneration, rotation, registry edit).
func (g *Generator) Invalidate() {
	g.cache.Clear()
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// renderKey hashes the canonical inputs of a render with xxh3-128. The key
// includes the key-material generation so regenerated keys never hit a stale
// cache entry.
func renderKey(parts ...any) string {
	canonical, err := json.Marshal(parts)
	if err != nil {
		// Inputs are strings and ints; marshal cannot fail in practice.
		canonical = []byte(fmt.Sprint(parts...))
	}
	h := xxh3.Hash128(canonical)
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], h.Lo)
	binary.LittleEndian.PutUint64(b[8:], h.Hi)
	return hex.EncodeToString(b[:])
}
