// Package subscription builds client-facing connection payloads for the
// relay fleet in sing-box JSON, URI-line, and base64 encodings.
package subscription

import (
	"fmt"
	"net/url"
)

// Descriptor is the canonical connection record for one relay node. All
// three encodings are derived from the same descriptor slice, so the
// encodings always agree on content and order.
type Descriptor struct {
	NodeID     string `json:"node_id"`
	Name       string `json:"name"`
	Address    string `json:"address"`
	Port       int    `json:"port"`
	ClientUUID string `json:"client_uuid"`
	ServerName string `json:"server_name"`
	PublicKey  string `json:"public_key"`
	ShortID    string `json:"short_id"`
	Flow       string `json:"flow"`
}

// outboundOptions renders the descriptor as a sing-box vless outbound map.
// encoding/json sorts map keys, so marshaling is deterministic.
func (d Descriptor) outboundOptions() map[string]any {
	return map[string]any{
		"type":        "vless",
		"tag":         d.Name,
		"server":      d.Address,
		"server_port": d.Port,
		"uuid":        d.ClientUUID,
		"flow":        d.Flow,
		"tls": map[string]any{
			"enabled":     true,
			"server_name": d.ServerName,
			"utls": map[string]any{
				"enabled":     true,
				"fingerprint": "chrome",
			},
			"reality": map[string]any{
				"enabled":    true,
				"public_key": d.PublicKey,
				"short_id":   d.ShortID,
			},
		},
	}
}

// URI renders the descriptor as a vless:// share link. Query parameters are
// emitted in url.Values order (alphabetical), keeping the line deterministic.
func (d Descriptor) URI() string {
	q := url.Values{}
	q.Set("encryption", "none")
	q.Set("security", "reality")
	q.Set("sni", d.ServerName)
	q.Set("pbk", d.PublicKey)
	q.Set("sid", d.ShortID)
	q.Set("flow", d.Flow)
	q.Set("type", "tcp")
	return fmt.Sprintf("vless://%s@%s:%d?%s#%s",
		d.ClientUUID, d.Address, d.Port, q.Encode(), url.PathEscape(d.Name))
}
