package subscription

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Encoding selects the wire format of a subscription payload.
type Encoding string

const (
	EncodingJSON   Encoding = "json"
	EncodingURI    Encoding = "uri"
	EncodingBase64 Encoding = "base64"
)

// IsValid reports whether the encoding is one of the known values.
func (e Encoding) IsValid() bool {
	switch e {
	case EncodingJSON, EncodingURI, EncodingBase64:
		return true
	}
	return false
}

// Encode renders descriptors in the requested format. Descriptor order is
// preserved in every encoding.
func Encode(descriptors []Descriptor, encoding Encoding) ([]byte, string, error) {
	return EncodeWithMeta(descriptors, nil, encoding)
}

// EncodeWithMeta renders descriptors with optional plan metadata. The JSON
// encoding embeds the metadata in the document; the line-oriented encodings
// cannot carry it, so callers surface it through response headers instead.
func EncodeWithMeta(descriptors []Descriptor, meta *PlanMetadata, encoding Encoding) ([]byte, string, error) {
	switch encoding {
	case EncodingJSON:
		payload, err := encodeJSON(descriptors, meta)
		return payload, "application/json", err
	case EncodingURI:
		return []byte(encodeURILines(descriptors)), "text/plain; charset=utf-8", nil
	case EncodingBase64:
		lines := encodeURILines(descriptors)
		return []byte(base64.StdEncoding.EncodeToString([]byte(lines))), "text/plain; charset=utf-8", nil
	}
	return nil, "", fmt.Errorf("subscription: unknown encoding %q", encoding)
}

// encodeJSON emits a sing-box style document with one vless outbound per
// descriptor.
func encodeJSON(descriptors []Descriptor, meta *PlanMetadata) ([]byte, error) {
	outbounds := make([]any, 0, len(descriptors))
	for _, d := range descriptors {
		outbounds = append(outbounds, d.outboundOptions())
	}
	doc := map[string]any{"outbounds": outbounds}
	if meta != nil {
		doc["metadata"] = meta
	}
	return json.Marshal(doc)
}

func encodeURILines(descriptors []Descriptor) string {
	lines := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		lines = append(lines, d.URI())
	}
	return strings.Join(lines, "\n")
}
