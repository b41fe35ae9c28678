package subscription

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sagernet/sing-box/include"
	"github.com/sagernet/sing-box/option"
	sJson "github.com/sagernet/sing/common/json"
)

// ValidateDescriptors runs every descriptor's outbound JSON through the
// sing-box option parser. A descriptor that fails here would be rejected by
// real clients, so validation failures are surfaced before the payload is
// ever served.
func ValidateDescriptors(descriptors []Descriptor) error {
	ctx := include.Context(context.Background())
	for _, d := range descriptors {
		raw, err := json.Marshal(d.outboundOptions())
		if err != nil {
			return fmt.Errorf("marshal outbound for node %s: %w", d.NodeID, err)
		}
		var ob option.Outbound
		if err := sJson.UnmarshalContext(ctx, raw, &ob); err != nil {
			return fmt.Errorf("invalid outbound for node %s: %w", d.NodeID, err)
		}
	}
	return nil
}
