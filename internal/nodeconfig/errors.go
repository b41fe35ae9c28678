package nodeconfig

import "errors"

// ErrUnsupportedAuthMode means the node's configured relay auth mode is
// unknown or not covered by its advertised transport capabilities.
var ErrUnsupportedAuthMode = errors.New("nodeconfig: relay auth mode not supported by node")
