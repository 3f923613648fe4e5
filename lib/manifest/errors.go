package manifest

import "errors"

// ErrUnknown reports a body that matches none of the supported manifest
// shapes.
var ErrUnknown = errors.New("unknown manifest variant")
