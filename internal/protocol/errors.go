package protocol

import "errors"

// ErrDecode marks a malformed payload received from a remote rank. It is
// surfaced to the caller of the synchronize or migration step that read it.
var ErrDecode = errors.New("protocol: decode error")
