package snapshot

import "errors"

// ErrHashMismatch indicates a record whose content does not match its hash.
var ErrHashMismatch = errors.New("snapshot: content hash mismatch")
