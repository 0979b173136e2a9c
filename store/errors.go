package store

import "errors"

// ErrNotFound is returned by any adapter's point lookup when the key does
// not exist.
var ErrNotFound = errors.New("store: not found")
