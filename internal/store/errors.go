package store

import "errors"

// ErrNotFound is returned when a requested session does not exist.
var ErrNotFound = errors.New("store: not found")
