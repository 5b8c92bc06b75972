package store

import "errors"

// ErrNotFound is returned by Load when no session is stored
var ErrNotFound = errors.New("session not found")
