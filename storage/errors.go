package storage

import "github.com/pkg/errors"

// ErrNotFound is returned by backends when attempting to get or delete a key
// that does not exist.
var ErrNotFound = errors.New("not found")
