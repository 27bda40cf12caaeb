package persistence

import (
	"errors"
	"fmt"
)

// Backend names used in PersistenceError.
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// PersistenceError reports a local cache or remote store failure. It is always recoverable:
// the engine keeps its in-memory state and carries on.
type PersistenceError struct {
	Op      string // load, save, decode, validate, delete
	Backend string
	Key     string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %s %s: %v", e.Backend, e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistenceError reports whether err is or wraps a *PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
