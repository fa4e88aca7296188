package session

import "errors"

// Sentinel errors for session operations. These are part of the Store's
// public API and should be checked with errors.Is().
//
// Example:
//
//	sess, err := store.Get(ctx, id)
//	if errors.Is(err, session.ErrSessionNotFound) {
//	    // 404-class outcome, not an I/O failure
//	}
var (
	// ErrSessionNotFound indicates the requested session does not exist.
	// It is a valid, non-exceptional outcome; every other error returned by
	// the store is a storage failure.
	ErrSessionNotFound = errors.New("session not found")
)
