package session

import "errors"

// Session and registry errors.
var (
	// ErrAlreadyRunning rejects a second Start for a key with a live
	// driver. Recoverable: reuse the existing session or stop it first.
	ErrAlreadyRunning = errors.New("search already running for this key")

	// ErrNotRunning rejects Pause on a session that is not driving.
	ErrNotRunning = errors.New("session is not running")

	// ErrNotPaused rejects Resume on a session that is not paused.
	ErrNotPaused = errors.New("session is not paused")

	// ErrEngine wraps a batch execution failure. The session stops; the
	// last good checkpoint remains valid for a later Start.
	ErrEngine = errors.New("engine batch execution failed")

	// ErrStore wraps a result store write failure during the batch loop.
	ErrStore = errors.New("result store write failed")
)
