package audioplayers

import "fmt"

// PlaybackInitError indicates the native media element signaled an error
// before it became ready to play. Detail carries the element's own
// description of the failure.
type PlaybackInitError struct {
	Detail string
}

func (e *PlaybackInitError) Error() string {
	return fmt.Sprintf("playback init failed: %s", e.Detail)
}

// PlayerInitError wraps any failure encountered while loading and preparing
// a player, identifying which player it was.
type PlayerInitError struct {
	PlayerID string
	Err      error
}

func (e *PlayerInitError) Error() string {
	return fmt.Sprintf("init player %q: %v", e.PlayerID, e.Err)
}

func (e *PlayerInitError) Unwrap() error {
	return e.Err
}

// UnsupportedOperationError indicates an inbound command name that the
// dispatcher does not recognize. Unknown commands never silently succeed.
type UnsupportedOperationError struct {
	Command string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("unsupported operation %q", e.Command)
}
