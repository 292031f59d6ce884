package audioplayers

// MediaElement is the native playback primitive a player binds to one
// loaded source. Implementations are expected to report unknown durations
// as NaN and to deliver their notifications (time updates, readiness,
// errors) from at most one goroutine at a time.
//
// The three On* methods register observers and return a cancel function.
// Cancel functions are idempotent. If the element is already able to play
// through when OnCanPlayThrough is registered, the callback still fires
// (asynchronously) exactly once.
type MediaElement interface {
	// Play begins or resumes playback.
	Play() error

	// Pause halts playback, keeping the current position.
	Pause() error

	// SetCurrentTime moves the playback offset to the given position in seconds.
	SetCurrentTime(seconds float64)

	// CurrentTime returns the current playback offset in seconds.
	CurrentTime() float64

	// Duration returns the total duration in seconds, or NaN when unknown.
	Duration() float64

	// SetVolume adjusts the playback volume, normalized to [0.0, 1.0].
	SetVolume(v float64)

	// SetLoop toggles whether playback restarts from the beginning on completion.
	SetLoop(loop bool)

	// OnTimeUpdate registers an observer for periodic playback-offset notifications.
	OnTimeUpdate(fn func(seconds float64)) (cancel func())

	// OnCanPlayThrough registers an observer for the buffered-enough-to-play signal.
	OnCanPlayThrough(fn func()) (cancel func())

	// OnError registers an observer for native playback errors.
	OnError(fn func(detail string)) (cancel func())

	// Close releases the element's underlying resources. The element must
	// not be used afterwards.
	Close() error
}

// MediaFactory constructs a MediaElement bound to the given source URL.
// The player core only ever talks to this factory, so it can be tested
// against a fake implementation without a real media backend.
type MediaFactory func(url string) (MediaElement, error)
