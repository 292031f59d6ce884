package audioplayers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jyardin/audioplayers/pkg/audioplayers/util"
)

// ReleaseMode governs what happens to a player's native media element when
// playback pauses or stops.
type ReleaseMode int

const (
	// ReleaseModeRelease tears the media element down after every pause/stop.
	ReleaseModeRelease ReleaseMode = iota

	// ReleaseModeLoop keeps the media element alive and loops playback.
	ReleaseModeLoop

	// ReleaseModeStop keeps the media element alive without looping.
	ReleaseModeStop
)

func (rm ReleaseMode) String() string {
	switch rm {
	case ReleaseModeRelease:
		return "RELEASE"
	case ReleaseModeLoop:
		return "LOOP"
	case ReleaseModeStop:
		return "STOP"
	}

	return fmt.Sprintf("ReleaseMode(%d)", int(rm))
}

// ParseReleaseMode parses a release mode name as it arrives over the wire.
// Both bare constants ("LOOP") and dotted enum constants ("ReleaseMode.LOOP")
// are accepted, case-insensitively.
func ParseReleaseMode(value string) (ReleaseMode, error) {
	name := value
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}

	switch strings.ToUpper(name) {
	case "RELEASE":
		return ReleaseModeRelease, nil
	case "LOOP":
		return ReleaseModeLoop, nil
	case "STOP":
		return ReleaseModeStop, nil
	}

	return ReleaseModeRelease, fmt.Errorf("unknown release mode %q", value)
}

const (
	// playerCreationLogMessage is logged when a new player is created.
	playerCreationLogMessage = "Created player instance"

	// playerStringFormat is the format used when displaying player details.
	playerStringFormat = "<player %s: src=%q, vol: %.2f, mode: %s>"
)

// PlayerDefaults carries the initial state applied to newly created players.
type PlayerDefaults struct {
	Volume          float64
	ReleaseMode     ReleaseMode
	EventBufferSize int
}

// Player is the state machine for a single logical audio player. It owns at
// most one MediaElement at a time, bound to the currently loaded source.
// All state survives teardown of the media element; in particular a player
// can be "playing" with no element present (it is lazily recreated on the
// next start).
type Player struct {
	id      string
	logger  *zap.SugaredLogger
	factory MediaFactory

	lock         sync.Mutex
	sourceURL    string
	volume       float64
	releaseMode  ReleaseMode
	playing      bool
	pausedAt     float64
	media        MediaElement
	mediaCancels []func()

	// Consumer channels outlive any single media element; the media-side
	// wiring is reinstalled every time an element is created.
	consumersLock     sync.Mutex
	positionConsumers []chan float64
	errorConsumers    []chan string
	eventBufferSize   int
}

func newPlayer(id string, logger *zap.SugaredLogger, factory MediaFactory, defaults PlayerDefaults) *Player {
	logger = logger.Named(fmt.Sprintf("player.%s", id))

	p := &Player{
		id:              id,
		logger:          logger,
		factory:         factory,
		volume:          util.ClampScalar(defaults.Volume),
		releaseMode:     defaults.ReleaseMode,
		eventBufferSize: defaults.EventBufferSize,
	}

	logger.Debug(playerCreationLogMessage)

	return p
}

// ID returns the immutable identifier this player was created with.
func (p *Player) ID() string {
	return p.id
}

// Source returns the currently loaded source URL, or "" if nothing is loaded.
func (p *Player) Source() string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.sourceURL
}

// Volume returns the current volume in [0.0, 1.0].
func (p *Player) Volume() float64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.volume
}

// ReleaseMode returns the current release mode.
func (p *Player) ReleaseMode() ReleaseMode {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.releaseMode
}

// IsPlaying reports whether the player should currently be playing. This is
// intent, not hardware state: it can be true while no media element exists.
func (p *Player) IsPlaying() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.playing
}

// SetSource loads a new source URL. Loading the URL that is already loaded
// is a no-op. Otherwise current playback stops, the old media element is
// discarded, and a fresh one is bound to the new URL with the player's
// volume and loop policy applied. If the player was playing, playback
// resumes from offset zero so the caller's playing intent survives the swap.
func (p *Player) SetSource(url string) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if url == p.sourceURL {
		p.logger.Debugw("Source unchanged, skipping reload", "url", url)
		return nil
	}

	wasPlaying := p.playing

	p.pausedAt = 0
	p.sharedTeardownLocked()
	p.discardMediaLocked()

	p.sourceURL = url

	if err := p.createMediaLocked(); err != nil {
		return err
	}

	if wasPlaying {
		return p.startLocked(0)
	}

	return nil
}

// Prepare blocks until the media element signals it has buffered enough to
// play through, or fails with a PlaybackInitError if the element signals an
// error first. Exactly one of the two native signals settles the call; both
// subscriptions are cancelled on every exit path so repeated source changes
// never leak observers. With no media element present, Prepare resolves
// immediately (nothing to buffer).
func (p *Player) Prepare(ctx context.Context) error {
	p.lock.Lock()
	media := p.media
	p.lock.Unlock()

	if media == nil {
		return nil
	}

	ready := make(chan struct{}, 1)
	failed := make(chan string, 1)

	cancelReady := media.OnCanPlayThrough(func() {
		select {
		case ready <- struct{}{}:
		default:
		}
	})
	defer cancelReady()

	cancelError := media.OnError(func(detail string) {
		select {
		case failed <- detail:
		default:
		}
	})
	defer cancelError()

	select {
	case <-ready:
		p.logger.Debugw("Media element ready", "url", p.Source())
		return nil
	case detail := <-failed:
		p.logger.Warnw("Media element failed before becoming ready", "detail", detail)
		return &PlaybackInitError{Detail: detail}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetVolume stores the given volume (clamped to [0.0, 1.0]) and applies it
// to the media element if one is present. The stored value is applied to
// any element created later.
func (p *Player) SetVolume(v float64) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.volume = util.ClampScalar(v)

	if p.media != nil {
		p.media.SetVolume(p.volume)
	}
}

// CurrentPosition returns the media element's playback offset in seconds.
// With no element present it returns the neutral default of 0 so callers
// polling opportunistically never observe a failure.
func (p *Player) CurrentPosition() float64 {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.media == nil {
		return 0
	}

	return p.media.CurrentTime()
}

// Duration returns the media element's reported duration in seconds.
// Unknown durations (no element, or a NaN report) are exactly 0; the NaN
// sentinel never propagates outward.
func (p *Player) Duration() float64 {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.media == nil {
		return 0
	}

	return util.SanitizeScalar(p.media.Duration())
}

// Seek moves the playback offset of the media element, if one exists.
//
// The stored paused offset is only updated to the new position when it was
// previously zero. Downstream callers depend on this behavior; do not
// "fix" it.
func (p *Player) Seek(seconds float64) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.media != nil {
		p.media.SetCurrentTime(seconds)
	}

	if p.pausedAt == 0 {
		p.pausedAt = seconds
	}
}

// SetReleaseMode stores the release mode and immediately re-applies the
// implied loop flag to the media element if one exists.
func (p *Player) SetReleaseMode(mode ReleaseMode) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.releaseMode = mode

	if p.media != nil {
		p.media.SetLoop(mode == ReleaseModeLoop)
	}
}

// Start marks the player as playing and begins playback at the given offset
// in seconds. With no source loaded, the playing intent is recorded but
// nothing plays (a later SetSource honors it). A missing media element is
// recreated first.
func (p *Player) Start(atSeconds float64) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.startLocked(atSeconds)
}

// Resume starts playback from the offset recorded at pause time, or from
// the beginning if the player was never paused.
func (p *Player) Resume() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.startLocked(p.pausedAt)
}

// Pause records the current playback offset, then performs the shared
// teardown: playback halts, and in RELEASE mode the media element is
// discarded entirely. The recorded offset is what Resume continues from.
func (p *Player) Pause() {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.media != nil {
		p.pausedAt = p.media.CurrentTime()
	}

	p.sharedTeardownLocked()
}

// Stop resets the paused offset to zero, then performs the shared teardown.
func (p *Player) Stop() {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.pausedAt = 0
	p.sharedTeardownLocked()
}

// Release forces playback to stop and tears down the media element
// regardless of release mode. The player itself stays registered and
// reusable; a subsequent SetSource or Start recreates an element.
func (p *Player) Release() {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.pausedAt = 0
	p.sharedTeardownLocked()
	p.discardMediaLocked()
}

// SubscribeToPositionUpdates returns a channel carrying playback offsets in
// seconds, sourced from the media element's periodic time updates. The
// channel stays valid across media-element teardown and recreation. The
// stream is lossy: when the consumer falls behind, updates are dropped
// rather than blocking the media backend.
func (p *Player) SubscribeToPositionUpdates() chan float64 {
	ch := make(chan float64, p.eventBufferSize)

	p.consumersLock.Lock()
	p.positionConsumers = append(p.positionConsumers, ch)
	p.consumersLock.Unlock()

	return ch
}

// SubscribeToPlaybackErrors returns a channel carrying native error
// descriptions. Same lifetime and delivery rules as position updates.
func (p *Player) SubscribeToPlaybackErrors() chan string {
	ch := make(chan string, p.eventBufferSize)

	p.consumersLock.Lock()
	p.errorConsumers = append(p.errorConsumers, ch)
	p.consumersLock.Unlock()

	return ch
}

func (p *Player) String() string {
	p.lock.Lock()
	defer p.lock.Unlock()

	return fmt.Sprintf(playerStringFormat, p.id, p.sourceURL, p.volume, p.releaseMode)
}

// startLocked implements Start with p.lock held.
func (p *Player) startLocked(atSeconds float64) error {
	p.playing = true

	if p.sourceURL == "" {
		p.logger.Debug("No source loaded, playback deferred")
		return nil
	}

	if p.media == nil {
		if err := p.createMediaLocked(); err != nil {
			return err
		}
	}

	if err := p.media.Play(); err != nil {
		p.logger.Warnw("Failed to start playback", "error", err)
		return fmt.Errorf("start playback: %w", err)
	}

	p.media.SetCurrentTime(atSeconds)

	return nil
}

// sharedTeardownLocked is the common tail of Pause, Stop and Release:
// clears the playing flag, pauses the media element if present, and in
// RELEASE mode discards the element entirely so the next start recreates it.
func (p *Player) sharedTeardownLocked() {
	p.playing = false

	if p.media != nil {
		if err := p.media.Pause(); err != nil {
			p.logger.Warnw("Failed to pause media element", "error", err)
		}
	}

	if p.releaseMode == ReleaseModeRelease {
		p.discardMediaLocked()
	}
}

// createMediaLocked binds a fresh media element to the current source with
// the player's volume and loop policy applied, and wires its event streams
// into the player's consumer channels.
func (p *Player) createMediaLocked() error {
	media, err := p.factory(p.sourceURL)
	if err != nil {
		p.logger.Warnw("Failed to create media element", "url", p.sourceURL, "error", err)
		return fmt.Errorf("create media element for %q: %w", p.sourceURL, err)
	}

	media.SetVolume(p.volume)
	media.SetLoop(p.releaseMode == ReleaseModeLoop)

	cancelTime := media.OnTimeUpdate(p.broadcastPosition)
	cancelError := media.OnError(p.broadcastError)

	p.media = media
	p.mediaCancels = []func(){cancelTime, cancelError}

	p.logger.Debugw("Created media element", "url", p.sourceURL)

	return nil
}

// discardMediaLocked cancels the event wiring and closes the media element,
// if one exists. Player state (source, volume, paused offset) is untouched.
func (p *Player) discardMediaLocked() {
	if p.media == nil {
		return
	}

	for _, cancel := range p.mediaCancels {
		cancel()
	}
	p.mediaCancels = nil

	if err := p.media.Close(); err != nil {
		p.logger.Warnw("Failed to close media element", "error", err)
	}

	p.media = nil
	p.logger.Debug("Discarded media element")
}

func (p *Player) broadcastPosition(seconds float64) {
	p.consumersLock.Lock()
	defer p.consumersLock.Unlock()

	for _, ch := range p.positionConsumers {
		select {
		case ch <- seconds:
		default:
		}
	}
}

func (p *Player) broadcastError(detail string) {
	p.consumersLock.Lock()
	defer p.consumersLock.Unlock()

	for _, ch := range p.errorConsumers {
		select {
		case ch <- detail:
		default:
		}
	}
}
