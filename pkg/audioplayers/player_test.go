package audioplayers

import (
	"context"
	"errors"
	"testing"
	"time"
)

func (p *Player) pausedOffset() float64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.pausedAt
}

func (p *Player) hasMedia() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.media != nil
}

func TestSetSourceIdempotent(t *testing.T) {
	factory := newFakeMediaFactory()
	p := newTestPlayer(factory)
	p.SetReleaseMode(ReleaseModeStop)

	if err := p.SetSource("song.mp3"); err != nil {
		t.Fatalf("SetSource failed: %v", err)
	}
	if factory.count() != 1 {
		t.Fatalf("expected 1 media element, got %d", factory.count())
	}

	factory.last().currentTime = 4.2
	p.Pause()
	if got := p.pausedOffset(); got != 4.2 {
		t.Fatalf("expected paused offset 4.2, got %v", got)
	}

	// same URL again: no teardown, no recreation, offset preserved
	if err := p.SetSource("song.mp3"); err != nil {
		t.Fatalf("SetSource failed: %v", err)
	}
	if factory.count() != 1 {
		t.Fatalf("expected no new media element, got %d total", factory.count())
	}
	if factory.last().isClosed() {
		t.Fatal("media element should not have been closed")
	}
	if got := p.pausedOffset(); got != 4.2 {
		t.Fatalf("paused offset not preserved: got %v", got)
	}
}

func TestSetSourceSwapPreservesPlayingIntent(t *testing.T) {
	factory := newFakeMediaFactory()
	p := newTestPlayer(factory)

	if err := p.SetSource("a.mp3"); err != nil {
		t.Fatalf("SetSource failed: %v", err)
	}
	if err := p.Start(0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	first := factory.last()

	if err := p.SetSource("b.mp3"); err != nil {
		t.Fatalf("SetSource failed: %v", err)
	}

	if !first.isClosed() {
		t.Fatal("previous media element should be discarded on source change")
	}
	if factory.count() != 2 {
		t.Fatalf("expected a fresh media element, got %d total", factory.count())
	}

	second := factory.last()
	if !p.IsPlaying() {
		t.Fatal("playing intent should survive the source swap")
	}
	if second.playCalls == 0 {
		t.Fatal("playback should have resumed on the new element")
	}
	if second.CurrentTime() != 0 {
		t.Fatalf("playback should resume from offset 0, got %v", second.CurrentTime())
	}
	if got := p.pausedOffset(); got != 0 {
		t.Fatalf("changing source should reset the paused offset, got %v", got)
	}
}

func TestSetSourceFactoryFailure(t *testing.T) {
	factory := newFakeMediaFactory()
	factory.failWith = errors.New("decode failed")
	p := newTestPlayer(factory)

	if err := p.SetSource("broken.mp3"); err == nil {
		t.Fatal("expected SetSource to propagate the factory failure")
	}
	if p.hasMedia() {
		t.Fatal("no media element should exist after a factory failure")
	}
	if p.Source() != "broken.mp3" {
		t.Fatalf("source should be recorded despite the failure, got %q", p.Source())
	}
}

func TestStartWithoutSourceIsDeferred(t *testing.T) {
	factory := newFakeMediaFactory()
	p := newTestPlayer(factory)

	if err := p.Start(0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !p.IsPlaying() {
		t.Fatal("playing intent should be recorded")
	}
	if factory.count() != 0 {
		t.Fatal("no media element should be created without a source")
	}

	// loading a source afterwards honors the recorded intent
	if err := p.SetSource("late.mp3"); err != nil {
		t.Fatalf("SetSource failed: %v", err)
	}
	if factory.last().playCalls == 0 {
		t.Fatal("playback should begin once a source arrives")
	}
}

func TestReleaseModeReleaseTearsDownOnPause(t *testing.T) {
	factory := newFakeMediaFactory()
	p := newTestPlayer(factory)

	if err := p.SetSource("song.mp3"); err != nil {
		t.Fatalf("SetSource failed: %v", err)
	}
	if err := p.Start(0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	first := factory.last()
	first.currentTime = 7.5

	p.Pause()

	if !first.isClosed() {
		t.Fatal("RELEASE mode should discard the media element on pause")
	}
	if p.hasMedia() {
		t.Fatal("player should hold no media element after pause in RELEASE mode")
	}
	if got := p.pausedOffset(); got != 7.5 {
		t.Fatalf("expected paused offset 7.5, got %v", got)
	}

	if err := p.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	if factory.count() != 2 {
		t.Fatalf("Resume should recreate the media element, got %d total", factory.count())
	}
	second := factory.last()
	if second.playCalls == 0 {
		t.Fatal("Resume should start playback")
	}
	if second.CurrentTime() != 7.5 {
		t.Fatalf("Resume should continue from the pause offset, got %v", second.CurrentTime())
	}
}

func TestReleaseModeLoopKeepsHandleAndLoops(t *testing.T) {
	factory := newFakeMediaFactory()
	p := newTestPlayer(factory)
	p.SetReleaseMode(ReleaseModeLoop)

	if err := p.SetSource("song.mp3"); err != nil {
		t.Fatalf("SetSource failed: %v", err)
	}

	element := factory.last()
	if !element.loopFlag() {
		t.Fatal("loop flag should be applied to a freshly created element")
	}

	if err := p.Start(0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	p.Pause()

	if element.isClosed() {
		t.Fatal("LOOP mode should keep the media element across pause")
	}
	if !p.hasMedia() {
		t.Fatal("player should still hold its media element")
	}
}

func TestSetReleaseModeReappliesLoopFlag(t *testing.T) {
	factory := newFakeMediaFactory()
	p := newTestPlayer(factory)

	if err := p.SetSource("song.mp3"); err != nil {
		t.Fatalf("SetSource failed: %v", err)
	}

	element := factory.last()
	p.SetReleaseMode(ReleaseModeLoop)
	if !element.loopFlag() {
		t.Fatal("switching to LOOP should set the element's loop flag")
	}

	p.SetReleaseMode(ReleaseModeStop)
	if element.loopFlag() {
		t.Fatal("switching away from LOOP should clear the element's loop flag")
	}
}

func TestDurationSanitizesNaN(t *testing.T) {
	factory := newFakeMediaFactory()
	p := newTestPlayer(factory)

	if got := p.Duration(); got != 0 {
		t.Fatalf("duration without media should be 0, got %v", got)
	}

	if err := p.SetSource("song.mp3"); err != nil {
		t.Fatalf("SetSource failed: %v", err)
	}

	// fake reports NaN until a duration is set
	if got := p.Duration(); got != 0 {
		t.Fatalf("NaN duration should surface as 0, got %v", got)
	}

	factory.last().duration = 12.5
	if got := p.Duration(); got != 12.5 {
		t.Fatalf("expected duration 12.5, got %v", got)
	}
}

func TestCurrentPositionWithoutMediaIsZero(t *testing.T) {
	p := newTestPlayer(newFakeMediaFactory())

	if got := p.CurrentPosition(); got != 0 {
		t.Fatalf("position without media should be 0, got %v", got)
	}
}

func TestSeekQuirkOnlyUpdatesZeroPausedOffset(t *testing.T) {
	factory := newFakeMediaFactory()
	p := newTestPlayer(factory)
	p.SetReleaseMode(ReleaseModeStop)

	if err := p.SetSource("song.mp3"); err != nil {
		t.Fatalf("SetSource failed: %v", err)
	}

	p.Seek(3)
	if got := p.pausedOffset(); got != 3 {
		t.Fatalf("seek from a zero offset should record it, got %v", got)
	}

	p.Seek(5)
	if got := p.pausedOffset(); got != 3 {
		t.Fatalf("seek from a non-zero offset must not update it, got %v", got)
	}
	if got := factory.last().CurrentTime(); got != 5 {
		t.Fatalf("element should still be seeked, got %v", got)
	}
}

func TestSetVolumeClampsAndApplies(t *testing.T) {
	factory := newFakeMediaFactory()
	p := newTestPlayer(factory)

	p.SetVolume(1.5)
	if got := p.Volume(); got != 1.0 {
		t.Fatalf("volume should clamp to 1.0, got %v", got)
	}

	p.SetVolume(-0.2)
	if got := p.Volume(); got != 0.0 {
		t.Fatalf("volume should clamp to 0.0, got %v", got)
	}

	p.SetVolume(0.3)
	if err := p.SetSource("song.mp3"); err != nil {
		t.Fatalf("SetSource failed: %v", err)
	}
	if got := factory.last().currentVolume(); got != 0.3 {
		t.Fatalf("stored volume should apply to a new element, got %v", got)
	}

	p.SetVolume(0.8)
	if got := factory.last().currentVolume(); got != 0.8 {
		t.Fatalf("volume should apply to a live element, got %v", got)
	}
}

func TestStopResetsPausedOffset(t *testing.T) {
	factory := newFakeMediaFactory()
	p := newTestPlayer(factory)
	p.SetReleaseMode(ReleaseModeStop)

	if err := p.SetSource("song.mp3"); err != nil {
		t.Fatalf("SetSource failed: %v", err)
	}
	factory.last().currentTime = 9
	p.Pause()
	if got := p.pausedOffset(); got != 9 {
		t.Fatalf("expected paused offset 9, got %v", got)
	}

	p.Stop()
	if got := p.pausedOffset(); got != 0 {
		t.Fatalf("stop should reset the paused offset, got %v", got)
	}
	if p.IsPlaying() {
		t.Fatal("stop should clear the playing flag")
	}
}

func TestReleaseTearsDownRegardlessOfMode(t *testing.T) {
	factory := newFakeMediaFactory()
	p := newTestPlayer(factory)
	p.SetReleaseMode(ReleaseModeLoop)

	if err := p.SetSource("song.mp3"); err != nil {
		t.Fatalf("SetSource failed: %v", err)
	}
	if err := p.Start(0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	p.Release()

	if !factory.last().isClosed() {
		t.Fatal("release should close the media element even in LOOP mode")
	}
	if p.hasMedia() {
		t.Fatal("player should hold no media element after release")
	}
	if p.IsPlaying() {
		t.Fatal("release should clear the playing flag")
	}

	// the player stays reusable
	if err := p.Start(0); err != nil {
		t.Fatalf("Start after release failed: %v", err)
	}
	if factory.count() != 2 {
		t.Fatalf("start after release should recreate the element, got %d total", factory.count())
	}
}

func TestPrepareResolvesOnReady(t *testing.T) {
	factory := newFakeMediaFactory()
	factory.autoReady = false
	p := newTestPlayer(factory)

	if err := p.SetSource("song.mp3"); err != nil {
		t.Fatalf("SetSource failed: %v", err)
	}

	element := factory.last()
	baseline := element.observerCount()

	done := make(chan error, 1)
	go func() {
		done <- p.Prepare(context.Background())
	}()

	// give Prepare a moment to subscribe, then signal readiness
	waitFor(t, func() bool { return element.observerCount() == baseline+2 })
	element.fireCanPlayThrough()

	if err := <-done; err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	waitFor(t, func() bool { return element.observerCount() == baseline })
}

func TestPrepareFailsOnNativeError(t *testing.T) {
	factory := newFakeMediaFactory()
	factory.autoReady = false
	p := newTestPlayer(factory)

	if err := p.SetSource("song.mp3"); err != nil {
		t.Fatalf("SetSource failed: %v", err)
	}

	element := factory.last()
	baseline := element.observerCount()

	done := make(chan error, 1)
	go func() {
		done <- p.Prepare(context.Background())
	}()

	waitFor(t, func() bool { return element.observerCount() == baseline+2 })
	element.fireError("codec not supported")

	err := <-done
	var initErr *PlaybackInitError
	if !errors.As(err, &initErr) {
		t.Fatalf("expected PlaybackInitError, got %v", err)
	}
	if initErr.Detail != "codec not supported" {
		t.Fatalf("error detail not carried: %q", initErr.Detail)
	}

	waitFor(t, func() bool { return element.observerCount() == baseline })
}

func TestPrepareWithoutMediaResolvesImmediately(t *testing.T) {
	p := newTestPlayer(newFakeMediaFactory())

	if err := p.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare without media should resolve, got %v", err)
	}
}

func TestPrepareHonorsContext(t *testing.T) {
	factory := newFakeMediaFactory()
	factory.autoReady = false
	p := newTestPlayer(factory)

	if err := p.SetSource("song.mp3"); err != nil {
		t.Fatalf("SetSource failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Prepare(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPositionEventsSurviveHandleRecreation(t *testing.T) {
	factory := newFakeMediaFactory()
	p := newTestPlayer(factory)

	positions := p.SubscribeToPositionUpdates()

	if err := p.SetSource("song.mp3"); err != nil {
		t.Fatalf("SetSource failed: %v", err)
	}
	if err := p.Start(0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	factory.last().fireTimeUpdate(1.5)
	if got := <-positions; got != 1.5 {
		t.Fatalf("expected position 1.5, got %v", got)
	}

	// RELEASE-mode pause discards the element; the consumer channel must
	// keep delivering after the element is recreated
	p.Pause()
	if err := p.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	factory.last().fireTimeUpdate(2.25)
	if got := <-positions; got != 2.25 {
		t.Fatalf("expected position 2.25 after recreation, got %v", got)
	}
}

func TestErrorEventsReachConsumers(t *testing.T) {
	factory := newFakeMediaFactory()
	p := newTestPlayer(factory)

	playbackErrors := p.SubscribeToPlaybackErrors()

	if err := p.SetSource("song.mp3"); err != nil {
		t.Fatalf("SetSource failed: %v", err)
	}

	factory.last().fireError("network stall")
	if got := <-playbackErrors; got != "network stall" {
		t.Fatalf("expected error detail, got %q", got)
	}
}

func TestParseReleaseMode(t *testing.T) {
	cases := []struct {
		input string
		want  ReleaseMode
		ok    bool
	}{
		{"RELEASE", ReleaseModeRelease, true},
		{"loop", ReleaseModeLoop, true},
		{"ReleaseMode.STOP", ReleaseModeStop, true},
		{"ReleaseMode.Loop", ReleaseModeLoop, true},
		{"FOREVER", ReleaseModeRelease, false},
		{"", ReleaseModeRelease, false},
	}

	for _, c := range cases {
		got, err := ParseReleaseMode(c.input)
		if c.ok && err != nil {
			t.Errorf("ParseReleaseMode(%q) unexpected error: %v", c.input, err)
			continue
		}
		if !c.ok {
			if err == nil {
				t.Errorf("ParseReleaseMode(%q) expected error", c.input)
			}
			continue
		}
		if got != c.want {
			t.Errorf("ParseReleaseMode(%q) = %v, want %v", c.input, got, c.want)
		}
	}
}

func TestSecondsToMillisRounds(t *testing.T) {
	if got := secondsToMillis(1.2345); got != 1235 {
		t.Fatalf("expected 1235, got %d", got)
	}
	if got := secondsToMillis(0); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(time.Millisecond)
	}

	t.Fatal("condition not met in time")
}
