package audioplayers

import (
	"math"
	"sync"

	"go.uber.org/zap"
)

// fakeMediaElement is a controllable MediaElement used to test the player
// core without a real media backend.
type fakeMediaElement struct {
	url string

	mu          sync.Mutex
	playing     bool
	currentTime float64
	duration    float64
	volume      float64
	loop        bool
	closed      bool
	playCalls   int

	autoReady bool

	nextID         int
	timeObservers  map[int]func(float64)
	readyObservers map[int]func()
	errorObservers map[int]func(string)
}

func newFakeMediaElement(url string, autoReady bool) *fakeMediaElement {
	return &fakeMediaElement{
		url:            url,
		duration:       math.NaN(),
		volume:         1.0,
		autoReady:      autoReady,
		timeObservers:  make(map[int]func(float64)),
		readyObservers: make(map[int]func()),
		errorObservers: make(map[int]func(string)),
	}
}

func (f *fakeMediaElement) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = true
	f.playCalls++
	return nil
}

func (f *fakeMediaElement) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = false
	return nil
}

func (f *fakeMediaElement) SetCurrentTime(seconds float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentTime = seconds
}

func (f *fakeMediaElement) CurrentTime() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentTime
}

func (f *fakeMediaElement) Duration() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duration
}

func (f *fakeMediaElement) SetVolume(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = v
}

func (f *fakeMediaElement) SetLoop(loop bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loop = loop
}

func (f *fakeMediaElement) OnTimeUpdate(fn func(seconds float64)) (cancel func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	f.timeObservers[id] = fn

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.timeObservers, id)
	}
}

func (f *fakeMediaElement) OnCanPlayThrough(fn func()) (cancel func()) {
	f.mu.Lock()
	autoReady := f.autoReady
	id := f.nextID
	f.nextID++
	f.readyObservers[id] = fn
	f.mu.Unlock()

	if autoReady {
		fn()
	}

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.readyObservers, id)
	}
}

func (f *fakeMediaElement) OnError(fn func(detail string)) (cancel func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	f.errorObservers[id] = fn

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.errorObservers, id)
	}
}

func (f *fakeMediaElement) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.playing = false
	return nil
}

func (f *fakeMediaElement) fireCanPlayThrough() {
	f.mu.Lock()
	observers := make([]func(), 0, len(f.readyObservers))
	for _, fn := range f.readyObservers {
		observers = append(observers, fn)
	}
	f.mu.Unlock()

	for _, fn := range observers {
		fn()
	}
}

func (f *fakeMediaElement) fireError(detail string) {
	f.mu.Lock()
	observers := make([]func(string), 0, len(f.errorObservers))
	for _, fn := range f.errorObservers {
		observers = append(observers, fn)
	}
	f.mu.Unlock()

	for _, fn := range observers {
		fn(detail)
	}
}

func (f *fakeMediaElement) fireTimeUpdate(seconds float64) {
	f.mu.Lock()
	f.currentTime = seconds
	observers := make([]func(float64), 0, len(f.timeObservers))
	for _, fn := range f.timeObservers {
		observers = append(observers, fn)
	}
	f.mu.Unlock()

	for _, fn := range observers {
		fn(seconds)
	}
}

func (f *fakeMediaElement) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeMediaElement) loopFlag() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loop
}

func (f *fakeMediaElement) currentVolume() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume
}

func (f *fakeMediaElement) observerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timeObservers) + len(f.readyObservers) + len(f.errorObservers)
}

// fakeMediaFactory records every element it creates so tests can assert
// teardown/recreation behavior.
type fakeMediaFactory struct {
	mu        sync.Mutex
	created   []*fakeMediaElement
	autoReady bool
	failWith  error
}

func newFakeMediaFactory() *fakeMediaFactory {
	return &fakeMediaFactory{autoReady: true}
}

func (f *fakeMediaFactory) factory(url string) (MediaElement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWith != nil {
		return nil, f.failWith
	}

	element := newFakeMediaElement(url, f.autoReady)
	f.created = append(f.created, element)
	return element, nil
}

func (f *fakeMediaFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeMediaFactory) last() *fakeMediaElement {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

func testDefaults() PlayerDefaults {
	return PlayerDefaults{
		Volume:          1.0,
		ReleaseMode:     ReleaseModeRelease,
		EventBufferSize: 16,
	}
}

func newTestPlayer(factory *fakeMediaFactory) *Player {
	return newPlayer("test", zap.NewNop().Sugar(), factory.factory, testDefaults())
}

func newTestRegistry(factory *fakeMediaFactory) *Registry {
	return NewRegistry(zap.NewNop().Sugar(), factory.factory, testDefaults())
}
