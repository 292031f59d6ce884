package audioplayers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/flac"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/vorbis"
	"github.com/faiface/beep/wav"
	"go.uber.org/zap"
)

var (
	speakerOnce    sync.Once
	speakerInitErr error

	// Fixed speaker sample rate; inputs are resampled to it so the audio
	// device is initialized exactly once for the whole process.
	speakerSampleRate = beep.SampleRate(44100)
)

const resampleQuality = 4

func ensureSpeaker() error {
	speakerOnce.Do(func() {
		speakerInitErr = speaker.Init(speakerSampleRate, speakerSampleRate.N(time.Second/10))
	})
	return speakerInitErr
}

// NewBeepMediaFactory returns a MediaFactory producing speaker-backed media
// elements. Local paths and http(s) URLs are supported; remote sources are
// fetched fully before decoding. Elements produced by different factory
// calls share one speaker and mix freely.
func NewBeepMediaFactory(logger *zap.SugaredLogger, positionUpdateInterval time.Duration) MediaFactory {
	logger = logger.Named("media")

	return func(url string) (MediaElement, error) {
		return newBeepMediaElement(logger, url, positionUpdateInterval)
	}
}

type beepMediaElement struct {
	logger *zap.SugaredLogger
	url    string

	lock       sync.Mutex
	stream     beep.StreamSeekCloser
	sampleRate beep.SampleRate
	vol        *effects.Volume
	ctrl       *beep.Ctrl
	volume     float64
	started    bool
	playing    bool
	loop       bool
	closed     bool

	observersLock  sync.Mutex
	nextObserverID int
	timeObservers  map[int]func(float64)
	errorObservers map[int]func(string)

	stopTicker chan struct{}
}

func newBeepMediaElement(logger *zap.SugaredLogger, url string, tickInterval time.Duration) (*beepMediaElement, error) {
	source, err := openMediaSource(url)
	if err != nil {
		return nil, err
	}

	stream, format, err := decodeMediaSource(url, source)
	if err != nil {
		return nil, err
	}

	if err := ensureSpeaker(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("initialize speaker: %w", err)
	}

	m := &beepMediaElement{
		logger:         logger,
		url:            url,
		stream:         stream,
		sampleRate:     format.SampleRate,
		volume:         1.0,
		timeObservers:  make(map[int]func(float64)),
		errorObservers: make(map[int]func(string)),
		stopTicker:     make(chan struct{}),
	}

	resampled := beep.Resample(resampleQuality, m.sampleRate, speakerSampleRate, m.stream)
	m.vol = &effects.Volume{Streamer: resampled, Base: 10, Volume: m.volDB()}
	m.ctrl = &beep.Ctrl{Streamer: m.vol, Paused: true}

	go m.tickLoop(tickInterval)

	logger.Debugw("Decoded media source", "url", url, "sampleRate", m.sampleRate)

	return m, nil
}

// volDB maps the normalized volume [0..1] to dB/10 in [-4..0] (-40dB to 0dB).
func (m *beepMediaElement) volDB() float64 {
	v := m.volume
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return -4 + 4*v
}

func (m *beepMediaElement) Play() error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.closed {
		return errors.New("media element closed")
	}

	if !m.started {
		m.started = true
		speaker.Play(m.ctrl)
	}

	speaker.Lock()
	m.ctrl.Paused = false
	speaker.Unlock()

	m.playing = true
	return nil
}

func (m *beepMediaElement) Pause() error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.closed {
		return errors.New("media element closed")
	}

	speaker.Lock()
	m.ctrl.Paused = true
	speaker.Unlock()

	m.playing = false
	return nil
}

func (m *beepMediaElement) SetCurrentTime(seconds float64) {
	m.lock.Lock()

	if m.closed {
		m.lock.Unlock()
		return
	}

	err := m.seekLocked(seconds)
	m.lock.Unlock()

	if err != nil {
		m.emitError(fmt.Sprintf("seek to %.3fs: %v", seconds, err))
	}
}

func (m *beepMediaElement) CurrentTime() float64 {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.closed || m.sampleRate == 0 {
		return 0
	}

	speaker.Lock()
	pos := m.stream.Position()
	speaker.Unlock()

	return float64(pos) / float64(m.sampleRate)
}

func (m *beepMediaElement) Duration() float64 {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.closed || m.sampleRate == 0 {
		return math.NaN()
	}

	length := m.stream.Len()
	if length <= 0 {
		return math.NaN()
	}

	return float64(length) / float64(m.sampleRate)
}

func (m *beepMediaElement) SetVolume(v float64) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.volume = v

	if m.vol != nil {
		speaker.Lock()
		m.vol.Volume = m.volDB()
		m.vol.Silent = v <= 0
		speaker.Unlock()
	}
}

func (m *beepMediaElement) SetLoop(loop bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.loop = loop
}

func (m *beepMediaElement) OnTimeUpdate(fn func(seconds float64)) (cancel func()) {
	m.observersLock.Lock()
	defer m.observersLock.Unlock()

	id := m.nextObserverID
	m.nextObserverID++
	m.timeObservers[id] = fn

	return func() {
		m.observersLock.Lock()
		defer m.observersLock.Unlock()
		delete(m.timeObservers, id)
	}
}

// OnCanPlayThrough fires asynchronously right away: decoding happens in the
// factory, so a constructed element is already buffered end to end.
func (m *beepMediaElement) OnCanPlayThrough(fn func()) (cancel func()) {
	go fn()
	return func() {}
}

func (m *beepMediaElement) OnError(fn func(detail string)) (cancel func()) {
	m.observersLock.Lock()
	defer m.observersLock.Unlock()

	id := m.nextObserverID
	m.nextObserverID++
	m.errorObservers[id] = fn

	return func() {
		m.observersLock.Lock()
		defer m.observersLock.Unlock()
		delete(m.errorObservers, id)
	}
}

func (m *beepMediaElement) Close() error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.playing = false

	close(m.stopTicker)

	// Nil streamer drains immediately, so the mixer drops this entry on its
	// next pull instead of holding a paused streamer forever.
	speaker.Lock()
	m.ctrl.Paused = true
	m.ctrl.Streamer = nil
	speaker.Unlock()

	if err := m.stream.Close(); err != nil {
		return fmt.Errorf("close media stream for %q: %w", m.url, err)
	}

	return nil
}

// seekLocked moves the decoder and resets the resampler chain; decoders keep
// internal state that goes stale across a raw Seek (see the mp3 decoder's
// behavior at exact end-of-stream, hence the l-1 clamp).
func (m *beepMediaElement) seekLocked(seconds float64) error {
	target := int(float64(m.sampleRate) * seconds)
	if target < 0 {
		target = 0
	}

	length := m.stream.Len()
	if length > 0 && target >= length {
		target = length - 1
	}

	speaker.Lock()
	defer speaker.Unlock()

	if err := m.stream.Seek(target); err != nil {
		return err
	}

	resampled := beep.Resample(resampleQuality, m.sampleRate, speakerSampleRate, m.stream)
	m.vol = &effects.Volume{Streamer: resampled, Base: 10, Volume: m.volDB(), Silent: m.volume <= 0}
	m.ctrl.Streamer = m.vol

	return nil
}

func (m *beepMediaElement) tickLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopTicker:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *beepMediaElement) tick() {
	m.lock.Lock()

	if m.closed || !m.playing {
		m.lock.Unlock()
		return
	}

	if err := m.stream.Err(); err != nil {
		m.playing = false
		speaker.Lock()
		m.ctrl.Paused = true
		speaker.Unlock()
		m.lock.Unlock()

		m.logger.Warnw("Media stream error", "url", m.url, "error", err)
		m.emitError(err.Error())
		return
	}

	speaker.Lock()
	pos := m.stream.Position()
	speaker.Unlock()
	length := m.stream.Len()

	seconds := float64(pos) / float64(m.sampleRate)

	if length > 0 && pos >= length-1 {
		if m.loop {
			if err := m.seekLocked(0); err != nil {
				m.logger.Warnw("Failed to loop back to start", "url", m.url, "error", err)
			}
		} else {
			speaker.Lock()
			m.ctrl.Paused = true
			speaker.Unlock()
			m.playing = false
		}
	}

	m.lock.Unlock()
	m.emitTime(seconds)
}

func (m *beepMediaElement) emitTime(seconds float64) {
	m.observersLock.Lock()
	observers := make([]func(float64), 0, len(m.timeObservers))
	for _, fn := range m.timeObservers {
		observers = append(observers, fn)
	}
	m.observersLock.Unlock()

	for _, fn := range observers {
		fn(seconds)
	}
}

func (m *beepMediaElement) emitError(detail string) {
	m.observersLock.Lock()
	observers := make([]func(string), 0, len(m.errorObservers))
	for _, fn := range m.errorObservers {
		observers = append(observers, fn)
	}
	m.observersLock.Unlock()

	for _, fn := range observers {
		fn(detail)
	}
}

type readSeekCloser interface {
	io.Reader
	io.Seeker
	io.Closer
}

type memorySource struct {
	*bytes.Reader
}

func (memorySource) Close() error { return nil }

func openMediaSource(url string) (readSeekCloser, error) {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		resp, err := http.Get(url)
		if err != nil {
			return nil, fmt.Errorf("fetch %q: %w", url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch %q: unexpected status %s", url, resp.Status)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read body of %q: %w", url, err)
		}

		return memorySource{bytes.NewReader(data)}, nil
	}

	file, err := os.Open(strings.TrimPrefix(url, "file://"))
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", url, err)
	}

	return file, nil
}

func decodeMediaSource(url string, source readSeekCloser) (beep.StreamSeekCloser, beep.Format, error) {
	// strip any query string before sniffing the extension
	name := url
	if idx := strings.IndexByte(name, '?'); idx >= 0 {
		name = name[:idx]
	}

	var (
		stream beep.StreamSeekCloser
		format beep.Format
		err    error
	)

	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".mp3":
		stream, format, err = mp3.Decode(source)
	case ".wav":
		stream, format, err = wav.Decode(source)
	case ".flac":
		stream, format, err = flac.Decode(source)
	case ".ogg":
		stream, format, err = vorbis.Decode(source)
	default:
		_ = source.Close()
		return nil, beep.Format{}, fmt.Errorf("unsupported media format %q", ext)
	}

	if err != nil {
		_ = source.Close()
		return nil, beep.Format{}, fmt.Errorf("decode %q: %w", url, err)
	}

	return stream, format, nil
}
