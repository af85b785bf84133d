// Package audio plays short feedback tones for chat events. Preferences
// (enabled flag and volume) persist in a small bbolt file so they survive
// restarts of the terminal client.
package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	"assistant-hub/internal/clock"
)

const (
	DefaultVolume = 0.5

	keyEnabled = "enabled"
	keyVolume  = "volume"
)

var bucketPrefs = []byte("audio_prefs")

// Synth renders a single tone. volume is in [0, 1].
type Synth interface {
	Tone(freq float64, d time.Duration, volume float64) error
}

// Note is one tone of a cue, started offset after the cue begins.
type Note struct {
	Freq     float64
	Duration time.Duration
	Offset   time.Duration
}

// Cues played by the Player.
var (
	CueMessageSent     = []Note{{Freq: 880, Duration: 80 * time.Millisecond}}
	CueMessageReceived = []Note{
		{Freq: 660, Duration: 100 * time.Millisecond},
		{Freq: 880, Duration: 120 * time.Millisecond, Offset: 110 * time.Millisecond},
	}
	CueTaskCompleted = []Note{
		{Freq: 523.25, Duration: 120 * time.Millisecond},
		{Freq: 659.25, Duration: 120 * time.Millisecond, Offset: 130 * time.Millisecond},
		{Freq: 783.99, Duration: 200 * time.Millisecond, Offset: 260 * time.Millisecond},
	}
	CueError = []Note{
		{Freq: 220, Duration: 200 * time.Millisecond},
		{Freq: 180, Duration: 250 * time.Millisecond, Offset: 220 * time.Millisecond},
	}
)

// Player schedules cues on a Synth. Play methods never block and never
// fail; synthesis errors are logged.
type Player struct {
	db    *bolt.DB
	synth Synth
	clock clock.Clock
	log   *slog.Logger

	closed atomic.Bool

	mu      sync.Mutex
	enabled bool
	volume  float64
}

// Open loads preferences from the bbolt file at path, creating it when
// missing. c and log may be nil.
func Open(path string, synth Synth, c clock.Clock, log *slog.Logger) (*Player, error) {
	if synth == nil {
		return nil, errors.New("audio: synth must not be nil")
	}
	if c == nil {
		c = clock.Real()
	}
	if log == nil {
		log = slog.Default()
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("audio: open prefs: %w", err)
	}
	p := &Player{db: db, synth: synth, clock: c, log: log, enabled: true, volume: DefaultVolume}
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketPrefs)
		if err != nil {
			return err
		}
		if v := b.Get([]byte(keyEnabled)); v != nil {
			if p.enabled, err = strconv.ParseBool(string(v)); err != nil {
				return fmt.Errorf("decode %s: %w", keyEnabled, err)
			}
		}
		if v := b.Get([]byte(keyVolume)); v != nil {
			vol, err := strconv.ParseFloat(string(v), 64)
			if err != nil {
				return fmt.Errorf("decode %s: %w", keyVolume, err)
			}
			p.volume = clamp(vol)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audio: load prefs: %w", err)
	}
	return p, nil
}

func (p *Player) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// SetEnabled toggles playback and persists the choice.
func (p *Player) SetEnabled(on bool) error {
	if err := p.put(keyEnabled, strconv.FormatBool(on)); err != nil {
		return err
	}
	p.mu.Lock()
	p.enabled = on
	p.mu.Unlock()
	return nil
}

// SetVolume stores v clamped to [0, 1].
func (p *Player) SetVolume(v float64) error {
	v = clamp(v)
	if err := p.put(keyVolume, strconv.FormatFloat(v, 'f', -1, 64)); err != nil {
		return err
	}
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
	return nil
}

func (p *Player) put(key, value string) error {
	err := p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPrefs).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("audio: save %s: %w", key, err)
	}
	return nil
}

func (p *Player) MessageSent()     { p.Play(CueMessageSent) }
func (p *Player) MessageReceived() { p.Play(CueMessageReceived) }
func (p *Player) TaskCompleted()   { p.Play(CueTaskCompleted) }
func (p *Player) Error()           { p.Play(CueError) }

// Play schedules every note of cue. It is a no-op when disabled or closed.
// Notes still pending at Close are dropped when they come due.
func (p *Player) Play(cue []Note) {
	if p.closed.Load() {
		return
	}
	p.mu.Lock()
	on, vol := p.enabled, p.volume
	p.mu.Unlock()
	if !on {
		return
	}
	for _, n := range cue {
		n := n
		p.clock.AfterFunc(n.Offset, func() {
			if p.closed.Load() {
				return
			}
			if err := p.synth.Tone(n.Freq, n.Duration, vol); err != nil {
				p.log.Warn("tone synthesis failed", "freq", n.Freq, "err", err)
			}
		})
	}
}

// Close closes the preferences file and silences pending notes.
func (p *Player) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.db.Close()
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
