package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"
)

const (
	DefaultSampleRate = 44100
	fadeSamples       = 64
)

// PCMSynth renders sine tones as signed 16-bit little-endian mono PCM.
// Writes are serialized, so overlapping notes are laid out one after the
// other on w.
type PCMSynth struct {
	mu         sync.Mutex
	w          io.Writer
	sampleRate int
}

func NewPCMSynth(w io.Writer, sampleRate int) (*PCMSynth, error) {
	if w == nil {
		return nil, errors.New("audio: writer must not be nil")
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &PCMSynth{w: w, sampleRate: sampleRate}, nil
}

// Samples returns how many samples a tone of duration d occupies.
func (s *PCMSynth) Samples(d time.Duration) int {
	return int(int64(s.sampleRate) * int64(d) / int64(time.Second))
}

func (s *PCMSynth) Tone(freq float64, d time.Duration, volume float64) error {
	if freq <= 0 {
		return fmt.Errorf("audio: invalid frequency %v", freq)
	}
	n := s.Samples(d)
	if n == 0 {
		return nil
	}
	amp := clamp(volume) * math.MaxInt16
	buf := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		v := amp * envelope(i, n) * math.Sin(2*math.Pi*freq*float64(i)/float64(s.sampleRate))
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(int16(math.Round(v))))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(buf); err != nil {
		return fmt.Errorf("audio: write tone: %w", err)
	}
	return nil
}

// envelope ramps the first and last samples linearly to avoid clicks.
func envelope(i, n int) float64 {
	ramp := fadeSamples
	if 2*ramp > n {
		ramp = n / 2
	}
	switch {
	case ramp == 0:
		return 1
	case i < ramp:
		return float64(i) / float64(ramp)
	case i >= n-ramp:
		return float64(n-1-i) / float64(ramp)
	default:
		return 1
	}
}
