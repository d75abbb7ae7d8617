package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
)

// Channels is the interleaved channel count the engine produces
const Channels = 2

// Renderer fills out (interleaved stereo) with audio starting at time at
type Renderer interface {
	Render(out []float32, at float64, sampleRate int)
}

// Engine pulls audio from a Renderer. It is an io.Reader of little-endian
// float32 stereo frames, and the number of frames it has produced is the
// audio clock.
type Engine struct {
	renderer   Renderer
	sampleRate int

	mu      sync.Mutex // serializes Read
	scratch []float32
	frames  atomic.Int64
}

// NewEngine returns an engine at sampleRate
func NewEngine(r Renderer, sampleRate int) *Engine {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	return &Engine{renderer: r, sampleRate: sampleRate}
}

// SampleRate returns the output rate
func (e *Engine) SampleRate() int { return e.sampleRate }

// Now implements Clock: seconds of audio produced so far
func (e *Engine) Now() float64 {
	return float64(e.frames.Load()) / float64(e.sampleRate)
}

// Frames returns the number of frames produced so far
func (e *Engine) Frames() int64 { return e.frames.Load() }

// Read renders len(p)/8 frames into p
func (e *Engine) Read(p []byte) (int, error) {
	const frameBytes = 4 * Channels
	n := len(p) / frameBytes
	if n == 0 {
		return 0, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if cap(e.scratch) < n*Channels {
		e.scratch = make([]float32, n*Channels)
	}
	buf := e.scratch[:n*Channels]
	clear(buf)
	if e.renderer != nil {
		e.renderer.Render(buf, e.Now(), e.sampleRate)
	}
	for i, v := range buf {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(v))
	}
	e.frames.Add(int64(n))
	return n * frameBytes, nil
}

// RenderFrames renders n frames and discards them, advancing the clock.
// Used by the paced fallback output and by offline tests.
func (e *Engine) RenderFrames(n int) []float32 {
	if n <= 0 {
		return nil
	}
	p := make([]byte, n*4*Channels)
	e.Read(p)
	out := make([]float32, n*Channels)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:]))
	}
	return out
}
