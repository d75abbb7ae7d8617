// Package transport tracks play state, tempo and musical position.
package transport

import (
	"math"

	"go-audionaut/errs"
)

// StepsPerBeat is the 16th-note resolution used by Step.
const StepsPerBeat = 4

// State of the transport
type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Clock is the transport. It is not safe for concurrent use; the sequencer
// goroutine owns it.
//
// Position is originBeat + elapsed*tempo/60. SetTempo folds the elapsed time
// into originBeat before switching tempo, so the position never jumps.
type Clock struct {
	state      State
	tempo      float64 // BPM
	elapsed    float64 // seconds since start or last tempo change
	sinceStart float64 // seconds since Start, reported by CurrentTime
	originBeat float64
	seekBeat   float64 // where Start resumes from
}

// New returns a stopped clock at beat 0.
func New(bpm float64) (*Clock, error) {
	if err := checkTempo(bpm); err != nil {
		return nil, err
	}
	return &Clock{tempo: bpm}, nil
}

func checkTempo(bpm float64) error {
	if bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		return errs.InvalidParameter("bpm", bpm)
	}
	return nil
}

// Start begins running from the last seek point. Starting a running clock
// does nothing.
func (c *Clock) Start() {
	if c.state == Running {
		return
	}
	c.state = Running
	c.elapsed = 0
	c.sinceStart = 0
	c.originBeat = c.seekBeat
}

// Stop halts the clock. CurrentTime reads 0 afterwards.
func (c *Clock) Stop() {
	if c.state == Stopped {
		return
	}
	c.state = Stopped
	c.elapsed = 0
	c.sinceStart = 0
	c.originBeat = c.seekBeat
}

// Seek moves the position to beat. Valid while stopped or running.
func (c *Clock) Seek(beat float64) {
	if beat < 0 || math.IsNaN(beat) {
		beat = 0
	}
	c.seekBeat = beat
	c.originBeat = beat
	c.elapsed = 0
}

// SetTempo changes the tempo keeping the beat position continuous.
func (c *Clock) SetTempo(bpm float64) error {
	if err := checkTempo(bpm); err != nil {
		return err
	}
	c.originBeat = c.Position()
	c.elapsed = 0
	c.tempo = bpm
	return nil
}

// Advance moves time forward by dt seconds. No-op while stopped.
func (c *Clock) Advance(dt float64) {
	if c.state != Running || dt <= 0 || math.IsNaN(dt) {
		return
	}
	c.elapsed += dt
	c.sinceStart += dt
}

// CurrentTime is the seconds since the transport started, 0 when stopped.
func (c *Clock) CurrentTime() float64 {
	if c.state != Running {
		return 0
	}
	return c.sinceStart
}

// Tempo returns the current BPM
func (c *Clock) Tempo() float64 { return c.tempo }

// IsPlaying reports whether the clock is running
func (c *Clock) IsPlaying() bool { return c.state == Running }

// State returns the transport state
func (c *Clock) State() State { return c.state }

// Position returns the musical position in beats
func (c *Clock) Position() float64 {
	return c.originBeat + c.elapsed*c.tempo/60
}

// Step returns the 16th-note step index of the current position
func (c *Clock) Step() int {
	return int(math.Floor(c.Position()*StepsPerBeat + 1e-9))
}

// SecondsPerStep returns the duration of one 16th-note step at the current tempo
func (c *Clock) SecondsPerStep() float64 {
	return 60 / c.tempo / StepsPerBeat
}
