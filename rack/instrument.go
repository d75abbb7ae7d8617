// Package rack owns the live instruments and insert-effect chains behind
// each channel and mixes them to the audio engine.
package rack

import (
	"go-audionaut/project"
)

// Kind names an instrument variant
type Kind string

const (
	KindSampler Kind = "sampler"
	KindSynth   Kind = "synth"
	KindMIDIOut Kind = "midi-out"
)

// Instrument is the capability set every instrument variant offers. Times
// are seconds on the audio clock; velocity is 0..1. Sampler ignores note.
type Instrument interface {
	Kind() Kind
	TriggerAttack(note int, velocity, at float64)
	TriggerRelease(note int, at float64)
	LoadPatch(project.Patch) error
	SerializePatch() project.Patch
	// Render adds interleaved stereo audio starting at time at into out
	Render(out []float32, at float64, sampleRate int)
	// CancelAfter drops notes starting at or after t and releases the rest at t
	CancelAfter(t float64)
	Recorder() RecorderSupport
	Dispose()
}

// RecorderSupport says whether an instrument buffers what it plays. It is
// either WithRecorder or NoRecorder.
type RecorderSupport interface {
	recorderSupport()
}

// WithRecorder is carried by instruments that have an onboard recorder
type WithRecorder struct {
	*Recorder
}

// NoRecorder is carried by instruments without one
type NoRecorder struct{}

func (WithRecorder) recorderSupport() {}
func (NoRecorder) recorderSupport()   {}

// ReduceDensity thins inst's recorder if it has one. ok is false when the
// instrument cannot record.
func ReduceDensity(inst Instrument, maxEvents int) (reduced, ok bool) {
	switch r := inst.Recorder().(type) {
	case WithRecorder:
		return r.ReduceDensity(maxEvents), true
	default:
		return false, false
	}
}

// midiToFreq converts a MIDI note plus detune in cents to Hz
func midiToFreq(note int, cents float64) float64 {
	return 440 * pow2((float64(note)-69)/12+cents/1200)
}
