package rack

import (
	"math"

	"go-audionaut/project"
)

const maxSynthVoices = 16

type synthVoice struct {
	note     int
	velocity float64
	start    float64
	release  float64 // +Inf while held
	phase    float64
	lp       float64 // one-pole lowpass state
}

// Synth is a polyphonic oscillator with an ADSR envelope per voice
type Synth struct {
	patch    project.Patch
	voices   []*synthVoice
	recorder *Recorder
}

// NewSynth returns a synth playing patch
func NewSynth(patch project.Patch) *Synth {
	return &Synth{patch: patch.Normalize(), recorder: NewRecorder(512)}
}

func (s *Synth) Kind() Kind { return KindSynth }

func (s *Synth) Recorder() RecorderSupport { return WithRecorder{s.recorder} }

func (s *Synth) LoadPatch(p project.Patch) error {
	s.patch = p.Normalize()
	return nil
}

func (s *Synth) SerializePatch() project.Patch { return s.patch }

func (s *Synth) TriggerAttack(note int, velocity, at float64) {
	if len(s.voices) >= maxSynthVoices {
		// steal the oldest
		s.voices = s.voices[1:]
	}
	s.voices = append(s.voices, &synthVoice{note: note, velocity: velocity, start: at, release: math.Inf(1)})
	s.recorder.NoteOn(note, velocity, at)
}

// TriggerRelease releases the most recent held voice of note that started
// before at
func (s *Synth) TriggerRelease(note int, at float64) {
	for i := len(s.voices) - 1; i >= 0; i-- {
		v := s.voices[i]
		if v.note == note && math.IsInf(v.release, 1) && v.start <= at {
			v.release = at
			s.recorder.NoteOff(note, at)
			return
		}
	}
}

func (s *Synth) CancelAfter(t float64) {
	kept := s.voices[:0]
	for _, v := range s.voices {
		if v.start >= t {
			continue
		}
		if v.release > t {
			v.release = t
		}
		kept = append(kept, v)
	}
	clear(s.voices[len(kept):])
	s.voices = kept
}

func (s *Synth) Dispose() {
	s.voices = nil
	s.recorder.Clear()
}

// envelope returns the ADSR level of v at time t
func (s *Synth) envelope(v *synthVoice, t float64) float64 {
	if t < v.start {
		return 0
	}
	if t >= v.release {
		held := s.held(v.release - v.start)
		if s.patch.Release <= 0 {
			return 0
		}
		return held * math.Max(0, 1-(t-v.release)/s.patch.Release)
	}
	return s.held(t - v.start)
}

// held is the attack/decay/sustain level dt seconds after the attack
func (s *Synth) held(dt float64) float64 {
	p := s.patch
	if dt < p.Attack {
		return dt / p.Attack
	}
	dt -= p.Attack
	if dt < p.Decay {
		return 1 - (1-p.Sustain)*dt/p.Decay
	}
	return p.Sustain
}

func (s *Synth) finished(v *synthVoice, t float64) bool {
	return t >= v.release+s.patch.Release
}

func (s *Synth) Render(out []float32, at float64, sampleRate int) {
	if len(s.voices) == 0 {
		return
	}
	frames := len(out) / 2
	dt := 1 / float64(sampleRate)
	var alpha float64
	if s.patch.Cutoff > 0 {
		rc := 1 / (2 * math.Pi * s.patch.Cutoff)
		alpha = dt / (rc + dt)
	}
	end := at + float64(frames)*dt

	for _, v := range s.voices {
		if v.start >= end {
			continue
		}
		inc := midiToFreq(v.note, s.patch.Detune) * dt
		for i := 0; i < frames; i++ {
			t := at + float64(i)*dt
			env := s.envelope(v, t)
			if env == 0 && t < v.start {
				continue
			}
			x := oscillator(s.patch.Waveform, v.phase)
			v.phase += inc
			v.phase -= math.Floor(v.phase)
			if alpha > 0 {
				v.lp += alpha * (x - v.lp)
				x = v.lp
			}
			y := float32(x * env * v.velocity * s.patch.Gain)
			out[2*i] += y
			out[2*i+1] += y
		}
	}

	kept := s.voices[:0]
	for _, v := range s.voices {
		if !s.finished(v, end) {
			kept = append(kept, v)
		}
	}
	clear(s.voices[len(kept):])
	s.voices = kept
}

// oscillator evaluates one cycle of w at phase 0..1
func oscillator(w project.Waveform, phase float64) float64 {
	switch w {
	case project.WaveSine:
		return math.Sin(2 * math.Pi * phase)
	case project.WaveSquare:
		if phase < 0.5 {
			return 1
		}
		return -1
	case project.WaveTriangle:
		return 1 - 4*math.Abs(phase-0.5)
	default:
		return 2*phase - 1
	}
}

func pow2(x float64) float64 { return math.Exp2(x) }
