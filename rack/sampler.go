package rack

import (
	"math"

	"go-audionaut/project"
	"go-audionaut/samples"
)

type samplerVoice struct {
	velocity float64
	start    float64
	stop     float64 // +Inf until cut or cancelled
	pos      float64 // frames into the source buffer
}

// Sampler plays a region of a decoded buffer per trigger
type Sampler struct {
	buf      *samples.Buffer
	settings project.SamplerSettings
	voices   []*samplerVoice
}

// NewSampler returns a sampler with no sample loaded
func NewSampler(settings project.SamplerSettings) *Sampler {
	return &Sampler{settings: settings.Normalize()}
}

func (s *Sampler) Kind() Kind { return KindSampler }

func (s *Sampler) Recorder() RecorderSupport { return NoRecorder{} }

// LoadPatch is a no-op: a sampler's sound is its sample and settings
func (s *Sampler) LoadPatch(project.Patch) error { return nil }

func (s *Sampler) SerializePatch() project.Patch { return project.Patch{} }

// SetBuffer swaps the sample. nil silences the sampler.
func (s *Sampler) SetBuffer(b *samples.Buffer) {
	s.buf = b
	s.voices = nil
}

// Loaded reports whether a sample is present
func (s *Sampler) Loaded() bool { return s.buf != nil && s.buf.Frames() > 0 }

// SetSettings applies new region, rate and fade settings to later triggers
func (s *Sampler) SetSettings(settings project.SamplerSettings) {
	s.settings = settings.Normalize()
}

func (s *Sampler) TriggerAttack(_ int, velocity, at float64) {
	if !s.Loaded() {
		return
	}
	if !s.settings.AllowOverlap {
		for _, v := range s.voices {
			if v.stop > at {
				v.stop = at
			}
		}
	}
	start := s.settings.RegionStart * float64(s.buf.Frames())
	s.voices = append(s.voices, &samplerVoice{velocity: velocity, start: at, stop: math.Inf(1), pos: start})
}

// TriggerRelease does nothing: samples play their region out
func (s *Sampler) TriggerRelease(int, float64) {}

func (s *Sampler) CancelAfter(t float64) {
	kept := s.voices[:0]
	for _, v := range s.voices {
		if v.start >= t {
			continue
		}
		if v.stop > t {
			v.stop = t
		}
		kept = append(kept, v)
	}
	clear(s.voices[len(kept):])
	s.voices = kept
}

func (s *Sampler) Dispose() {
	s.voices = nil
	s.buf = nil
}

// cutFade is the ramp applied when a voice is cut before its region ends
const cutFade = 0.005

func (s *Sampler) Render(out []float32, at float64, sampleRate int) {
	if len(s.voices) == 0 || !s.Loaded() {
		return
	}
	frames := len(out) / 2
	dt := 1 / float64(sampleRate)
	srcFrames := float64(s.buf.Frames())
	regionStart := s.settings.RegionStart * srcFrames
	regionEnd := s.settings.RegionEnd * srcFrames
	step := s.settings.PlaybackRate * float64(s.buf.SampleRate) / float64(sampleRate)
	srcRate := float64(s.buf.SampleRate) * s.settings.PlaybackRate // source frames per output second

	kept := s.voices[:0]
	for _, v := range s.voices {
		done := false
		for i := 0; i < frames; i++ {
			t := at + float64(i)*dt
			if t < v.start {
				continue
			}
			if v.pos >= regionEnd || t >= v.stop+cutFade {
				done = true
				break
			}
			gain := v.velocity
			if s.settings.FadeIn > 0 {
				if e := (v.pos - regionStart) / srcRate; e < s.settings.FadeIn {
					gain *= e / s.settings.FadeIn
				}
			}
			if s.settings.FadeOut > 0 {
				if r := (regionEnd - v.pos) / srcRate; r < s.settings.FadeOut {
					gain *= r / s.settings.FadeOut
				}
			}
			if t >= v.stop {
				gain *= 1 - (t-v.stop)/cutFade
			}
			idx := int(v.pos)
			frac := float32(v.pos - float64(idx))
			l0, l1 := s.buf.At(0, idx), s.buf.At(0, idx+1)
			r0, r1 := s.buf.At(1, idx), s.buf.At(1, idx+1)
			g := float32(gain)
			out[2*i] += (l0 + (l1-l0)*frac) * g
			out[2*i+1] += (r0 + (r1-r0)*frac) * g
			v.pos += step
		}
		if !done && v.pos < regionEnd && at+float64(frames)*dt < v.stop+cutFade {
			kept = append(kept, v)
		}
	}
	clear(s.voices[len(kept):])
	s.voices = kept
}
