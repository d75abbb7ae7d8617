package project

// Waveform of the synth oscillator
type Waveform string

const (
	WaveSine     Waveform = "sine"
	WaveSquare   Waveform = "square"
	WaveSawtooth Waveform = "sawtooth"
	WaveTriangle Waveform = "triangle"
)

// Patch is the serializable sound of an instrument channel
type Patch struct {
	Name     string   `json:"name" yaml:"name,omitempty"`
	Waveform Waveform `json:"waveform" yaml:"waveform"`
	Attack   float64  `json:"attack" yaml:"attack"`   // seconds
	Decay    float64  `json:"decay" yaml:"decay"`     // seconds
	Sustain  float64  `json:"sustain" yaml:"sustain"` // 0..1
	Release  float64  `json:"release" yaml:"release"` // seconds
	Gain     float64  `json:"gain" yaml:"gain"`
	BaseNote int      `json:"baseNote" yaml:"baseNote"` // MIDI note played by a step
	Detune   float64  `json:"detune" yaml:"detune"`     // cents
	Cutoff   float64  `json:"cutoff" yaml:"cutoff"`     // Hz, 0 = open
}

// DefaultPatch is a plain sawtooth pluck on middle C
func DefaultPatch() Patch {
	return Patch{
		Name:     "init",
		Waveform: WaveSawtooth,
		Attack:   0.005,
		Decay:    0.1,
		Sustain:  0.7,
		Release:  0.2,
		Gain:     0.8,
		BaseNote: 60,
	}
}

// Normalize replaces out-of-range values with defaults
func (p Patch) Normalize() Patch {
	def := DefaultPatch()
	switch p.Waveform {
	case WaveSine, WaveSquare, WaveSawtooth, WaveTriangle:
	default:
		p.Waveform = def.Waveform
	}
	if p.Attack < 0 {
		p.Attack = def.Attack
	}
	if p.Decay < 0 {
		p.Decay = def.Decay
	}
	p.Sustain = clamp(p.Sustain, 0, 1)
	if p.Release < 0 {
		p.Release = def.Release
	}
	if p.Gain < 0 {
		p.Gain = def.Gain
	}
	if p.BaseNote < 0 || p.BaseNote > 127 {
		p.BaseNote = def.BaseNote
	}
	if p.Cutoff < 0 {
		p.Cutoff = 0
	}
	return p
}
