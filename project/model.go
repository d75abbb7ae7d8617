package project

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	StepsPerBar     = 16
	BarsPerSequence = 4
	TotalSteps      = StepsPerBar * BarsPerSequence
	MaxChannels     = 16
	MaxInsertSlots  = 8

	DefaultBPM                = 120.0
	DefaultSamplerChannels    = 8
	DefaultInstrumentChannels = 2
)

// ChannelKind identifies what plays a channel
type ChannelKind string

const (
	KindSampler    ChannelKind = "sampler"
	KindInstrument ChannelKind = "instrument"
)

// PlayMode selects what happens at the end of a sequence
type PlayMode string

const (
	PlaySequence PlayMode = "sequence" // loop the current sequence
	PlayAll      PlayMode = "all"      // chain through every sequence
)

// Project is the whole musical state. Treat a *Project obtained from a Store
// as read-only; use Clone or the Store operations to change it.
type Project struct {
	Name             string      `json:"name,omitempty"`
	BPM              float64     `json:"bpm"`
	Sequences        []*Sequence `json:"sequences"`
	NextInstrumentID int         `json:"nextInstrumentId"`
	CurrentSequence  int         `json:"currentSequence"`
	PlayMode         PlayMode    `json:"playMode"`
}

// Sequence is one pattern of TotalSteps steps across its channels
type Sequence struct {
	ID       string     `json:"id"`
	Channels []*Channel `json:"channels"`
}

// Channel holds the steps and sound settings of one row. Every channel owns
// its Steps and Velocity buffers; they are never shared.
type Channel struct {
	ID              string          `json:"id"`
	Kind            ChannelKind     `json:"kind"`
	Name            string          `json:"name,omitempty"`
	InstrumentID    string          `json:"instrumentId,omitempty"`
	Steps           []bool          `json:"steps"`
	Velocity        []float64       `json:"velocity"`
	Mixer           Mixer           `json:"mixer"`
	InsertEffects   []InsertEffect  `json:"insertEffects"`
	InstrumentPatch *Patch          `json:"instrumentPatch,omitempty"`
	SampleRef       string          `json:"sampleUrl,omitempty"`
	Sampler         SamplerSettings `json:"sampler"`
}

// Mixer is the per-channel strip
type Mixer struct {
	Gain float64 `json:"gain"`
	Pan  float64 `json:"pan"` // -1 left .. 1 right
	Mute bool    `json:"mute"`
	Solo bool    `json:"solo"`
}

// DefaultMixer is unity gain, centred
func DefaultMixer() Mixer {
	return Mixer{Gain: 1}
}

// SamplerSettings describe how a sampler channel plays its sample
type SamplerSettings struct {
	RegionStart  float64 `json:"regionStart"` // 0..1 of the buffer
	RegionEnd    float64 `json:"regionEnd"`
	PlaybackRate float64 `json:"playbackRate"`
	FadeIn       float64 `json:"fadeIn"`  // seconds
	FadeOut      float64 `json:"fadeOut"` // seconds
	AllowOverlap bool    `json:"allowOverlap"`
}

// DefaultSamplerSettings plays the whole sample at its own rate
func DefaultSamplerSettings() SamplerSettings {
	return SamplerSettings{
		RegionStart:  0,
		RegionEnd:    1,
		PlaybackRate: 1,
		FadeIn:       0.005,
		FadeOut:      0.05,
	}
}

// Normalize clamps every field into its legal range
func (s SamplerSettings) Normalize() SamplerSettings {
	def := DefaultSamplerSettings()
	finite := func(v, fallback float64) float64 {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fallback
		}
		return v
	}
	s.RegionStart = clamp(finite(s.RegionStart, def.RegionStart), 0, 0.99)
	s.RegionEnd = clamp(finite(s.RegionEnd, def.RegionEnd), s.RegionStart+0.01, 1)
	s.PlaybackRate = clamp(finite(s.PlaybackRate, def.PlaybackRate), 0.25, 4)
	s.FadeIn = clamp(finite(s.FadeIn, def.FadeIn), 0, 2)
	s.FadeOut = clamp(finite(s.FadeOut, def.FadeOut), 0, 2)
	return s
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NewID returns a fresh identifier for sequences and channels
func NewID() string {
	return uuid.NewString()
}

// InstrumentID formats the id handed to the n-th instrument channel
func InstrumentID(n int) string {
	return fmt.Sprintf("inst-%d", n)
}

// ParseInstrumentID returns the n of an id made by InstrumentID
func ParseInstrumentID(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, "inst-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// NewChannel creates an empty channel of kind. Instrument channels take the
// next instrument id from p.
func (p *Project) NewChannel(kind ChannelKind) *Channel {
	c := &Channel{
		ID:            NewID(),
		Kind:          kind,
		Steps:         make([]bool, TotalSteps),
		Velocity:      make([]float64, TotalSteps),
		Mixer:         DefaultMixer(),
		InsertEffects: []InsertEffect{},
		Sampler:       DefaultSamplerSettings(),
	}
	for i := range c.Velocity {
		c.Velocity[i] = 1
	}
	if kind == KindInstrument {
		c.InstrumentID = InstrumentID(p.NextInstrumentID)
		p.NextInstrumentID++
		patch := DefaultPatch()
		c.InstrumentPatch = &patch
	}
	return c
}

// NewSequence creates a sequence with the given number of sampler and
// instrument channels, samplers first. sampleRefs are cycled over the
// sampler channels.
func (p *Project) NewSequence(samplers, instruments int, sampleRefs []string) *Sequence {
	seq := &Sequence{ID: NewID(), Channels: make([]*Channel, 0, samplers+instruments)}
	for i := 0; i < samplers; i++ {
		ch := p.NewChannel(KindSampler)
		if len(sampleRefs) > 0 {
			ch.SampleRef = sampleRefs[i%len(sampleRefs)]
		}
		seq.Channels = append(seq.Channels, ch)
	}
	for i := 0; i < instruments; i++ {
		seq.Channels = append(seq.Channels, p.NewChannel(KindInstrument))
	}
	return seq
}

// SequenceFromTemplate copies the channel layout and sound settings of tmpl
// with every step cleared.
func (p *Project) SequenceFromTemplate(tmpl *Sequence) *Sequence {
	seq := &Sequence{ID: NewID(), Channels: make([]*Channel, 0, len(tmpl.Channels))}
	for _, src := range tmpl.Channels {
		ch := p.NewChannel(src.Kind)
		ch.Name = src.Name
		ch.Mixer = src.Mixer
		ch.InsertEffects = append([]InsertEffect{}, src.InsertEffects...)
		ch.SampleRef = src.SampleRef
		ch.Sampler = src.Sampler
		if src.InstrumentPatch != nil {
			patch := *src.InstrumentPatch
			ch.InstrumentPatch = &patch
		}
		seq.Channels = append(seq.Channels, ch)
	}
	return seq
}

// Clone returns a deep copy
func (c *Channel) Clone() *Channel {
	if c == nil {
		return nil
	}
	out := *c
	out.Steps = append([]bool(nil), c.Steps...)
	out.Velocity = append([]float64(nil), c.Velocity...)
	out.InsertEffects = append([]InsertEffect{}, c.InsertEffects...)
	if c.InstrumentPatch != nil {
		patch := *c.InstrumentPatch
		out.InstrumentPatch = &patch
	}
	return &out
}

// Clone returns a deep copy
func (s *Sequence) Clone() *Sequence {
	if s == nil {
		return nil
	}
	out := &Sequence{ID: s.ID, Channels: make([]*Channel, len(s.Channels))}
	for i, c := range s.Channels {
		out.Channels[i] = c.Clone()
	}
	return out
}

// Clone returns a deep copy
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	out := *p
	out.Sequences = make([]*Sequence, len(p.Sequences))
	for i, s := range p.Sequences {
		out.Sequences[i] = s.Clone()
	}
	return &out
}

// Sequence returns sequence i or nil
func (p *Project) Sequence(i int) *Sequence {
	if i < 0 || i >= len(p.Sequences) {
		return nil
	}
	return p.Sequences[i]
}

// Channel returns channel ch of sequence seq or nil
func (p *Project) Channel(seq, ch int) *Channel {
	s := p.Sequence(seq)
	if s == nil || ch < 0 || ch >= len(s.Channels) {
		return nil
	}
	return s.Channels[ch]
}

// HasSolo reports whether any channel of the sequence is soloed
func (s *Sequence) HasSolo() bool {
	for _, c := range s.Channels {
		if c.Mixer.Solo {
			return true
		}
	}
	return false
}

// Audible applies mute/solo: a channel sounds when it is not muted and either
// nothing is soloed or it is.
func (s *Sequence) Audible(ch int) bool {
	if ch < 0 || ch >= len(s.Channels) {
		return false
	}
	c := s.Channels[ch]
	if c.Mixer.Mute {
		return false
	}
	return !s.HasSolo() || c.Mixer.Solo
}

// InstrumentIndex counts the instrument channels before channel ch
func (s *Sequence) InstrumentIndex(ch int) int {
	n := 0
	for _, c := range s.Channels[:min(ch, len(s.Channels))] {
		if c.Kind == KindInstrument {
			n++
		}
	}
	return n
}

// StepDuration returns the seconds per 16th step at bpm
func StepDuration(bpm float64) float64 {
	return 60 / bpm / (StepsPerBar / 4)
}
