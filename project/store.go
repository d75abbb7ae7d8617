package project

import (
	"math"
	"sync"
	"sync/atomic"

	"go-audionaut/errs"
)

// ChangeKind says what a Store mutation touched
type ChangeKind int

const (
	ChangeProject ChangeKind = iota // whole project replaced or initialized
	ChangeTempo
	ChangeStep
	ChangeVelocity
	ChangeSequenceAdded
	ChangeSequenceRemoved
	ChangeSequenceCleared
	ChangeCurrentSequence
	ChangeChannelAdded
	ChangeMixer
	ChangeEffects
	ChangePatch
	ChangeSample
	ChangePlayMode
)

var changeNames = map[ChangeKind]string{
	ChangeProject:         "project",
	ChangeTempo:           "tempo",
	ChangeStep:            "step",
	ChangeVelocity:        "velocity",
	ChangeSequenceAdded:   "sequence-added",
	ChangeSequenceRemoved: "sequence-removed",
	ChangeSequenceCleared: "sequence-cleared",
	ChangeCurrentSequence: "current-sequence",
	ChangeChannelAdded:    "channel-added",
	ChangeMixer:           "mixer",
	ChangeEffects:         "effects",
	ChangePatch:           "patch",
	ChangeSample:          "sample",
	ChangePlayMode:        "play-mode",
}

func (k ChangeKind) String() string {
	if s, ok := changeNames[k]; ok {
		return s
	}
	return "unknown"
}

// Change is delivered to subscribers after a mutation is committed.
// Sequence, Channel and Step are -1 when not applicable.
type Change struct {
	Kind     ChangeKind
	Sequence int
	Channel  int
	Step     int
}

// Options shape the projects a Store creates
type Options struct {
	SamplerChannels    int
	InstrumentChannels int
	BPM                float64
	SampleRefs         []string // cycled over new sampler channels
}

// DefaultOptions matches the built-in layout: 8 samplers, 2 instruments, 120 BPM
func DefaultOptions() Options {
	return Options{
		SamplerChannels:    DefaultSamplerChannels,
		InstrumentChannels: DefaultInstrumentChannels,
		BPM:                DefaultBPM,
	}
}

// Store owns the project. Every mutation builds a new *Project that shares
// untouched sequences and channels with the previous one and swaps it in
// whole, so a reference returned by Project is never modified afterwards.
type Store struct {
	mu      sync.Mutex // serializes writers
	cur     atomic.Pointer[Project]
	opts    Options
	subs    map[int]func(Change)
	nextSub int
}

// NewStore returns a store holding a freshly initialized project
func NewStore(opts Options) *Store {
	if opts.BPM <= 0 {
		opts.BPM = DefaultBPM
	}
	opts.SamplerChannels = max(0, opts.SamplerChannels)
	opts.InstrumentChannels = max(0, opts.InstrumentChannels)
	if opts.SamplerChannels+opts.InstrumentChannels == 0 {
		opts.SamplerChannels = 1
	}
	if total := opts.SamplerChannels + opts.InstrumentChannels; total > MaxChannels {
		opts.InstrumentChannels = max(0, MaxChannels-opts.SamplerChannels)
		opts.SamplerChannels = min(opts.SamplerChannels, MaxChannels)
	}
	s := &Store{opts: opts, subs: make(map[int]func(Change))}
	s.cur.Store(s.newProject())
	return s
}

func (s *Store) newProject() *Project {
	p := &Project{BPM: s.opts.BPM, PlayMode: PlaySequence}
	p.Sequences = []*Sequence{p.NewSequence(s.opts.SamplerChannels, s.opts.InstrumentChannels, s.opts.SampleRefs)}
	return p
}

// InitializeProject replaces the project with one sequence of the configured
// channel counts, all steps off.
func (s *Store) InitializeProject() *Project {
	p := s.newProject()
	s.mu.Lock()
	s.cur.Store(p)
	subs := s.subscribers()
	s.mu.Unlock()
	notify(subs, Change{Kind: ChangeProject, Sequence: -1, Channel: -1, Step: -1})
	return p
}

// Project returns the current project. The returned value is never mutated;
// take one reference and read from it for a consistent view.
func (s *Store) Project() *Project {
	return s.cur.Load()
}

// Snapshot returns a deep copy that the caller may modify freely
func (s *Store) Snapshot() *Project {
	return s.cur.Load().Clone()
}

// Replace swaps in p after validating it. On error the store is unchanged.
func (s *Store) Replace(p *Project) error {
	if err := Validate(p); err != nil {
		return err
	}
	next := p.Clone()
	s.mu.Lock()
	s.cur.Store(next)
	subs := s.subscribers()
	s.mu.Unlock()
	notify(subs, Change{Kind: ChangeProject, Sequence: -1, Channel: -1, Step: -1})
	return nil
}

// Subscribe registers fn for change events. Call the returned func to stop.
// fn runs on the goroutine that made the change, after it is committed.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) subscribers() []func(Change) {
	out := make([]func(Change), 0, len(s.subs))
	for i := 0; i < s.nextSub; i++ {
		if fn, ok := s.subs[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func notify(subs []func(Change), c Change) {
	for _, fn := range subs {
		fn(c)
	}
}

// update runs fn against a shallow copy of the project and commits it only if
// fn succeeds. fn must go through mutableSequence/mutableChannel before
// writing into a sequence or channel.
func (s *Store) update(c Change, fn func(next *Project) error) error {
	s.mu.Lock()
	cur := s.cur.Load()
	next := *cur
	next.Sequences = append([]*Sequence(nil), cur.Sequences...)
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.cur.Store(&next)
	subs := s.subscribers()
	s.mu.Unlock()
	notify(subs, c)
	return nil
}

func (p *Project) mutableSequence(seq int) (*Sequence, error) {
	src := p.Sequence(seq)
	if src == nil {
		return nil, errs.InvalidParameter("sequence", seq)
	}
	cp := &Sequence{ID: src.ID, Channels: append([]*Channel(nil), src.Channels...)}
	p.Sequences[seq] = cp
	return cp, nil
}

func (p *Project) mutableChannel(seq, ch int) (*Channel, error) {
	if p.Channel(seq, ch) == nil {
		if p.Sequence(seq) == nil {
			return nil, errs.InvalidParameter("sequence", seq)
		}
		return nil, errs.InvalidParameter("channel", ch)
	}
	s, err := p.mutableSequence(seq)
	if err != nil {
		return nil, err
	}
	c := s.Channels[ch].Clone()
	s.Channels[ch] = c
	return c, nil
}

func checkStep(step int) error {
	if step < 0 || step >= TotalSteps {
		return errs.InvalidParameter("step", step)
	}
	return nil
}

// ToggleStep flips one step and returns its new value
func (s *Store) ToggleStep(seq, ch, step int) (bool, error) {
	if err := checkStep(step); err != nil {
		return false, err
	}
	var on bool
	err := s.update(Change{Kind: ChangeStep, Sequence: seq, Channel: ch, Step: step}, func(p *Project) error {
		c, err := p.mutableChannel(seq, ch)
		if err != nil {
			return err
		}
		c.Steps[step] = !c.Steps[step]
		on = c.Steps[step]
		return nil
	})
	return on, err
}

// SetStep sets one step on or off
func (s *Store) SetStep(seq, ch, step int, on bool) error {
	if err := checkStep(step); err != nil {
		return err
	}
	return s.update(Change{Kind: ChangeStep, Sequence: seq, Channel: ch, Step: step}, func(p *Project) error {
		c, err := p.mutableChannel(seq, ch)
		if err != nil {
			return err
		}
		c.Steps[step] = on
		return nil
	})
}

// SetVelocity sets the velocity (0..1) of one step
func (s *Store) SetVelocity(seq, ch, step int, v float64) error {
	if err := checkStep(step); err != nil {
		return err
	}
	if v < 0 || v > 1 || math.IsNaN(v) {
		return errs.InvalidParameter("velocity", v)
	}
	return s.update(Change{Kind: ChangeVelocity, Sequence: seq, Channel: ch, Step: step}, func(p *Project) error {
		c, err := p.mutableChannel(seq, ch)
		if err != nil {
			return err
		}
		c.Velocity[step] = v
		return nil
	})
}

// SetTempo changes the project BPM
func (s *Store) SetTempo(bpm float64) error {
	if bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		return errs.InvalidParameter("bpm", bpm)
	}
	return s.update(Change{Kind: ChangeTempo, Sequence: -1, Channel: -1, Step: -1}, func(p *Project) error {
		p.BPM = bpm
		return nil
	})
}

// AddSequence appends a sequence shaped like the current one, steps cleared,
// and returns its index.
func (s *Store) AddSequence() (int, error) {
	var idx int
	err := s.update(Change{Kind: ChangeSequenceAdded, Channel: -1, Step: -1}, func(p *Project) error {
		tmpl := p.Sequence(p.CurrentSequence)
		var seq *Sequence
		if tmpl == nil || len(tmpl.Channels) == 0 {
			seq = p.NewSequence(s.opts.SamplerChannels, s.opts.InstrumentChannels, s.opts.SampleRefs)
		} else {
			seq = p.SequenceFromTemplate(tmpl)
		}
		p.Sequences = append(p.Sequences, seq)
		idx = len(p.Sequences) - 1
		return nil
	})
	return idx, err
}

// RemoveSequence deletes sequence seq. The last sequence cannot be removed.
func (s *Store) RemoveSequence(seq int) error {
	return s.update(Change{Kind: ChangeSequenceRemoved, Sequence: seq, Channel: -1, Step: -1}, func(p *Project) error {
		if p.Sequence(seq) == nil {
			return errs.InvalidParameter("sequence", seq)
		}
		if len(p.Sequences) == 1 {
			return errs.InvalidParameter("sequence", "cannot remove the last sequence")
		}
		p.Sequences = append(p.Sequences[:seq], p.Sequences[seq+1:]...)
		if p.CurrentSequence >= len(p.Sequences) {
			p.CurrentSequence = len(p.Sequences) - 1
		} else if p.CurrentSequence > seq {
			p.CurrentSequence--
		}
		return nil
	})
}

// ClearSequence turns every step of a sequence off
func (s *Store) ClearSequence(seq int) error {
	return s.update(Change{Kind: ChangeSequenceCleared, Sequence: seq, Channel: -1, Step: -1}, func(p *Project) error {
		sq, err := p.mutableSequence(seq)
		if err != nil {
			return err
		}
		for i, c := range sq.Channels {
			cp := c.Clone()
			clear(cp.Steps)
			sq.Channels[i] = cp
		}
		return nil
	})
}

// SetCurrentSequence selects the sequence being edited and played
func (s *Store) SetCurrentSequence(seq int) error {
	return s.update(Change{Kind: ChangeCurrentSequence, Sequence: seq, Channel: -1, Step: -1}, func(p *Project) error {
		if p.Sequence(seq) == nil {
			return errs.InvalidParameter("sequence", seq)
		}
		p.CurrentSequence = seq
		return nil
	})
}

// SetPlayMode selects looping one sequence or chaining all of them
func (s *Store) SetPlayMode(mode PlayMode) error {
	if mode != PlaySequence && mode != PlayAll {
		return errs.InvalidParameter("playMode", mode)
	}
	return s.update(Change{Kind: ChangePlayMode, Sequence: -1, Channel: -1, Step: -1}, func(p *Project) error {
		p.PlayMode = mode
		return nil
	})
}

// AddChannel appends a channel of kind to every sequence so they keep the
// same layout. Returns the new channel index.
func (s *Store) AddChannel(kind ChannelKind) (int, error) {
	if kind != KindSampler && kind != KindInstrument {
		return 0, errs.InvalidParameter("kind", kind)
	}
	var idx int
	err := s.update(Change{Kind: ChangeChannelAdded, Sequence: -1, Step: -1}, func(p *Project) error {
		for i, seq := range p.Sequences {
			if len(seq.Channels) >= MaxChannels {
				return errs.InvalidParameter("channels", len(seq.Channels)+1)
			}
			sq, err := p.mutableSequence(i)
			if err != nil {
				return err
			}
			sq.Channels = append(sq.Channels, p.NewChannel(kind))
			idx = len(sq.Channels) - 1
		}
		return nil
	})
	return idx, err
}

// SetMixer replaces the mixer strip of one channel
func (s *Store) SetMixer(seq, ch int, m Mixer) error {
	if err := validateMixer(m); err != nil {
		return errs.InvalidParameter("mixer", err)
	}
	return s.update(Change{Kind: ChangeMixer, Sequence: seq, Channel: ch, Step: -1}, func(p *Project) error {
		c, err := p.mutableChannel(seq, ch)
		if err != nil {
			return err
		}
		c.Mixer = m
		return nil
	})
}

// SetInsertEffect puts fx into slot. slot == len(effects) appends.
func (s *Store) SetInsertEffect(seq, ch, slot int, fx InsertEffect) error {
	if fx.Settings == nil {
		return errs.InvalidParameter("effect", nil)
	}
	return s.update(Change{Kind: ChangeEffects, Sequence: seq, Channel: ch, Step: slot}, func(p *Project) error {
		c, err := p.mutableChannel(seq, ch)
		if err != nil {
			return err
		}
		switch {
		case slot >= 0 && slot < len(c.InsertEffects):
			c.InsertEffects[slot] = fx
		case slot == len(c.InsertEffects) && slot < MaxInsertSlots:
			c.InsertEffects = append(c.InsertEffects, fx)
		default:
			return errs.InvalidParameter("slot", slot)
		}
		return nil
	})
}

// RemoveInsertEffect deletes one slot, shifting later slots up
func (s *Store) RemoveInsertEffect(seq, ch, slot int) error {
	return s.update(Change{Kind: ChangeEffects, Sequence: seq, Channel: ch, Step: slot}, func(p *Project) error {
		c, err := p.mutableChannel(seq, ch)
		if err != nil {
			return err
		}
		if slot < 0 || slot >= len(c.InsertEffects) {
			return errs.InvalidParameter("slot", slot)
		}
		c.InsertEffects = append(c.InsertEffects[:slot], c.InsertEffects[slot+1:]...)
		return nil
	})
}

// SetPatch stores the patch of an instrument channel
func (s *Store) SetPatch(seq, ch int, patch Patch) error {
	patch = patch.Normalize()
	return s.update(Change{Kind: ChangePatch, Sequence: seq, Channel: ch, Step: -1}, func(p *Project) error {
		c, err := p.mutableChannel(seq, ch)
		if err != nil {
			return err
		}
		if c.Kind != KindInstrument {
			return errs.InvalidParameter("channel", "not an instrument channel")
		}
		c.InstrumentPatch = &patch
		return nil
	})
}

// SetSampleRef points a sampler channel at a sample URL
func (s *Store) SetSampleRef(seq, ch int, ref string) error {
	return s.update(Change{Kind: ChangeSample, Sequence: seq, Channel: ch, Step: -1}, func(p *Project) error {
		c, err := p.mutableChannel(seq, ch)
		if err != nil {
			return err
		}
		if c.Kind != KindSampler {
			return errs.InvalidParameter("channel", "not a sampler channel")
		}
		c.SampleRef = ref
		return nil
	})
}

// SetSamplerSettings stores region, rate and fades of a sampler channel
func (s *Store) SetSamplerSettings(seq, ch int, settings SamplerSettings) error {
	settings = settings.Normalize()
	return s.update(Change{Kind: ChangeSample, Sequence: seq, Channel: ch, Step: -1}, func(p *Project) error {
		c, err := p.mutableChannel(seq, ch)
		if err != nil {
			return err
		}
		if c.Kind != KindSampler {
			return errs.InvalidParameter("channel", "not a sampler channel")
		}
		c.Sampler = settings
		return nil
	})
}
