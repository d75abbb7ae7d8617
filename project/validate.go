package project

import (
	"math"

	"go-audionaut/errs"
)

// Validate checks the structural invariants of a project. It returns an
// error wrapping errs.ErrValidation describing the first violation.
func Validate(p *Project) error {
	if p == nil {
		return errs.Validation("nil project")
	}
	if p.BPM <= 0 || math.IsNaN(p.BPM) || math.IsInf(p.BPM, 0) {
		return errs.Validation("bpm %v must be > 0", p.BPM)
	}
	if len(p.Sequences) == 0 {
		return errs.Validation("project has no sequences")
	}
	if p.CurrentSequence < 0 || p.CurrentSequence >= len(p.Sequences) {
		return errs.Validation("current sequence %d out of range", p.CurrentSequence)
	}
	switch p.PlayMode {
	case PlaySequence, PlayAll:
	default:
		return errs.Validation("unknown play mode %q", p.PlayMode)
	}

	seqIDs := make(map[string]bool, len(p.Sequences))
	chIDs := make(map[string]bool)
	for si, seq := range p.Sequences {
		if seq == nil || seq.ID == "" {
			return errs.Validation("sequence %d: missing id", si)
		}
		if seqIDs[seq.ID] {
			return errs.Validation("sequence %d: duplicate id %s", si, seq.ID)
		}
		seqIDs[seq.ID] = true

		if len(seq.Channels) == 0 || len(seq.Channels) > MaxChannels {
			return errs.Validation("sequence %d: %d channels, want 1..%d", si, len(seq.Channels), MaxChannels)
		}
		for ci, ch := range seq.Channels {
			if err := validateChannel(ch); err != nil {
				return errs.Validation("sequence %d channel %d: %v", si, ci, err)
			}
			if chIDs[ch.ID] {
				return errs.Validation("sequence %d channel %d: duplicate id %s", si, ci, ch.ID)
			}
			chIDs[ch.ID] = true
			if n, ok := ParseInstrumentID(ch.InstrumentID); ok && n >= p.NextInstrumentID {
				return errs.Validation("sequence %d channel %d: %s not below nextInstrumentId %d", si, ci, ch.InstrumentID, p.NextInstrumentID)
			}
		}
	}
	return nil
}

func validateChannel(ch *Channel) error {
	if ch == nil || ch.ID == "" {
		return errs.Validation("missing id")
	}
	switch ch.Kind {
	case KindSampler:
	case KindInstrument:
		if ch.InstrumentID == "" {
			return errs.Validation("instrument channel without instrumentId")
		}
	default:
		return errs.Validation("unknown kind %q", ch.Kind)
	}
	if len(ch.Steps) != TotalSteps {
		return errs.Validation("%d steps, want %d", len(ch.Steps), TotalSteps)
	}
	if len(ch.Velocity) != TotalSteps {
		return errs.Validation("%d velocities, want %d", len(ch.Velocity), TotalSteps)
	}
	for i, v := range ch.Velocity {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return errs.Validation("velocity[%d]=%v outside 0..1", i, v)
		}
	}
	if err := validateMixer(ch.Mixer); err != nil {
		return err
	}
	if len(ch.InsertEffects) > MaxInsertSlots {
		return errs.Validation("%d insert effects, max %d", len(ch.InsertEffects), MaxInsertSlots)
	}
	for i, fx := range ch.InsertEffects {
		if fx.Settings == nil {
			return errs.Validation("insert effect %d has no settings", i)
		}
	}
	return nil
}

func validateMixer(m Mixer) error {
	if m.Gain < 0 || math.IsNaN(m.Gain) || math.IsInf(m.Gain, 0) {
		return errs.Validation("mixer gain %v", m.Gain)
	}
	if m.Pan < -1 || m.Pan > 1 || math.IsNaN(m.Pan) {
		return errs.Validation("mixer pan %v outside -1..1", m.Pan)
	}
	return nil
}
