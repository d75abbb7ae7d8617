package saveload

import (
	"fmt"
	"io"
	"math"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"go-audionaut/project"
)

// TicksPerQuarter is the resolution of exported MIDI files
const TicksPerQuarter = 960

const (
	drumChannel  = 9 // General MIDI percussion
	ticksPerStep = TicksPerQuarter / 4
)

// ExportSMF writes p as a Standard MIDI File. Track 0 carries tempo and
// meter; every channel index gets its own track. With PlayAll the sequences
// are laid out one after another, otherwise only the current one is written.
// Sampler channels play the General MIDI kit on channel 10, instrument
// channels play their patch's base note. Notes last gate (0..1] of a step.
func ExportSMF(w io.Writer, p *project.Project, gate float64) error {
	return ExportSMFKit(w, p, gate, GetKit(DefaultKit))
}

// ExportSMFKit is ExportSMF with sampler channels mapped through kit
func ExportSMFKit(w io.Writer, p *project.Project, gate float64, kit DrumKit) error {
	if err := project.Validate(p); err != nil {
		return err
	}
	if gate <= 0 || gate > 1 {
		gate = 0.8
	}
	gateTicks := uint32(max(1, math.Round(ticksPerStep*gate)))

	seqs := []*project.Sequence{p.Sequences[p.CurrentSequence]}
	if p.PlayMode == project.PlayAll {
		seqs = p.Sequences
	}
	width := 0
	for _, seq := range seqs {
		width = max(width, len(seq.Channels))
	}

	sm := smf.New()
	sm.TimeFormat = smf.MetricTicks(TicksPerQuarter)

	var track0 smf.Track
	track0.Add(0, smf.MetaMeter(4, 4))
	track0.Add(0, smf.MetaTempo(p.BPM))
	track0.Close(0)
	if err := sm.Add(track0); err != nil {
		return fmt.Errorf("adding tempo track: %w", err)
	}

	for ci := 0; ci < width; ci++ {
		var track smf.Track
		var cursor, last uint32 // absolute ticks; last is the previous event

		for si, seq := range seqs {
			base := uint32(si * project.TotalSteps * ticksPerStep)
			if ci >= len(seq.Channels) || !seq.Audible(ci) {
				continue
			}
			ch := seq.Channels[ci]
			midiCh, key := noteFor(seq, ci, kit)
			for step, on := range ch.Steps {
				if !on {
					continue
				}
				vel := uint8(max(1, min(127, math.Round(ch.Velocity[step]*ch.Mixer.Gain*127))))
				cursor = base + uint32(step*ticksPerStep)
				track.Add(cursor-last, midi.NoteOn(midiCh, key, vel))
				track.Add(gateTicks, midi.NoteOff(midiCh, key))
				last = cursor + gateTicks
			}
		}
		end := uint32(len(seqs) * project.TotalSteps * ticksPerStep)
		if end < last {
			end = last
		}
		track.Close(end - last)
		if err := sm.Add(track); err != nil {
			return fmt.Errorf("adding track %d: %w", ci, err)
		}
	}

	if _, err := sm.WriteTo(w); err != nil {
		return fmt.Errorf("writing MIDI file: %w", err)
	}
	return nil
}

// noteFor picks the MIDI channel and key for channel ci of seq
func noteFor(seq *project.Sequence, ci int, kit DrumKit) (channel, key uint8) {
	ch := seq.Channels[ci]
	if ch.Kind == project.KindInstrument {
		// each instrument of the sequence gets its own melodic channel
		channel = uint8(seq.InstrumentIndex(ci) % 15)
		if channel >= drumChannel {
			channel++
		}
		note := 60
		if ch.InstrumentPatch != nil {
			note = ch.InstrumentPatch.BaseNote
		}
		return channel, uint8(note)
	}
	n := 0
	for _, c := range seq.Channels[:ci] {
		if c.Kind == project.KindSampler {
			n++
		}
	}
	return drumChannel, kit.Notes[n%len(kit.Notes)]
}
