package rack

import (
	"slices"

	"gitlab.com/gomidi/midi/v2"

	"go-audionaut/debug"
	"go-audionaut/project"
)

// Sender delivers one MIDI message, typically an output port's send func
type Sender func(msg midi.Message) error

type midiEvent struct {
	at  float64
	off bool
	msg midi.Message
}

// MIDIOut drives an external synth. Messages are queued with their audio
// time and sent when Render reaches the block that contains them, so MIDI
// and audio share one clock.
type MIDIOut struct {
	send    Sender
	channel uint8
	patch   project.Patch
	queue   []midiEvent // sorted by at
	log     *debug.Logger
}

// NewMIDIOut sends on MIDI channel ch (0..15) through send
func NewMIDIOut(send Sender, ch uint8, patch project.Patch, log *debug.Logger) *MIDIOut {
	return &MIDIOut{send: send, channel: ch & 0x0F, patch: patch.Normalize(), log: log}
}

func (m *MIDIOut) Kind() Kind { return KindMIDIOut }

func (m *MIDIOut) Recorder() RecorderSupport { return NoRecorder{} }

func (m *MIDIOut) LoadPatch(p project.Patch) error {
	m.patch = p.Normalize()
	return nil
}

func (m *MIDIOut) SerializePatch() project.Patch { return m.patch }

func (m *MIDIOut) enqueue(ev midiEvent) {
	i, _ := slices.BinarySearchFunc(m.queue, ev.at, func(e midiEvent, t float64) int {
		if e.at <= t {
			return -1
		}
		return 1
	})
	m.queue = slices.Insert(m.queue, i, ev)
}

func (m *MIDIOut) TriggerAttack(note int, velocity, at float64) {
	vel := uint8(max(1, min(127, velocity*127+0.5)))
	m.enqueue(midiEvent{at: at, msg: midi.NoteOn(m.channel, uint8(note&0x7F), vel)})
}

func (m *MIDIOut) TriggerRelease(note int, at float64) {
	m.enqueue(midiEvent{at: at, off: true, msg: midi.NoteOff(m.channel, uint8(note&0x7F))})
}

// CancelAfter drops note-ons at or after t and pulls later note-offs to t
func (m *MIDIOut) CancelAfter(t float64) {
	kept := m.queue[:0]
	for _, ev := range m.queue {
		if ev.at < t {
			kept = append(kept, ev)
			continue
		}
		if ev.off {
			ev.at = t
			kept = append(kept, ev)
		}
	}
	m.queue = kept
	slices.SortStableFunc(m.queue, func(a, b midiEvent) int {
		switch {
		case a.at < b.at:
			return -1
		case a.at > b.at:
			return 1
		}
		return 0
	})
}

// Render sends due messages; it produces no audio
func (m *MIDIOut) Render(out []float32, at float64, sampleRate int) {
	end := at + float64(len(out)/2)/float64(sampleRate)
	n := 0
	for n < len(m.queue) && m.queue[n].at < end {
		m.deliver(m.queue[n].msg)
		n++
	}
	m.queue = slices.Delete(m.queue, 0, n)
}

func (m *MIDIOut) deliver(msg midi.Message) {
	if m.send == nil {
		return
	}
	if err := m.send(msg); err != nil {
		m.log.LogEvery(50, "midi", "send %s: %v", msg, err)
	}
}

// Dispose flushes pending note-offs so nothing hangs on the receiver
func (m *MIDIOut) Dispose() {
	for _, ev := range m.queue {
		if ev.off {
			m.deliver(ev.msg)
		}
	}
	m.queue = nil
}
