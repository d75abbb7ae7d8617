package rack

import (
	"slices"

	"go-audionaut/quantize"
)

// RecordedNote is one note captured by an instrument's recorder. Times are
// seconds on the audio clock.
type RecordedNote struct {
	Note     int
	Velocity float64
	Time     float64
	Duration float64 // 0 until the release is seen
}

// Recorder buffers the notes an instrument plays while armed
type Recorder struct {
	armed  bool
	notes  []RecordedNote
	open   map[int]int // note -> index of the unreleased entry
	maxLen int
}

// NewRecorder returns a disarmed recorder. maxLen > 0 thins the buffer with
// ReduceDensity whenever it grows past twice that size.
func NewRecorder(maxLen int) *Recorder {
	return &Recorder{open: make(map[int]int), maxLen: maxLen}
}

// Arm starts capturing
func (r *Recorder) Arm() { r.armed = true }

// Disarm stops capturing and closes any held notes at their start time
func (r *Recorder) Disarm() {
	r.armed = false
	clear(r.open)
}

// Armed reports whether notes are being captured
func (r *Recorder) Armed() bool { return r.armed }

// NoteOn records the start of a note
func (r *Recorder) NoteOn(note int, velocity, at float64) {
	if !r.armed {
		return
	}
	r.Record(RecordedNote{Note: note, Velocity: velocity, Time: at})
	r.open[note] = len(r.notes) - 1
}

// NoteOff closes the open entry for note
func (r *Recorder) NoteOff(note int, at float64) {
	i, ok := r.open[note]
	if !ok {
		return
	}
	delete(r.open, note)
	if i < len(r.notes) && r.notes[i].Note == note && at > r.notes[i].Time {
		r.notes[i].Duration = at - r.notes[i].Time
	}
}

// Record appends a finished note
func (r *Recorder) Record(n RecordedNote) {
	r.notes = append(r.notes, n)
	if r.maxLen > 0 && len(r.notes) > 2*r.maxLen {
		r.ReduceDensity(r.maxLen)
	}
}

// Events returns a copy of the buffer in time order
func (r *Recorder) Events() []RecordedNote {
	out := slices.Clone(r.notes)
	slices.SortStableFunc(out, func(a, b RecordedNote) int {
		switch {
		case a.Time < b.Time:
			return -1
		case a.Time > b.Time:
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of buffered notes
func (r *Recorder) Len() int { return len(r.notes) }

// Clear empties the buffer
func (r *Recorder) Clear() {
	r.notes = r.notes[:0]
	clear(r.open)
}

// ReduceDensity thins the buffer to at most maxEvents notes spread evenly
// over it, always keeping the first and the last. It reports whether
// anything was dropped.
func (r *Recorder) ReduceDensity(maxEvents int) bool {
	if maxEvents < 0 {
		maxEvents = 0
	}
	n := len(r.notes)
	if n <= maxEvents {
		return false
	}
	sorted := r.Events()
	kept := make([]RecordedNote, 0, maxEvents)
	switch maxEvents {
	case 0:
	case 1:
		kept = append(kept, sorted[0])
	default:
		for i := 0; i < maxEvents; i++ {
			// i*(n-1)/(maxEvents-1) is strictly increasing for maxEvents <= n
			kept = append(kept, sorted[i*(n-1)/(maxEvents-1)])
		}
	}
	r.notes = kept
	clear(r.open)
	return true
}

// Shift moves every start time by dt seconds
func (r *Recorder) Shift(dt float64) {
	for i := range r.notes {
		r.notes[i].Time += dt
	}
}

// Quantize snaps every start time to the grid and every duration to half
// the grid.
func (r *Recorder) Quantize(bpm float64, subdivisionsPerBeat int) error {
	if _, err := quantize.GridMs(bpm, subdivisionsPerBeat); err != nil {
		return err
	}
	for i := range r.notes {
		n := &r.notes[i]
		t, _ := quantize.QuantizeTime(n.Time*1000, bpm, subdivisionsPerBeat)
		n.Time = t / 1000
		if n.Duration > 0 {
			d, _ := quantize.QuantizeDuration(n.Duration*1000, bpm, subdivisionsPerBeat)
			n.Duration = d / 1000
		}
	}
	return nil
}
