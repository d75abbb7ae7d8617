package rack

import (
	"fmt"
	"sync"

	"github.com/viterin/vek/vek32"

	"go-audionaut/debug"
	"go-audionaut/errs"
	"go-audionaut/project"
	"go-audionaut/samples"
)

// SampleRequest asks the owner to load Ref for a sampler channel
type SampleRequest struct {
	ChannelID string
	Ref       string
}

type channelState struct {
	id        string
	kind      project.ChannelKind
	inst      Instrument
	chain     *Chain
	mixer     project.Mixer
	audible   bool
	sampleRef string
	silenced  error // set when the sample failed to load
	scratch   []float32
}

// Options configure a Rack
type Options struct {
	Registry Registry      // default DefaultRegistry()
	MIDI     Sender        // when set, instrument channels drive MIDI instead of the synth
	Logger   *debug.Logger // may be nil
	Warn     errs.Handler  // receives effect substitutions, may be nil
}

// Rack holds the runtime state of every channel. Trigger and build calls
// come from the sequencer goroutine, Render from the audio goroutine.
type Rack struct {
	mu       sync.Mutex
	reg      Registry
	midi     Sender
	log      *debug.Logger
	warn     errs.Handler
	channels map[string]*channelState
	order    []string
	reported map[string]bool // substitutions already warned about
}

// New returns an empty rack
func New(opts Options) *Rack {
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry()
	}
	return &Rack{
		reg:      opts.Registry,
		midi:     opts.MIDI,
		log:      opts.Logger,
		warn:     opts.Warn,
		channels: make(map[string]*channelState),
		reported: make(map[string]bool),
	}
}

// Build brings the rack in line with p. Channels that kept their id and
// kind keep their instrument, sample and effect state. It returns the
// samples that need loading.
func (r *Rack) Build(p *project.Project) []SampleRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	var requests []SampleRequest
	seen := make(map[string]bool)
	r.order = r.order[:0]

	for _, seq := range p.Sequences {
		for ci, ch := range seq.Channels {
			seen[ch.ID] = true
			r.order = append(r.order, ch.ID)

			st, ok := r.channels[ch.ID]
			if ok && st.kind != ch.Kind {
				st.inst.Dispose()
				st.chain.Dispose()
				ok = false
			}
			if !ok {
				st = &channelState{id: ch.ID, kind: ch.Kind, chain: NewChain(r.reg, ch.InsertEffects)}
				st.inst = r.newInstrument(ch, seq.InstrumentIndex(ci))
				r.channels[ch.ID] = st
			} else {
				st.chain.Update(r.reg, ch.InsertEffects)
			}
			r.reportSubstitutions(st)

			st.mixer = ch.Mixer
			st.audible = seq.Audible(ci)

			switch inst := st.inst.(type) {
			case *Sampler:
				inst.SetSettings(ch.Sampler)
				if st.sampleRef != ch.SampleRef {
					st.sampleRef = ch.SampleRef
					st.silenced = nil
					inst.SetBuffer(nil)
				}
				if ch.SampleRef != "" && !inst.Loaded() && st.silenced == nil {
					requests = append(requests, SampleRequest{ChannelID: ch.ID, Ref: ch.SampleRef})
				}
			default:
				if ch.InstrumentPatch != nil && *ch.InstrumentPatch != inst.SerializePatch() {
					if err := inst.LoadPatch(*ch.InstrumentPatch); err != nil {
						r.log.Warn("rack", "channel %s: patch: %v", ch.ID, err)
					}
				}
			}
		}
	}

	for id, st := range r.channels {
		if !seen[id] {
			st.inst.Dispose()
			st.chain.Dispose()
			delete(r.channels, id)
		}
	}
	return requests
}

// newInstrument builds the instrument of ch. MIDI channels follow the
// instrument's position in its own sequence, so a row drives the same port
// channel in every sequence.
func (r *Rack) newInstrument(ch *project.Channel, midiCh int) Instrument {
	if ch.Kind == project.KindSampler {
		return NewSampler(ch.Sampler)
	}
	patch := project.DefaultPatch()
	if ch.InstrumentPatch != nil {
		patch = *ch.InstrumentPatch
	}
	if r.midi != nil {
		c := uint8(midiCh % 15)
		if c >= 9 {
			c++ // leave channel 10 to drums
		}
		return NewMIDIOut(r.midi, c, patch, r.log)
	}
	return NewSynth(patch)
}

func (r *Rack) reportSubstitutions(st *channelState) {
	for _, s := range st.chain.Substitutions() {
		key := fmt.Sprintf("%s/%d/%s", st.id, s.Slot, s.Kind)
		if r.reported[key] {
			continue
		}
		r.reported[key] = true
		r.log.Warn("rack", "channel %s: %v", st.id, s)
		if r.warn != nil {
			r.warn.HandleError(s)
		}
	}
}

// SetSample installs a decoded buffer on a sampler channel. Completions for
// a ref the channel no longer uses are ignored.
func (r *Rack) SetSample(channelID, ref string, buf *samples.Buffer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.channels[channelID]
	if !ok || st.sampleRef != ref {
		return
	}
	if s, ok := st.inst.(*Sampler); ok {
		s.SetBuffer(buf)
		st.silenced = nil
	}
}

// Silence marks a sampler channel as failed; it stays quiet until its
// sample reference changes.
func (r *Rack) Silence(channelID, ref string, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.channels[channelID]
	if !ok || st.sampleRef != ref {
		return
	}
	if s, ok := st.inst.(*Sampler); ok {
		s.SetBuffer(nil)
	}
	st.silenced = cause
	r.log.Warn("rack", "channel %s silenced: %v", channelID, cause)
}

// TriggerAttack starts a note on a channel. A channel without an instrument
// or without a loaded sample logs a warning and does nothing.
func (r *Rack) TriggerAttack(channelID string, note int, velocity, at float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.channels[channelID]
	if !ok {
		r.log.LogEvery(20, "rack", "trigger on unknown channel %s", channelID)
		return
	}
	if s, ok := st.inst.(*Sampler); ok && !s.Loaded() {
		r.log.LogEvery(20, "rack", "channel %s has no sample loaded", channelID)
		return
	}
	if _, ok := st.inst.(*MIDIOut); ok {
		// no audio path, so the strip gain goes into the velocity
		velocity *= st.mixer.Gain
	}
	st.inst.TriggerAttack(note, velocity, at)
}

// TriggerRelease ends a note on a channel
func (r *Rack) TriggerRelease(channelID string, note int, at float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.channels[channelID]; ok {
		st.inst.TriggerRelease(note, at)
	}
}

// CancelAfter drops everything scheduled at or after t on every channel
func (r *Rack) CancelAfter(t float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.channels {
		st.inst.CancelAfter(t)
	}
}

// Instrument returns the live instrument of a channel
func (r *Rack) Instrument(channelID string) (Instrument, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.channels[channelID]
	if !ok {
		return nil, false
	}
	return st.inst, true
}

// Recording runs fn against the recorder of a channel's instrument while
// holding the rack lock. An instrument without a recorder yields an error
// wrapping errs.ErrCapabilityUnavailable.
func (r *Rack) Recording(channelID string, fn func(*Recorder) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.channels[channelID]
	if !ok {
		return errs.InvalidParameter("channel", channelID)
	}
	rec, ok := st.inst.Recorder().(WithRecorder)
	if !ok {
		return errs.Unavailable(fmt.Sprintf("%s recorder", st.inst.Kind()), nil)
	}
	return fn(rec.Recorder)
}

// ReduceRecording thins a channel's recorder to at most maxEvents notes
func (r *Rack) ReduceRecording(channelID string, maxEvents int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.channels[channelID]
	if !ok {
		return false, errs.InvalidParameter("channel", channelID)
	}
	reduced, ok := ReduceDensity(st.inst, maxEvents)
	if !ok {
		return false, errs.Unavailable(fmt.Sprintf("%s recorder", st.inst.Kind()), nil)
	}
	return reduced, nil
}

// Substitutions returns the bypassed effect slots of a channel
func (r *Rack) Substitutions(channelID string) []Substitution {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.channels[channelID]
	if !ok {
		return nil
	}
	return st.chain.Substitutions()
}

// Len returns the number of channels
func (r *Rack) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Render mixes every channel through its insert chain and mixer strip into
// out (interleaved stereo).
func (r *Rack) Render(out []float32, at float64, sampleRate int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		st := r.channels[id]
		if st == nil {
			continue
		}
		if cap(st.scratch) < len(out) {
			st.scratch = make([]float32, len(out))
		}
		buf := st.scratch[:len(out)]
		clear(buf)
		st.inst.Render(buf, at, sampleRate)
		if !st.audible || st.mixer.Gain == 0 {
			// keep voices advancing so unmuting does not replay stale notes
			continue
		}
		st.chain.Process(buf, sampleRate)

		left := float32(st.mixer.Gain * min(1, 1-st.mixer.Pan))
		right := float32(st.mixer.Gain * min(1, 1+st.mixer.Pan))
		if left == right {
			vek32.MulNumber_Inplace(buf, left)
		} else {
			for i := 0; i+1 < len(buf); i += 2 {
				buf[i] *= left
				buf[i+1] *= right
			}
		}
		vek32.Add_Inplace(out, buf)
	}
}

// Dispose releases every channel
func (r *Rack) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, st := range r.channels {
		st.inst.Dispose()
		st.chain.Dispose()
		delete(r.channels, id)
	}
	r.order = nil
}
