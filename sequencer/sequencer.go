// Package sequencer is the facade front ends talk to. It wires the project
// store, the lookahead scheduler, the instrument rack and the sample loader
// together and runs them on one owner goroutine.
//
// Every call is turned into a closure and executed by Run, the same loop
// that handles tick messages and sample decode completions, so a tick is
// always processed to completion before the next edit runs.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"go-audionaut/audio"
	"go-audionaut/config"
	"go-audionaut/debug"
	"go-audionaut/errs"
	"go-audionaut/project"
	"go-audionaut/rack"
	"go-audionaut/samples"
	"go-audionaut/saveload"
	"go-audionaut/scheduler"
)

// ErrClosed is returned by calls made after Close
var ErrClosed = errors.New("sequencer closed")

// StepInfo describes a dispatched step
type StepInfo = scheduler.StepInfo

// PlaybackState is a snapshot of the transport for display
type PlaybackState struct {
	IsPlaying            bool
	CurrentStep          int // -1 until the first step sounds
	CurrentSequenceIndex int
	StartTimestamp       float64 // audio seconds step 0 sounded at
	Tempo                float64
}

// Options configure a Sequencer
type Options struct {
	Config *config.Config // default config.DefaultConfig()

	// Clock overrides the audio clock. When nil the sequencer renders
	// through its own audio.Engine, available from Engine.
	Clock audio.Clock

	Ticks   scheduler.TickSourceFactory // default scheduler.NewWorkerTickSource
	Fetcher samples.Fetcher             // default samples.DefaultFetcher
	MIDI    rack.Sender                 // route instrument channels to MIDI
	Logger  *debug.Logger
	Warn    errs.Handler // recoverable conditions: decode failures, bypassed effects, fallbacks
}

type loadResult struct {
	req rack.SampleRequest
	buf *samples.Buffer
	err error
}

// Sequencer is safe for concurrent use once Run is running
type Sequencer struct {
	cfg    *config.Config
	store  *project.Store
	rack   *rack.Rack
	engine *audio.Engine
	clock  audio.Clock
	sched  *scheduler.Scheduler
	loader *samples.Loader
	log    *debug.Logger
	warn   errs.Handler

	calls       chan func()
	loaded      chan loadResult
	done        chan struct{}
	exited      chan struct{}
	started     atomic.Bool
	closeOnce   sync.Once
	loadCtx     context.Context
	cancelLoads context.CancelFunc
	unsubscribe func()

	state atomic.Pointer[PlaybackState]

	// owned by Run
	dirty     bool
	startTime float64
	listeners []func(StepInfo)
}

// New builds a stopped sequencer holding a fresh project laid out per the
// config.
func New(opts Options) (*Sequencer, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	s := &Sequencer{
		cfg: cfg,
		store: project.NewStore(project.Options{
			SamplerChannels:    cfg.Project.InitialSamplerChannels,
			InstrumentChannels: cfg.Project.InitialInstrumentChannels,
			BPM:                cfg.Project.DefaultBPM,
			SampleRefs:         cfg.Project.DefaultSampleRefs,
		}),
		log:    opts.Logger,
		warn:   opts.Warn,
		calls:  make(chan func()),
		loaded: make(chan loadResult, 16),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	s.rack = rack.New(rack.Options{MIDI: opts.MIDI, Logger: opts.Logger, Warn: opts.Warn})

	s.clock = opts.Clock
	if s.clock == nil {
		s.engine = audio.NewEngine(s.rack, cfg.Engine.SampleRate)
		s.clock = s.engine
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = &samples.DefaultFetcher{BaseDir: cfg.Samples.BaseDir}
	}
	s.loader = samples.NewLoader(samples.LoaderOptions{
		Workers: cfg.Samples.DecodeWorkers,
		Fetcher: fetcher,
		Logger:  opts.Logger,
	})
	s.loadCtx, s.cancelLoads = context.WithCancel(context.Background())

	sched, err := scheduler.New(scheduler.Options{
		Clock:          s.clock,
		Project:        s.store,
		Target:         s.rack,
		Factory:        opts.Ticks,
		Window:         cfg.Lookahead(),
		FallbackWindow: cfg.FallbackLookahead(),
		TickDivision:   cfg.Engine.TickDivision,
		Gate:           cfg.Engine.GateFraction,
		Logger:         opts.Logger,
		Warn:           opts.Warn,
	})
	if err != nil {
		s.loader.Close()
		s.cancelLoads()
		return nil, err
	}
	s.sched = sched
	s.sched.OnStep(s.stepped)

	s.unsubscribe = s.store.Subscribe(func(c project.Change) {
		switch c.Kind {
		case project.ChangeStep, project.ChangeVelocity, project.ChangeTempo, project.ChangeCurrentSequence, project.ChangePlayMode:
			// read by the scheduler on the next tick
		default:
			s.dirty = true
		}
	})
	s.dirty = true
	s.state.Store(&PlaybackState{CurrentStep: -1, Tempo: s.store.Project().BPM})
	return s, nil
}

// Run is the owner loop. It returns when ctx is done or Close is called.
func (s *Sequencer) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("sequencer: Run called twice")
	}
	defer close(s.exited)
	defer s.sched.Stop()

	s.rebuild()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case fn := <-s.calls:
			fn()
		case <-s.sched.Ticks():
			s.sched.HandleTick()
		case res := <-s.loaded:
			s.applySample(res)
		}
		s.settle()
	}
}

// settle rebuilds the rack after structural edits and refreshes State
func (s *Sequencer) settle() {
	if s.dirty {
		s.rebuild()
	}
	s.publish()
}

// call runs fn on the owner loop and waits for its result
func (s *Sequencer) call(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case s.calls <- func() {
		err := fn()
		s.settle()
		reply <- err
	}:
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrClosed
	}
}

func (s *Sequencer) rebuild() {
	s.dirty = false
	for _, req := range s.rack.Build(s.store.Project()) {
		go s.load(req)
	}
}

func (s *Sequencer) load(req rack.SampleRequest) {
	buf, err := s.loader.Load(s.loadCtx, req.Ref)
	select {
	case s.loaded <- loadResult{req: req, buf: buf, err: err}:
	case <-s.done:
	}
}

func (s *Sequencer) applySample(res loadResult) {
	if res.err != nil {
		s.rack.Silence(res.req.ChannelID, res.req.Ref, res.err)
		if s.warn != nil {
			s.warn.HandleError(res.err)
		}
		return
	}
	s.rack.SetSample(res.req.ChannelID, res.req.Ref, res.buf)
}

func (s *Sequencer) stepped(info StepInfo) {
	for _, fn := range s.listeners {
		fn(info)
	}
}

func (s *Sequencer) publish() {
	st := &PlaybackState{
		IsPlaying:            s.sched.Playing(),
		CurrentStep:          -1,
		CurrentSequenceIndex: s.store.Project().CurrentSequence,
		Tempo:                s.sched.Tempo(),
	}
	if st.IsPlaying {
		st.StartTimestamp = s.startTime
		if cur, ok := s.sched.Current(s.clock.Now()); ok {
			st.CurrentStep = cur.Step
			st.CurrentSequenceIndex = cur.Sequence
		}
	}
	s.state.Store(st)
}

// Play starts playback one start delay from now. Playing while already
// playing does nothing.
func (s *Sequencer) Play() error {
	return s.call(func() error {
		if s.sched.Playing() {
			return nil
		}
		start := s.clock.Now() + s.cfg.StartDelay().Seconds()
		if err := s.sched.Start(start); err != nil {
			return err
		}
		s.startTime = start
		return nil
	})
}

// Stop halts playback and silences every note scheduled past now
func (s *Sequencer) Stop() {
	s.call(func() error {
		s.sched.Stop()
		return nil
	})
}

// ToggleStep flips one step
func (s *Sequencer) ToggleStep(seq, ch, step int) error {
	return s.call(func() error {
		_, err := s.store.ToggleStep(seq, ch, step)
		return err
	})
}

// SetTempo changes the project tempo. While playing the change applies from
// the next undispatched step.
func (s *Sequencer) SetTempo(bpm float64) error {
	return s.call(func() error {
		if err := s.store.SetTempo(bpm); err != nil {
			return err
		}
		return s.sched.SetTempo(bpm)
	})
}

// Edit runs fn against the store on the owner loop, for edits without a
// dedicated method (mixer, effects, patches, sequences).
func (s *Sequencer) Edit(fn func(*project.Store) error) error {
	return s.call(func() error { return fn(s.store) })
}

// channelID resolves a grid position to a channel id
func (s *Sequencer) channelID(seq, ch int) (string, error) {
	c := s.store.Project().Channel(seq, ch)
	if c == nil {
		return "", errs.InvalidParameter("channel", fmt.Sprintf("%d/%d", seq, ch))
	}
	return c.ID, nil
}

// ArmRecording starts or stops capturing the notes the instrument of a
// channel plays. Arming drops whatever the previous take left behind.
// Instruments that cannot record return an error wrapping
// errs.ErrCapabilityUnavailable.
func (s *Sequencer) ArmRecording(seq, ch int, on bool) error {
	return s.call(func() error {
		id, err := s.channelID(seq, ch)
		if err != nil {
			return err
		}
		return s.rack.Recording(id, func(rec *rack.Recorder) error {
			if on {
				rec.Clear()
				rec.Arm()
			} else {
				rec.Disarm()
			}
			return nil
		})
	})
}

// RecordingArmed reports whether a channel's recorder is capturing
func (s *Sequencer) RecordingArmed(seq, ch int) bool {
	var armed bool
	s.call(func() error {
		id, err := s.channelID(seq, ch)
		if err != nil {
			return err
		}
		return s.rack.Recording(id, func(rec *rack.Recorder) error {
			armed = rec.Armed()
			return nil
		})
	})
	return armed
}

// CommitRecording writes the take of a channel into its steps. Note times
// are quantized to sixteenths counted from the last Play and wrap around
// the sequence; a step hit more than once keeps the loudest velocity.
// maxEvents > 0 thins the take first. The recorder is left empty and the
// number of steps set is returned.
func (s *Sequencer) CommitRecording(seq, ch, maxEvents int) (int, error) {
	var set int
	err := s.call(func() error {
		id, err := s.channelID(seq, ch)
		if err != nil {
			return err
		}
		if maxEvents > 0 {
			if _, err := s.rack.ReduceRecording(id, maxEvents); err != nil {
				return err
			}
		}
		bpm := s.sched.Tempo()
		var take []rack.RecordedNote
		err = s.rack.Recording(id, func(rec *rack.Recorder) error {
			defer rec.Clear()
			rec.Shift(-s.startTime)
			if err := rec.Quantize(bpm, project.StepsPerBar/4); err != nil {
				return err
			}
			take = rec.Events()
			return nil
		})
		if err != nil {
			return err
		}

		hits := make(map[int]float64)
		stepDur := project.StepDuration(bpm)
		for _, n := range take {
			step := int(math.Round(n.Time/stepDur)) % project.TotalSteps
			if step < 0 {
				step += project.TotalSteps
			}
			hits[step] = max(hits[step], min(max(n.Velocity, 0), 1))
		}
		for step, v := range hits {
			if err := s.store.SetStep(seq, ch, step, true); err != nil {
				return err
			}
			if err := s.store.SetVelocity(seq, ch, step, v); err != nil {
				return err
			}
		}
		set = len(hits)
		return nil
	})
	return set, err
}

// OnStepAdvance registers fn to run on the owner loop for every dispatched
// step. Steps are dispatched up to one lookahead window before they sound;
// StepInfo.Time says when. fn must not block or call back into the
// sequencer.
func (s *Sequencer) OnStepAdvance(fn func(StepInfo)) error {
	return s.call(func() error {
		s.listeners = append(s.listeners, fn)
		return nil
	})
}

// LoadProject replaces the project with the one encoded in data. Playback
// stops first. On any error the current project is left untouched.
func (s *Sequencer) LoadProject(data []byte) error {
	p, err := saveload.Load(data)
	if err != nil {
		return err
	}
	return s.call(func() error {
		s.sched.Stop()
		if err := s.store.Replace(p); err != nil {
			return err
		}
		return s.sched.SetTempo(p.BPM)
	})
}

// SaveProject encodes the current project
func (s *Sequencer) SaveProject() ([]byte, error) {
	return saveload.Save(s.store.Project())
}

// Project returns the current project. It must be treated as read-only.
func (s *Sequencer) Project() *project.Project { return s.store.Project() }

// State returns the latest playback snapshot
func (s *Sequencer) State() PlaybackState { return *s.state.Load() }

// Degraded reports why the scheduler runs on the fallback timer, or nil
func (s *Sequencer) Degraded() error { return s.sched.Degraded() }

// Engine returns the audio engine, nil when an external clock was supplied
func (s *Sequencer) Engine() *audio.Engine { return s.engine }

// Rack returns the instrument rack
func (s *Sequencer) Rack() *rack.Rack { return s.rack }

// Close stops the loop, the tick source and the loader. Safe to call more
// than once.
func (s *Sequencer) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.started.Load() {
			<-s.exited
		}
		s.sched.Close()
		s.cancelLoads()
		s.loader.Close()
		s.unsubscribe()
		s.rack.Dispose()
	})
}
