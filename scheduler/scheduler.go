// Package scheduler hands step events to the instrument rack ahead of the
// audio clock.
//
// A tick source wakes the owner goroutine a few times per step. On each tick
// the scheduler reads the audio clock and dispatches every step that starts
// before now+window, stamped with its exact audio time. Step times come from
// an anchor (time, step) pair, so tick jitter never moves a note.
package scheduler

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go-audionaut/audio"
	"go-audionaut/debug"
	"go-audionaut/errs"
	"go-audionaut/project"
	"go-audionaut/transport"
)

// Target receives the scheduled notes. rack.Rack implements it.
type Target interface {
	TriggerAttack(channelID string, note int, velocity, at float64)
	TriggerRelease(channelID string, note int, at float64)
	CancelAfter(t float64)
}

// ProjectSource hands out the current immutable project. project.Store
// implements it.
type ProjectSource interface {
	Project() *project.Project
}

// Event is one channel triggered on one step
type Event struct {
	Sequence  int
	Channel   int
	ChannelID string
	Kind      project.ChannelKind
	Step      int
	Note      int
	Velocity  float64
	Time      float64 // audio seconds
	Duration  float64 // 0 for one-shot samples
}

// StepInfo describes a dispatched step
type StepInfo struct {
	Sequence int
	Step     int     // 0..TotalSteps-1 within the sequence
	Global   int     // steps since Start
	Time     float64 // audio seconds the step sounds at
}

// Options configure a Scheduler
type Options struct {
	Clock   audio.Clock
	Project ProjectSource
	Target  Target
	Factory TickSourceFactory // default NewWorkerTickSource

	Window         time.Duration // default 120ms
	FallbackWindow time.Duration // default 250ms, used with the interval timer
	TickDivision   int           // ticks per step, default 4
	Gate           float64       // instrument note length in steps, default 0.8

	Logger *debug.Logger
	Warn   errs.Handler
}

// Scheduler is owned by a single goroutine: every method, and the handling
// of each message read from Ticks, must run there.
type Scheduler struct {
	clock    audio.Clock
	source   ProjectSource
	target   Target
	src      TickSource
	log      *debug.Logger
	warn     errs.Handler
	degraded error

	window    time.Duration
	division  int
	gate      float64
	transport *transport.Clock

	playing    bool
	bpm        float64
	stepDur    float64 // seconds
	anchorTime float64
	anchorStep int
	next       int // next global step to process
	pos        int // step within the sequence for next
	seq        int // sequence for next in PlayAll mode
	lastTime   float64
	lastNow    float64
	skipped    int

	recent []StepInfo
	onStep []func(StepInfo)
}

const maxRecent = 64

// New creates a stopped scheduler. When the tick source factory fails the
// scheduler falls back to an IntervalTickSource with the wider fallback
// window and reports the condition through Degraded and opts.Warn.
func New(opts Options) (*Scheduler, error) {
	if opts.Clock == nil || opts.Project == nil || opts.Target == nil {
		return nil, errors.New("scheduler: clock, project and target are required")
	}
	if opts.Factory == nil {
		opts.Factory = NewWorkerTickSource
	}
	if opts.Window <= 0 {
		opts.Window = 120 * time.Millisecond
	}
	if opts.FallbackWindow < opts.Window {
		opts.FallbackWindow = max(250*time.Millisecond, opts.Window)
	}
	if opts.TickDivision <= 0 {
		opts.TickDivision = 4
	}
	if opts.Gate <= 0 || opts.Gate > 1 {
		opts.Gate = 0.8
	}

	bpm := opts.Project.Project().BPM
	if bpm <= 0 {
		bpm = project.DefaultBPM
	}
	tr, err := transport.New(bpm)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		clock:     opts.Clock,
		source:    opts.Project,
		target:    opts.Target,
		log:       opts.Logger,
		warn:      opts.Warn,
		window:    opts.Window,
		division:  opts.TickDivision,
		gate:      opts.Gate,
		transport: tr,
		bpm:       bpm,
		stepDur:   stepDuration(bpm),
	}

	src, err := opts.Factory()
	if err == nil && src == nil {
		err = errors.New("factory returned no tick source")
	}
	if err != nil {
		s.degraded = errs.Unavailable("tick worker", err)
		s.src = NewIntervalTickSource()
		s.window = opts.FallbackWindow
		s.log.Warn("sched", "%v; interval timer with %v lookahead", s.degraded, s.window)
		if s.warn != nil {
			s.warn.HandleError(s.degraded)
		}
	} else {
		s.src = src
	}
	return s, nil
}

func stepDuration(bpm float64) float64 {
	return 60 / bpm / transport.StepsPerBeat
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Ticks is the channel the owner selects on; call HandleTick for each
// message received.
func (s *Scheduler) Ticks() <-chan TickMessage { return s.src.Ticks() }

// Window returns the lookahead in use
func (s *Scheduler) Window() time.Duration { return s.window }

// Degraded returns the reason the fallback timer is in use, or nil
func (s *Scheduler) Degraded() error { return s.degraded }

// Playing reports whether the scheduler is running
func (s *Scheduler) Playing() bool { return s.playing }

// Tempo returns the BPM steps are laid out with
func (s *Scheduler) Tempo() float64 { return s.bpm }

// Skipped counts steps dropped because a tick arrived too late for them
func (s *Scheduler) Skipped() int { return s.skipped }

// Position returns the transport position in beats
func (s *Scheduler) Position() float64 { return s.transport.Position() }

// OnStep registers fn to run once per dispatched step
func (s *Scheduler) OnStep(fn func(StepInfo)) {
	s.onStep = append(s.onStep, fn)
}

func (s *Scheduler) interval() time.Duration {
	iv := s.stepDur / float64(s.division)
	return min(seconds(iv), s.window/2)
}

// Start begins playback with step 0 sounding at audio time startTime
func (s *Scheduler) Start(startTime float64) error {
	if s.playing {
		return nil
	}
	p := s.source.Project()
	if p.BPM <= 0 {
		return errs.InvalidParameter("bpm", p.BPM)
	}
	s.bpm = p.BPM
	s.stepDur = stepDuration(p.BPM)
	s.anchorTime, s.anchorStep = startTime, 0
	s.next, s.pos = 0, 0
	s.seq = p.CurrentSequence
	s.lastTime = startTime
	s.lastNow = startTime
	s.skipped = 0
	s.recent = s.recent[:0]

	s.transport.Seek(0)
	if err := s.transport.SetTempo(s.bpm); err != nil {
		return err
	}
	s.transport.Start()
	s.playing = true
	s.src.Start(seconds(s.stepDur), s.interval())
	s.log.Log("sched", "start at %.3f bpm=%.1f window=%v interval=%v", startTime, s.bpm, s.window, s.interval())

	s.HandleTick()
	return nil
}

// Stop halts the tick source, drops ticks already queued and cancels every
// note the target holds for a time after now.
func (s *Scheduler) Stop() {
	if !s.playing {
		return
	}
	s.playing = false
	s.src.Stop()
drain:
	for {
		select {
		case <-s.src.Ticks():
		default:
			break drain
		}
	}
	now := s.clock.Now()
	if err := s.safely(func() { s.target.CancelAfter(now) }); err != nil {
		s.log.Warn("sched", "cancel after %.3f: %v", now, err)
	}
	s.transport.Stop()
	s.recent = s.recent[:0]
	s.log.Log("sched", "stop at %.3f after %d steps (%d late)", now, s.next, s.skipped)
}

// SetTempo changes the tempo. While playing, steps already dispatched keep
// their times; the next step lands one new step after the last one.
func (s *Scheduler) SetTempo(bpm float64) error {
	if bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		return errs.InvalidParameter("bpm", bpm)
	}
	if bpm == s.bpm {
		return nil
	}
	if !s.playing {
		s.bpm = bpm
		s.stepDur = stepDuration(bpm)
		return s.transport.SetTempo(bpm)
	}
	s.retempo(bpm)
	return nil
}

func (s *Scheduler) retempo(bpm float64) {
	newDur := stepDuration(bpm)
	if s.next > 0 {
		s.anchorTime = s.lastTime + newDur
		s.anchorStep = s.next
	}
	s.bpm, s.stepDur = bpm, newDur
	if err := s.transport.SetTempo(bpm); err != nil {
		s.log.Warn("sched", "transport tempo: %v", err)
	}
	s.src.Start(seconds(newDur), s.interval())
	s.log.Log("sched", "tempo %.1f from step %d at %.3f", bpm, s.anchorStep, s.anchorTime)
}

func (s *Scheduler) stepTime(n int) float64 {
	return s.anchorTime + float64(n-s.anchorStep)*s.stepDur
}

// HandleTick dispatches every step due before now+window. Steps whose time
// has already passed are skipped rather than played late.
func (s *Scheduler) HandleTick() {
	if !s.playing {
		return
	}
	p := s.source.Project()
	if p.BPM != s.bpm && p.BPM > 0 {
		s.retempo(p.BPM)
	}

	now := s.clock.Now()
	if now > s.lastNow {
		s.transport.Advance(now - s.lastNow)
		s.lastNow = now
	}
	horizon := now + s.window.Seconds()

	for {
		t := s.stepTime(s.next)
		if t >= horizon {
			break
		}
		info := StepInfo{Sequence: s.sequenceIndex(p), Step: s.pos, Global: s.next, Time: t}
		if t < now {
			s.skipped++
			s.log.LogEvery(16, "sched", "step %d is %.1fms late, skipped", s.next, (now-t)*1000)
		} else {
			s.dispatch(p, info)
			s.stepped(info)
		}
		s.lastTime = t
		s.advance(p)
	}
}

func (s *Scheduler) sequenceIndex(p *project.Project) int {
	if p.PlayMode != project.PlayAll {
		s.seq = p.CurrentSequence
	}
	if s.seq < 0 || s.seq >= len(p.Sequences) {
		s.seq = 0
	}
	return s.seq
}

func (s *Scheduler) advance(p *project.Project) {
	s.next++
	s.pos++
	if s.pos >= project.TotalSteps {
		s.pos = 0
		if p.PlayMode == project.PlayAll && len(p.Sequences) > 0 {
			s.seq = (s.seq + 1) % len(p.Sequences)
		}
	}
}

func (s *Scheduler) dispatch(p *project.Project, info StepInfo) {
	seq := p.Sequences[info.Sequence]
	for ci, ch := range seq.Channels {
		if info.Step >= len(ch.Steps) || !ch.Steps[info.Step] || !seq.Audible(ci) {
			continue
		}
		ev := Event{
			Sequence:  info.Sequence,
			Channel:   ci,
			ChannelID: ch.ID,
			Kind:      ch.Kind,
			Step:      info.Step,
			Velocity:  1,
			Time:      info.Time,
		}
		if info.Step < len(ch.Velocity) {
			ev.Velocity = ch.Velocity[info.Step]
		}
		if ch.Kind == project.KindInstrument {
			ev.Note = project.DefaultPatch().BaseNote
			if ch.InstrumentPatch != nil {
				ev.Note = ch.InstrumentPatch.BaseNote
			}
			ev.Duration = s.gate * s.stepDur
		}
		if err := s.send(ev); err != nil {
			s.log.Warn("sched", "channel %s step %d: %v", ch.ID, info.Step, err)
		}
	}
}

func (s *Scheduler) send(ev Event) error {
	return s.safely(func() {
		s.target.TriggerAttack(ev.ChannelID, ev.Note, ev.Velocity, ev.Time)
		if ev.Duration > 0 {
			s.target.TriggerRelease(ev.ChannelID, ev.Note, ev.Time+ev.Duration)
		}
	})
}

// safely runs fn, turning a panic into an error
func (s *Scheduler) safely(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	fn()
	return nil
}

func (s *Scheduler) stepped(info StepInfo) {
	if len(s.recent) == maxRecent {
		s.recent = append(s.recent[:0], s.recent[1:]...)
	}
	s.recent = append(s.recent, info)
	for _, fn := range s.onStep {
		if err := s.safely(func() { fn(info) }); err != nil {
			s.log.Warn("sched", "step listener: %v", err)
		}
	}
}

// Current returns the latest dispatched step sounding at or before now
func (s *Scheduler) Current(now float64) (StepInfo, bool) {
	for i := len(s.recent) - 1; i >= 0; i-- {
		if s.recent[i].Time <= now {
			return s.recent[i], true
		}
	}
	return StepInfo{}, false
}

// Close stops playback and terminates the tick source
func (s *Scheduler) Close() {
	s.Stop()
	s.src.Close()
}
