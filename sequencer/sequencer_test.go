package sequencer

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"go-audionaut/audio"
	"go-audionaut/config"
	"go-audionaut/errs"
	"go-audionaut/project"
	"go-audionaut/rack"
	"go-audionaut/samples"
	"go-audionaut/scheduler"
)

// fakeTicks hands ticks over an unbuffered channel, so a send returns only
// once the owner loop has picked the tick up.
type fakeTicks struct{ ch chan scheduler.TickMessage }

func (f *fakeTicks) Start(_, _ time.Duration)            {}
func (f *fakeTicks) Stop()                               {}
func (f *fakeTicks) Ticks() <-chan scheduler.TickMessage { return f.ch }
func (f *fakeTicks) Close()                              {}

func newFakeTicks() *fakeTicks {
	return &fakeTicks{ch: make(chan scheduler.TickMessage)}
}

func (f *fakeTicks) factory() (scheduler.TickSource, error) { return f, nil }

func (f *fakeTicks) tick() {
	f.ch <- scheduler.TickMessage{Action: scheduler.ActionScheduleNotes}
}

type fixture struct {
	seq   *Sequencer
	clock *audio.ManualClock
	ticks *fakeTicks
}

func start(t *testing.T, cfg *config.Config, opts Options) *fixture {
	t.Helper()
	f := &fixture{clock: &audio.ManualClock{}, ticks: newFakeTicks()}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	opts.Config = cfg
	if opts.Clock == nil {
		opts.Clock = f.clock
	}
	opts.Ticks = f.ticks.factory
	if opts.Fetcher == nil {
		opts.Fetcher = samples.FetcherFunc(func(context.Context, string) ([]byte, error) {
			return nil, errors.New("no samples in this test")
		})
	}
	s, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	f.seq = s

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		s.Close()
	})
	return f
}

func wavBytes(t *testing.T, frames int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "s.wav")
	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	data := make([]int, frames)
	for i := range data {
		data[i] = 16000
	}
	enc := wav.NewEncoder(out, 44100, 16, 1, 1)
	if err := enc.Write(&goaudio.IntBuffer{Format: &goaudio.Format{NumChannels: 1, SampleRate: 44100}, Data: data, SourceBitDepth: 16}); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	out.Close()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestPlayStopState(t *testing.T) {
	f := start(t, nil, Options{})
	s := f.seq

	if st := s.State(); st.IsPlaying || st.CurrentStep != -1 {
		t.Fatalf("initial state = %+v", st)
	}
	if err := s.ToggleStep(0, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := s.Play(); err != nil {
		t.Fatal(err)
	}
	st := s.State()
	if !st.IsPlaying || math.Abs(st.StartTimestamp-0.08) > 1e-9 {
		t.Fatalf("state after play = %+v", st)
	}
	if st.CurrentStep != -1 {
		t.Fatalf("step 0 reported before it sounds: %+v", st)
	}

	f.clock.Set(0.1)
	f.ticks.tick()
	s.Edit(func(*project.Store) error { return nil }) // wait for the tick to finish
	if st := s.State(); st.CurrentStep != 0 || st.CurrentSequenceIndex != 0 {
		t.Fatalf("state after tick = %+v", st)
	}

	f.clock.Set(0.35) // step 2 at 0.33 has sounded
	f.ticks.tick()
	s.Edit(func(*project.Store) error { return nil })
	if st := s.State(); st.CurrentStep != 2 {
		t.Fatalf("current step = %d, want 2", st.CurrentStep)
	}

	s.Stop()
	if st := s.State(); st.IsPlaying {
		t.Fatalf("state after stop = %+v", st)
	}
}

func TestOnStepAdvance(t *testing.T) {
	f := start(t, nil, Options{})
	var mu sync.Mutex
	var got []StepInfo
	f.seq.OnStepAdvance(func(info StepInfo) {
		mu.Lock()
		got = append(got, info)
		mu.Unlock()
	})
	f.seq.Play()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Step != 0 || math.Abs(got[0].Time-0.08) > 1e-9 {
		t.Fatalf("steps = %+v", got)
	}
}

func TestTempoAndValidation(t *testing.T) {
	f := start(t, nil, Options{})
	s := f.seq
	before := s.Project()

	if err := s.SetTempo(-5); !errors.Is(err, errs.ErrInvalidParameter) {
		t.Fatalf("err = %v", err)
	}
	if err := s.ToggleStep(0, 0, project.TotalSteps); !errors.Is(err, errs.ErrInvalidParameter) {
		t.Fatalf("err = %v", err)
	}
	if s.Project() != before {
		t.Fatal("rejected calls changed the project")
	}
	if err := s.SetTempo(140); err != nil {
		t.Fatal(err)
	}
	if s.Project().BPM != 140 || s.State().Tempo != 140 {
		t.Fatalf("bpm = %v state = %+v", s.Project().BPM, s.State())
	}
}

func TestSaveAndLoadProject(t *testing.T) {
	a := start(t, nil, Options{}).seq
	a.SetTempo(100)
	a.ToggleStep(0, 2, 5)
	data, err := a.SaveProject()
	if err != nil {
		t.Fatal(err)
	}

	b := start(t, nil, Options{}).seq
	b.Play()
	if err := b.LoadProject(data); err != nil {
		t.Fatal(err)
	}
	p := b.Project()
	if p.BPM != 100 || !p.Sequences[0].Channels[2].Steps[5] {
		t.Fatalf("loaded bpm=%v step=%v", p.BPM, p.Sequences[0].Channels[2].Steps[5])
	}
	if b.State().IsPlaying {
		t.Fatal("load did not stop playback")
	}

	before := b.Project()
	if err := b.LoadProject([]byte(`{"sequences": []}`)); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
	if b.Project() != before {
		t.Fatal("failed load replaced the project")
	}
}

func TestDecodeFailureSilencesOneChannel(t *testing.T) {
	good := wavBytes(t, 4410)
	cfg := config.DefaultConfig()
	cfg.Project.InitialSamplerChannels = 2
	cfg.Project.InitialInstrumentChannels = 0
	cfg.Project.DefaultSampleRefs = []string{"bad.wav", "good.wav"}

	warnings := make(chan error, 8)
	f := start(t, cfg, Options{
		Fetcher: samples.FetcherFunc(func(_ context.Context, ref string) ([]byte, error) {
			if ref == "good.wav" {
				return good, nil
			}
			return []byte("not audio"), nil
		}),
		Warn: errs.HandlerFunc(func(err error) { warnings <- err }),
	})

	select {
	case err := <-warnings:
		if !errors.Is(err, errs.ErrDecode) {
			t.Fatalf("warning = %v, want a decode error", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no decode warning")
	}

	channels := f.seq.Project().Sequences[0].Channels
	loaded := func(id string) bool {
		var ok bool
		f.seq.Edit(func(*project.Store) error {
			inst, _ := f.seq.Rack().Instrument(id)
			ok = inst.(*rack.Sampler).Loaded()
			return nil
		})
		return ok
	}
	deadline := time.Now().Add(5 * time.Second)
	for !loaded(channels[1].ID) {
		if time.Now().After(deadline) {
			t.Fatal("good sample never loaded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if loaded(channels[0].ID) {
		t.Fatal("bad channel has a sample")
	}
	if err := f.seq.Play(); err != nil {
		t.Fatalf("play with a silenced channel: %v", err)
	}
}

func TestRendersThroughEngine(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Project.InitialSamplerChannels = 0
	cfg.Project.InitialInstrumentChannels = 1

	f := &fixture{ticks: newFakeTicks()}
	s, err := New(Options{Config: cfg, Ticks: f.ticks.factory})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
		s.Close()
	}()

	s.ToggleStep(0, 0, 0)
	s.Play()

	rate := s.Engine().SampleRate()
	out := s.Engine().RenderFrames(rate / 5) // 200ms
	onset := int(0.08 * float64(rate))
	var before, after float64
	for i := 0; i < len(out)/2; i++ {
		v := math.Abs(float64(out[2*i]))
		if i < onset-1 {
			before = math.Max(before, v)
		} else {
			after = math.Max(after, v)
		}
	}
	if before != 0 {
		t.Fatalf("sound before the first step: %v", before)
	}
	if after == 0 {
		t.Fatal("no sound after the first step")
	}
	if math.Abs(s.Engine().Now()-0.2) > 1e-3 {
		t.Fatalf("audio clock = %v", s.Engine().Now())
	}
}

func TestCallsAfterClose(t *testing.T) {
	s, err := New(Options{Ticks: newFakeTicks().factory})
	if err != nil {
		t.Fatal(err)
	}
	s.Close()
	s.Close()
	if err := s.Play(); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v", err)
	}
}

func TestCommitRecording(t *testing.T) {
	type note struct{ at, velocity float64 }
	tests := []struct {
		name      string
		play      bool // origin moves to the play start at 0.08
		notes     []note
		maxEvents int
		want      map[int]float64
	}{
		{
			name:  "stopped",
			notes: []note{{0.26, 0.5}, {0.49, 1}, {1.0, 0.75}, {1.01, 0.25}},
			want:  map[int]float64{2: 0.5, 4: 1, 8: 0.75},
		},
		{
			name:  "counted from play",
			play:  true,
			notes: []note{{0.08 + 0.375 + 0.02, 0.6}, {0.08 + 8 + 0.125, 1}},
			want:  map[int]float64{3: 0.6, 1: 1},
		},
		{
			name:      "thinned",
			notes:     []note{{0, 1}, {0.125, 1}, {0.25, 1}, {0.375, 0.5}},
			maxEvents: 2,
			want:      map[int]float64{0: 1, 3: 0.5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := start(t, nil, Options{}).seq
			const row = 8 // first instrument channel
			id := s.Project().Channel(0, row).ID

			if err := s.ArmRecording(0, row, true); err != nil {
				t.Fatal(err)
			}
			if !s.RecordingArmed(0, row) {
				t.Fatal("recorder not armed")
			}
			if tt.play {
				if err := s.Play(); err != nil {
					t.Fatal(err)
				}
			}
			for _, n := range tt.notes {
				s.Rack().TriggerAttack(id, 60, n.velocity, n.at)
			}

			got, err := s.CommitRecording(0, row, tt.maxEvents)
			if err != nil {
				t.Fatal(err)
			}
			if got != len(tt.want) {
				t.Errorf("committed %d steps, want %d", got, len(tt.want))
			}
			ch := s.Project().Channel(0, row)
			for step, on := range ch.Steps {
				v, want := tt.want[step]
				if on != want {
					t.Errorf("step %d = %v, want %v", step, on, want)
				}
				if want && ch.Velocity[step] != v {
					t.Errorf("velocity %d = %v, want %v", step, ch.Velocity[step], v)
				}
			}

			if n, err := s.CommitRecording(0, row, 0); err != nil || n != 0 {
				t.Fatalf("second commit = %d, %v; want an empty take", n, err)
			}
		})
	}
}

func TestArmRecordingErrors(t *testing.T) {
	s := start(t, nil, Options{}).seq

	if err := s.ArmRecording(0, 0, true); !errors.Is(err, errs.ErrCapabilityUnavailable) {
		t.Errorf("sampler: err = %v, want ErrCapabilityUnavailable", err)
	}
	if err := s.ArmRecording(0, 99, true); !errors.Is(err, errs.ErrInvalidParameter) {
		t.Errorf("missing channel: err = %v, want ErrInvalidParameter", err)
	}

	id := s.Project().Channel(0, 9).ID
	s.Rack().TriggerAttack(id, 60, 1, 0.5) // not armed yet
	if err := s.ArmRecording(0, 9, true); err != nil {
		t.Fatal(err)
	}
	if err := s.ArmRecording(0, 9, false); err != nil {
		t.Fatal(err)
	}
	if s.RecordingArmed(0, 9) {
		t.Fatal("still armed")
	}
	s.Rack().TriggerAttack(id, 60, 1, 0.75) // disarmed again
	if n, err := s.CommitRecording(0, 9, 0); err != nil || n != 0 {
		t.Fatalf("commit = %d, %v; want nothing recorded", n, err)
	}
}
