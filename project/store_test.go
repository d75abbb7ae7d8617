package project

import (
	"errors"
	"testing"

	"go-audionaut/errs"
)

func TestInitializeProjectLayout(t *testing.T) {
	s := NewStore(DefaultOptions())
	p := s.InitializeProject()

	if len(p.Sequences) != 1 {
		t.Fatalf("sequences = %d, want 1", len(p.Sequences))
	}
	seq := p.Sequences[0]
	if len(seq.Channels) != 10 {
		t.Fatalf("channels = %d, want 10", len(seq.Channels))
	}
	samplers, instruments := 0, 0
	for i, ch := range seq.Channels {
		if len(ch.Steps) != TotalSteps {
			t.Fatalf("channel %d: %d steps", i, len(ch.Steps))
		}
		for j, on := range ch.Steps {
			if on {
				t.Fatalf("channel %d step %d is on", i, j)
			}
		}
		switch ch.Kind {
		case KindSampler:
			samplers++
		case KindInstrument:
			instruments++
			if ch.InstrumentID == "" || ch.InstrumentPatch == nil {
				t.Errorf("instrument channel %d missing id or patch", i)
			}
		}
	}
	if samplers != 8 || instruments != 2 {
		t.Errorf("samplers=%d instruments=%d, want 8/2", samplers, instruments)
	}
	if err := Validate(p); err != nil {
		t.Fatalf("fresh project invalid: %v", err)
	}
}

func TestToggleStepIsolation(t *testing.T) {
	s := NewStore(DefaultOptions())
	before := s.Project()

	on, err := s.ToggleStep(0, 0, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !on {
		t.Fatal("toggle returned false for an off step")
	}
	if before.Sequences[0].Channels[0].Steps[3] {
		t.Fatal("earlier reference observed the mutation")
	}
	after := s.Project()
	if !after.Sequences[0].Channels[0].Steps[3] {
		t.Fatal("new reference does not show the step")
	}
	// untouched channels are shared, the touched one is not
	if before.Sequences[0].Channels[1] != after.Sequences[0].Channels[1] {
		t.Error("untouched channel was copied")
	}
	if before.Sequences[0].Channels[0] == after.Sequences[0].Channels[0] {
		t.Error("touched channel was not copied")
	}

	on, _ = s.ToggleStep(0, 0, 3)
	if on {
		t.Fatal("second toggle should turn the step off")
	}
}

func TestSnapshotIsDeep(t *testing.T) {
	s := NewStore(DefaultOptions())
	snap := s.Snapshot()
	snap.Sequences[0].Channels[0].Steps[0] = true
	snap.BPM = 90
	if s.Project().Sequences[0].Channels[0].Steps[0] || s.Project().BPM != DefaultBPM {
		t.Fatal("snapshot shares state with the store")
	}
}

func TestOperationsRejectBadInput(t *testing.T) {
	tests := []struct {
		name string
		op   func(s *Store) error
	}{
		{"step out of range", func(s *Store) error { _, err := s.ToggleStep(0, 0, TotalSteps); return err }},
		{"negative step", func(s *Store) error { return s.SetStep(0, 0, -1, true) }},
		{"bad sequence", func(s *Store) error { _, err := s.ToggleStep(5, 0, 0); return err }},
		{"bad channel", func(s *Store) error { _, err := s.ToggleStep(0, 99, 0); return err }},
		{"zero tempo", func(s *Store) error { return s.SetTempo(0) }},
		{"velocity above one", func(s *Store) error { return s.SetVelocity(0, 0, 0, 1.5) }},
		{"remove last sequence", func(s *Store) error { return s.RemoveSequence(0) }},
		{"pan out of range", func(s *Store) error { return s.SetMixer(0, 0, Mixer{Gain: 1, Pan: 2}) }},
		{"patch on sampler", func(s *Store) error { return s.SetPatch(0, 0, DefaultPatch()) }},
		{"sample on instrument", func(s *Store) error { return s.SetSampleRef(0, 9, "kick.wav") }},
		{"effect slot gap", func(s *Store) error {
			fx, _ := NewInsertEffect(EffectDelay)
			return s.SetInsertEffect(0, 0, 3, fx)
		}},
		{"bad play mode", func(s *Store) error { return s.SetPlayMode("shuffle") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(DefaultOptions())
			before := s.Project()
			err := tt.op(s)
			if !errors.Is(err, errs.ErrInvalidParameter) {
				t.Fatalf("err = %v, want ErrInvalidParameter", err)
			}
			if s.Project() != before {
				t.Fatal("failed operation replaced the project")
			}
		})
	}
}

func TestAddSequenceUsesTemplate(t *testing.T) {
	s := NewStore(DefaultOptions())
	s.SetStep(0, 0, 0, true)
	s.SetMixer(0, 1, Mixer{Gain: 0.5, Pan: -0.5})
	s.SetSampleRef(0, 2, "snare.wav")

	idx, err := s.AddSequence()
	if err != nil {
		t.Fatal(err)
	}
	p := s.Project()
	if idx != 1 || len(p.Sequences) != 2 {
		t.Fatalf("idx=%d sequences=%d", idx, len(p.Sequences))
	}
	src, dst := p.Sequences[0], p.Sequences[1]
	if len(dst.Channels) != len(src.Channels) {
		t.Fatalf("channel count %d, want %d", len(dst.Channels), len(src.Channels))
	}
	if dst.Channels[0].Steps[0] {
		t.Error("template steps were copied")
	}
	if dst.Channels[1].Mixer != src.Channels[1].Mixer {
		t.Error("mixer not copied from template")
	}
	if dst.Channels[2].SampleRef != "snare.wav" {
		t.Error("sample ref not copied from template")
	}
	if dst.ID == src.ID || dst.Channels[0].ID == src.Channels[0].ID {
		t.Error("ids reused")
	}
	if err := Validate(p); err != nil {
		t.Fatalf("project invalid after AddSequence: %v", err)
	}
}

func TestRemoveSequenceKeepsCurrentInRange(t *testing.T) {
	s := NewStore(DefaultOptions())
	s.AddSequence()
	s.AddSequence()
	if err := s.SetCurrentSequence(2); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveSequence(2); err != nil {
		t.Fatal(err)
	}
	if got := s.Project().CurrentSequence; got != 1 {
		t.Fatalf("current = %d, want 1", got)
	}
	if err := s.RemoveSequence(0); err != nil {
		t.Fatal(err)
	}
	if got := s.Project().CurrentSequence; got != 0 {
		t.Fatalf("current = %d, want 0", got)
	}
}

func TestAddChannelLimit(t *testing.T) {
	s := NewStore(DefaultOptions())
	s.AddSequence()
	for i := 10; i < MaxChannels; i++ {
		if _, err := s.AddChannel(KindInstrument); err != nil {
			t.Fatalf("add channel %d: %v", i, err)
		}
	}
	if _, err := s.AddChannel(KindSampler); !errors.Is(err, errs.ErrInvalidParameter) {
		t.Fatalf("err = %v, want ErrInvalidParameter", err)
	}
	p := s.Project()
	for i, seq := range p.Sequences {
		if len(seq.Channels) != MaxChannels {
			t.Errorf("sequence %d has %d channels", i, len(seq.Channels))
		}
	}
	if err := Validate(p); err != nil {
		t.Fatal(err)
	}
}

func TestInsertEffects(t *testing.T) {
	s := NewStore(DefaultOptions())
	delay, _ := NewInsertEffect(EffectDelay)
	crush, _ := NewInsertEffect(EffectBitcrusher)

	if err := s.SetInsertEffect(0, 0, 0, delay); err != nil {
		t.Fatal(err)
	}
	if err := s.SetInsertEffect(0, 0, 1, crush); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveInsertEffect(0, 0, 0); err != nil {
		t.Fatal(err)
	}
	fx := s.Project().Sequences[0].Channels[0].InsertEffects
	if len(fx) != 1 || fx[0].Kind() != EffectBitcrusher {
		t.Fatalf("effects = %+v", fx)
	}
	if bits := fx[0].Settings.(BitcrusherSettings).Bits; bits != 4 {
		t.Errorf("bitcrusher bits = %v, want 4", bits)
	}
}

func TestSubscribe(t *testing.T) {
	s := NewStore(DefaultOptions())
	var got []Change
	cancel := s.Subscribe(func(c Change) { got = append(got, c) })

	s.ToggleStep(0, 1, 2)
	s.SetTempo(140)
	s.SetTempo(-1) // rejected, no event

	if len(got) != 2 {
		t.Fatalf("events = %v", got)
	}
	if got[0] != (Change{Kind: ChangeStep, Sequence: 0, Channel: 1, Step: 2}) {
		t.Errorf("first event = %+v", got[0])
	}
	if got[1].Kind != ChangeTempo {
		t.Errorf("second event = %v", got[1].Kind)
	}

	cancel()
	s.SetTempo(100)
	if len(got) != 2 {
		t.Fatal("event delivered after cancel")
	}
}

func TestReplaceValidates(t *testing.T) {
	s := NewStore(DefaultOptions())
	before := s.Project()

	bad := s.Snapshot()
	bad.Sequences[0].Channels[0].Steps = bad.Sequences[0].Channels[0].Steps[:10]
	if err := s.Replace(bad); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if s.Project() != before {
		t.Fatal("invalid project was swapped in")
	}

	good := s.Snapshot()
	good.BPM = 90
	if err := s.Replace(good); err != nil {
		t.Fatal(err)
	}
	good.BPM = 60
	if s.Project().BPM != 90 {
		t.Fatal("store shares the replaced project with the caller")
	}
}

func TestValidateNextInstrumentID(t *testing.T) {
	tests := []struct {
		name string
		next int
		ok   bool
	}{
		{"store value", 2, true},
		{"ahead of every id", 9, true},
		{"equal to highest id", 1, false},
		{"zero", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewStore(DefaultOptions()).Snapshot() // inst-0 and inst-1
			p.NextInstrumentID = tt.next
			err := Validate(p)
			if tt.ok && err != nil {
				t.Fatalf("err = %v", err)
			}
			if !tt.ok && !errors.Is(err, errs.ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestAudible(t *testing.T) {
	s := NewStore(Options{SamplerChannels: 3, BPM: 120})
	s.SetMixer(0, 0, Mixer{Gain: 1, Mute: true})
	seq := s.Project().Sequences[0]
	if seq.Audible(0) || !seq.Audible(1) || !seq.Audible(2) {
		t.Fatal("mute not applied")
	}

	s.SetMixer(0, 1, Mixer{Gain: 1, Solo: true})
	seq = s.Project().Sequences[0]
	if seq.Audible(0) || !seq.Audible(1) || seq.Audible(2) {
		t.Fatal("solo not applied")
	}
}

func TestSamplerSettingsNormalize(t *testing.T) {
	got := SamplerSettings{RegionStart: 0.8, RegionEnd: 0.2, PlaybackRate: 10, FadeIn: -1, FadeOut: 5}.Normalize()
	if got.RegionStart != 0.8 || got.RegionEnd < 0.81-1e-9 {
		t.Errorf("region = %v..%v", got.RegionStart, got.RegionEnd)
	}
	if got.PlaybackRate != 4 || got.FadeIn != 0 || got.FadeOut != 2 {
		t.Errorf("got %+v", got)
	}
}
