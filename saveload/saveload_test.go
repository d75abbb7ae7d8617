package saveload

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"go-audionaut/errs"
	"go-audionaut/project"
)

func sampleProject(t *testing.T) *project.Project {
	t.Helper()
	s := project.NewStore(project.DefaultOptions())
	s.SetTempo(96)
	s.SetStep(0, 0, 0, true)
	s.SetStep(0, 0, 8, true)
	s.SetStep(0, 9, 4, true)
	s.SetVelocity(0, 0, 8, 0.5)
	s.SetMixer(0, 2, project.Mixer{Gain: 0.7, Pan: -0.25, Solo: false, Mute: true})
	s.SetSampleRef(0, 1, "file:///samples/snare.wav")
	crush, _ := project.NewInsertEffect(project.EffectBitcrusher)
	s.SetInsertEffect(0, 1, 0, crush)
	reverb, _ := project.NewInsertEffect(project.EffectReverb)
	reverb.Enabled = false
	s.SetInsertEffect(0, 1, 1, reverb)
	patch := project.DefaultPatch()
	patch.Waveform = project.WaveSquare
	patch.BaseNote = 48
	s.SetPatch(0, 8, patch)
	s.AddSequence()
	s.SetStep(1, 3, 63, true)
	s.SetPlayMode(project.PlayAll)
	return s.Project()
}

func TestRoundTrip(t *testing.T) {
	store := func(edit func(s *project.Store)) func(t *testing.T) *project.Project {
		return func(t *testing.T) *project.Project {
			s := project.NewStore(project.DefaultOptions())
			edit(s)
			return s.Project()
		}
	}
	tests := []struct {
		name  string
		build func(t *testing.T) *project.Project
	}{
		{"edited project", sampleProject},
		{"default project", store(func(*project.Store) {})},
		{"unnamed patch", store(func(s *project.Store) {
			patch := project.DefaultPatch()
			patch.Name = ""
			s.SetPatch(0, 9, patch)
		})},
		{"zero gain", store(func(s *project.Store) {
			s.SetMixer(0, 0, project.Mixer{Gain: 0, Pan: 1})
			s.SetMixer(0, 8, project.Mixer{Gain: 0, Solo: true})
		})},
		{"every effect kind", store(func(s *project.Store) {
			for i, kind := range project.EffectKinds {
				on, _ := project.NewInsertEffect(kind)
				off := on
				off.Enabled = false
				if i%2 == 0 {
					on, off = off, on
				}
				s.SetInsertEffect(0, 0, i, on)
				s.SetInsertEffect(0, 8, i, off)
			}
		})},
		{"named project and channels", func(t *testing.T) *project.Project {
			p := project.NewStore(project.DefaultOptions()).Snapshot()
			p.Name = "demo"
			p.Sequences[0].Channels[0].Name = "kick"
			return p
		}},
		{"empty names", func(t *testing.T) *project.Project {
			p := sampleProject(t).Clone()
			p.Name = ""
			for _, ch := range p.Sequences[0].Channels {
				ch.Name = ""
			}
			return p
		}},
		{"play all", store(func(s *project.Store) {
			s.AddSequence()
			s.SetPlayMode(project.PlayAll)
		})},
		{"non-zero current sequence", store(func(s *project.Store) {
			s.AddSequence()
			s.AddSequence()
			s.SetCurrentSequence(2)
		})},
		{"next instrument id just past highest", store(func(s *project.Store) {
			s.AddChannel(project.KindInstrument)
		})},
		{"next instrument id far ahead", func(t *testing.T) *project.Project {
			p := project.NewStore(project.DefaultOptions()).Snapshot()
			p.NextInstrumentID = 1 << 20
			return p
		}},
		{"no instrument channels", func(t *testing.T) *project.Project {
			return project.NewStore(project.Options{SamplerChannels: 1, BPM: 140}).Project()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.build(t)
			data, err := Save(p)
			if err != nil {
				t.Fatal(err)
			}
			got, err := Load(data)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, p) {
				t.Fatalf("round trip mismatch\n got: %+v\nwant: %+v", got, p)
			}

			var buf bytes.Buffer
			if err := Encode(&buf, p); err != nil {
				t.Fatal(err)
			}
			got, err = Decode(&buf)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, p) {
				t.Fatal("encode/decode mismatch")
			}
		})
	}
}

func TestUnnamedPatchStaysUnnamed(t *testing.T) {
	s := project.NewStore(project.DefaultOptions())
	patch := project.DefaultPatch()
	patch.Name = ""
	if err := s.SetPatch(0, 8, patch); err != nil {
		t.Fatal(err)
	}
	data, err := Save(s.Project())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte(`"name": ""`)) {
		t.Fatalf("empty patch name not written:\n%s", data)
	}
	p, err := Load(data)
	if err != nil {
		t.Fatal(err)
	}
	if name := p.Sequences[0].Channels[8].InstrumentPatch.Name; name != "" {
		t.Fatalf("patch name = %q, want empty", name)
	}
}

func TestSaveRejectsStaleNextInstrumentID(t *testing.T) {
	p := project.NewStore(project.DefaultOptions()).Snapshot()
	p.NextInstrumentID = 0
	if _, err := Save(p); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	in := `{
		"sequences": [{
			"id": "s1",
			"channels": [
				{"id": "c1", "steps": [true, false, true]},
				{"id": "c2", "kind": "instrument", "instrumentId": "inst-7",
				 "insertEffects": [{"type": "delay", "enabled": true, "settings": {"wet": 0.9}}],
				 "sampler": {"regionStart": 0.25}}
			]
		}]
	}`
	p, err := Load([]byte(in))
	if err != nil {
		t.Fatal(err)
	}
	if p.BPM != 120 {
		t.Errorf("bpm = %v, want 120", p.BPM)
	}
	if p.PlayMode != project.PlaySequence {
		t.Errorf("play mode = %q", p.PlayMode)
	}
	if p.NextInstrumentID != 8 {
		t.Errorf("nextInstrumentId = %d, want 8", p.NextInstrumentID)
	}

	c1 := p.Sequences[0].Channels[0]
	if c1.Kind != project.KindSampler {
		t.Errorf("kind = %q, want sampler", c1.Kind)
	}
	if len(c1.Steps) != project.TotalSteps || !c1.Steps[0] || c1.Steps[1] || !c1.Steps[2] || c1.Steps[3] {
		t.Errorf("steps not padded: %v", c1.Steps[:4])
	}
	for i, v := range c1.Velocity {
		if v != 1 {
			t.Fatalf("velocity[%d] = %v, want 1", i, v)
		}
	}
	if c1.Mixer != project.DefaultMixer() {
		t.Errorf("mixer = %+v", c1.Mixer)
	}
	if c1.InsertEffects == nil || len(c1.InsertEffects) != 0 {
		t.Errorf("insert effects = %#v", c1.InsertEffects)
	}

	c2 := p.Sequences[0].Channels[1]
	want := project.DelaySettings{Time: 0.25, Feedback: 0.35, Wet: 0.9}
	if c2.InsertEffects[0].Settings != want {
		t.Errorf("delay settings = %+v", c2.InsertEffects[0].Settings)
	}
	if c2.InstrumentPatch == nil || *c2.InstrumentPatch != project.DefaultPatch() {
		t.Errorf("patch = %+v", c2.InstrumentPatch)
	}
	if c2.Sampler.RegionStart != 0.25 || c2.Sampler.RegionEnd != 1 || c2.Sampler.PlaybackRate != 1 {
		t.Errorf("sampler = %+v", c2.Sampler)
	}
}

func TestLoadTruncatesLongSteps(t *testing.T) {
	steps := strings.Repeat("true,", 70) + "true"
	in := `{"sequences":[{"id":"s","channels":[{"id":"c","steps":[` + steps + `]}]}]}`
	p, err := Load([]byte(in))
	if err != nil {
		t.Fatal(err)
	}
	if n := len(p.Sequences[0].Channels[0].Steps); n != project.TotalSteps {
		t.Fatalf("steps = %d", n)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	many := strings.Repeat(`{"id":"x"},`, project.MaxChannels) + `{"id":"y"}`
	tests := []struct {
		name string
		in   string
	}{
		{"not json", `{"sequences": [`},
		{"no sequences", `{"bpm": 120, "sequences": []}`},
		{"sequence without id", `{"sequences":[{"channels":[{"id":"c"}]}]}`},
		{"channel without id", `{"sequences":[{"id":"s","channels":[{"steps":[]}]}]}`},
		{"instrument without instrumentId", `{"sequences":[{"id":"s","channels":[{"id":"c","kind":"instrument"}]}]}`},
		{"unknown effect", `{"sequences":[{"id":"s","channels":[{"id":"c","insertEffects":[{"type":"flanger","enabled":true}]}]}]}`},
		{"too many channels", `{"sequences":[{"id":"s","channels":[` + many + `]}]}`},
		{"zero bpm", `{"bpm":0,"sequences":[{"id":"s","channels":[{"id":"c"}]}]}`},
		{"duplicate channel id", `{"sequences":[{"id":"s","channels":[{"id":"c"},{"id":"c"}]}]}`},
		{"current sequence out of range", `{"currentSequence":3,"sequences":[{"id":"s","channels":[{"id":"c"}]}]}`},
		{"newer schema", `{"version":2,"sequences":[{"id":"s","channels":[{"id":"c"}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.in))
			if !errors.Is(err, errs.ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestFailedLoadLeavesStore(t *testing.T) {
	s := project.NewStore(project.DefaultOptions())
	s.SetStep(0, 0, 0, true)
	before := s.Project()

	p, err := Load([]byte(`{"sequences":[{"channels":[]}]}`))
	if err == nil {
		s.Replace(p)
		t.Fatal("expected an error")
	}
	if s.Project() != before {
		t.Fatal("store changed")
	}
}

func TestExportSMF(t *testing.T) {
	p := sampleProject(t)
	var buf bytes.Buffer
	if err := ExportSMF(&buf, p, 0.5); err != nil {
		t.Fatal(err)
	}

	rd, err := smf.ReadFrom(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if len(rd.Tracks) != 1+len(p.Sequences[0].Channels) {
		t.Fatalf("tracks = %d", len(rd.Tracks))
	}
	if tc := rd.TempoChanges(); len(tc) == 0 || tc[0].BPM != 96 {
		t.Fatalf("tempo changes = %v", tc)
	}

	// track n+1 holds channel n. Channel 0 has two steps, channel 3 one in
	// the second sequence, channel 9 one and channel 8 none.
	want := map[int]int{1: 2, 4: 1, 9: 0, 10: 1}
	for track, n := range want {
		var got int
		for _, ev := range rd.Tracks[track] {
			var ch, key, vel uint8
			if midi.Message(ev.Message).GetNoteStart(&ch, &key, &vel) {
				got++
			}
		}
		if got != n {
			t.Errorf("track %d: %d note-ons, want %d", track, got, n)
		}
	}
}

func TestExportKit(t *testing.T) {
	s := project.NewStore(project.Options{SamplerChannels: 2})
	s.SetStep(0, 1, 0, true)

	tests := []struct {
		kit  string
		want uint8
	}{
		{"gm", 38},
		{"rd8", 40},
		{"unknown", 38},
	}
	for _, tt := range tests {
		t.Run(tt.kit, func(t *testing.T) {
			var buf bytes.Buffer
			if err := ExportSMFKit(&buf, s.Project(), 0.5, GetKit(tt.kit)); err != nil {
				t.Fatal(err)
			}
			rd, err := smf.ReadFrom(bytes.NewReader(buf.Bytes()))
			if err != nil {
				t.Fatal(err)
			}
			var ch, key, vel uint8
			found := false
			for _, ev := range rd.Tracks[2] {
				if midi.Message(ev.Message).GetNoteStart(&ch, &key, &vel) {
					found = true
					break
				}
			}
			if !found || ch != 9 || key != tt.want {
				t.Errorf("note = ch %d key %d (found %v), want ch 9 key %d", ch, key, found, tt.want)
			}
		})
	}

	if names := KitNames(); len(names) != 4 || names[0] != "er1" {
		t.Errorf("kit names = %v", names)
	}
}
