// Package saveload converts projects to and from their JSON file form.
//
// Load fills every optional field with its documented default and validates
// the result. It never touches a live store: callers swap the returned
// project in only when Load succeeded.
package saveload

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"go-audionaut/errs"
	"go-audionaut/project"
)

// Version is the schema version written by Save
const Version = 1

type fileProject struct {
	Version          int              `json:"version"`
	Name             string           `json:"name,omitempty"`
	BPM              *float64         `json:"bpm,omitempty"`
	Sequences        []fileSequence   `json:"sequences"`
	NextInstrumentID int              `json:"nextInstrumentId"`
	CurrentSequence  int              `json:"currentSequence"`
	PlayMode         project.PlayMode `json:"playMode,omitempty"`
}

type fileSequence struct {
	ID       string        `json:"id"`
	Channels []fileChannel `json:"channels"`
}

type fileChannel struct {
	ID              string                 `json:"id"`
	Kind            project.ChannelKind    `json:"kind,omitempty"`
	Name            string                 `json:"name,omitempty"`
	InstrumentID    string                 `json:"instrumentId,omitempty"`
	Steps           []bool                 `json:"steps"`
	Velocity        []float64              `json:"velocity,omitempty"`
	Mixer           *fileMixer             `json:"mixer,omitempty"`
	InsertEffects   []project.InsertEffect `json:"insertEffects"`
	InstrumentPatch *filePatch             `json:"instrumentPatch,omitempty"`
	SampleRef       string                 `json:"sampleUrl,omitempty"`
	Sampler         *fileSampler           `json:"sampler,omitempty"`
}

// filePatch and fileSampler start from the defaults so fields missing from
// the file keep their default value.
type filePatch project.Patch

func (fp *filePatch) UnmarshalJSON(data []byte) error {
	type plain project.Patch
	v := plain(project.DefaultPatch())
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*fp = filePatch(v)
	return nil
}

type fileSampler project.SamplerSettings

func (fs *fileSampler) UnmarshalJSON(data []byte) error {
	type plain project.SamplerSettings
	v := plain(project.DefaultSamplerSettings())
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*fs = fileSampler(v)
	return nil
}

type fileMixer struct {
	Gain *float64 `json:"gain,omitempty"`
	Pan  float64  `json:"pan"`
	Mute bool     `json:"mute"`
	Solo bool     `json:"solo"`
}

// Save serializes p. The project is validated first so a file written by
// Save always loads.
func Save(p *project.Project) ([]byte, error) {
	if err := project.Validate(p); err != nil {
		return nil, err
	}
	return json.MarshalIndent(toFile(p), "", "  ")
}

// Encode writes p to w as indented JSON
func Encode(w io.Writer, p *project.Project) error {
	data, err := Save(p)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// Decode reads a whole project from r
func Decode(r io.Reader) (*project.Project, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Load(data)
}

// Load parses data. Any structural problem is reported as an error wrapping
// errs.ErrValidation.
func Load(data []byte) (*project.Project, error) {
	var f fileProject
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, errs.ErrValidation) {
			return nil, err
		}
		return nil, errs.Validation("parse project: %v", err)
	}
	if f.Version > Version {
		return nil, errs.Validation("schema version %d is newer than %d", f.Version, Version)
	}

	p, err := fromFile(&f)
	if err != nil {
		return nil, err
	}
	if err := project.Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

func toFile(p *project.Project) *fileProject {
	bpm := p.BPM
	f := &fileProject{
		Version:          Version,
		Name:             p.Name,
		BPM:              &bpm,
		Sequences:        make([]fileSequence, len(p.Sequences)),
		NextInstrumentID: p.NextInstrumentID,
		CurrentSequence:  p.CurrentSequence,
		PlayMode:         p.PlayMode,
	}
	for i, seq := range p.Sequences {
		fs := fileSequence{ID: seq.ID, Channels: make([]fileChannel, len(seq.Channels))}
		for j, ch := range seq.Channels {
			gain := ch.Mixer.Gain
			sampler := fileSampler(ch.Sampler)
			fc := fileChannel{
				ID:              ch.ID,
				Kind:            ch.Kind,
				Name:            ch.Name,
				InstrumentID:    ch.InstrumentID,
				Steps:           ch.Steps,
				Velocity:        ch.Velocity,
				Mixer:           &fileMixer{Gain: &gain, Pan: ch.Mixer.Pan, Mute: ch.Mixer.Mute, Solo: ch.Mixer.Solo},
				InsertEffects:   ch.InsertEffects,
				InstrumentPatch: (*filePatch)(ch.InstrumentPatch),
				SampleRef:       ch.SampleRef,
				Sampler:         &sampler,
			}
			if fc.InsertEffects == nil {
				fc.InsertEffects = []project.InsertEffect{}
			}
			fs.Channels[j] = fc
		}
		f.Sequences[i] = fs
	}
	return f
}

func fromFile(f *fileProject) (*project.Project, error) {
	p := &project.Project{
		Name:             f.Name,
		BPM:              project.DefaultBPM,
		NextInstrumentID: f.NextInstrumentID,
		CurrentSequence:  f.CurrentSequence,
		PlayMode:         f.PlayMode,
	}
	if f.BPM != nil {
		if *f.BPM <= 0 {
			return nil, errs.Validation("bpm %v must be > 0", *f.BPM)
		}
		p.BPM = *f.BPM
	}
	if p.PlayMode == "" {
		p.PlayMode = project.PlaySequence
	}
	if len(f.Sequences) == 0 {
		return nil, errs.Validation("project has no sequences")
	}

	for si, fs := range f.Sequences {
		if fs.ID == "" {
			return nil, errs.Validation("sequence %d: missing id", si)
		}
		if len(fs.Channels) > project.MaxChannels {
			return nil, errs.Validation("sequence %d: %d channels, max %d", si, len(fs.Channels), project.MaxChannels)
		}
		seq := &project.Sequence{ID: fs.ID, Channels: make([]*project.Channel, len(fs.Channels))}
		for ci, fc := range fs.Channels {
			ch, err := channelFromFile(fc)
			if err != nil {
				return nil, errs.Validation("sequence %d channel %d: %v", si, ci, err)
			}
			if n, ok := project.ParseInstrumentID(ch.InstrumentID); ok && n >= p.NextInstrumentID {
				p.NextInstrumentID = n + 1
			}
			seq.Channels[ci] = ch
		}
		p.Sequences = append(p.Sequences, seq)
	}
	return p, nil
}

func channelFromFile(fc fileChannel) (*project.Channel, error) {
	if fc.ID == "" {
		return nil, errs.Validation("missing id")
	}
	ch := &project.Channel{
		ID:            fc.ID,
		Kind:          fc.Kind,
		Name:          fc.Name,
		InstrumentID:  fc.InstrumentID,
		Steps:         make([]bool, project.TotalSteps),
		Velocity:      make([]float64, project.TotalSteps),
		Mixer:         project.DefaultMixer(),
		InsertEffects: []project.InsertEffect{},
		SampleRef:     fc.SampleRef,
		Sampler:       project.DefaultSamplerSettings(),
	}
	if ch.Kind == "" {
		ch.Kind = project.KindSampler
	}
	if ch.Kind == project.KindInstrument && ch.InstrumentID == "" {
		return nil, errs.Validation("instrument channel without instrumentId")
	}

	// short arrays are padded, long ones truncated
	copy(ch.Steps, fc.Steps)
	for i := range ch.Velocity {
		ch.Velocity[i] = 1
	}
	copy(ch.Velocity, fc.Velocity)

	if fc.Mixer != nil {
		ch.Mixer.Pan = fc.Mixer.Pan
		ch.Mixer.Mute = fc.Mixer.Mute
		ch.Mixer.Solo = fc.Mixer.Solo
		if fc.Mixer.Gain != nil {
			ch.Mixer.Gain = *fc.Mixer.Gain
		}
	}
	if len(fc.InsertEffects) > 0 {
		ch.InsertEffects = append(ch.InsertEffects, fc.InsertEffects...)
	}
	if fc.Sampler != nil {
		ch.Sampler = project.SamplerSettings(*fc.Sampler)
	}
	if fc.InstrumentPatch != nil {
		patch := project.Patch(*fc.InstrumentPatch)
		ch.InstrumentPatch = &patch
	} else if ch.Kind == project.KindInstrument {
		patch := project.DefaultPatch()
		ch.InstrumentPatch = &patch
	}
	return ch, nil
}
