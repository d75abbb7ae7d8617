package project

import (
	"encoding/json"
	"fmt"

	"go-audionaut/errs"
)

// EffectKind tags an insert effect
type EffectKind string

const (
	EffectEQ         EffectKind = "eq"
	EffectCompressor EffectKind = "compressor"
	EffectGate       EffectKind = "gate"
	EffectBitcrusher EffectKind = "bitcrusher"
	EffectChorus     EffectKind = "chorus"
	EffectPhaser     EffectKind = "phaser"
	EffectDelay      EffectKind = "delay"
	EffectReverb     EffectKind = "reverb"
)

// EffectKinds lists every known kind in slot-picker order
var EffectKinds = []EffectKind{
	EffectEQ, EffectCompressor, EffectGate, EffectBitcrusher,
	EffectChorus, EffectPhaser, EffectDelay, EffectReverb,
}

// EffectSettings is the parameter record of one effect kind. The concrete
// types below are the only implementations.
type EffectSettings interface {
	Kind() EffectKind
}

type EQSettings struct {
	LowGain       float64 `json:"lowGain"`  // dB
	MidGain       float64 `json:"midGain"`  // dB
	HighGain      float64 `json:"highGain"` // dB
	LowFrequency  float64 `json:"lowFrequency"`
	HighFrequency float64 `json:"highFrequency"`
}

type CompressorSettings struct {
	Threshold  float64 `json:"threshold"` // dB
	Ratio      float64 `json:"ratio"`
	Attack     float64 `json:"attack"`
	Release    float64 `json:"release"`
	Knee       float64 `json:"knee"`
	MakeupGain float64 `json:"makeupGain"`
}

type GateSettings struct {
	Threshold float64 `json:"threshold"` // dB
	Attack    float64 `json:"attack"`
	Release   float64 `json:"release"`
}

type BitcrusherSettings struct {
	Bits       float64 `json:"bits"`       // 1..16
	Downsample float64 `json:"downsample"` // hold every n-th sample, >= 1
	Wet        float64 `json:"wet"`
}

type ChorusSettings struct {
	Frequency float64 `json:"frequency"`
	DelayTime float64 `json:"delayTime"`
	Depth     float64 `json:"depth"`
	Wet       float64 `json:"wet"`
}

type PhaserSettings struct {
	Frequency     float64 `json:"frequency"`
	Octaves       float64 `json:"octaves"`
	BaseFrequency float64 `json:"baseFrequency"`
	Wet           float64 `json:"wet"`
}

type DelaySettings struct {
	Time     float64 `json:"time"` // seconds
	Feedback float64 `json:"feedback"`
	Wet      float64 `json:"wet"`
}

type ReverbSettings struct {
	Decay    float64 `json:"decay"`
	PreDelay float64 `json:"preDelay"`
	Wet      float64 `json:"wet"`
}

func (EQSettings) Kind() EffectKind         { return EffectEQ }
func (CompressorSettings) Kind() EffectKind { return EffectCompressor }
func (GateSettings) Kind() EffectKind       { return EffectGate }
func (BitcrusherSettings) Kind() EffectKind { return EffectBitcrusher }
func (ChorusSettings) Kind() EffectKind     { return EffectChorus }
func (PhaserSettings) Kind() EffectKind     { return EffectPhaser }
func (DelaySettings) Kind() EffectKind      { return EffectDelay }
func (ReverbSettings) Kind() EffectKind     { return EffectReverb }

// DefaultEffectSettings returns the defaults of kind, or false for an unknown kind
func DefaultEffectSettings(kind EffectKind) (EffectSettings, bool) {
	switch kind {
	case EffectEQ:
		return EQSettings{LowFrequency: 400, HighFrequency: 2500}, true
	case EffectCompressor:
		return CompressorSettings{Threshold: -24, Ratio: 4, Attack: 0.003, Release: 0.25, Knee: 30}, true
	case EffectGate:
		return GateSettings{Threshold: -40, Attack: 0.001, Release: 0.1}, true
	case EffectBitcrusher:
		return BitcrusherSettings{Bits: 4, Downsample: 1, Wet: 1}, true
	case EffectChorus:
		return ChorusSettings{Frequency: 1.5, DelayTime: 3.5, Depth: 0.7, Wet: 0.5}, true
	case EffectPhaser:
		return PhaserSettings{Frequency: 0.5, Octaves: 3, BaseFrequency: 350, Wet: 0.5}, true
	case EffectDelay:
		return DelaySettings{Time: 0.25, Feedback: 0.35, Wet: 0.3}, true
	case EffectReverb:
		return ReverbSettings{Decay: 1.5, PreDelay: 0.01, Wet: 0.3}, true
	}
	return nil, false
}

// InsertEffect is one slot of a channel's insert chain
type InsertEffect struct {
	Enabled  bool
	Settings EffectSettings
}

// NewInsertEffect returns an enabled slot of kind with default settings
func NewInsertEffect(kind EffectKind) (InsertEffect, error) {
	s, ok := DefaultEffectSettings(kind)
	if !ok {
		return InsertEffect{}, errs.InvalidParameter("effect", kind)
	}
	return InsertEffect{Enabled: true, Settings: s}, nil
}

// Kind returns the kind of the slot's settings
func (e InsertEffect) Kind() EffectKind {
	if e.Settings == nil {
		return ""
	}
	return e.Settings.Kind()
}

type insertEffectJSON struct {
	Type     EffectKind      `json:"type"`
	Enabled  bool            `json:"enabled"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

// MarshalJSON writes {"type": kind, "enabled": bool, "settings": {...}}
func (e InsertEffect) MarshalJSON() ([]byte, error) {
	if e.Settings == nil {
		return nil, fmt.Errorf("insert effect without settings")
	}
	raw, err := json.Marshal(e.Settings)
	if err != nil {
		return nil, err
	}
	return json.Marshal(insertEffectJSON{Type: e.Settings.Kind(), Enabled: e.Enabled, Settings: raw})
}

// UnmarshalJSON reads the tagged form. Parameters missing from the settings
// object keep the kind's defaults; an unknown type is a validation error.
func (e *InsertEffect) UnmarshalJSON(data []byte) error {
	var w insertEffectJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s, err := decodeEffectSettings(w.Type, w.Settings)
	if err != nil {
		return err
	}
	e.Enabled = w.Enabled
	e.Settings = s
	return nil
}

func decodeEffectSettings(kind EffectKind, raw json.RawMessage) (EffectSettings, error) {
	def, ok := DefaultEffectSettings(kind)
	if !ok {
		return nil, errs.Validation("unknown insert effect type %q", kind)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return def, nil
	}
	var err error
	switch s := def.(type) {
	case EQSettings:
		err = json.Unmarshal(raw, &s)
		def = s
	case CompressorSettings:
		err = json.Unmarshal(raw, &s)
		def = s
	case GateSettings:
		err = json.Unmarshal(raw, &s)
		def = s
	case BitcrusherSettings:
		err = json.Unmarshal(raw, &s)
		def = s
	case ChorusSettings:
		err = json.Unmarshal(raw, &s)
		def = s
	case PhaserSettings:
		err = json.Unmarshal(raw, &s)
		def = s
	case DelaySettings:
		err = json.Unmarshal(raw, &s)
		def = s
	case ReverbSettings:
		err = json.Unmarshal(raw, &s)
		def = s
	}
	if err != nil {
		return nil, errs.Validation("insert effect %q settings: %v", kind, err)
	}
	return def, nil
}
