package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// EngineConfig tunes the lookahead scheduler and the audio engine
type EngineConfig struct {
	LookaheadMs         float64 `json:"lookaheadMs"`
	FallbackLookaheadMs float64 `json:"fallbackLookaheadMs"` // used with the in-thread timer
	StartDelayMs        float64 `json:"startDelayMs"`
	TickDivision        int     `json:"tickDivision"` // scheduler ticks per step
	SampleRate          int     `json:"sampleRate"`
	GateFraction        float64 `json:"gateFraction"` // instrument note length as a fraction of a step
}

// ProjectConfig controls how new projects are laid out
type ProjectConfig struct {
	InitialSamplerChannels    int      `json:"initialSamplerChannels"`
	InitialInstrumentChannels int      `json:"initialInstrumentChannels"`
	DefaultBPM                float64  `json:"defaultBpm"`
	DefaultSampleRefs         []string `json:"defaultSampleRefs,omitempty"` // cycled over new sampler channels
}

// SamplesConfig controls the sample loader
type SamplesConfig struct {
	DecodeWorkers int    `json:"decodeWorkers"`
	BaseDir       string `json:"baseDir,omitempty"` // relative sample refs resolve against this
}

// OutputConfig selects audio and MIDI outputs
type OutputConfig struct {
	Audio    bool   `json:"audio"`
	MIDIPort string `json:"midiPort,omitempty"`
}

// UIConfig stores UI preferences
type UIConfig struct {
	LastTempo   float64 `json:"lastTempo,omitempty"`
	LastProject string  `json:"lastProject,omitempty"`
	Palette     string  `json:"palette,omitempty"` // GIMP .gpl file, empty for the built-in palette
}

// Config is the main configuration structure
type Config struct {
	Engine  EngineConfig  `json:"engine"`
	Project ProjectConfig `json:"project"`
	Samples SamplesConfig `json:"samples"`
	Output  OutputConfig  `json:"output"`
	UI      UIConfig      `json:"ui,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			LookaheadMs:         120,
			FallbackLookaheadMs: 250,
			StartDelayMs:        80,
			TickDivision:        4,
			SampleRate:          44100,
			GateFraction:        0.8,
		},
		Project: ProjectConfig{
			InitialSamplerChannels:    8,
			InitialInstrumentChannels: 2,
			DefaultBPM:                120,
		},
		Samples: SamplesConfig{
			DecodeWorkers: 2,
		},
		Output: OutputConfig{
			Audio: true,
		},
		UI: UIConfig{
			LastTempo: 120,
		},
	}
}

// Lookahead returns the scheduling window as a duration
func (c *Config) Lookahead() time.Duration {
	return time.Duration(c.Engine.LookaheadMs * float64(time.Millisecond))
}

// FallbackLookahead returns the widened window used without a tick worker
func (c *Config) FallbackLookahead() time.Duration {
	return time.Duration(c.Engine.FallbackLookaheadMs * float64(time.Millisecond))
}

// StartDelay returns the gap between Play and the first step
func (c *Config) StartDelay() time.Duration {
	return time.Duration(c.Engine.StartDelayMs * float64(time.Millisecond))
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "go-audionaut"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from disk, or returns defaults if not found
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), nil
	}
	return LoadFrom(path)
}

// LoadFrom reads the config at path. Fields missing from the file keep their
// defaults; zero or negative engine values are reset to defaults.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()

	return cfg, nil
}

func (c *Config) normalize() {
	def := DefaultConfig()
	if c.Engine.LookaheadMs <= 0 {
		c.Engine.LookaheadMs = def.Engine.LookaheadMs
	}
	if c.Engine.FallbackLookaheadMs < c.Engine.LookaheadMs {
		c.Engine.FallbackLookaheadMs = max(def.Engine.FallbackLookaheadMs, c.Engine.LookaheadMs)
	}
	if c.Engine.StartDelayMs < 0 {
		c.Engine.StartDelayMs = def.Engine.StartDelayMs
	}
	if c.Engine.TickDivision <= 0 {
		c.Engine.TickDivision = def.Engine.TickDivision
	}
	if c.Engine.SampleRate <= 0 {
		c.Engine.SampleRate = def.Engine.SampleRate
	}
	if c.Engine.GateFraction <= 0 || c.Engine.GateFraction > 1 {
		c.Engine.GateFraction = def.Engine.GateFraction
	}
	if c.Project.InitialSamplerChannels < 0 {
		c.Project.InitialSamplerChannels = 0
	}
	if c.Project.InitialInstrumentChannels < 0 {
		c.Project.InitialInstrumentChannels = 0
	}
	if c.Project.DefaultBPM <= 0 {
		c.Project.DefaultBPM = def.Project.DefaultBPM
	}
	if c.Samples.DecodeWorkers <= 0 {
		c.Samples.DecodeWorkers = def.Samples.DecodeWorkers
	}
}

// Save writes the config to disk
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the config to path, creating the directory if needed
func (c *Config) SaveTo(path string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
