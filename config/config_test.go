package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromMissingFile(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Lookahead() != 120*time.Millisecond {
		t.Errorf("lookahead = %v", cfg.Lookahead())
	}
	if cfg.StartDelay() != 80*time.Millisecond {
		t.Errorf("start delay = %v", cfg.StartDelay())
	}
}

func TestLoadFromNormalizes(t *testing.T) {
	tests := []struct {
		name  string
		json  string
		check func(*testing.T, *Config)
	}{
		{
			name: "partial file keeps defaults",
			json: `{"engine": {"lookaheadMs": 200}}`,
			check: func(t *testing.T, c *Config) {
				if c.Engine.LookaheadMs != 200 || c.Engine.TickDivision != 4 || c.Project.DefaultBPM != 120 {
					t.Errorf("engine = %+v", c.Engine)
				}
				if c.FallbackLookahead() != 250*time.Millisecond {
					t.Errorf("fallback = %v", c.FallbackLookahead())
				}
			},
		},
		{
			name: "fallback never narrower than lookahead",
			json: `{"engine": {"lookaheadMs": 400, "fallbackLookaheadMs": 100}}`,
			check: func(t *testing.T, c *Config) {
				if c.Engine.FallbackLookaheadMs != 400 {
					t.Errorf("fallback = %v, want 400", c.Engine.FallbackLookaheadMs)
				}
			},
		},
		{
			name: "bad values reset",
			json: `{"engine": {"lookaheadMs": -1, "tickDivision": 0, "sampleRate": -5, "gateFraction": 3},
				"project": {"defaultBpm": 0, "initialSamplerChannels": -2},
				"samples": {"decodeWorkers": 0}}`,
			check: func(t *testing.T, c *Config) {
				def := DefaultConfig()
				if c.Engine != def.Engine {
					t.Errorf("engine = %+v, want %+v", c.Engine, def.Engine)
				}
				if c.Project.DefaultBPM != 120 || c.Project.InitialSamplerChannels != 0 {
					t.Errorf("project = %+v", c.Project)
				}
				if c.Samples.DecodeWorkers != 2 {
					t.Errorf("decode workers = %d", c.Samples.DecodeWorkers)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(path, []byte(tt.json), 0644); err != nil {
				t.Fatal(err)
			}
			cfg, err := LoadFrom(path)
			if err != nil {
				t.Fatal(err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoadFromBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte("{"), 0644)
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected an error")
	}
}

func TestSaveTo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := DefaultConfig()
	cfg.Output.MIDIPort = "IAC Driver Bus 1"
	cfg.UI.LastTempo = 133
	if err := cfg.SaveTo(path); err != nil {
		t.Fatal(err)
	}
	got, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Output.MIDIPort != "IAC Driver Bus 1" || got.UI.LastTempo != 133 {
		t.Errorf("round trip = %+v", got)
	}
}
