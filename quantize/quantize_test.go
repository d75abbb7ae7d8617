package quantize

import (
	"errors"
	"math"
	"testing"

	"go-audionaut/errs"
)

func TestQuantizeTime(t *testing.T) {
	tests := []struct {
		name   string
		ms     float64
		bpm    float64
		subdiv int
		want   float64
	}{
		{"snaps down", 140, 120, 4, 125},
		{"snaps up", 200, 120, 4, 250},
		{"on grid", 375, 120, 4, 375},
		{"zero", 0, 120, 4, 0},
		{"half rounds away from zero", 62.5, 120, 4, 125},
		{"eighths at 90", 400, 90, 2, 333.3333333333333},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := QuantizeTime(tt.ms, tt.bpm, tt.subdiv)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("QuantizeTime(%v) = %v, want %v", tt.ms, got, tt.want)
			}
		})
	}
}

func TestQuantizeTimeIdempotent(t *testing.T) {
	for _, ms := range []float64{0, 13, 140, 999, 12345.6} {
		once, _ := QuantizeTime(ms, 133, 3)
		twice, _ := QuantizeTime(once, 133, 3)
		if math.Abs(once-twice) > 1e-9 {
			t.Errorf("%v: %v then %v", ms, once, twice)
		}
	}
}

func TestInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		bpm    float64
		subdiv int
	}{
		{"zero subdivision", 120, 0},
		{"negative subdivision", 120, -4},
		{"zero bpm", 0, 4},
		{"nan bpm", math.NaN(), 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := QuantizeTime(100, tt.bpm, tt.subdiv); !errors.Is(err, errs.ErrInvalidParameter) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

func TestQuantizeDuration(t *testing.T) {
	// grid 125ms, half grid 62.5ms
	tests := []struct {
		ms, want float64
	}{
		{1, 62.5},
		{70, 62.5},
		{100, 125},
		{260, 250},
	}
	for _, tt := range tests {
		got, err := QuantizeDuration(tt.ms, 120, 4)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("QuantizeDuration(%v) = %v, want %v", tt.ms, got, tt.want)
		}
	}
}
