// Package quantize snaps recorded times onto a tempo grid.
package quantize

import (
	"math"

	"go-audionaut/errs"
)

// GridMs returns the grid spacing in milliseconds for bpm and
// subdivisionsPerBeat: 60000 / (bpm * subdivisions).
func GridMs(bpm float64, subdivisionsPerBeat int) (float64, error) {
	if subdivisionsPerBeat <= 0 {
		return 0, errs.InvalidParameter("subdivisionsPerBeat", subdivisionsPerBeat)
	}
	if bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		return 0, errs.InvalidParameter("bpm", bpm)
	}
	return 60000 / (bpm * float64(subdivisionsPerBeat)), nil
}

// QuantizeTime snaps timestampMs to the nearest grid point. Exact halves
// round away from zero.
func QuantizeTime(timestampMs, bpm float64, subdivisionsPerBeat int) (float64, error) {
	grid, err := GridMs(bpm, subdivisionsPerBeat)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(timestampMs) || math.IsInf(timestampMs, 0) {
		return 0, errs.InvalidParameter("timestampMs", timestampMs)
	}
	return snap(timestampMs, grid), nil
}

// QuantizeDuration snaps a note length to half the grid, never shorter than
// one half grid step.
func QuantizeDuration(durationMs, bpm float64, subdivisionsPerBeat int) (float64, error) {
	grid, err := GridMs(bpm, subdivisionsPerBeat)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(durationMs) || math.IsInf(durationMs, 0) {
		return 0, errs.InvalidParameter("durationMs", durationMs)
	}
	half := grid / 2
	return math.Max(half, snap(durationMs, half)), nil
}

func snap(t, grid float64) float64 {
	return math.Round(t/grid) * grid
}
