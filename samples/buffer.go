// Package samples fetches and decodes audio samples for sampler channels.
package samples

// Buffer is decoded PCM, one slice per channel, samples in -1..1
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the length in sample frames
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the length in seconds
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// At returns channel ch at frame i, mapping mono to every channel and
// anything out of range to silence.
func (b *Buffer) At(ch, i int) float32 {
	if b == nil || len(b.Channels) == 0 || i < 0 {
		return 0
	}
	if ch >= len(b.Channels) {
		ch = len(b.Channels) - 1
	}
	data := b.Channels[ch]
	if i >= len(data) {
		return 0
	}
	return data[i]
}

func newBuffer(sampleRate, channels, frames int) *Buffer {
	b := &Buffer{SampleRate: sampleRate, Channels: make([][]float32, channels)}
	for i := range b.Channels {
		b.Channels[i] = make([]float32, frames)
	}
	return b
}
