package samples

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"

	"go-audionaut/errs"
)

// Format is a sniffed container format
type Format int

const (
	FormatUnknown Format = iota
	FormatWAV
	FormatMP3
)

func (f Format) String() string {
	switch f {
	case FormatWAV:
		return "wav"
	case FormatMP3:
		return "mp3"
	}
	return "unknown"
}

// Sniff identifies data by its magic bytes
func Sniff(data []byte) Format {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// MPEG audio frame sync
		return FormatMP3
	}
	return FormatUnknown
}

// Decode turns encoded audio into a Buffer. Errors wrap errs.ErrDecode.
func Decode(data []byte) (*Buffer, error) {
	var (
		buf *Buffer
		err error
	)
	switch f := Sniff(data); f {
	case FormatWAV:
		buf, err = decodeWAV(data)
	case FormatMP3:
		buf, err = decodeMP3(data)
	default:
		return nil, fmt.Errorf("unrecognized audio data (%d bytes): %w", len(data), errs.ErrDecode)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDecode, err)
	}
	if buf.Frames() == 0 {
		return nil, fmt.Errorf("no audio frames: %w", errs.ErrDecode)
	}
	return buf, nil
}

func decodeWAV(data []byte) (*Buffer, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV data")
	}
	if err := decoder.FwdToPCM(); err != nil {
		return nil, err
	}
	format := decoder.Format()
	bitDepth := int(decoder.SampleBitDepth())
	if bitDepth == 0 || format == nil || format.NumChannels == 0 {
		return nil, fmt.Errorf("unknown WAV format")
	}
	bytesPerSample := (bitDepth-1)/8 + 1
	nsamples := int(decoder.PCMLen()) / bytesPerSample
	nchannels := format.NumChannels
	nframes := nsamples / nchannels

	ibuf := &audio.IntBuffer{
		Format:         format,
		Data:           make([]int, nsamples),
		SourceBitDepth: bitDepth,
	}
	n, err := decoder.PCMBuffer(ibuf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	nframes = min(nframes, n/nchannels)

	factor := float32(math.Pow(2, float64(bitDepth-1)))
	bias := 0
	if bitDepth == 8 {
		bias = 128 // 8-bit PCM is unsigned
	}
	out := newBuffer(format.SampleRate, nchannels, nframes)
	for i := 0; i < nframes; i++ {
		for c := 0; c < nchannels; c++ {
			out.Channels[c][i] = float32(ibuf.Data[i*nchannels+c]-bias) / factor
		}
	}
	return out, nil
}

// go-mp3 always yields interleaved stereo signed 16-bit little endian
func decodeMP3(data []byte) (*Buffer, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, err
	}
	const nchannels = 2
	nframes := len(pcm) / (2 * nchannels)
	out := newBuffer(decoder.SampleRate(), nchannels, nframes)
	for i := 0; i < nframes; i++ {
		for c := 0; c < nchannels; c++ {
			off := (i*nchannels + c) * 2
			sample := int16(binary.LittleEndian.Uint16(pcm[off:]))
			out.Channels[c][i] = float32(sample) / 32768
		}
	}
	return out, nil
}
