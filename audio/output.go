package audio

import (
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"go-audionaut/errs"
)

// Output keeps an Engine flowing to some sink until closed
type Output interface {
	Close() error
}

type otoOutput struct {
	ctx    *oto.Context
	player *oto.Player
}

// OpenOutput plays the engine through the default sound device. When no
// device can be opened the error wraps errs.ErrCapabilityUnavailable and
// the caller should fall back to NewPacedOutput.
func OpenOutput(e *Engine, bufferSize time.Duration) (Output, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   e.SampleRate(),
		ChannelCount: Channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   bufferSize,
	})
	if err != nil {
		return nil, errs.Unavailable("audio device", err)
	}
	<-ready

	player := ctx.NewPlayer(e)
	player.Play()
	if err := player.Err(); err != nil {
		return nil, errs.Unavailable("audio device", err)
	}
	return &otoOutput{ctx: ctx, player: player}, nil
}

func (o *otoOutput) Close() error {
	o.player.Pause()
	return o.player.Close()
}

// pacedOutput pulls the engine at wall-clock rate and throws the audio away.
// The audio clock keeps running so scheduling and MIDI output still work
// without a sound device.
type pacedOutput struct {
	engine *Engine
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewPacedOutput starts pulling e every period
func NewPacedOutput(e *Engine, period time.Duration) Output {
	if period <= 0 {
		period = 10 * time.Millisecond
	}
	o := &pacedOutput{engine: e, stop: make(chan struct{})}
	o.wg.Add(1)
	go o.run(period)
	return o
}

func (o *pacedOutput) run(period time.Duration) {
	defer o.wg.Done()
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	start := time.Now()
	rate := float64(o.engine.SampleRate())
	base := o.engine.Frames()
	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			want := base + int64(time.Since(start).Seconds()*rate)
			if n := want - o.engine.Frames(); n > 0 {
				o.engine.RenderFrames(int(n))
			}
		}
	}
}

func (o *pacedOutput) Close() error {
	o.once.Do(func() {
		close(o.stop)
		o.wg.Wait()
	})
	return nil
}
