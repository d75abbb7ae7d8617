package rack

import (
	"fmt"
	"math"

	"github.com/viterin/vek/vek32"

	"go-audionaut/project"
)

func dbToGain(db float64) float64 { return math.Pow(10, db/20) }

// mixWet blends wet (in buf) with dry: buf = buf*wet + dry*(1-wet)
func mixWet(buf, dry []float32, wet float64) {
	if wet >= 1 {
		return
	}
	vek32.MulNumber_Inplace(buf, float32(wet))
	vek32.MulNumber_Inplace(dry, float32(1-wet))
	vek32.Add_Inplace(buf, dry)
}

// copyDry copies buf into dst, growing it when needed
func copyDry(dst, buf []float32) []float32 {
	if cap(dst) < len(buf) {
		dst = make([]float32, len(buf))
	}
	dst = dst[:len(buf)]
	copy(dst, buf)
	return dst
}

func settingsError(want project.EffectKind, got project.EffectSettings) error {
	return fmt.Errorf("settings %T do not configure %s", got, want)
}

func nodeError(want project.EffectKind, got Node) error {
	return fmt.Errorf("node %T is not a %s node", got, want)
}

// onePole is a first-order lowpass
type onePole struct{ z float64 }

func (f *onePole) next(x, alpha float64) float64 {
	f.z += alpha * (x - f.z)
	return f.z
}

func lowpassAlpha(cutoff float64, sampleRate int) float64 {
	if cutoff <= 0 {
		return 1
	}
	dt := 1 / float64(sampleRate)
	rc := 1 / (2 * math.Pi * cutoff)
	return dt / (rc + dt)
}

// --- EQ: three bands split by two one-pole crossovers

type eqNode struct {
	s     project.EQSettings
	low   [2]onePole
	high  [2]onePole
	gains [3]float64
}

type eqEffect struct{}

func (eqEffect) Kind() project.EffectKind { return project.EffectEQ }
func (eqEffect) Create() (Node, error)    { return &eqNode{}, nil }
func (eqEffect) Dispose(Node)             {}

func (eqEffect) ApplySettings(n Node, s project.EffectSettings) error {
	node, ok := n.(*eqNode)
	if !ok {
		return nodeError(project.EffectEQ, n)
	}
	set, ok := s.(project.EQSettings)
	if !ok {
		return settingsError(project.EffectEQ, s)
	}
	if set.LowFrequency <= 0 || set.HighFrequency <= set.LowFrequency {
		return fmt.Errorf("eq crossover %v..%v", set.LowFrequency, set.HighFrequency)
	}
	node.s = set
	node.gains = [3]float64{dbToGain(set.LowGain), dbToGain(set.MidGain), dbToGain(set.HighGain)}
	return nil
}

func (n *eqNode) Process(buf []float32, sampleRate int) {
	if n.gains == [3]float64{1, 1, 1} {
		return
	}
	aLow := lowpassAlpha(n.s.LowFrequency, sampleRate)
	aHigh := lowpassAlpha(n.s.HighFrequency, sampleRate)
	for i := range buf {
		ch := i & 1
		x := float64(buf[i])
		low := n.low[ch].next(x, aLow)
		belowHigh := n.high[ch].next(x, aHigh)
		high := x - belowHigh
		mid := belowHigh - low
		buf[i] = float32(low*n.gains[0] + mid*n.gains[1] + high*n.gains[2])
	}
}

func (n *eqNode) Reset() {
	n.low = [2]onePole{}
	n.high = [2]onePole{}
}

// --- Gate: closes below a threshold with attack/release smoothing

type gateNode struct {
	s    project.GateSettings
	env  float64 // follower of the block's peak
	gain float64
}

type gateEffect struct{}

func (gateEffect) Kind() project.EffectKind { return project.EffectGate }
func (gateEffect) Create() (Node, error)    { return &gateNode{}, nil }
func (gateEffect) Dispose(Node)             {}

func (gateEffect) ApplySettings(n Node, s project.EffectSettings) error {
	node, ok := n.(*gateNode)
	if !ok {
		return nodeError(project.EffectGate, n)
	}
	set, ok := s.(project.GateSettings)
	if !ok {
		return settingsError(project.EffectGate, s)
	}
	node.s = set
	return nil
}

func (n *gateNode) Process(buf []float32, sampleRate int) {
	threshold := dbToGain(n.s.Threshold)
	coeff := func(seconds float64) float64 {
		if seconds <= 0 {
			return 1
		}
		return 1 - math.Exp(-1/(seconds*float64(sampleRate)))
	}
	att, rel := coeff(n.s.Attack), coeff(n.s.Release)
	for i := 0; i+1 < len(buf); i += 2 {
		level := math.Max(math.Abs(float64(buf[i])), math.Abs(float64(buf[i+1])))
		if level > n.env {
			n.env = level
		} else {
			n.env += rel * (level - n.env)
		}
		target := 0.0
		if n.env >= threshold {
			target = 1
		}
		if target > n.gain {
			n.gain += att * (target - n.gain)
		} else {
			n.gain += rel * (target - n.gain)
		}
		g := float32(n.gain)
		buf[i] *= g
		buf[i+1] *= g
	}
}

func (n *gateNode) Reset() {
	n.env = 0
	n.gain = 0
}

// --- Bitcrusher: bit depth reduction plus sample-and-hold

type bitcrusherNode struct {
	s    project.BitcrusherSettings
	hold [2]float32
	n    int
	dry  []float32
}

type bitcrusherEffect struct{}

func (bitcrusherEffect) Kind() project.EffectKind { return project.EffectBitcrusher }
func (bitcrusherEffect) Create() (Node, error)    { return &bitcrusherNode{}, nil }
func (bitcrusherEffect) Dispose(Node)             {}

func (bitcrusherEffect) ApplySettings(n Node, s project.EffectSettings) error {
	node, ok := n.(*bitcrusherNode)
	if !ok {
		return nodeError(project.EffectBitcrusher, n)
	}
	set, ok := s.(project.BitcrusherSettings)
	if !ok {
		return settingsError(project.EffectBitcrusher, s)
	}
	if set.Bits < 1 || set.Bits > 16 {
		return fmt.Errorf("bitcrusher bits %v outside 1..16", set.Bits)
	}
	set.Downsample = math.Max(1, set.Downsample)
	set.Wet = clampf(set.Wet, 0, 1)
	node.s = set
	return nil
}

func (n *bitcrusherNode) Process(buf []float32, _ int) {
	n.dry = copyDry(n.dry, buf)

	levels := float32(math.Exp2(n.s.Bits - 1))
	hold := int(n.s.Downsample)
	for i := 0; i+1 < len(buf); i += 2 {
		if n.n%hold == 0 {
			for c := 0; c < 2; c++ {
				n.hold[c] = float32(math.Round(float64(buf[i+c]*levels))) / levels
			}
		}
		n.n++
		buf[i], buf[i+1] = n.hold[0], n.hold[1]
	}
	mixWet(buf, n.dry, n.s.Wet)
}

func (n *bitcrusherNode) Reset() {
	n.hold = [2]float32{}
	n.n = 0
}

// --- Delay: stereo feedback delay

const maxDelaySeconds = 2

type delayNode struct {
	s    project.DelaySettings
	line []float32 // interleaved ring buffer
	pos  int
	rate int
	dry  []float32
}

type delayEffect struct{}

func (delayEffect) Kind() project.EffectKind { return project.EffectDelay }
func (delayEffect) Create() (Node, error)    { return &delayNode{}, nil }

func (delayEffect) Dispose(n Node) {
	if d, ok := n.(*delayNode); ok {
		d.line = nil
	}
}

func (delayEffect) ApplySettings(n Node, s project.EffectSettings) error {
	node, ok := n.(*delayNode)
	if !ok {
		return nodeError(project.EffectDelay, n)
	}
	set, ok := s.(project.DelaySettings)
	if !ok {
		return settingsError(project.EffectDelay, s)
	}
	if set.Time <= 0 || set.Time > maxDelaySeconds {
		return fmt.Errorf("delay time %v outside (0, %d]", set.Time, maxDelaySeconds)
	}
	set.Feedback = clampf(set.Feedback, 0, 0.95)
	set.Wet = clampf(set.Wet, 0, 1)
	node.s = set
	node.rate = 0 // resize on next Process
	return nil
}

func (n *delayNode) Process(buf []float32, sampleRate int) {
	if n.rate != sampleRate {
		n.rate = sampleRate
		frames := max(1, int(n.s.Time*float64(sampleRate)))
		n.line = make([]float32, frames*2)
		n.pos = 0
	}
	n.dry = copyDry(n.dry, buf)

	fb := float32(n.s.Feedback)
	for i := range buf {
		delayed := n.line[n.pos]
		n.line[n.pos] = buf[i] + delayed*fb
		buf[i] = delayed
		n.pos++
		if n.pos == len(n.line) {
			n.pos = 0
		}
	}
	// keep the dry path at full level and add the echoes on top
	vek32.MulNumber_Inplace(buf, float32(n.s.Wet))
	vek32.Add_Inplace(buf, n.dry)
}

func (n *delayNode) Reset() {
	clear(n.line)
	n.pos = 0
}

func clampf(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
