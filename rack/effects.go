package rack

import (
	"fmt"

	"go-audionaut/errs"
	"go-audionaut/project"
)

// Node is a live effect processing interleaved stereo in place
type Node interface {
	Process(buf []float32, sampleRate int)
	Reset()
}

// Effect creates and configures the nodes of one effect kind
type Effect interface {
	Kind() project.EffectKind
	Create() (Node, error)
	ApplySettings(Node, project.EffectSettings) error
	Dispose(Node)
}

// EffectNode is one slot of a chain: RealNode or Passthrough
type EffectNode interface {
	effectNode()
}

// RealNode is a slot backed by a working implementation
type RealNode struct {
	Node    Node
	Effect  Effect
	Enabled bool
}

// Passthrough stands in for an effect that could not be created. Audio
// passes unchanged.
type Passthrough struct {
	Kind   project.EffectKind
	Reason error
}

func (RealNode) effectNode()    {}
func (Passthrough) effectNode() {}

// Substitution records a slot that fell back to Passthrough
type Substitution struct {
	Slot   int
	Kind   project.EffectKind
	Reason error
}

func (s Substitution) Error() string {
	return fmt.Sprintf("insert %d (%s) bypassed: %v", s.Slot, s.Kind, s.Reason)
}

func (s Substitution) Unwrap() error { return s.Reason }

// Registry maps effect kinds to implementations
type Registry map[project.EffectKind]Effect

// DefaultRegistry holds every effect with a DSP implementation
func DefaultRegistry() Registry {
	r := Registry{}
	for _, e := range []Effect{eqEffect{}, gateEffect{}, bitcrusherEffect{}, delayEffect{}} {
		r[e.Kind()] = e
	}
	return r
}

// Chain is a channel's ordered insert effects
type Chain struct {
	slots []EffectNode
	kinds []project.EffectKind
}

// NewChain builds nodes for fx. Slots whose kind has no implementation, or
// whose node fails to build, become Passthrough.
func NewChain(reg Registry, fx []project.InsertEffect) *Chain {
	c := &Chain{}
	for _, f := range fx {
		c.slots = append(c.slots, buildSlot(reg, f))
		c.kinds = append(c.kinds, f.Kind())
	}
	return c
}

func buildSlot(reg Registry, f project.InsertEffect) EffectNode {
	kind := f.Kind()
	e, ok := reg[kind]
	if !ok {
		return Passthrough{Kind: kind, Reason: errs.Unavailable(string(kind)+" effect", nil)}
	}
	n, err := e.Create()
	if err != nil {
		return Passthrough{Kind: kind, Reason: errs.Unavailable(string(kind)+" effect", err)}
	}
	if err := e.ApplySettings(n, f.Settings); err != nil {
		e.Dispose(n)
		return Passthrough{Kind: kind, Reason: errs.Unavailable(string(kind)+" effect", err)}
	}
	return RealNode{Node: n, Effect: e, Enabled: f.Enabled}
}

// Update reconfigures the chain for fx, keeping nodes (and their state)
// wherever the kind in a slot is unchanged.
func (c *Chain) Update(reg Registry, fx []project.InsertEffect) {
	for i, f := range fx {
		if i < len(c.slots) && c.kinds[i] == f.Kind() {
			if rn, ok := c.slots[i].(RealNode); ok {
				if err := rn.Effect.ApplySettings(rn.Node, f.Settings); err != nil {
					rn.Effect.Dispose(rn.Node)
					c.slots[i] = Passthrough{Kind: f.Kind(), Reason: errs.Unavailable(string(f.Kind())+" effect", err)}
					continue
				}
				rn.Enabled = f.Enabled
				c.slots[i] = rn
			}
			continue
		}
		if i < len(c.slots) {
			disposeSlot(c.slots[i])
			c.slots[i] = buildSlot(reg, f)
			c.kinds[i] = f.Kind()
			continue
		}
		c.slots = append(c.slots, buildSlot(reg, f))
		c.kinds = append(c.kinds, f.Kind())
	}
	for _, s := range c.slots[min(len(fx), len(c.slots)):] {
		disposeSlot(s)
	}
	c.slots = c.slots[:min(len(fx), len(c.slots))]
	c.kinds = c.kinds[:len(c.slots)]
}

func disposeSlot(s EffectNode) {
	if rn, ok := s.(RealNode); ok {
		rn.Effect.Dispose(rn.Node)
	}
}

// Slots returns the chain's slots in order
func (c *Chain) Slots() []EffectNode { return c.slots }

// Substitutions lists the slots running as Passthrough
func (c *Chain) Substitutions() []Substitution {
	var out []Substitution
	for i, s := range c.slots {
		if p, ok := s.(Passthrough); ok {
			out = append(out, Substitution{Slot: i, Kind: p.Kind, Reason: p.Reason})
		}
	}
	return out
}

// Process runs buf through every enabled real node
func (c *Chain) Process(buf []float32, sampleRate int) {
	for _, s := range c.slots {
		if rn, ok := s.(RealNode); ok && rn.Enabled {
			rn.Node.Process(buf, sampleRate)
		}
	}
}

// Reset clears node state such as delay lines
func (c *Chain) Reset() {
	for _, s := range c.slots {
		if rn, ok := s.(RealNode); ok {
			rn.Node.Reset()
		}
	}
}

// Dispose releases every node
func (c *Chain) Dispose() {
	for _, s := range c.slots {
		disposeSlot(s)
	}
	c.slots = nil
	c.kinds = nil
}
