package midi

import (
	"context"
	"time"
)

// PortEvent reports the watched port appearing or going away
type PortEvent struct {
	Type PortEventType
	Name string // the matched port name
}

type PortEventType int

const (
	PortConnected PortEventType = iota
	PortDisconnected
)

func (t PortEventType) String() string {
	if t == PortConnected {
		return "connected"
	}
	return "disconnected"
}

// Watcher polls the output ports for one configured name so the front end
// can show whether the MIDI output is reachable.
type Watcher struct {
	name     string
	list     func() ([]string, error)
	pollRate time.Duration
	events   chan PortEvent
	present  string
}

// NewWatcher watches for an output port matching name
func NewWatcher(name string) *Watcher {
	return &Watcher{
		name:     name,
		list:     func() ([]string, error) { return OutPorts(ScanTimeout) },
		pollRate: time.Second,
		events:   make(chan PortEvent, 16),
	}
}

// Events returns the connect/disconnect events. It is closed when Run ends.
func (w *Watcher) Events() <-chan PortEvent { return w.events }

// Run polls until ctx is done (blocking - run in goroutine)
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollRate)
	defer ticker.Stop()
	defer close(w.events)

	w.scan()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scan()
		}
	}
}

func (w *Watcher) scan() {
	names, err := w.list()
	if err != nil {
		// a hung driver is not a disconnect; try again next poll
		return
	}
	found := ""
	if i := MatchPort(names, w.name); i >= 0 {
		found = names[i]
	}
	switch {
	case found != "" && w.present == "":
		w.emit(PortEvent{Type: PortConnected, Name: found})
	case found == "" && w.present != "":
		w.emit(PortEvent{Type: PortDisconnected, Name: w.present})
	}
	w.present = found
}

func (w *Watcher) emit(ev PortEvent) {
	select {
	case w.events <- ev:
	default:
	}
}
