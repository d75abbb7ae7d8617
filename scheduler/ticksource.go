package scheduler

import (
	"sync"
	"time"
)

// TickAction names a message of the tick protocol
type TickAction string

const (
	ActionStart         TickAction = "start"
	ActionStop          TickAction = "stop"
	ActionScheduleNotes TickAction = "scheduleNotes"
)

// TickCommand goes from the owner to the tick worker
type TickCommand struct {
	Action         TickAction `json:"action"`
	StepDurationMs float64    `json:"stepDurationMs,omitempty"`
	IntervalMs     float64    `json:"intervalMs,omitempty"`
}

// TickMessage goes from the tick worker to the owner. It carries no
// payload; the receiver re-derives everything from its own state.
type TickMessage struct {
	Action TickAction `json:"action"`
}

// TickSource delivers periodic scheduleNotes messages. Ticks are coalesced:
// a tick that finds the previous one still unread is dropped.
type TickSource interface {
	Start(stepDuration, interval time.Duration)
	Stop()
	Ticks() <-chan TickMessage
	Close()
}

// TickSourceFactory creates the preferred tick source
type TickSourceFactory func() (TickSource, error)

// WorkerTickSource runs a ticker on its own goroutine and talks to the owner
// only through command and message channels. It is reused across
// start/stop and ends on Close.
type WorkerTickSource struct {
	commands chan TickCommand
	ticks    chan TickMessage
	done     chan struct{}
	once     sync.Once
}

// NewWorkerTickSource starts the worker goroutine
func NewWorkerTickSource() (TickSource, error) {
	w := &WorkerTickSource{
		commands: make(chan TickCommand, 4),
		ticks:    make(chan TickMessage, 1),
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *WorkerTickSource) run() {
	defer close(w.done)
	var ticker *time.Ticker
	var c <-chan time.Time
	stop := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, c = nil, nil
		}
	}
	defer stop()

	for {
		select {
		case cmd, ok := <-w.commands:
			if !ok {
				return
			}
			switch cmd.Action {
			case ActionStart:
				stop()
				interval := time.Duration(cmd.IntervalMs * float64(time.Millisecond))
				if interval <= 0 {
					interval = time.Duration(cmd.StepDurationMs * float64(time.Millisecond) / 2)
				}
				if interval <= 0 {
					continue
				}
				ticker = time.NewTicker(interval)
				c = ticker.C
			case ActionStop:
				stop()
			}
		case <-c:
			select {
			case w.ticks <- TickMessage{Action: ActionScheduleNotes}:
			default:
			}
		}
	}
}

func (w *WorkerTickSource) send(cmd TickCommand) {
	select {
	case <-w.done:
	case w.commands <- cmd:
	}
}

func (w *WorkerTickSource) Start(stepDuration, interval time.Duration) {
	w.send(TickCommand{
		Action:         ActionStart,
		StepDurationMs: float64(stepDuration) / float64(time.Millisecond),
		IntervalMs:     float64(interval) / float64(time.Millisecond),
	})
}

func (w *WorkerTickSource) Stop() { w.send(TickCommand{Action: ActionStop}) }

func (w *WorkerTickSource) Ticks() <-chan TickMessage { return w.ticks }

// Close terminates the worker and waits for it
func (w *WorkerTickSource) Close() {
	w.once.Do(func() { close(w.commands) })
	<-w.done
}

// IntervalTickSource is the fallback: a self-rearming timer with no worker
// protocol. It is coarser, so it runs with a wider lookahead window.
type IntervalTickSource struct {
	mu       sync.Mutex
	timer    *time.Timer
	interval time.Duration
	gen      int
	ticks    chan TickMessage
}

// NewIntervalTickSource returns a stopped fallback source
func NewIntervalTickSource() *IntervalTickSource {
	return &IntervalTickSource{ticks: make(chan TickMessage, 1)}
}

func (s *IntervalTickSource) Start(_, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	if interval <= 0 {
		return
	}
	s.interval = interval
	s.arm(s.gen)
}

func (s *IntervalTickSource) arm(gen int) {
	s.timer = time.AfterFunc(s.interval, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.gen {
			return
		}
		select {
		case s.ticks <- TickMessage{Action: ActionScheduleNotes}:
		default:
		}
		s.arm(gen)
	})
}

func (s *IntervalTickSource) stopLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *IntervalTickSource) Stop() {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
}

func (s *IntervalTickSource) Ticks() <-chan TickMessage { return s.ticks }

func (s *IntervalTickSource) Close() { s.Stop() }
