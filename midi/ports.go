// Package midi finds and opens MIDI output ports for the instrument rack.
package midi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver

	"go-audionaut/errs"
)

// ScanTimeout bounds a port scan. CoreMIDI can hang.
const ScanTimeout = 3 * time.Second

// ErrScanTimeout is returned when the driver does not answer in time
var ErrScanTimeout = errors.New("midi port scan timed out")

// OutPorts lists output port names, giving up after timeout
func OutPorts(timeout time.Duration) ([]string, error) {
	ports, err := outPorts(timeout)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.String()
	}
	return names, nil
}

func outPorts(timeout time.Duration) ([]drivers.Out, error) {
	ch := make(chan []drivers.Out, 1)
	go func() {
		ch <- gomidi.GetOutPorts()
	}()
	select {
	case ports := <-ch:
		return ports, nil
	case <-time.After(timeout):
		return nil, ErrScanTimeout
	}
}

// MatchPort picks the port for name: an exact match first, then a
// case-insensitive substring match. It returns -1 when nothing fits.
func MatchPort(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	want := strings.ToLower(name)
	for i, n := range names {
		if strings.Contains(strings.ToLower(n), want) {
			return i
		}
	}
	return -1
}

// Out is an open output port
type Out struct {
	Name string
	Send func(gomidi.Message) error
	port drivers.Out
}

// OpenOut opens the output port matching name. A missing port or a driver
// failure wraps errs.ErrCapabilityUnavailable; the caller keeps the synth.
func OpenOut(name string) (*Out, error) {
	ports, err := outPorts(ScanTimeout)
	if err != nil {
		return nil, errs.Unavailable("midi output", err)
	}
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.String()
	}
	i := MatchPort(names, name)
	if i < 0 {
		return nil, errs.Unavailable("midi output", fmt.Errorf("no port matching %q", name))
	}
	send, err := gomidi.SendTo(ports[i])
	if err != nil {
		return nil, errs.Unavailable("midi output", err)
	}
	return &Out{Name: names[i], Send: send, port: ports[i]}, nil
}

// Close silences every channel and closes the port
func (o *Out) Close() error {
	for ch := uint8(0); ch < 16; ch++ {
		// all notes off
		o.Send(gomidi.ControlChange(ch, 123, 0))
	}
	return o.port.Close()
}

// CloseDriver releases the MIDI driver; call once on exit
func CloseDriver() { gomidi.CloseDriver() }
