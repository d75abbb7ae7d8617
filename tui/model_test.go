package tui

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"go-audionaut/audio"
	"go-audionaut/project"
	"go-audionaut/saveload"
	"go-audionaut/sequencer"
)

func newModel(t *testing.T) Model {
	t.Helper()
	seq, err := sequencer.New(sequencer.Options{Clock: &audio.ManualClock{}})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		seq.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		seq.Close()
	})
	return NewModel(seq, nil)
}

func press(t *testing.T, m Model, keys ...string) Model {
	t.Helper()
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case " ":
			msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
		case "ctrl+s":
			msg = tea.KeyMsg{Type: tea.KeyCtrlS}
		case "tab":
			msg = tea.KeyMsg{Type: tea.KeyTab}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func TestGridEditing(t *testing.T) {
	m := newModel(t)
	m = press(t, m, "l", "l", "j", " ")

	p := m.Seq.Project()
	if !p.Sequences[0].Channels[1].Steps[2] {
		t.Fatal("step 2 of channel 1 not toggled")
	}
	if m.status != "" {
		t.Fatalf("status = %q", m.status)
	}

	m = press(t, m, "v")
	if v := m.Seq.Project().Sequences[0].Channels[1].Velocity[2]; v != 0.75 {
		t.Errorf("velocity = %v, want 0.75", v)
	}

	m = press(t, m, "m")
	if !m.Seq.Project().Sequences[0].Channels[1].Mixer.Mute {
		t.Error("channel 1 not muted")
	}

	m = press(t, m, "h", "h", "h")
	if m.col != project.TotalSteps-1 {
		t.Errorf("col = %d, want wrap to %d", m.col, project.TotalSteps-1)
	}
	m = press(t, m, "tab")
	if m.col != 0 {
		t.Errorf("col after tab = %d", m.col)
	}

	m = press(t, m, "?")
	if !m.help.ShowAll {
		t.Error("? should expand the help")
	}
}

func TestRecordKeys(t *testing.T) {
	m := newModel(t)
	m = press(t, m, "r")
	if !strings.Contains(m.status, "capability unavailable") {
		t.Errorf("arming a sampler row: status = %q", m.status)
	}

	m = press(t, m, "j", "j", "j", "j", "j", "j", "j", "j", "r")
	if m.status != "recording row 9" || !m.Seq.RecordingArmed(0, 8) {
		t.Fatalf("status = %q, armed = %v", m.status, m.Seq.RecordingArmed(0, 8))
	}

	id := m.Seq.Project().Channel(0, 8).ID
	m.Seq.Rack().TriggerAttack(id, 60, 0.5, 0.26)
	m = press(t, m, "R")
	if m.status != "take committed to 1 steps" {
		t.Fatalf("status = %q", m.status)
	}
	ch := m.Seq.Project().Channel(0, 8)
	if !ch.Steps[2] || ch.Velocity[2] != 0.5 {
		t.Errorf("step 2 = %v velocity %v", ch.Steps[2], ch.Velocity[2])
	}

	m = press(t, m, "r")
	if m.status != "recording stopped" || m.Seq.RecordingArmed(0, 8) {
		t.Errorf("status = %q after disarm", m.status)
	}
}

func TestTransportKeys(t *testing.T) {
	m := newModel(t)
	m = press(t, m, "+", "+", "-")
	if bpm := m.Seq.Project().BPM; bpm != 125 {
		t.Errorf("bpm = %v, want 125", bpm)
	}

	m = press(t, m, "n")
	p := m.Seq.Project()
	if len(p.Sequences) != 2 || p.CurrentSequence != 1 {
		t.Fatalf("sequences = %d, current = %d", len(p.Sequences), p.CurrentSequence)
	}
	m = press(t, m, "]")
	if cur := m.Seq.Project().CurrentSequence; cur != 0 {
		t.Errorf("] should wrap to 0, got %d", cur)
	}

	m = press(t, m, "a")
	if mode := m.Seq.Project().PlayMode; mode != project.PlayAll {
		t.Errorf("play mode = %q", mode)
	}

	view := m.View()
	for _, want := range []string{"STOP", "125bpm", "seq 1/2"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestSave(t *testing.T) {
	m := newModel(t)
	m = press(t, m, "ctrl+s")
	if m.status == "" {
		t.Error("saving without a path should report an error")
	}

	m.SavePath = filepath.Join(t.TempDir(), "song.json")
	m = press(t, m, " ", "ctrl+s")
	data, err := os.ReadFile(m.SavePath)
	if err != nil {
		t.Fatal(err)
	}
	p, err := saveload.Load(data)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Sequences[0].Channels[0].Steps[0] {
		t.Error("saved project lost the toggled step")
	}
}

func TestWarningsAreCapped(t *testing.T) {
	m := newModel(t)
	for i := 0; i < 5; i++ {
		next, _ := m.Update(WarnMsg{errors.New(string(rune('a' + i)))})
		m = next.(Model)
	}
	if len(m.warnings) != maxWarnings || m.warnings[0] != "c" {
		t.Fatalf("warnings = %v", m.warnings)
	}
}

func TestNextVelocity(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{1, 0.75},
		{0.75, 0.5},
		{0.6, 0.25},
		{0.25, 1},
		{0.1, 1},
	}
	for _, tt := range tests {
		if got := nextVelocity(tt.in); got != tt.want {
			t.Errorf("nextVelocity(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
