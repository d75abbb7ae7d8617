// Package tui is the terminal front end: a step grid over the sequencer.
package tui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"go-audionaut/midi"
	"go-audionaut/project"
	"go-audionaut/sequencer"
	"go-audionaut/theme"
)

// StepsPerPage is how many steps the grid shows at once
const StepsPerPage = 16

const (
	tempoStep   = 5
	maxWarnings = 3
	frameRate   = 50 * time.Millisecond

	// a committed take keeps at most one note per step on average
	maxTakeEvents = project.TotalSteps
)

// velocity levels cycled by the v key
var velocityLevels = []float64{1, 0.75, 0.5, 0.25}

type Model struct {
	Seq      *sequencer.Sequencer
	Theme    *theme.Theme
	Watcher  *midi.Watcher   // may be nil
	Updates  <-chan struct{} // from Notify, may be nil
	Warnings <-chan error    // may be nil
	SavePath string

	help     help.Model
	row, col int
	status   string
	midiPort string
	warnings []string
	quitting bool
}

type UpdateMsg struct{}

type WarnMsg struct{ Err error }

type PortEventMsg midi.PortEvent

type frameMsg struct{}

func NewModel(seq *sequencer.Sequencer, th *theme.Theme) Model {
	if th == nil {
		th = theme.New(nil)
	}
	h := help.New()
	h.Styles.ShortKey = lipgloss.NewStyle().Foreground(th.FG())
	h.Styles.ShortDesc = lipgloss.NewStyle().Foreground(th.Muted())
	h.Styles.FullKey = h.Styles.ShortKey
	h.Styles.FullDesc = h.Styles.ShortDesc
	return Model{Seq: seq, Theme: th, help: h}
}

// Notify registers a step listener and returns a channel that is signalled
// on step advances. Signals coalesce.
func Notify(seq *sequencer.Sequencer) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	err := seq.OnStepAdvance(func(sequencer.StepInfo) {
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func ListenForUpdates(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return UpdateMsg{}
	}
}

func ListenForWarnings(ch <-chan error) tea.Cmd {
	return func() tea.Msg {
		return WarnMsg{<-ch}
	}
}

func ListenForPorts(w *midi.Watcher) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-w.Events()
		if !ok {
			return nil
		}
		return PortEventMsg(ev)
	}
}

func frame() tea.Cmd {
	return tea.Tick(frameRate, func(time.Time) tea.Msg { return frameMsg{} })
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{frame()}
	if m.Updates != nil {
		cmds = append(cmds, ListenForUpdates(m.Updates))
	}
	if m.Warnings != nil {
		cmds = append(cmds, ListenForWarnings(m.Warnings))
	}
	if m.Watcher != nil {
		cmds = append(cmds, ListenForPorts(m.Watcher))
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			m.Seq.Stop()
			return m, tea.Quit
		}
		m.status = ""
		if err := m.handleKey(msg); err != nil {
			m.status = err.Error()
		}

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width

	case UpdateMsg:
		return m, ListenForUpdates(m.Updates)

	case frameMsg:
		return m, frame()

	case WarnMsg:
		m.warnings = append(m.warnings, msg.Err.Error())
		if len(m.warnings) > maxWarnings {
			m.warnings = m.warnings[len(m.warnings)-maxWarnings:]
		}
		return m, ListenForWarnings(m.Warnings)

	case PortEventMsg:
		if msg.Type == midi.PortConnected {
			m.midiPort = msg.Name
		} else {
			m.midiPort = ""
		}
		return m, ListenForPorts(m.Watcher)
	}

	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) error {
	p := m.Seq.Project()
	seq := p.CurrentSequence
	channels := len(p.Sequences[seq].Channels)
	m.row = min(m.row, max(channels-1, 0))

	switch {
	case key.Matches(msg, keys.Help):
		m.help.ShowAll = !m.help.ShowAll

	case key.Matches(msg, keys.Play):
		if m.Seq.State().IsPlaying {
			m.Seq.Stop()
			return nil
		}
		return m.Seq.Play()

	case key.Matches(msg, keys.Left):
		m.col = (m.col + project.TotalSteps - 1) % project.TotalSteps
	case key.Matches(msg, keys.Right):
		m.col = (m.col + 1) % project.TotalSteps
	case key.Matches(msg, keys.Up):
		m.row = max(m.row-1, 0)
	case key.Matches(msg, keys.Down):
		m.row = min(m.row+1, max(channels-1, 0))
	case key.Matches(msg, keys.Page):
		m.col = (m.col/StepsPerPage + 1) % (project.TotalSteps / StepsPerPage) * StepsPerPage

	case key.Matches(msg, keys.Toggle):
		if channels == 0 {
			return nil
		}
		return m.Seq.ToggleStep(seq, m.row, m.col)

	case key.Matches(msg, keys.Velocity):
		if channels == 0 {
			return nil
		}
		return m.Seq.Edit(func(s *project.Store) error {
			return s.SetVelocity(seq, m.row, m.col, nextVelocity(p.Channel(seq, m.row).Velocity[m.col]))
		})

	case key.Matches(msg, keys.TempoUp):
		return m.Seq.SetTempo(p.BPM + tempoStep)
	case key.Matches(msg, keys.TempoDn):
		return m.Seq.SetTempo(p.BPM - tempoStep)

	case key.Matches(msg, keys.PrevSeq):
		return m.selectSequence(seq - 1)
	case key.Matches(msg, keys.NextSeq):
		return m.selectSequence(seq + 1)
	case key.Matches(msg, keys.NewSeq):
		return m.Seq.Edit(func(s *project.Store) error {
			i, err := s.AddSequence()
			if err != nil {
				return err
			}
			return s.SetCurrentSequence(i)
		})
	case key.Matches(msg, keys.ClearSeq):
		return m.Seq.Edit(func(s *project.Store) error { return s.ClearSequence(seq) })

	case key.Matches(msg, keys.Mute, keys.Solo):
		if channels == 0 {
			return nil
		}
		mix := p.Channel(seq, m.row).Mixer
		if key.Matches(msg, keys.Mute) {
			mix.Mute = !mix.Mute
		} else {
			mix.Solo = !mix.Solo
		}
		return m.Seq.Edit(func(s *project.Store) error { return s.SetMixer(seq, m.row, mix) })

	case key.Matches(msg, keys.PlayMode):
		mode := project.PlayAll
		if p.PlayMode == project.PlayAll {
			mode = project.PlaySequence
		}
		return m.Seq.Edit(func(s *project.Store) error { return s.SetPlayMode(mode) })

	case key.Matches(msg, keys.Record):
		if channels == 0 {
			return nil
		}
		armed := !m.Seq.RecordingArmed(seq, m.row)
		if err := m.Seq.ArmRecording(seq, m.row, armed); err != nil {
			return err
		}
		if armed {
			m.status = fmt.Sprintf("recording row %d", m.row+1)
		} else {
			m.status = "recording stopped"
		}
	case key.Matches(msg, keys.Commit):
		if channels == 0 {
			return nil
		}
		n, err := m.Seq.CommitRecording(seq, m.row, maxTakeEvents)
		if err != nil {
			return err
		}
		m.status = fmt.Sprintf("take committed to %d steps", n)

	case key.Matches(msg, keys.Save):
		return m.save()
	}
	return nil
}

func (m *Model) selectSequence(i int) error {
	n := len(m.Seq.Project().Sequences)
	i = (i + n) % n
	return m.Seq.Edit(func(s *project.Store) error { return s.SetCurrentSequence(i) })
}

func (m *Model) save() error {
	if m.SavePath == "" {
		return fmt.Errorf("no project path, start with --project")
	}
	data, err := m.Seq.SaveProject()
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.SavePath, data, 0644); err != nil {
		return err
	}
	m.status = "saved " + m.SavePath
	return nil
}

func nextVelocity(v float64) float64 {
	for i, level := range velocityLevels {
		if v >= level {
			return velocityLevels[(i+1)%len(velocityLevels)]
		}
	}
	return velocityLevels[0]
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	p := m.Seq.Project()
	st := m.Seq.State()

	headerStyle := lipgloss.NewStyle().Foreground(m.Theme.Accent())
	warnStyle := lipgloss.NewStyle().Foreground(m.Theme.Warning())
	statusStyle := lipgloss.NewStyle().
		Foreground(m.Theme.FG()).
		Background(m.Theme.Muted()).
		Padding(0, 1)

	playState := "STOP"
	if st.IsPlaying {
		playState = "PLAY"
	}
	step := "--"
	if st.CurrentStep >= 0 {
		step = fmt.Sprintf("%02d", st.CurrentStep+1)
	}
	midiStatus := ""
	if m.midiPort != "" {
		midiStatus = "  midi:" + m.midiPort
	}
	page := m.col / StepsPerPage
	header := headerStyle.Render(fmt.Sprintf("go-audionaut  %s  %3.0fbpm  seq %d/%d (%s)  step:%s  page %d/%d%s",
		playState, p.BPM, p.CurrentSequence+1, len(p.Sequences), p.PlayMode, step,
		page+1, project.TotalSteps/StepsPerPage, midiStatus))

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	out.WriteString("\n")
	if err := m.Seq.Degraded(); err != nil {
		out.WriteString(warnStyle.Render("timer fallback: " + err.Error()))
		out.WriteString("\n")
	}
	out.WriteString("\n")
	out.WriteString(m.grid(p, st))
	out.WriteString("\n")
	out.WriteString(m.help.View(keys))

	for _, w := range m.warnings {
		out.WriteString("\n")
		out.WriteString(warnStyle.Render(w))
	}
	if m.status != "" {
		out.WriteString("\n")
		out.WriteString(statusStyle.Render(m.status))
	}
	return out.String()
}

func (m Model) grid(p *project.Project, st sequencer.PlaybackState) string {
	sym := m.Theme.Symbols
	seqIdx := p.CurrentSequence
	seq := p.Sequences[seqIdx]
	page := m.col / StepsPerPage
	first := page * StepsPerPage
	row := min(m.row, max(len(seq.Channels)-1, 0))

	playhead := -1
	if st.IsPlaying && st.CurrentSequenceIndex == seqIdx {
		playhead = st.CurrentStep
	}

	labelStyle := lipgloss.NewStyle().Foreground(m.Theme.FG()).Width(12)
	dimStyle := lipgloss.NewStyle().Foreground(m.Theme.Muted())
	cursorStyle := lipgloss.NewStyle().Foreground(m.Theme.Cursor())
	playStyle := lipgloss.NewStyle().Foreground(m.Theme.Success())

	var b strings.Builder
	for ci, ch := range seq.Channels {
		label := labelStyle.Render(channelLabel(ch, ci))
		if !seq.Audible(ci) {
			label = dimStyle.Width(12).Render(channelLabel(ch, ci))
		}
		b.WriteString(label)

		flags := [2]rune{' ', ' '}
		if ch.Mixer.Mute {
			flags[0] = sym.Muted
		}
		if ch.Mixer.Solo {
			flags[1] = sym.Solo
		}
		b.WriteString(dimStyle.Render(string(flags[:])))
		b.WriteString(" ")

		for i := first; i < first+StepsPerPage; i++ {
			if i > first && i%4 == 0 {
				b.WriteString(" ")
			}
			cursor := ci == row && i == m.col
			switch {
			case i == playhead && cursor:
				b.WriteString(cursorStyle.Render(string(sym.CursorPlayhead)))
			case i == playhead:
				b.WriteString(playStyle.Render(string(sym.StepPlayhead)))
			case ch.Steps[i] && cursor:
				b.WriteString(cursorStyle.Render(string(sym.CursorActive)))
			case ch.Steps[i]:
				style := lipgloss.NewStyle().Foreground(m.Theme.Velocity(ch.Velocity[i]))
				b.WriteString(style.Render(string(sym.StepActive)))
			case cursor:
				b.WriteString(cursorStyle.Render(string(sym.CursorEmpty)))
			default:
				b.WriteString(dimStyle.Render(string(sym.StepEmpty)))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func channelLabel(ch *project.Channel, i int) string {
	if ch.Name != "" {
		return ch.Name
	}
	return fmt.Sprintf("%s %d", ch.Kind, i+1)
}
