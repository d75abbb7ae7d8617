package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Quit     key.Binding
	Play     key.Binding
	Left     key.Binding
	Right    key.Binding
	Up       key.Binding
	Down     key.Binding
	Page     key.Binding
	Toggle   key.Binding
	Velocity key.Binding
	TempoUp  key.Binding
	TempoDn  key.Binding
	PrevSeq  key.Binding
	NextSeq  key.Binding
	NewSeq   key.Binding
	ClearSeq key.Binding
	Mute     key.Binding
	Solo     key.Binding
	PlayMode key.Binding
	Record   key.Binding
	Commit   key.Binding
	Save     key.Binding
	Help     key.Binding
}

func Key(help string, keyboardKey ...string) key.Binding {
	return key.NewBinding(key.WithKeys(keyboardKey...), key.WithHelp(keyboardKey[0], help))
}

var keys = keyMap{
	Quit:     Key("quit", "q", "ctrl+c"),
	Play:     Key("play/stop", "p"),
	Left:     Key("left", "h", "left"),
	Right:    Key("right", "l", "right"),
	Up:       Key("up", "k", "up"),
	Down:     Key("down", "j", "down"),
	Page:     Key("next page", "tab"),
	Toggle:   Key("toggle step", " ", "enter"),
	Velocity: Key("velocity", "v"),
	TempoUp:  Key("tempo +5", "+", "="),
	TempoDn:  Key("tempo -5", "-", "_"),
	PrevSeq:  Key("prev sequence", "["),
	NextSeq:  Key("next sequence", "]"),
	NewSeq:   Key("new sequence", "n"),
	ClearSeq: Key("clear sequence", "c"),
	Mute:     Key("mute", "m"),
	Solo:     Key("solo", "s"),
	PlayMode: Key("loop/chain", "a"),
	Record:   Key("arm recording", "r"),
	Commit:   Key("commit take", "R"),
	Save:     Key("save", "ctrl+s"),
	Help:     Key("help", "?"),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Play, k.Toggle, k.TempoUp, k.TempoDn, k.Save, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Left, k.Right, k.Up, k.Down, k.Page},
		{k.Toggle, k.Velocity, k.Mute, k.Solo},
		{k.Play, k.TempoUp, k.TempoDn, k.PlayMode},
		{k.Record, k.Commit},
		{k.PrevSeq, k.NextSeq, k.NewSeq, k.ClearSeq},
		{k.Save, k.Help, k.Quit},
	}
}
