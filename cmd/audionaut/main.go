package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"go-audionaut/audio"
	"go-audionaut/config"
	"go-audionaut/debug"
	"go-audionaut/errs"
	"go-audionaut/midi"
	"go-audionaut/rack"
	"go-audionaut/sequencer"
	"go-audionaut/theme"
	"go-audionaut/tui"
)

func main() {
	var (
		projectPath string
		configPath  string
		midiOut     string
		palette     string
		noAudio     bool
		debugLog    bool
		bufferMs    int
	)
	pflag.StringVarP(&projectPath, "project", "p", "", "project file to open and save to")
	pflag.StringVarP(&configPath, "config", "c", "", "config file (default ~/.config/go-audionaut/config.json)")
	pflag.StringVarP(&midiOut, "midi-out", "m", "", "send instrument channels to the MIDI output port matching this name")
	pflag.StringVar(&palette, "palette", "", "GIMP .gpl palette for the grid")
	pflag.BoolVar(&noAudio, "no-audio", false, "do not open the sound device")
	pflag.BoolVar(&debugLog, "debug", false, "write a debug log to ~/.config/go-audionaut/debug.log")
	pflag.IntVar(&bufferMs, "buffer", 50, "audio device buffer in milliseconds")
	pflag.Parse()

	if err := run(projectPath, configPath, midiOut, palette, noAudio, debugLog, time.Duration(bufferMs)*time.Millisecond); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(projectPath, configPath, midiOut, palette string, noAudio, debugLog bool, buffer time.Duration) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var log *debug.Logger
	if debugLog {
		log, err = debug.Enable("")
		if err != nil {
			return fmt.Errorf("opening debug log: %w", err)
		}
		defer log.Close()
		log.Dump("config", cfg)
	}

	warnings := make(chan error, 16)
	warn := errs.HandlerFunc(func(err error) {
		log.Warn("main", "%v", err)
		select {
		case warnings <- err:
		default:
		}
	})

	if midiOut == "" {
		midiOut = cfg.Output.MIDIPort
	}
	var send rack.Sender
	var watcher *midi.Watcher
	if midiOut != "" {
		defer midi.CloseDriver()
		out, err := midi.OpenOut(midiOut)
		if err != nil {
			warn.HandleError(err)
		} else {
			defer out.Close()
			send = out.Send
			log.Log("midi", "instrument channels -> %s", out.Name)
		}
		watcher = midi.NewWatcher(midiOut)
	}

	seq, err := sequencer.New(sequencer.Options{
		Config: cfg,
		MIDI:   send,
		Logger: log,
		Warn:   warn,
	})
	if err != nil {
		return err
	}
	defer seq.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go seq.Run(ctx)
	if watcher != nil {
		go watcher.Run(ctx)
	}

	if projectPath != "" {
		data, err := os.ReadFile(projectPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// saved on first ctrl+s
		case err != nil:
			return err
		default:
			if err := seq.LoadProject(data); err != nil {
				return fmt.Errorf("loading %s: %w", projectPath, err)
			}
		}
	}

	var output audio.Output
	if cfg.Output.Audio && !noAudio {
		output, err = audio.OpenOutput(seq.Engine(), buffer)
		if err != nil {
			warn.HandleError(err)
		}
	}
	if output == nil {
		// keep the audio clock running for scheduling and MIDI
		output = audio.NewPacedOutput(seq.Engine(), 10*time.Millisecond)
	}
	defer output.Close()

	if palette == "" {
		palette = cfg.UI.Palette
	}
	th, err := theme.Load(palette)
	if err != nil {
		warn.HandleError(err)
	}

	updates, err := tui.Notify(seq)
	if err != nil {
		return err
	}
	m := tui.NewModel(seq, th)
	m.Updates = updates
	m.Warnings = warnings
	m.Watcher = watcher
	m.SavePath = projectPath

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}

	cfg.UI.LastTempo = seq.Project().BPM
	if projectPath != "" {
		cfg.UI.LastProject = projectPath
	}
	if configPath != "" {
		err = cfg.SaveTo(configPath)
	} else {
		err = cfg.Save()
	}
	if err != nil {
		log.Warn("main", "saving config: %v", err)
	}
	return nil
}
