package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"go-audionaut/debug"
	"go-audionaut/project"
	"go-audionaut/rack"
	"go-audionaut/saveload"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "validate":
		err = validateCmd(args)
	case "export-midi":
		err = exportCmd(args)
	case "new":
		err = newCmd(args)
	case "presets":
		listPresets(os.Stdout)
	case "dump":
		err = dumpCmd(args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Project file tool")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  validate <file>                 - Check a project and print a summary")
	fmt.Println("  export-midi <file> [-o out.mid] - Write the project as a Standard MIDI File (--kit, --gate)")
	fmt.Println("  new <file> [flags]              - Create an empty project")
	fmt.Println("  presets                         - List built-in synth presets")
	fmt.Println("  dump <file>                     - Print the decoded project")
}

func readProject(path string) (*project.Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := saveload.Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func validateCmd(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("validate takes one file")
	}
	p, err := readProject(args[0])
	if err != nil {
		return err
	}
	summarize(os.Stdout, p)
	return nil
}

func exportCmd(args []string) error {
	fs := pflag.NewFlagSet("export-midi", pflag.ContinueOnError)
	out := fs.StringP("out", "o", "", "output file (default: input with .mid)")
	gate := fs.Float64P("gate", "g", 0.8, "note length as a fraction of a step")
	kit := fs.StringP("kit", "k", saveload.DefaultKit, "drum kit for sampler channels: "+strings.Join(saveload.KitNames(), ", "))
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("export-midi takes one file")
	}
	if _, ok := saveload.Kits[*kit]; !ok {
		return fmt.Errorf("unknown kit %q", *kit)
	}
	in := fs.Arg(0)
	p, err := readProject(in)
	if err != nil {
		return err
	}
	if *out == "" {
		*out = strings.TrimSuffix(in, ".json") + ".mid"
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := saveload.ExportSMFKit(f, p, *gate, saveload.GetKit(*kit)); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", *out)
	return nil
}

type newOptions struct {
	samplers    int
	instruments int
	bpm         float64
	preset      string
	samples     []string
}

func newCmd(args []string) error {
	var opts newOptions
	fs := pflag.NewFlagSet("new", pflag.ContinueOnError)
	fs.IntVar(&opts.samplers, "samplers", project.DefaultSamplerChannels, "sampler channels")
	fs.IntVar(&opts.instruments, "instruments", project.DefaultInstrumentChannels, "instrument channels")
	fs.Float64Var(&opts.bpm, "bpm", project.DefaultBPM, "tempo")
	fs.StringVar(&opts.preset, "preset", "", "synth preset for the instrument channels")
	fs.StringSliceVar(&opts.samples, "sample", nil, "sample refs cycled over the sampler channels")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("new takes one file")
	}
	path := fs.Arg(0)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	p, err := newProject(opts)
	if err != nil {
		return err
	}
	data, err := saveload.Save(p)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func newProject(opts newOptions) (*project.Project, error) {
	s := project.NewStore(project.Options{
		SamplerChannels:    opts.samplers,
		InstrumentChannels: opts.instruments,
		BPM:                opts.bpm,
		SampleRefs:         opts.samples,
	})
	if err := s.SetTempo(opts.bpm); err != nil {
		return nil, err
	}
	if opts.preset != "" {
		preset, ok := rack.FindPreset(rack.Presets(), opts.preset)
		if !ok {
			return nil, fmt.Errorf("no preset %q", opts.preset)
		}
		for i, ch := range s.Project().Sequences[0].Channels {
			if ch.Kind != project.KindInstrument {
				continue
			}
			if err := s.SetPatch(0, i, preset.Patch); err != nil {
				return nil, err
			}
		}
	}
	return s.Project(), nil
}

func summarize(w io.Writer, p *project.Project) {
	name := p.Name
	if name == "" {
		name = "(untitled)"
	}
	fmt.Fprintf(w, "%s: %.1f bpm, %d sequences, play mode %s\n", name, p.BPM, len(p.Sequences), p.PlayMode)
	for si, seq := range p.Sequences {
		active := 0
		for _, ch := range seq.Channels {
			for _, on := range ch.Steps {
				if on {
					active++
				}
			}
		}
		mark := " "
		if si == p.CurrentSequence {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %d: %d channels, %d active steps\n", mark, si+1, len(seq.Channels), active)
	}
}

func listPresets(w io.Writer) {
	for _, p := range rack.Presets() {
		fmt.Fprintf(w, "%-8s %-20s %s\n", p.Directory, p.Patch.Name, p.Patch.Waveform)
	}
}

func dumpCmd(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("dump takes one file")
	}
	p, err := readProject(args[0])
	if err != nil {
		return err
	}
	debug.New(os.Stdout).Dump("project", p)
	return nil
}
