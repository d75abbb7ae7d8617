package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"

	"go-audionaut/midi"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	defer midi.CloseDriver()

	switch os.Args[1] {
	case "list":
		listPorts()
	case "test":
		if len(os.Args) < 3 {
			usage()
			return
		}
		testPort(os.Args[2])
	case "watch":
		if len(os.Args) < 3 {
			usage()
			return
		}
		watchPort(os.Args[2])
	default:
		usage()
	}
}

func usage() {
	fmt.Println("MIDI output ports")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list         - List MIDI output ports")
	fmt.Println("  test <name>  - Play a C major scale on the matching port")
	fmt.Println("  watch <name> - Report the matching port coming and going")
}

func listPorts() {
	fmt.Println("=== MIDI Output Ports ===")
	fmt.Println("(waiting up to 3 seconds...)")

	names, err := midi.OutPorts(midi.ScanTimeout)
	if err != nil {
		fmt.Println("\nTIMEOUT! CoreMIDI is hung.")
		fmt.Println("Fix: sudo killall coreaudiod midiserver")
		return
	}
	if len(names) == 0 {
		fmt.Println("  (none)")
	}
	for i, name := range names {
		fmt.Printf("  %d: %s\n", i, name)
	}
}

func testPort(name string) {
	out, err := midi.OpenOut(name)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer out.Close()
	fmt.Printf("Using output: %s\n", out.Name)

	for _, key := range []uint8{60, 62, 64, 65, 67, 69, 71, 72} {
		if err := out.Send(gomidi.NoteOn(0, key, 100)); err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		time.Sleep(200 * time.Millisecond)
		out.Send(gomidi.NoteOff(0, key))
	}
	fmt.Println("Done!")
}

func watchPort(name string) {
	fmt.Printf("Watching for %q. Ctrl+C to exit.\n", name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	w := midi.NewWatcher(name)
	go w.Run(ctx)
	for ev := range w.Events() {
		fmt.Printf("[%s] %s %s\n", time.Now().Format("15:04:05"), ev.Name, ev.Type)
	}
}
