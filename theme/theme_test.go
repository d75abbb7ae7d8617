package theme

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLookup(t *testing.T) {
	p := &Palette{Colors: []RGB{{0, 0, 0}, {200, 100, 50}}}
	tests := []struct {
		norm float64
		want RGB
	}{
		{-1, RGB{0, 0, 0}},
		{0, RGB{0, 0, 0}},
		{0.5, RGB{100, 50, 25}},
		{1, RGB{200, 100, 50}},
		{2, RGB{200, 100, 50}},
	}
	for _, tt := range tests {
		if got := p.Lookup(tt.norm); got != tt.want {
			t.Errorf("Lookup(%v) = %v, want %v", tt.norm, got, tt.want)
		}
	}
}

func TestParseGPL(t *testing.T) {
	in := `GIMP Palette
Name: test
Columns: 4
# comment
  0   0   0	black
255 128   7	orange
300   0   0	out of range
 12  34
`
	p, err := ParseGPL(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "test" {
		t.Errorf("name = %q", p.Name)
	}
	if len(p.Colors) != 2 || p.Colors[1] != (RGB{255, 128, 7}) {
		t.Errorf("colors = %v", p.Colors)
	}

	if _, err := ParseGPL(strings.NewReader("GIMP Palette\n")); err == nil {
		t.Error("expected an error for an empty palette")
	}
}

func TestLoad(t *testing.T) {
	th, err := Load("")
	if err != nil || th.Palette != Plasma {
		t.Fatalf("Load(\"\") = %v, %v", th, err)
	}

	th, err = Load(filepath.Join(t.TempDir(), "missing.gpl"))
	if err == nil {
		t.Error("expected an error for a missing file")
	}
	if th == nil || th.Palette != Plasma {
		t.Error("missing file should fall back to the built-in palette")
	}

	path := filepath.Join(t.TempDir(), "mono.gpl")
	if err := os.WriteFile(path, []byte("GIMP Palette\n10 20 30\n"), 0644); err != nil {
		t.Fatal(err)
	}
	th, err = Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := th.Accent(); got != "#0a141e" {
		t.Errorf("accent = %q", got)
	}
}
