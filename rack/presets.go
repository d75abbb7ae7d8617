package rack

import (
	"embed"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"go-audionaut/project"
)

//go:embed presets/*
var presetFS embed.FS

// Preset is a named synth patch
type Preset struct {
	Directory string // e.g. "bass"
	User      bool
	Patch     project.Patch
}

// Presets lists the built-in presets, sorted by directory and name
func Presets() []Preset {
	return LoadPresets(presetFS, false)
}

// LoadPresets reads every presets/<dir>/<name>.yml under fsys. Files that
// do not parse are skipped. The patch name comes from the file name with
// underscores as spaces.
func LoadPresets(fsys fs.FS, user bool) []Preset {
	var out []Preset
	fs.WalkDir(fsys, "presets", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || (path.Ext(p) != ".yml" && path.Ext(p) != ".yaml") {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil
		}
		patch, err := ParsePreset(data)
		if err != nil {
			return nil
		}
		noExt := strings.TrimSuffix(p, path.Ext(p))
		patch.Name = strings.ReplaceAll(path.Base(noExt), "_", " ")
		dir := strings.TrimPrefix(path.Dir(noExt), "presets")
		out = append(out, Preset{Directory: strings.TrimPrefix(dir, "/"), User: user, Patch: patch})
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Directory != out[j].Directory {
			return out[i].Directory < out[j].Directory
		}
		return out[i].Patch.Name < out[j].Patch.Name
	})
	return out
}

// ParsePreset decodes one YAML patch. Missing fields take the default
// patch's values.
func ParsePreset(data []byte) (project.Patch, error) {
	patch := project.DefaultPatch()
	if err := yaml.Unmarshal(data, &patch); err != nil {
		return project.Patch{}, err
	}
	return patch.Normalize(), nil
}

// MarshalPreset encodes patch as YAML
func MarshalPreset(patch project.Patch) ([]byte, error) {
	return yaml.Marshal(patch)
}

// FindPreset returns the preset called name from list
func FindPreset(list []Preset, name string) (Preset, bool) {
	for _, p := range list {
		if strings.EqualFold(p.Patch.Name, name) {
			return p, true
		}
	}
	return Preset{}, false
}
