package modelfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ysm446/sd-to-wan-prompt/internal/registry"
)

// LayoutError lists what a directory is missing for its preset kind.
type LayoutError struct {
	Dir     string
	Missing []string
}

func (e *LayoutError) Error() string {
	return fmt.Sprintf("incomplete model directory %s: missing %s", e.Dir, strings.Join(e.Missing, ", "))
}

// CheckLayout verifies the files a backend of the given kind needs.
//
// standard: config.json, tokenizer.json or tokenizer_config.json, and weights
// (*.safetensors with readable headers, or pytorch_model.bin).
// compressed: at least one non-projector *.gguf with the GGUF magic.
// Zero-length files count as missing.
func CheckLayout(kind registry.Kind, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		if info.Size() > 0 {
			names[e.Name()] = true
		}
	}
	switch kind {
	case registry.KindCompressed:
		_, _, err := FindGGUF(dir)
		return err
	case registry.KindStandard, "":
		var missing []string
		if !names["config.json"] {
			missing = append(missing, "config.json")
		}
		if !names["tokenizer.json"] && !names["tokenizer_config.json"] {
			missing = append(missing, "tokenizer.json|tokenizer_config.json")
		}
		shards := matching(names, func(n string) bool { return strings.HasSuffix(n, ".safetensors") })
		if len(shards) == 0 && !names["pytorch_model.bin"] {
			missing = append(missing, "*.safetensors|pytorch_model.bin")
		}
		if len(missing) > 0 {
			return &LayoutError{Dir: dir, Missing: missing}
		}
		for _, s := range shards {
			if _, err := ReadSafetensorsHeader(filepath.Join(dir, s)); err != nil {
				return fmt.Errorf("%s: %w", s, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown layout %q", kind)
	}
}

// FindGGUF returns the model file and optional projector in dir.
func FindGGUF(dir string) (model, projector string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", err
	}
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names[e.Name()] = true
		}
	}
	ggufs := matching(names, func(n string) bool { return strings.HasSuffix(strings.ToLower(n), ".gguf") })
	for _, n := range ggufs {
		p := filepath.Join(dir, n)
		ok, err := HasGGUFMagic(p)
		if err != nil {
			return "", "", err
		}
		if !ok {
			return "", "", fmt.Errorf("%s: not a GGUF file", n)
		}
		if registry.IsProjectorFile(n) {
			if projector == "" {
				projector = p
			}
			continue
		}
		if model == "" {
			model = p
		}
	}
	if model == "" {
		return "", "", &LayoutError{Dir: dir, Missing: []string{"*.gguf"}}
	}
	return model, projector, nil
}

// IsLayoutError reports whether err is a missing-files error.
func IsLayoutError(err error) bool {
	var le *LayoutError
	return errors.As(err, &le)
}

func matching(names map[string]bool, keep func(string) bool) []string {
	var out []string
	for n := range names {
		if keep(n) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}
