package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ysm446/sd-to-wan-prompt/internal/common/fsutil"
)

// GGUFScanner discovers GGUF files placed directly in a directory and turns
// each into a compressed preset that lives outside the artifact store.
type GGUFScanner struct{}

// NewGGUFScanner returns a scanner.
func NewGGUFScanner() *GGUFScanner { return &GGUFScanner{} }

// Scan lists *.gguf files (case-insensitive) in dir. Projector files
// (mmproj*) are attached to the model sharing their directory instead of
// becoming presets themselves. The preset id is the full filename.
func (s *GGUFScanner) Scan(dir string) ([]Preset, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models, projectors []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		if IsProjectorFile(name) {
			projectors = append(projectors, name)
			continue
		}
		models = append(models, name)
	}
	sort.Strings(models)
	out := make([]Preset, 0, len(models))
	for _, name := range models {
		p := Preset{
			ID:          name,
			DisplayName: name,
			Description: "local GGUF file",
			Kind:        KindCompressed,
			LocalName:   strings.TrimSuffix(strings.ToLower(name), ".gguf"),
			LocalPath:   filepath.Join(abs, name),
		}
		if proj := matchProjector(name, projectors); proj != "" {
			p.Projector = filepath.Join(abs, proj)
		}
		p.normalize()
		out = append(out, p)
	}
	return out, nil
}

// ScanDir is a convenience wrapper over GGUFScanner.Scan.
func ScanDir(dir string) ([]Preset, error) { return NewGGUFScanner().Scan(dir) }

// IsProjectorFile reports whether a GGUF filename is a vision projector.
func IsProjectorFile(name string) bool {
	return strings.HasPrefix(strings.ToLower(filepath.Base(name)), "mmproj")
}

// matchProjector picks the projector whose name shares the longest prefix
// with the model filename; a lone projector matches any model.
func matchProjector(model string, projectors []string) string {
	if len(projectors) == 1 {
		return projectors[0]
	}
	stem := strings.ToLower(strings.TrimSuffix(model, filepath.Ext(model)))
	best, bestLen := "", 0
	for _, p := range projectors {
		ps := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(p), "mmproj"), "-"))
		n := commonPrefixLen(stem, ps)
		if n > bestLen {
			best, bestLen = p, n
		}
	}
	return best
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}
