package registry

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Kind selects the backend variant for a preset.
type Kind string

const (
	// KindStandard is a full-precision transformer checkpoint (safetensors).
	KindStandard Kind = "standard"
	// KindCompressed is a single-file quantised GGUF runtime.
	KindCompressed Kind = "compressed"
)

// Resources is the approximate memory a preset needs once loaded.
type Resources struct {
	RAMMB  int `yaml:"ram_mb" json:"ram_mb" validate:"gte=0"`
	VRAMMB int `yaml:"vram_mb" json:"vram_mb" validate:"gte=0"`
}

// Defaults are the sampling parameters suggested for a preset.
type Defaults struct {
	Temperature float64 `yaml:"temperature" json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens" validate:"gte=0"`
	TopP        float64 `yaml:"top_p" json:"top_p" validate:"gte=0,lte=1"`
}

// Preset is a named, immutable model configuration.
type Preset struct {
	ID             string    `yaml:"-" json:"id" validate:"required"`
	DisplayName    string    `yaml:"display_name" json:"display_name"`
	Description    string    `yaml:"description" json:"description"`
	RecommendedFor string    `yaml:"recommended_for" json:"recommended_for"`
	Kind           Kind      `yaml:"kind" json:"kind" validate:"oneof=standard compressed"`
	RepoID         string    `yaml:"repo_id" json:"repo_id" validate:"required_without=LocalPath"`
	Revision       string    `yaml:"revision" json:"revision"`
	LocalName      string    `yaml:"local_name" json:"local_name" validate:"required,excludesall=/\\"`
	Include        []string  `yaml:"include" json:"include,omitempty"`
	Exclude        []string  `yaml:"exclude" json:"exclude,omitempty"`
	Resources      Resources `yaml:"resources" json:"resources"`
	Defaults       Defaults  `yaml:"defaults" json:"defaults"`
	// LocalPath points at an artifact outside the store (discovered GGUF files).
	LocalPath string `yaml:"local_path" json:"local_path,omitempty"`
	// Projector is the vision projector file for compressed presets.
	Projector string `yaml:"projector" json:"projector,omitempty"`
}

// DefaultLocalName derives a directory name from the last repo segment.
func DefaultLocalName(repoID string) string {
	parts := strings.Split(strings.TrimRight(repoID, "/"), "/")
	return strings.ToLower(parts[len(parts)-1])
}

// normalize fills derived fields.
func (p *Preset) normalize() {
	if p.Kind == "" {
		p.Kind = KindStandard
	}
	if p.Revision == "" {
		p.Revision = "main"
	}
	if p.LocalName == "" && p.RepoID != "" {
		p.LocalName = DefaultLocalName(p.RepoID)
	}
	if p.DisplayName == "" {
		p.DisplayName = p.ID
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the preset fields.
func (p Preset) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("preset %q: %w", p.ID, err)
	}
	return nil
}

// FromRepo builds an ad-hoc preset for a repository that is not in the catalog.
func FromRepo(repoID, localName string, kind Kind) Preset {
	p := Preset{ID: repoID, RepoID: repoID, LocalName: localName, Kind: kind}
	if p.LocalName == "" {
		p.LocalName = DefaultLocalName(repoID)
	}
	p.ID = p.LocalName
	p.normalize()
	return p
}
