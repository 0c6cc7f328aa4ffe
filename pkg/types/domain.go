package types

// ImageMetadata is the generation metadata embedded in an image. A nil
// pointer means the image carried none.
type ImageMetadata struct {
	// Positive prompt.
	// example: 1girl, standing in a wheat field, golden hour
	PositivePrompt string `json:"positive_prompt" example:"1girl, standing in a wheat field, golden hour"`
	// Negative prompt, if any.
	// example: lowres, bad anatomy
	NegativePrompt string `json:"negative_prompt,omitempty" example:"lowres, bad anatomy"`
	// Generation settings keyed by lowercased name (steps, cfg_scale, sampler, seed, size, model).
	Parameters map[string]any `json:"parameters,omitempty"`
	// Tool that wrote the metadata: automatic1111, comfyui or unknown.
	// example: automatic1111
	SourceTool string `json:"source_tool" example:"automatic1111"`
}

// PresetInfo describes a catalog entry and whether its artifact is local.
type PresetInfo struct {
	// example: qwen2.5-vl-7b
	ID string `json:"id" example:"qwen2.5-vl-7b"`
	// example: Qwen2.5-VL 7B Instruct
	DisplayName    string `json:"display_name" example:"Qwen2.5-VL 7B Instruct"`
	Description    string `json:"description,omitempty"`
	RecommendedFor string `json:"recommended_for,omitempty"`
	// Backend variant: standard or compressed.
	// example: standard
	Kind string `json:"kind" example:"standard"`
	// example: Qwen/Qwen2.5-VL-7B-Instruct
	RepoID   string `json:"repo_id,omitempty" example:"Qwen/Qwen2.5-VL-7B-Instruct"`
	Revision string `json:"revision,omitempty"`
	// example: qwen2.5-vl-7b-instruct
	LocalName string `json:"local_name" example:"qwen2.5-vl-7b-instruct"`
	// Approximate resource requirement.
	// example: 16384
	RAMMB int `json:"ram_mb,omitempty" example:"16384"`
	// example: 16384
	VRAMMB int `json:"vram_mb,omitempty" example:"16384"`
	// True when a complete verified artifact is present.
	// example: true
	Downloaded bool `json:"downloaded" example:"true"`
}

// ArtifactInfo is one local model copy.
type ArtifactInfo struct {
	// example: qwen2.5-vl-7b
	PresetID  string `json:"preset_id" example:"qwen2.5-vl-7b"`
	LocalName string `json:"local_name"`
	// example: standard
	Layout string `json:"layout" example:"standard"`
	Path   string `json:"path"`
	// example: true
	Complete  bool  `json:"complete" example:"true"`
	SizeBytes int64 `json:"size_bytes"`
	// Human readable size.
	// example: 15.5GiB
	Size             string `json:"size" example:"15.5GiB"`
	Files            int    `json:"files"`
	LastVerifiedUnix int64  `json:"last_verified_unix,omitempty"`
	// Why the artifact was marked unusable, if it was.
	Invalidated string `json:"invalidated,omitempty"`
}
