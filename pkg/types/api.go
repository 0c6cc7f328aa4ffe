package types

// SelectRequest asks the server to make a preset resident.
type SelectRequest struct {
	// Preset to load.
	// example: qwen2.5-vl-7b
	PresetID string `json:"preset_id" validate:"required" example:"qwen2.5-vl-7b"`
	// Device: auto, cpu or cuda:N. Empty uses the configured default.
	// example: auto
	Device string `json:"device,omitempty" example:"auto"`
	// Precision: bfloat16, float16, float32, or auto for compressed presets.
	// example: bfloat16
	Precision string `json:"precision,omitempty" example:"bfloat16"`
}

// GenerateRequest submits an image for analysis or video prompt generation.
// The response is an NDJSON stream of fragment lines followed by a final line.
type GenerateRequest struct {
	// Preset to use. Empty uses the resident preset.
	// example: qwen2.5-vl-7b
	PresetID string `json:"preset_id,omitempty" example:"qwen2.5-vl-7b"`
	// Base64 encoded image bytes.
	Image string `json:"image" validate:"required"`
	// MIME type of the image.
	// example: image/png
	ImageMIME string `json:"image_mime,omitempty" example:"image/png"`
	// Metadata extracted from the image; omit when none.
	Metadata *ImageMetadata `json:"metadata,omitempty"`
	// Mode: analyze or generate_video_prompt.
	// example: generate_video_prompt
	Mode string `json:"mode" validate:"required,oneof=analyze generate_video_prompt" example:"generate_video_prompt"`
	// Output language: English or 日本語.
	// example: English
	Language string `json:"language,omitempty" example:"English"`
	// Motion style: calm, dynamic, cinematic, anime or none. Omitted means cinematic.
	// example: cinematic
	Style *string `json:"style,omitempty" example:"cinematic"`
	// Output sections for video prompts: scene, action, camera, style, prompt.
	// example: ["scene","action","prompt"]
	Sections []string `json:"sections,omitempty" example:"scene,action,prompt"`
	// Question for analyze mode, extra instructions for video prompts.
	// example: Make the hair move in the wind.
	Instruction string `json:"instruction,omitempty" example:"Make the hair move in the wind."`
	// Sampling temperature; 0 disables sampling. Omitted uses the preset default.
	// example: 0.7
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
	// Maximum new tokens. 0 uses the preset default.
	// example: 1024
	MaxTokens int `json:"max_tokens,omitempty" validate:"gte=0,lte=32768" example:"1024"`
	// Nucleus sampling probability. 0 uses the preset default.
	// example: 0.9
	TopP float64 `json:"top_p,omitempty" validate:"gte=0,lte=1" example:"0.9"`
}

// FragmentLine is one streamed piece of generated text.
type FragmentLine struct {
	// example: A woman stands
	Fragment string `json:"fragment" example:"A woman stands"`
}

// GenerateStartLine is the first line of a generation stream.
type GenerateStartLine struct {
	// Id usable with the cancel endpoint.
	// example: 2f1c7c4e-4c1e-4a53-9e0b-0a4b2f3c9d10
	RequestID string `json:"request_id" example:"2f1c7c4e-4c1e-4a53-9e0b-0a4b2f3c9d10"`
	// example: qwen2.5-vl-7b
	PresetID string `json:"preset_id" example:"qwen2.5-vl-7b"`
}

// Usage reports token counts when the backend provides them.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerateDoneLine is the final line of a generation stream.
type GenerateDoneLine struct {
	Done bool `json:"done"`
	// example: 2f1c7c4e-4c1e-4a53-9e0b-0a4b2f3c9d10
	RequestID string `json:"request_id"`
	// Terminal status: completed, cancelled or failed.
	// example: completed
	Status string `json:"status" example:"completed"`
	// Full generated text; equals the concatenated fragments.
	Content string `json:"content"`
	// example: stop
	FinishReason string `json:"finish_reason,omitempty" example:"stop"`
	Usage        *Usage `json:"usage,omitempty"`
	// Failure message when status is failed.
	Error string `json:"error,omitempty"`
	// Error kind when status is failed.
	Kind string `json:"kind,omitempty"`
}

// CancelResponse acknowledges a cancel request.
type CancelResponse struct {
	RequestID string `json:"request_id"`
	Cancelled bool   `json:"cancelled"`
}

// DownloadRequest controls a preset download.
type DownloadRequest struct {
	// Remove any local copy and fetch again.
	Force bool `json:"force,omitempty"`
}

// DownloadProgressLine is one NDJSON progress line of a download.
type DownloadProgressLine struct {
	// example: qwen2.5-vl-7b
	PresetID string `json:"preset_id" example:"qwen2.5-vl-7b"`
	// example: 1048576
	Completed int64 `json:"completed" example:"1048576"`
	// example: 16777216
	Total int64 `json:"total" example:"16777216"`
	// example: 6.25
	Percent    float64 `json:"percent" example:"6.25"`
	File       string  `json:"file,omitempty"`
	FilesDone  int     `json:"files_done"`
	FilesTotal int     `json:"files_total"`
	Done       bool    `json:"done,omitempty"`
	// Local path once the download is complete.
	Path  string `json:"path,omitempty"`
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// PresetsResponse is returned by GET /presets.
type PresetsResponse struct {
	Presets []PresetInfo `json:"presets"`
}

// ArtifactsResponse is returned by GET /artifacts.
type ArtifactsResponse struct {
	Artifacts []ArtifactInfo `json:"artifacts"`
}

// MetadataResponse is returned by POST /metadata.
type MetadataResponse struct {
	// False when the image carried no recognised metadata.
	// example: true
	Found    bool           `json:"found" example:"true"`
	Metadata *ImageMetadata `json:"metadata,omitempty"`
}

// SlotStatus describes one resource class and its resident handle.
type SlotStatus struct {
	// Resource class: default in shared mode, cpu or an accelerator otherwise.
	// example: default
	Class string `json:"class" example:"default"`
	// Slot state: empty, loading, ready, generating, unloading or failed.
	// example: ready
	State string `json:"state" example:"ready"`
	// example: qwen2.5-vl-7b
	PresetID  string `json:"preset_id,omitempty" example:"qwen2.5-vl-7b"`
	Kind      string `json:"kind,omitempty"`
	Device    string `json:"device,omitempty"`
	Precision string `json:"precision,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	PID       int    `json:"pid,omitempty"`
	// example: 9120
	EstRAMMB int `json:"est_ram_mb,omitempty" example:"9120"`
	// example: 0
	EstVRAMMB     int    `json:"est_vram_mb,omitempty" example:"0"`
	Architecture  string `json:"architecture,omitempty"`
	ContextLength int    `json:"context_length,omitempty"`
	// Request currently generating, if any.
	ActiveRequest string `json:"active_request,omitempty"`
	QueueLen      int    `json:"queue_len"`
	LoadedUnix    int64  `json:"loaded_unix,omitempty"`
	LastError     string `json:"last_error,omitempty"`
}

// Selection is the most recent successful select.
type Selection struct {
	PresetID  string `json:"preset_id"`
	Device    string `json:"device"`
	Precision string `json:"precision"`
	// Sampling settings last used with this preset.
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	SavedUnix   int64    `json:"saved_unix"`
}

// DescribeResponse is returned by GET /backend and POST /backend/select.
type DescribeResponse struct {
	// Slot mode: shared or per_device.
	// example: shared
	Mode  string       `json:"mode" example:"shared"`
	Slots []SlotStatus `json:"slots"`
	// Last persisted selection, if any.
	LastSelection *Selection `json:"last_selection,omitempty"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
	// Error kind, when the failure is classified.
	// example: state_violation
	Kind string `json:"kind,omitempty" example:"state_violation"`
}
