package manager

import (
	"context"
	"time"

	"github.com/ysm446/sd-to-wan-prompt/internal/backend"
	"github.com/ysm446/sd-to-wan-prompt/internal/prompt"
	"github.com/ysm446/sd-to-wan-prompt/internal/registry"
	"github.com/ysm446/sd-to-wan-prompt/pkg/types"
)

// State is the lifecycle state of a slot.
type State string

const (
	StateEmpty      State = "empty"
	StateLoading    State = "loading"
	StateReady      State = "ready"
	StateGenerating State = "generating"
	StateUnloading  State = "unloading"
	StateFailed     State = "failed"
)

// Slot modes.
const (
	ModeShared    = "shared"
	ModePerDevice = "per_device"
)

// sharedClass is the only slot class in shared mode.
const sharedClass = "default"

// slot holds at most one loaded handle for a resource class.
type slot struct {
	class     string
	state     State
	preset    registry.Preset
	device    string
	precision string
	handle    backend.Handle
	loadedAt  time.Time
	lastErr   error
	active    string
	// cancels an in-flight load when a release gives up waiting
	loadCancel context.CancelFunc

	// queueCh counts the running generation plus the waiting ones; genCh
	// admits one at a time. Blocked senders on genCh are served in order.
	queueCh chan struct{}
	genCh   chan struct{}
}

// resident reports whether the slot holds a handle that can serve.
func (s *slot) resident() bool {
	return s.handle != nil && (s.state == StateReady || s.state == StateGenerating)
}

// Status is the terminal status of a generation.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Request is one generation. A nil Temperature and zero MaxTokens or TopP
// fall back to the preset defaults, then to the mode defaults.
type Request struct {
	// PresetID may be empty when exactly one preset is resident.
	PresetID    string
	Mode        prompt.Mode `validate:"required,oneof=analyze generate_video_prompt"`
	Image       []byte      `validate:"required"`
	ImageMIME   string
	Metadata    *types.ImageMetadata
	Language    string
	Style       *string
	Sections    []string
	Instruction string
	Temperature *float64 `validate:"omitempty,gte=0,lte=2"`
	MaxTokens   int      `validate:"gte=0,lte=32768"`
	TopP        float64  `validate:"gte=0,lte=1"`
}

// Result is the terminal outcome of a Stream. Text is exactly the
// concatenation of the fragments the stream delivered.
type Result struct {
	Status       Status
	Text         string
	FinishReason string
	Usage        backend.TokenUsage
	Err          error
}
