package ocr

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/zombor/expensecam/internal/record"
	"github.com/zombor/expensecam/internal/retry"
)

// Status values reported by the stage.
const (
	StatusText   = "Text"
	StatusNoText = "no invoice"
	StatusError  = "Error"
)

// Vertex is one corner of a detection polygon.
type Vertex struct {
	X int
	Y int
}

// Detection is one text detection from the engine. The first detection in
// a response is the full text with an overall confidence; the rest are
// individual fragments with polygons.
type Detection struct {
	Text       string
	Confidence float64
	Vertices   []Vertex
}

// Engine defines the interface for the external text-detection
// collaborator. Detection is expected to be idempotent across retries.
type Engine interface {
	DetectText(ctx context.Context, image []byte) ([]Detection, error)
	Close() error
}

// Result is the normalized outcome of one OCR run. The stage never judges
// whether the text is an invoice; that is the analysis stage's job.
type Result struct {
	Success       bool
	HasText       bool
	ExtractedText string
	Confidence    float64
	TextBlocks    []record.TextBlock
	Status        string
	ErrorMessage  string
}

// Stage runs text detection with bounded retries and normalizes the
// engine's detections.
type Stage struct {
	engine Engine
	policy retry.Policy
}

// DefaultPolicy retries transient engine failures twice, 1.5s apart.
func DefaultPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		Delay:       1500 * time.Millisecond,
		Retryable:   IsTransient,
	}
}

// IsTransient reports whether an engine error is worth retrying. Google
// API errors are transient when rate-limited or server-side; anything
// that is not a Google API error (network, timeouts) is treated as
// transient too.
func IsTransient(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	return true
}

// NewStage creates a Stage with the default retry policy.
func NewStage(engine Engine) *Stage {
	return NewStageWithPolicy(engine, DefaultPolicy())
}

// NewStageWithPolicy creates a Stage with a custom retry policy for tests.
func NewStageWithPolicy(engine Engine, policy retry.Policy) *Stage {
	return &Stage{engine: engine, policy: policy}
}

// Run detects text in the image. A failure after exhausted retries is
// reported in the Result, not returned, so the caller can persist it.
func (s *Stage) Run(ctx context.Context, image []byte) Result {
	var detections []Detection
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		var detectErr error
		detections, detectErr = s.engine.DetectText(ctx, image)
		if detectErr != nil {
			slog.Warn("Text detection attempt failed", "error", detectErr)
		}
		return detectErr
	})
	if err != nil {
		return Result{
			Success:      false,
			Status:       StatusError,
			ErrorMessage: err.Error(),
		}
	}

	if len(detections) == 0 {
		return Result{
			Success: true,
			HasText: false,
			Status:  StatusNoText,
		}
	}

	full := detections[0]
	blocks := make([]record.TextBlock, 0, len(detections)-1)
	for _, d := range detections[1:] {
		blocks = append(blocks, record.TextBlock{
			Text:        d.Text,
			Confidence:  d.Confidence,
			BoundingBox: boundingBox(d.Vertices),
		})
	}

	return Result{
		Success:       true,
		HasText:       true,
		ExtractedText: full.Text,
		Confidence:    full.Confidence,
		TextBlocks:    blocks,
		Status:        StatusText,
	}
}

// boundingBox reduces a polygon to the min/max of its vertices.
func boundingBox(vertices []Vertex) record.BoundingBox {
	if len(vertices) == 0 {
		return record.BoundingBox{}
	}
	box := record.BoundingBox{
		MinX: vertices[0].X,
		MinY: vertices[0].Y,
		MaxX: vertices[0].X,
		MaxY: vertices[0].Y,
	}
	for _, v := range vertices[1:] {
		if v.X < box.MinX {
			box.MinX = v.X
		}
		if v.Y < box.MinY {
			box.MinY = v.Y
		}
		if v.X > box.MaxX {
			box.MaxX = v.X
		}
		if v.Y > box.MaxY {
			box.MaxY = v.Y
		}
	}
	return box
}
