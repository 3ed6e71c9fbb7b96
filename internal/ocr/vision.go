package ocr

import (
	"bytes"
	"context"
	"fmt"

	vision "cloud.google.com/go/vision/apiv1"
	visionpb "google.golang.org/genproto/googleapis/cloud/vision/v1"
	"google.golang.org/api/option"
)

// VisionEngine implements the Engine interface using the Google Cloud
// Vision text detection API.
type VisionEngine struct {
	client *vision.ImageAnnotatorClient
}

// NewVisionEngine creates a Vision client. opts can carry credentials,
// e.g. option.WithCredentialsFile.
func NewVisionEngine(ctx context.Context, opts ...option.ClientOption) (*VisionEngine, error) {
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating vision client: %w", err)
	}
	return &VisionEngine{client: client}, nil
}

// DetectText runs text detection on the image bytes.
func (v *VisionEngine) DetectText(ctx context.Context, image []byte) ([]Detection, error) {
	img, err := vision.NewImageFromReader(bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}

	annotations, err := v.client.DetectTexts(ctx, img, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("detecting text: %w", err)
	}

	detections := make([]Detection, 0, len(annotations))
	for _, a := range annotations {
		detections = append(detections, Detection{
			Text:       a.GetDescription(),
			Confidence: float64(a.GetConfidence()),
			Vertices:   vertices(a.GetBoundingPoly()),
		})
	}
	return detections, nil
}

func vertices(poly *visionpb.BoundingPoly) []Vertex {
	if poly == nil {
		return nil
	}
	vs := make([]Vertex, 0, len(poly.GetVertices()))
	for _, v := range poly.GetVertices() {
		vs = append(vs, Vertex{X: int(v.GetX()), Y: int(v.GetY())})
	}
	return vs
}

// Close closes the Vision client.
func (v *VisionEngine) Close() error {
	return v.client.Close()
}
