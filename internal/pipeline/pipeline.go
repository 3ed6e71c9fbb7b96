// Package pipeline drives an image record through the processing state
// machine: uploaded, OCR, analysis, with a fan-out broadcast after every
// store write.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zombor/expensecam/internal/analysis"
	"github.com/zombor/expensecam/internal/ocr"
	"github.com/zombor/expensecam/internal/record"
)

// ErrNoOCRText is returned when analysis is triggered before OCR has
// produced any text for the record.
var ErrNoOCRText = errors.New("record has no OCR text")

// Notifier broadcasts the current image list for a project. Failures are
// logged and swallowed; they never fail the write that triggered them.
type Notifier interface {
	Publish(ctx context.Context, projectID string) error
}

// TimeSource provides the current time.
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Pipeline sequences the stages against the record store. It holds no
// durable state of its own.
type Pipeline struct {
	store      record.Store
	blobs      record.BlobStore
	ocrStage   *ocr.Stage
	analysis   *analysis.Stage
	notifier   Notifier
	timeSource TimeSource
}

// NewPipeline creates a Pipeline with the default time source.
func NewPipeline(store record.Store, blobs record.BlobStore, ocrStage *ocr.Stage, analysisStage *analysis.Stage, notifier Notifier) *Pipeline {
	return NewPipelineWithDeps(store, blobs, ocrStage, analysisStage, notifier, &defaultTimeSource{})
}

// NewPipelineWithDeps creates a Pipeline with a custom time source for
// testing.
func NewPipelineWithDeps(store record.Store, blobs record.BlobStore, ocrStage *ocr.Stage, analysisStage *analysis.Stage, notifier Notifier, timeSource TimeSource) *Pipeline {
	return &Pipeline{
		store:      store,
		blobs:      blobs,
		ocrStage:   ocrStage,
		analysis:   analysisStage,
		notifier:   notifier,
		timeSource: timeSource,
	}
}

// RegisterParams describes a newly uploaded image.
type RegisterParams struct {
	ID               string
	ProjectID        string
	OwnerID          string
	StoragePath      string
	OriginalFilename string
	ContentType      string
	SizeBytes        int64
}

// RegisterImage upserts the record in the uploaded state. Registering the
// same id twice never creates a second record and keeps the first upload
// timestamps.
func (p *Pipeline) RegisterImage(ctx context.Context, params RegisterParams) (*record.ImageRecord, error) {
	if params.ID == "" {
		return nil, fmt.Errorf("image id is required")
	}

	rec, err := p.store.Create(&record.ImageRecord{
		ID:               params.ID,
		ProjectID:        params.ProjectID,
		OwnerID:          params.OwnerID,
		StoragePath:      params.StoragePath,
		OriginalFilename: params.OriginalFilename,
		ContentType:      params.ContentType,
		SizeBytes:        params.SizeBytes,
		Status:           record.StatusUploaded,
		UploadedAt:       p.timeSource.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("registering image: %w", err)
	}

	p.publish(ctx, params.ProjectID)
	return rec, nil
}

// RunOCR drives the record through ocr_running into ocr_complete or
// ocr_failed. A stage failure is captured on the record, not returned.
func (p *Pipeline) RunOCR(ctx context.Context, id, projectID, ownerID string) (*record.ImageRecord, error) {
	rec, err := p.store.Get(id, projectID, ownerID)
	if err != nil {
		return nil, err
	}

	if err := p.setStatus(ctx, id, projectID, ownerID, record.StatusOCRRunning); err != nil {
		return nil, err
	}

	result := p.detect(ctx, rec)

	now := p.timeSource.Now()
	var patch record.Patch
	if result.Success {
		status := record.StatusOCRComplete
		patch = record.Patch{
			Status:         &status,
			OCRText:        &result.ExtractedText,
			OCRProcessedAt: &now,
			ClearError:     true,
		}
		// A textless image records empty text; confidence and blocks
		// stay absent
		if result.HasText {
			patch.OCRConfidence = &result.Confidence
			patch.OCRTextBlocks = result.TextBlocks
		}
	} else {
		status := record.StatusOCRFailed
		patch = record.Patch{
			Status:         &status,
			ErrorMessage:   &result.ErrorMessage,
			OCRProcessedAt: &now,
		}
	}

	updated, err := p.store.Update(id, projectID, ownerID, patch)
	if err != nil {
		return nil, fmt.Errorf("persisting ocr result: %w", err)
	}
	p.publish(ctx, projectID)
	return updated, nil
}

// detect loads and prepares the image bytes and runs the OCR stage. Blob
// or decode failures count as stage failures so they land on the record.
func (p *Pipeline) detect(ctx context.Context, rec *record.ImageRecord) ocr.Result {
	data, err := p.blobs.Get(rec.StoragePath)
	if err != nil {
		return ocr.Result{
			Success:      false,
			Status:       ocr.StatusError,
			ErrorMessage: fmt.Sprintf("loading image bytes: %v", err),
		}
	}

	prepared, err := ocr.PrepareImage(data, rec.ContentType)
	if err != nil {
		return ocr.Result{
			Success:      false,
			Status:       ocr.StatusError,
			ErrorMessage: fmt.Sprintf("preparing image: %v", err),
		}
	}

	return p.ocrStage.Run(ctx, prepared)
}

// RunAnalysis drives the record through analysis_running into
// analysis_complete or analysis_failed. A parse failure is soft: the
// record completes as plain text with the parse diagnostic recorded.
func (p *Pipeline) RunAnalysis(ctx context.Context, id, projectID, ownerID string) (*record.ImageRecord, error) {
	rec, err := p.store.Get(id, projectID, ownerID)
	if err != nil {
		return nil, err
	}
	if rec.OCRText == nil || *rec.OCRText == "" {
		return nil, ErrNoOCRText
	}

	if err := p.setStatus(ctx, id, projectID, ownerID, record.StatusAnalysisRunning); err != nil {
		return nil, err
	}

	result := p.analysis.Run(ctx, *rec.OCRText)

	now := p.timeSource.Now()
	var patch record.Patch
	if result.Success {
		status := record.StatusAnalysisComplete
		patch = record.Patch{
			Status:              &status,
			IsInvoiceGuess:      &result.IsInvoice,
			AnalysisProcessedAt: &now,
		}
		if result.Invoice != nil {
			patch.InvoiceTotal = &result.Invoice.TotalAmount
			patch.InvoiceCurrency = strPtr(result.Invoice.Currency)
			patch.InvoiceDate = strPtr(result.Invoice.Date)
			patch.MerchantName = strPtr(result.Invoice.MerchantName)
			patch.MerchantLocation = strPtr(result.Invoice.Location)
			patch.RawAnalysisPayload = result.RawPayload
		}
		if result.Err != "" {
			patch.ErrorMessage = &result.Err
		} else {
			patch.ClearError = true
		}
	} else {
		status := record.StatusAnalysisFailed
		patch = record.Patch{
			Status:              &status,
			ErrorMessage:        &result.Err,
			AnalysisProcessedAt: &now,
		}
	}

	updated, err := p.store.Update(id, projectID, ownerID, patch)
	if err != nil {
		return nil, fmt.Errorf("persisting analysis result: %w", err)
	}
	p.publish(ctx, projectID)
	return updated, nil
}

// DeleteImage removes the record, then the underlying bytes best-effort.
func (p *Pipeline) DeleteImage(ctx context.Context, id, projectID, ownerID string) error {
	storagePath, err := p.store.Delete(id, projectID, ownerID)
	if err != nil {
		return err
	}

	if storagePath != "" {
		if err := p.blobs.Delete(storagePath); err != nil && !errors.Is(err, record.ErrNotFound) {
			slog.Warn("Failed to delete image bytes", "storage_path", storagePath, "error", err)
		}
	}

	p.publish(ctx, projectID)
	return nil
}

// GetImage retrieves a record scoped by project and owner.
func (p *Pipeline) GetImage(id, projectID, ownerID string) (*record.ImageRecord, error) {
	return p.store.Get(id, projectID, ownerID)
}

// ListImages returns a project's records for one owner, newest first.
func (p *Pipeline) ListImages(projectID, ownerID string) ([]*record.ImageRecord, error) {
	return p.store.List(projectID, ownerID)
}

// GetImageFile returns the raw bytes and content type for a record.
func (p *Pipeline) GetImageFile(id, projectID, ownerID string) ([]byte, string, error) {
	rec, err := p.store.Get(id, projectID, ownerID)
	if err != nil {
		return nil, "", err
	}
	data, err := p.blobs.Get(rec.StoragePath)
	if err != nil {
		return nil, "", fmt.Errorf("getting image bytes: %w", err)
	}
	return data, rec.ContentType, nil
}

func (p *Pipeline) setStatus(ctx context.Context, id, projectID, ownerID string, status record.Status) error {
	if _, err := p.store.Update(id, projectID, ownerID, record.Patch{Status: &status}); err != nil {
		return fmt.Errorf("entering %s: %w", status, err)
	}
	p.publish(ctx, projectID)
	return nil
}

// publish broadcasts the project's current image list. A broadcast
// failure must never fail the mutation that triggered it.
func (p *Pipeline) publish(ctx context.Context, projectID string) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Publish(ctx, projectID); err != nil {
		slog.Warn("Failed to publish image update", "project_id", projectID, "error", err)
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
