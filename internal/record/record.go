package record

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of an image record. Transitions move
// forward through the pipeline, except that a failed stage may be
// re-triggered and re-enter the same running state.
type Status string

const (
	StatusUploaded         Status = "uploaded"
	StatusOCRRunning       Status = "ocr_running"
	StatusOCRComplete      Status = "ocr_complete"
	StatusOCRFailed        Status = "ocr_failed"
	StatusAnalysisRunning  Status = "analysis_running"
	StatusAnalysisComplete Status = "analysis_complete"
	StatusAnalysisFailed   Status = "analysis_failed"
)

// BoundingBox is an axis-aligned box derived from a detection polygon.
type BoundingBox struct {
	MinX int `json:"min_x"`
	MinY int `json:"min_y"`
	MaxX int `json:"max_x"`
	MaxY int `json:"max_y"`
}

// TextBlock is one detected text fragment with its position.
type TextBlock struct {
	Text        string      `json:"text"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"bounding_box"`
}

// ImageRecord is the persisted metadata for one uploaded image and its
// processing state. Identity fields are immutable after creation. OCR and
// analysis fields are nil until the corresponding stage has run.
type ImageRecord struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	OwnerID   string `json:"owner_id"`

	StoragePath      string `json:"storage_path"`
	OriginalFilename string `json:"original_filename,omitempty"`
	ContentType      string `json:"content_type,omitempty"`
	SizeBytes        int64  `json:"size_bytes,omitempty"`

	Status Status `json:"status"`

	OCRText       *string     `json:"ocr_text,omitempty"`
	OCRConfidence *float64    `json:"ocr_confidence,omitempty"`
	OCRTextBlocks []TextBlock `json:"ocr_text_blocks,omitempty"`

	IsInvoiceGuess     *bool           `json:"is_invoice_guess,omitempty"`
	InvoiceTotal       *float64        `json:"invoice_total,omitempty"`
	InvoiceCurrency    *string         `json:"invoice_currency,omitempty"`
	InvoiceDate        *string         `json:"invoice_date,omitempty"`
	MerchantName       *string         `json:"merchant_name,omitempty"`
	MerchantLocation   *string         `json:"merchant_location,omitempty"`
	TaxAmount          *float64        `json:"tax_amount,omitempty"`
	Category           *string         `json:"category,omitempty"`
	Taxonomy           *string         `json:"taxonomy,omitempty"`
	RawAnalysisPayload json.RawMessage `json:"raw_analysis_payload,omitempty"`

	ErrorMessage *string `json:"error_message,omitempty"`

	UploadedAt          time.Time  `json:"uploaded_at"`
	OCRProcessedAt      *time.Time `json:"ocr_processed_at,omitempty"`
	AnalysisProcessedAt *time.Time `json:"analysis_processed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}
