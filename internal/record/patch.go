package record

import (
	"encoding/json"
	"time"
)

// Patch is a sparse update to an image record. Nil fields are left
// untouched. The struct doubles as the update whitelist: identity and
// storage locator fields have no counterpart here, so they cannot be
// patched at all.
type Patch struct {
	Status *Status

	OCRText       *string
	OCRConfidence *float64
	OCRTextBlocks []TextBlock

	IsInvoiceGuess     *bool
	InvoiceTotal       *float64
	InvoiceCurrency    *string
	InvoiceDate        *string
	MerchantName       *string
	MerchantLocation   *string
	TaxAmount          *float64
	Category           *string
	Taxonomy           *string
	RawAnalysisPayload json.RawMessage

	// ErrorMessage sets the diagnostic message; ClearError nulls it.
	// Setting both is a caller bug and ClearError wins.
	ErrorMessage *string
	ClearError   bool

	OCRProcessedAt      *time.Time
	AnalysisProcessedAt *time.Time
}

// apply copies the present fields onto rec. UpdatedAt is the store's
// responsibility, not the patch's.
func (p Patch) apply(rec *ImageRecord) {
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.OCRText != nil {
		rec.OCRText = p.OCRText
	}
	if p.OCRConfidence != nil {
		rec.OCRConfidence = p.OCRConfidence
	}
	if p.OCRTextBlocks != nil {
		rec.OCRTextBlocks = p.OCRTextBlocks
	}
	if p.IsInvoiceGuess != nil {
		rec.IsInvoiceGuess = p.IsInvoiceGuess
	}
	if p.InvoiceTotal != nil {
		rec.InvoiceTotal = p.InvoiceTotal
	}
	if p.InvoiceCurrency != nil {
		rec.InvoiceCurrency = p.InvoiceCurrency
	}
	if p.InvoiceDate != nil {
		rec.InvoiceDate = p.InvoiceDate
	}
	if p.MerchantName != nil {
		rec.MerchantName = p.MerchantName
	}
	if p.MerchantLocation != nil {
		rec.MerchantLocation = p.MerchantLocation
	}
	if p.TaxAmount != nil {
		rec.TaxAmount = p.TaxAmount
	}
	if p.Category != nil {
		rec.Category = p.Category
	}
	if p.Taxonomy != nil {
		rec.Taxonomy = p.Taxonomy
	}
	if p.RawAnalysisPayload != nil {
		rec.RawAnalysisPayload = p.RawAnalysisPayload
	}
	if p.ClearError {
		rec.ErrorMessage = nil
	} else if p.ErrorMessage != nil {
		rec.ErrorMessage = p.ErrorMessage
	}
	if p.OCRProcessedAt != nil {
		rec.OCRProcessedAt = p.OCRProcessedAt
	}
	if p.AnalysisProcessedAt != nil {
		rec.AnalysisProcessedAt = p.AnalysisProcessedAt
	}
}
