// Package analysis turns raw OCR text into structured invoice fields via a
// text-understanding collaborator.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
)

// Status values reported by the stage.
const (
	StatusInvoice            = "Invoice"
	StatusText               = "Text"
	StatusConfigurationError = "ConfigurationError"
	StatusAPIError           = "ApiError"
)

// invoicePrompt instructs the model to answer with nothing but a JSON
// object carrying the five extraction fields.
const invoicePrompt = `You are analyzing text extracted from a photo of a receipt or invoice. Extract the following information from the text below.

Return ONLY a JSON object in this exact format, with no text before or after it and no markdown code blocks:
{
  "totalAmount": 0.00,
  "currency": "USD",
  "date": "YYYY-MM-DD",
  "merchantName": "",
  "location": ""
}

Rules:
- totalAmount is the final total or amount due, as a number
- currency is the ISO 4217 code (e.g. USD, EUR)
- totalAmount and currency are required; use null for any other field you cannot find
- date must be in YYYY-MM-DD format

Text:
%s`

// InvoiceAnalysis is the structured extraction result.
type InvoiceAnalysis struct {
	TotalAmount  float64 `json:"totalAmount"`
	Currency     string  `json:"currency"`
	Date         string  `json:"date"`
	MerchantName string  `json:"merchantName"`
	Location     string  `json:"location"`
}

// Extractor defines the interface for the text-understanding
// collaborator. It returns the model's free-form text response, which is
// expected to contain a JSON object, possibly fenced.
type Extractor interface {
	Extract(ctx context.Context, prompt string) (string, error)
	Close() error
}

// Result is the outcome of one analysis run. A parse failure is a soft
// failure: Success stays true with no structured data, so the record can
// still be marked complete as plain text.
type Result struct {
	Success    bool
	Invoice    *InvoiceAnalysis
	Status     string
	IsInvoice  bool
	Err        string
	RawPayload json.RawMessage
}

// Stage submits one structured-extraction request per run. There is no
// retry here: the call is paid per invocation and a transient failure is
// surfaced on the record for the caller to re-trigger.
type Stage struct {
	extractor Extractor
}

// NewStage creates a Stage. A nil extractor is valid and reports
// ConfigurationError on every run, for deployments without an analysis
// credential.
func NewStage(extractor Extractor) *Stage {
	return &Stage{extractor: extractor}
}

// Run classifies and structures the OCR text.
func (s *Stage) Run(ctx context.Context, ocrText string) Result {
	if s.extractor == nil {
		return Result{
			Success: false,
			Status:  StatusConfigurationError,
			Err:     "no analysis credential configured",
		}
	}

	response, err := s.extractor.Extract(ctx, fmt.Sprintf(invoicePrompt, ocrText))
	if err != nil {
		return Result{
			Success: false,
			Status:  StatusAPIError,
			Err:     err.Error(),
		}
	}

	invoice, raw, err := extractInvoiceJSON(response)
	if err != nil {
		return Result{
			Success:   true,
			Status:    StatusText,
			IsInvoice: false,
			Err:       fmt.Sprintf("no structured data available: %v", err),
		}
	}

	isInvoice := invoice.TotalAmount != 0 && invoice.Currency != ""
	status := StatusText
	if isInvoice {
		status = StatusInvoice
	}

	return Result{
		Success:    true,
		Invoice:    invoice,
		Status:     status,
		IsInvoice:  isInvoice,
		RawPayload: raw,
	}
}
