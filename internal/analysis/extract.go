package analysis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// extractInvoiceJSON is a best-effort parser for the model's response: it
// strips code-fence markup, attempts a direct parse, retries once with
// control characters removed, and coerces a string totalAmount to a
// number. On success it also returns the cleaned JSON for audit storage.
// The repair heuristics are documented fallbacks, not a general JSON
// fixer.
func extractInvoiceJSON(text string) (*InvoiceAnalysis, json.RawMessage, error) {
	text = stripCodeFence(text)

	startIdx := strings.Index(text, "{")
	endIdx := strings.LastIndex(text, "}")
	if startIdx == -1 || endIdx < startIdx {
		return nil, nil, fmt.Errorf("no JSON object found in response")
	}
	text = text[startIdx : endIdx+1]

	invoice, err := parseInvoice(text)
	if err != nil {
		// Second attempt with control characters stripped; models
		// occasionally embed raw newlines or escape bytes inside string
		// values.
		text = stripControlChars(text)
		invoice, err = parseInvoice(text)
		if err != nil {
			return nil, nil, fmt.Errorf("unmarshaling json: %w", err)
		}
	}

	return invoice, json.RawMessage(text), nil
}

// rawInvoice defers totalAmount decoding so string amounts like "$42.50"
// can be coerced.
type rawInvoice struct {
	TotalAmount  json.RawMessage `json:"totalAmount"`
	Currency     string          `json:"currency"`
	Date         string          `json:"date"`
	MerchantName string          `json:"merchantName"`
	Location     string          `json:"location"`
}

func parseInvoice(text string) (*InvoiceAnalysis, error) {
	var raw rawInvoice
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, err
	}

	amount, err := coerceAmount(raw.TotalAmount)
	if err != nil {
		return nil, err
	}

	return &InvoiceAnalysis{
		TotalAmount:  amount,
		Currency:     strings.TrimSpace(raw.Currency),
		Date:         strings.TrimSpace(raw.Date),
		MerchantName: strings.TrimSpace(raw.MerchantName),
		Location:     strings.TrimSpace(raw.Location),
	}, nil
}

// coerceAmount accepts a JSON number, null, or a string with currency
// decoration. Strings keep only digits, '.' and '-' before parsing.
func coerceAmount(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}

	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return number, nil
	}

	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0, fmt.Errorf("totalAmount is neither number nor string")
	}

	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, str)
	if cleaned == "" {
		return 0, nil
	}

	number, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing totalAmount %q: %w", str, err)
	}
	return number, nil
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// stripControlChars removes C0 control characters and DEL. Raw newlines
// are illegal inside JSON string literals and optional between tokens, so
// dropping them everywhere is safe.
func stripControlChars(text string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, text)
}
