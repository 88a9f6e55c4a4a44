package order

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// maxCodeLen bounds the length of a code parsed from the text before the
// first colon of an error description. Longer prefixes are prose, not codes.
const maxCodeLen = 10

// creditMemoMarker identifies a credit-memo event by its type.
const creditMemoMarker = "Credit memo created"

// ErrorSignature describes the first error event found in a history.
type ErrorSignature struct {
	HasError    bool   `json:"has_error"`
	Code        string `json:"error_code,omitempty"`
	Description string `json:"error_description,omitempty"`
}

// IsV041 reports whether the signature carries the V041 code.
func (s ErrorSignature) IsV041() bool {
	return s.Code == CodeV041
}

// CodeOrUnknown returns the code, or "UNKNOWN" when none could be parsed.
func (s ErrorSignature) CodeOrUnknown() string {
	if s.Code == "" {
		return "UNKNOWN"
	}
	return s.Code
}

// FindError scans history in order and returns the signature of the first
// error event. An event is an error when its type contains "Error" or,
// ignoring case, "error". Later events are never examined.
func FindError(history []Event) ErrorSignature {
	for _, ev := range history {
		if !isErrorType(ev.Type) {
			continue
		}
		return ErrorSignature{
			HasError:    true,
			Code:        extractCode(ev.Description),
			Description: ev.Description,
		}
	}
	return ErrorSignature{}
}

// HasCreditMemo reports whether any event type records a created credit memo.
func HasCreditMemo(history []Event) bool {
	for _, ev := range history {
		if strings.Contains(ev.Type, creditMemoMarker) {
			return true
		}
	}
	return false
}

func isErrorType(eventType string) bool {
	if strings.Contains(eventType, "Error") {
		return true
	}
	// A Caser is stateful; one per call keeps FindError safe across workers.
	return strings.Contains(cases.Fold().String(eventType), "error")
}

// extractCode applies the code rule: V041 anywhere wins, otherwise a short
// prefix before the first colon, otherwise no code.
func extractCode(desc string) string {
	desc = norm.NFC.String(desc)
	if strings.Contains(desc, CodeV041) {
		return CodeV041
	}
	head, _, found := strings.Cut(desc, ":")
	if !found {
		return ""
	}
	head = strings.TrimSpace(head)
	if utf8.RuneCountInString(head) >= maxCodeLen {
		return ""
	}
	return head
}
