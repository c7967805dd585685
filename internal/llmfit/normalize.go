package llmfit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/evanchen57/jobsieve/internal/model"
)

const maxReasonCodes = 20

// rawFitPayload is what the model actually sends back. Fields are kept
// loose because models occasionally return numbers as strings or drop
// arrays entirely.
type rawFitPayload struct {
	FitLabel        string `json:"fit_label"`
	FitScore        any    `json:"fit_score"`
	Confidence      any    `json:"confidence"`
	ReasonCodes     []any  `json:"reason_codes"`
	MissingMustHave []any  `json:"missing_must_have"`
}

// normalize clamps and coerces the payload into a well-formed verdict.
func (r rawFitPayload) normalize() model.FitResult {
	label := model.FitLabel(strings.ToLower(strings.TrimSpace(r.FitLabel)))
	switch label {
	case model.FitHigh, model.FitMedium, model.FitLow:
	default:
		label = model.FitLow
	}
	return model.FitResult{
		FitLabel:        label,
		FitScore:        clampInt(coerceInt(r.FitScore), 0, 100),
		Confidence:      clampFloat(coerceFloat(r.Confidence), 0, 1),
		ReasonCodes:     coerceStrings(r.ReasonCodes, maxReasonCodes),
		MissingMustHave: coerceStrings(r.MissingMustHave, maxReasonCodes),
	}
}

func coerceInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return 0
}

func coerceFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	}
	return 0
}

func coerceStrings(vs []any, limit int) []string {
	if len(vs) == 0 {
		return nil
	}
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		s := strings.TrimSpace(fmt.Sprint(v))
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out
}

func clampInt(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func clampFloat(f, lo, hi float64) float64 {
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}
