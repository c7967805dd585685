package llmfit

import (
	"reflect"
	"testing"

	"github.com/evanchen57/jobsieve/internal/model"
)

func TestParseFitContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    model.FitResult
		ok      bool
	}{
		{
			name:    "well formed",
			content: `{"fit_label":"high","fit_score":82,"confidence":0.9,"reason_codes":["strong_match"],"missing_must_have":[]}`,
			want:    model.FitResult{FitLabel: model.FitHigh, FitScore: 82, Confidence: 0.9, ReasonCodes: []string{"strong_match"}},
			ok:      true,
		},
		{
			name:    "numbers as strings",
			content: `{"fit_label":"medium","fit_score":"55","confidence":"0.6"}`,
			want:    model.FitResult{FitLabel: model.FitMedium, FitScore: 55, Confidence: 0.6},
			ok:      true,
		},
		{
			name:    "score clamped to 100",
			content: `{"fit_label":"high","fit_score":250,"confidence":3}`,
			want:    model.FitResult{FitLabel: model.FitHigh, FitScore: 100, Confidence: 1},
			ok:      true,
		},
		{
			name:    "negative score clamped to 0",
			content: `{"fit_label":"low","fit_score":-10,"confidence":-0.5}`,
			want:    model.FitResult{FitLabel: model.FitLow},
			ok:      true,
		},
		{
			name:    "unknown label defaults to low",
			content: `{"fit_label":"amazing","fit_score":90}`,
			want:    model.FitResult{FitLabel: model.FitLow, FitScore: 90},
			ok:      true,
		},
		{
			name:    "label case folded",
			content: `{"fit_label":" HIGH ","fit_score":70}`,
			want:    model.FitResult{FitLabel: model.FitHigh, FitScore: 70},
			ok:      true,
		},
		{
			name:    "empty reason strings dropped",
			content: `{"fit_label":"low","reason_codes":["", "  ", "real_reason"]}`,
			want:    model.FitResult{FitLabel: model.FitLow, ReasonCodes: []string{"real_reason"}},
			ok:      true,
		},
		{
			name:    "not json",
			content: `I think this job is a great fit!`,
			ok:      false,
		},
		{
			name:    "json array instead of object",
			content: `["high", 80]`,
			ok:      false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseFitContent(tt.content)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNormalize_ReasonCodeCap(t *testing.T) {
	raw := rawFitPayload{FitLabel: "low"}
	for i := 0; i < maxReasonCodes+10; i++ {
		raw.ReasonCodes = append(raw.ReasonCodes, "code")
	}
	fit := raw.normalize()
	if len(fit.ReasonCodes) != maxReasonCodes {
		t.Errorf("reason codes = %d, want capped at %d", len(fit.ReasonCodes), maxReasonCodes)
	}
}

func TestFitResultAdmitted(t *testing.T) {
	tests := []struct {
		name string
		fit  model.FitResult
		want bool
	}{
		{"high label admits regardless of score", model.FitResult{FitLabel: model.FitHigh, FitScore: 10}, true},
		{"score at threshold admits", model.FitResult{FitLabel: model.FitMedium, FitScore: 65}, true},
		{"score below threshold rejected", model.FitResult{FitLabel: model.FitMedium, FitScore: 64}, false},
		{"low label low score rejected", model.FitResult{FitLabel: model.FitLow, FitScore: 20}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fit.Admitted(65); got != tt.want {
				t.Errorf("Admitted = %v, want %v", got, tt.want)
			}
		})
	}
}
