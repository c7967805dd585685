// Package gate is the deterministic admit/escalate/reject rule engine that
// runs before any paid classification call.
package gate

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/evanchen57/jobsieve/internal/model"
)

// Options are the gate thresholds and weights. All of them come from
// configuration; Defaults() mirrors the shipped config file.
type Options struct {
	MinInboxScore int `yaml:"min_inbox_score"`
	BorderlineMin int `yaml:"borderline_min"`
	BorderlineMax int `yaml:"borderline_max"`

	RoleWeight      int `yaml:"role_weight"`
	MustSkillWeight int `yaml:"must_skill_weight"`
	NiceSkillWeight int `yaml:"nice_skill_weight"`
	LocationBonus   int `yaml:"location_bonus"`
	LocationPenalty int `yaml:"location_penalty"`
	UnknownLocBonus int `yaml:"unknown_location_bonus"`
	NoRolePenalty   int `yaml:"no_role_penalty"`
	HardRejectMalus int `yaml:"hard_reject_malus"`

	AllowUnknownLocation bool `yaml:"allow_unknown_location"`
}

// Defaults returns the weights the original rule set shipped with.
func Defaults() Options {
	return Options{
		MinInboxScore:   55,
		BorderlineMin:   35,
		BorderlineMax:   54,
		RoleWeight:      18,
		MustSkillWeight: 12,
		NiceSkillWeight: 5,
		LocationBonus:   10,
		LocationPenalty: 10,
		UnknownLocBonus: 4,
		NoRolePenalty:   15,
		HardRejectMalus: 80,
	}
}

// normalize clamps the thresholds into a usable shape.
func (o Options) normalize() Options {
	if o.MinInboxScore < 1 {
		o.MinInboxScore = 1
	}
	if o.BorderlineMin < 1 {
		o.BorderlineMin = 1
	}
	if o.BorderlineMax < o.BorderlineMin {
		o.BorderlineMax = o.BorderlineMin
	}
	return o
}

// Result is the gate's verdict for one job.
type Result struct {
	FitScore        int
	FitLabel        model.FitLabel
	QualityBucket   model.QualityBucket
	AdmittedToInbox bool
	NeedsLLM        bool
	HardRejected    bool
	ReasonCodes     []string
}

var minYearsKeyword = regexp.MustCompile(`^(\d+)\s*\+\s*(?:years?|yrs?)$`)
var yearsMention = regexp.MustCompile(`\b(\d{1,2})\s*\+?\s*(?:years?|yrs?)\b`)

// countWholeWord counts whole-word, case-insensitive occurrences of keyword
// in text. text is assumed lower-cased already.
func countWholeWord(text, keyword string) int {
	if text == "" || keyword == "" {
		return 0
	}
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(strings.ToLower(keyword)) + `\b`)
	if err != nil {
		return 0
	}
	return len(re.FindAllStringIndex(text, -1))
}

// parseMinYearsKeyword recognizes exclusion keywords of the form "8+ years"
// and returns the threshold. Returns 0, false for plain keywords.
func parseMinYearsKeyword(keyword string) (int, bool) {
	m := minYearsKeyword.FindStringSubmatch(strings.ToLower(strings.TrimSpace(keyword)))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// hasMinYearsRequirement reports whether the text mentions any "<N>+ years"
// requirement with N at or above minYears.
func hasMinYearsRequirement(text string, minYears int) bool {
	for _, m := range yearsMention.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err == nil && n >= minYears {
			return true
		}
	}
	return false
}

func hasHardExclusion(text, keyword string) bool {
	if minYears, ok := parseMinYearsKeyword(keyword); ok {
		return hasMinYearsRequirement(text, minYears)
	}
	return countWholeWord(text, keyword) > 0
}

// Evaluate scores a job against the profile and produces the three-way
// outcome: admitted, escalate to the LLM, or filtered. Hard exclusions
// short-circuit straight to filtered and never reach the classifier.
func Evaluate(job model.NormalizedJob, profile model.Profile, opts Options) Result {
	opts = opts.normalize()
	text := strings.ToLower(job.Title + "\n" + job.JDText)
	location := strings.ToLower(strings.TrimSpace(job.Location))

	var reasonCodes []string
	score := 0
	hardRejected := false

	for _, kw := range profile.HardExclusions {
		if hasHardExclusion(text, kw) {
			reasonCodes = append(reasonCodes, "hard_exclusion:"+kw)
			hardRejected = true
		}
	}

	roleHits := 0
	for _, role := range profile.TargetRoles {
		if count := countWholeWord(text, role); count > 0 {
			roleHits += count
			score += opts.RoleWeight
			reasonCodes = append(reasonCodes, "role_match:"+role)
		}
	}

	mustHits := 0
	for _, skill := range profile.MustHaveSkills {
		if countWholeWord(text, skill) > 0 {
			mustHits++
			score += opts.MustSkillWeight
			reasonCodes = append(reasonCodes, "must_skill:"+skill)
		}
	}

	for _, skill := range profile.NiceToHaveSkills {
		if countWholeWord(text, skill) > 0 {
			score += opts.NiceSkillWeight
			reasonCodes = append(reasonCodes, "nice_skill:"+skill)
		}
	}

	switch {
	case location == "" && opts.AllowUnknownLocation:
		score += opts.UnknownLocBonus
		reasonCodes = append(reasonCodes, "location:unknown_allowed")
	case locationPreferred(location, profile.LocationPreferences):
		score += opts.LocationBonus
		reasonCodes = append(reasonCodes, "location:preferred")
	case location != "":
		score -= opts.LocationPenalty
		reasonCodes = append(reasonCodes, "location:mismatch")
	}

	if roleHits == 0 {
		score -= opts.NoRolePenalty
		reasonCodes = append(reasonCodes, "role:no_match")
	}
	if len(profile.MustHaveSkills) > 0 && mustHits == 0 {
		reasonCodes = append(reasonCodes, "must_skill:none")
	}

	if hardRejected {
		return Result{
			FitScore:      clampFloor(score - opts.HardRejectMalus),
			FitLabel:      model.FitLow,
			QualityBucket: model.BucketFiltered,
			HardRejected:  true,
			ReasonCodes:   reasonCodes,
		}
	}

	switch {
	case score >= opts.MinInboxScore:
		return Result{
			FitScore:        score,
			FitLabel:        model.FitHigh,
			QualityBucket:   model.BucketHigh,
			AdmittedToInbox: true,
			ReasonCodes:     reasonCodes,
		}
	case score >= opts.BorderlineMin && score <= opts.BorderlineMax:
		return Result{
			FitScore:      score,
			FitLabel:      model.FitMedium,
			QualityBucket: model.BucketBorderline,
			NeedsLLM:      true,
			ReasonCodes:   reasonCodes,
		}
	default:
		return Result{
			FitScore:      clampFloor(score),
			FitLabel:      model.FitLow,
			QualityBucket: model.BucketFiltered,
			ReasonCodes:   reasonCodes,
		}
	}
}

func locationPreferred(location string, prefers []string) bool {
	if location == "" {
		return false
	}
	for _, kw := range prefers {
		if kw != "" && strings.Contains(location, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func clampFloor(score int) int {
	if score < 0 {
		return 0
	}
	return score
}
