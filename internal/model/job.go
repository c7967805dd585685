package model

import (
	"context"
	"strings"
	"time"
)

// NormalizedJob is the common record shape every source adapter emits.
// Company and Title are required; everything else is best effort.
type NormalizedJob struct {
	Company   string            // company name
	Title     string            // job title
	Location  string            // free-form location string
	PostDate  string            // ISO date or datetime, "" if unknown
	Source    string            // adapter name, e.g. "greenhouse"
	URL       string            // posting URL
	JDText    string            // plain-text job description
	IsBigTech bool              // set by the run transform
	Meta      map[string]string // source-specific extras, never interpreted
}

// Normalize trims the fields that participate in identity and fills the
// defaults the rest of the pipeline assumes. Adapters may emit raw values;
// everything downstream works on the normalized form.
func (j NormalizedJob) Normalize() NormalizedJob {
	out := j
	out.Company = strings.TrimSpace(j.Company)
	out.Title = strings.TrimSpace(j.Title)
	out.Location = strings.TrimSpace(j.Location)
	out.PostDate = strings.TrimSpace(j.PostDate)
	out.URL = strings.TrimSpace(j.URL)
	out.JDText = strings.TrimSpace(j.JDText)
	out.Source = strings.ToLower(strings.TrimSpace(j.Source))
	if out.Company == "" {
		out.Company = "Unknown"
	}
	if out.Source == "" {
		out.Source = "unknown"
	}
	return out
}

// Valid reports whether the job carries the two required identity fields.
func (j NormalizedJob) Valid() bool {
	return strings.TrimSpace(j.Company) != "" && strings.TrimSpace(j.Title) != ""
}

// SourceAdapter normalizes one board's API into NormalizedJobs.
// Implementations return an error on failure; the orchestrator isolates it
// so a broken board never aborts a run.
type SourceAdapter interface {
	Name() string
	FetchAll(ctx context.Context) ([]NormalizedJob, error)
}

// Profile describes what the reviewer is looking for. All keyword lists are
// matched lower-cased.
type Profile struct {
	TargetRoles         []string `yaml:"target_roles"`
	MustHaveSkills      []string `yaml:"must_have_skills"`
	NiceToHaveSkills    []string `yaml:"nice_to_have_skills"`
	LocationPreferences []string `yaml:"location_preferences"`
	RemotePolicy        string   `yaml:"remote_policy"`
	HardExclusions      []string `yaml:"hard_exclusions"`
}

// Fingerprint is the canonical identity of a posting plus the strategy that
// produced it.
type Fingerprint struct {
	Value  string
	Reason string
}

// SourceObservation is one raw sighting of a job from one source in one run.
// Rows are append-only provenance and never mutated.
type SourceObservation struct {
	ID           int64
	JobID        int64
	RunID        int64
	Source       string
	SourceJobKey string
	RawPostDate  string
	PayloadHash  string
	IngestedAt   time.Time
}
