package llmfit

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/evanchen57/jobsieve/internal/model"
)

const cacheJDLimit = 6000

// CacheKey derives a stable key over the job fields that influence the
// verdict plus the profile. Changing the profile invalidates every entry.
func CacheKey(job model.NormalizedJob, profile model.Profile) string {
	return stableHash(
		strings.ToLower(strings.TrimSpace(job.Title)),
		strings.ToLower(strings.TrimSpace(job.Location)),
		truncate(job.JDText, cacheJDLimit),
		job.Source,
		job.URL,
	) + ":" + profileHash(profile)
}

func profileHash(p model.Profile) string {
	return stableHash(
		strings.Join(p.TargetRoles, ","),
		strings.Join(p.MustHaveSkills, ","),
		strings.Join(p.NiceToHaveSkills, ","),
		strings.Join(p.LocationPreferences, ","),
		p.RemotePolicy,
		strings.Join(p.HardExclusions, ","),
	)
}

func stableHash(parts ...string) string {
	h := sha1.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
