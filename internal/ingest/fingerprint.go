// Package ingest establishes a stable identity for a posting seen through
// multiple sources and runs, and resolves insert-vs-update against the store.
package ingest

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/evanchen57/jobsieve/internal/model"
)

// urlKey reduces a posting URL to "host/path" with the www prefix, trailing
// slashes, query string and fragment stripped. Returns "" when the URL is
// absent, unparseable, or missing either part.
func urlKey(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(u.Hostname())), "www.")
	path := strings.TrimRight(u.Path, "/")
	if host == "" || path == "" {
		return ""
	}
	return host + strings.ToLower(path)
}

func lowerKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// dateBucket truncates a post date to its YYYY-MM-DD prefix.
func dateBucket(postDate string) string {
	if len(postDate) > 10 {
		return postDate[:10]
	}
	return postDate
}

// BuildFingerprint computes the canonical identity of a job. URL identity
// wins when the URL parses; otherwise a composite of the normalized fields.
// The value is stable under query-string and fragment variation.
func BuildFingerprint(job model.NormalizedJob) model.Fingerprint {
	n := job.Normalize()
	if key := urlKey(n.URL); key != "" {
		return model.Fingerprint{Value: "url:" + key, Reason: "url"}
	}
	composite := fmt.Sprintf("%s|%s|%s|%s",
		lowerKey(n.Company), lowerKey(n.Title), lowerKey(n.Location), dateBucket(n.PostDate))
	return model.Fingerprint{Value: "composite:" + composite, Reason: "company+title+location+post_date"}
}

// SourceJobKey identifies one raw sighting: the URL when present, else a
// composite. Used only for provenance, never for dedup.
func SourceJobKey(job model.NormalizedJob) string {
	n := job.Normalize()
	if n.URL != "" {
		return n.Source + ":" + n.URL
	}
	return fmt.Sprintf("%s:%s|%s|%s", n.Source, lowerKey(n.Company), lowerKey(n.Title), n.PostDate)
}

// PayloadHash fingerprints the full normalized payload so identical
// re-observations can be recognized in the provenance trail.
func PayloadHash(job model.NormalizedJob) string {
	n := job.Normalize()
	h := sha1.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00%s\x00%s\x00%t",
		n.Company, n.Title, n.Location, n.PostDate, n.Source, n.URL, n.JDText, n.IsBigTech)
	return hex.EncodeToString(h.Sum(nil))
}
