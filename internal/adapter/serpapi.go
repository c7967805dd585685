package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/evanchen57/jobsieve/internal/model"
)

const serpapiBaseURL = "https://serpapi.com/search.json"

// serpapiJob represents one entry of jobs_results in a SerpAPI google_jobs
// response.
type serpapiJob struct {
	Title              string `json:"title"`
	CompanyName        string `json:"company_name"`
	Location           string `json:"location"`
	Description        string `json:"description"`
	ShareLink          string `json:"share_link"`
	DetectedExtensions struct {
		PostedAt string `json:"posted_at"`
	} `json:"detected_extensions"`
	RelatedLinks []struct {
		Link string `json:"link"`
	} `json:"related_links"`
}

type serpapiResponse struct {
	JobsResults []serpapiJob `json:"jobs_results"`
}

const serpapiJDLimit = 2000

// SerpAPIAdapter fetches search results from the SerpAPI google_jobs
// engine. One query is one billed API call, so FetchAll stops at the
// per-run budget handed to the constructor; Used reports the calls
// actually spent so the caller can record them against the monthly quota.
type SerpAPIAdapter struct {
	apiKey   string
	location string
	queries  []string
	budget   int
	client   *http.Client
	used     atomic.Int64
}

// NewSerpAPIAdapter creates an adapter that runs at most budget of the
// given queries.
func NewSerpAPIAdapter(apiKey, location string, queries []string, budget int, client *http.Client) *SerpAPIAdapter {
	return &SerpAPIAdapter{
		apiKey:   apiKey,
		location: location,
		queries:  queries,
		budget:   budget,
		client:   client,
	}
}

func (a *SerpAPIAdapter) Name() string { return "serpapi" }

// Used returns how many billed queries FetchAll actually issued.
func (a *SerpAPIAdapter) Used() int { return int(a.used.Load()) }

// FetchAll runs the configured queries up to the run budget and flattens
// the results. A failed query is skipped, not fatal: the remaining budget
// still goes to the other queries.
func (a *SerpAPIAdapter) FetchAll(ctx context.Context) ([]model.NormalizedJob, error) {
	if a.apiKey == "" {
		return nil, fmt.Errorf("serpapi fetch: missing api key")
	}

	var jobs []model.NormalizedJob
	var lastErr error
	for _, query := range a.queries {
		if int(a.used.Load()) >= a.budget {
			break
		}
		a.used.Add(1)

		batch, err := a.fetchQuery(ctx, query)
		if err != nil {
			lastErr = err
			continue
		}
		jobs = append(jobs, batch...)
	}
	if len(jobs) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return jobs, nil
}

func (a *SerpAPIAdapter) fetchQuery(ctx context.Context, query string) ([]model.NormalizedJob, error) {
	params := url.Values{}
	params.Set("engine", "google_jobs")
	params.Set("q", query)
	params.Set("location", a.location)
	params.Set("api_key", a.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serpapiBaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("serpapi fetch for %q: %w", query, err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serpapi fetch for %q: %w", query, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &model.HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("serpapi fetch for %q: unexpected status %d", query, resp.StatusCode),
		}
	}

	var serpResp serpapiResponse
	if err := json.NewDecoder(resp.Body).Decode(&serpResp); err != nil {
		return nil, fmt.Errorf("serpapi fetch for %q: %w", query, err)
	}

	jobs := make([]model.NormalizedJob, 0, len(serpResp.JobsResults))
	for _, sj := range serpResp.JobsResults {
		link := sj.ShareLink
		if len(sj.RelatedLinks) > 0 && sj.RelatedLinks[0].Link != "" {
			link = sj.RelatedLinks[0].Link
		}

		jd := sj.Description
		if len(jd) > serpapiJDLimit {
			jd = jd[:serpapiJDLimit]
		}

		jobs = append(jobs, model.NormalizedJob{
			Company:  sj.CompanyName,
			Title:    sj.Title,
			Location: sj.Location,
			PostDate: sj.DetectedExtensions.PostedAt,
			URL:      link,
			Source:   a.Name(),
			JDText:   jd,
			Meta:     map[string]string{"query": query},
		})
	}
	return jobs, nil
}
