package adapter

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// roundTripFunc redirects every request to the test server regardless of
// the adapter's hard-coded base URL.
type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func testClient(srv *httptest.Server) *http.Client {
	return &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			req.URL.Scheme = "http"
			req.URL.Host = srv.Listener.Addr().String()
			return http.DefaultTransport.RoundTrip(req)
		}),
	}
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain html", "<p>Build <strong>backend</strong> services.</p>", "Build backend services."},
		{"double encoded", "&lt;p&gt;Build services.&lt;/p&gt;", "Build services."},
		{"entities", "Fast-paced &amp; fun", "Fast-paced & fun"},
		{"whitespace collapsed", "<div>\n  one\n\n two  </div>", "one two"},
		{"already plain", "No markup here", "No markup here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractText(tt.in); got != tt.want {
				t.Errorf("extractText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"120", 120 * time.Second},
		{"0", 0},
		{"", 0},
		{"Wed, 21 Oct 2026 07:28:00 GMT", 0},
		{"soon", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestISODate(t *testing.T) {
	in := time.Date(2026, 8, 29, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))
	if got := isoDate(in); got != "2026-08-30" {
		t.Errorf("isoDate = %q, want UTC date 2026-08-30", got)
	}
}
