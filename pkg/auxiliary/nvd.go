package auxiliary

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/samber/oops"
	"golang.org/x/time/rate"

	"github.com/sec-certs/certdb/pkg/config"
	"github.com/sec-certs/certdb/pkg/log"
)

const (
	// The NVD API rejects lastModStartDate/lastModEndDate windows longer
	// than 120 days, so incremental refreshes are chunked.
	nvdMaxWindow = 120 * 24 * time.Hour

	nvdEndpointCPE      = "/cpes/2.0"
	nvdEndpointCVE      = "/cves/2.0"
	nvdEndpointCPEMatch = "/cpematch/2.0"
)

// Published NVD rate limits: 5 requests per 30s without a key, 50 with.
var (
	nvdPublicInterval = 6 * time.Second
	nvdKeyedInterval  = 650 * time.Millisecond

	// backoff budget per page; once exhausted the refresh fails
	nvdWaitTimes = []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 30 * time.Second}
)

// nvdClient pages through NVD REST API v2 endpoints under a rate limit
// and a per-page attempt budget.
type nvdClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	logger  *log.Logger
}

func newNVDClient(cfg config.Config) *nvdClient {
	interval := nvdPublicInterval
	if cfg.NVDAPIKey != "" {
		interval = nvdKeyedInterval
	}
	return &nvdClient{
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		baseURL: cfg.NVDAPIBaseURL,
		apiKey:  cfg.NVDAPIKey,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		logger:  log.WithPrefix("nvd"),
	}
}

// nvdPage is the common envelope of the v2 endpoints. Only the item
// array matching the endpoint is populated.
type nvdPage struct {
	ResultsPerPage  int               `json:"resultsPerPage"`
	StartIndex      int               `json:"startIndex"`
	TotalResults    int               `json:"totalResults"`
	Products        []json.RawMessage `json:"products"`
	Vulnerabilities []json.RawMessage `json:"vulnerabilities"`
	MatchStrings    []json.RawMessage `json:"matchStrings"`
}

func (p *nvdPage) items() []json.RawMessage {
	switch {
	case p.Products != nil:
		return p.Products
	case p.Vulnerabilities != nil:
		return p.Vulnerabilities
	default:
		return p.MatchStrings
	}
}

type timeWindow struct {
	start, end time.Time
}

// windows chunks [since, until] into API-acceptable mod-date windows.
func windows(since, until time.Time) []timeWindow {
	var out []timeWindow
	for start := since; start.Before(until); start = start.Add(nvdMaxWindow) {
		end := start.Add(nvdMaxWindow)
		if end.After(until) {
			end = until
		}
		out = append(out, timeWindow{start: start, end: end})
	}
	return out
}

// fetchAll walks every page of an endpoint, optionally restricted to a
// mod-date window, and hands each raw item to visit.
func (c *nvdClient) fetchAll(ctx context.Context, endpoint string, window *timeWindow, visit func(json.RawMessage) error) error {
	for startIndex := 0; ; {
		params := url.Values{}
		params.Set("startIndex", fmt.Sprint(startIndex))
		if window != nil {
			params.Set("lastModStartDate", window.start.Format(time.RFC3339))
			params.Set("lastModEndDate", window.end.Format(time.RFC3339))
		}

		page, err := c.fetchPage(ctx, endpoint, params)
		if err != nil {
			return err
		}
		for _, item := range page.items() {
			if err := visit(item); err != nil {
				return err
			}
		}

		startIndex += page.ResultsPerPage
		if startIndex >= page.TotalResults || page.ResultsPerPage == 0 {
			return nil
		}
	}
}

// fetchPage issues one request with the retry budget. Throttling and
// server-side errors are retried with increasing waits; anything else
// fails immediately.
func (c *nvdClient) fetchPage(ctx context.Context, endpoint string, params url.Values) (*nvdPage, error) {
	eb := oops.With("endpoint", endpoint).With("params", params.Encode())

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eb.Wrapf(err, "rate limiter error")
		}

		page, retryable, err := c.fetchOnce(ctx, endpoint, params)
		if err == nil {
			return page, nil
		}
		if !retryable || attempt >= len(nvdWaitTimes) {
			return nil, eb.With("attempts", attempt+1).Wrapf(err, "page fetch error")
		}

		wait := nvdWaitTimes[attempt]
		c.logger.Debug("Retrying NVD page", log.String("endpoint", endpoint),
			log.Int("attempt", attempt+1), log.Err(err))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, eb.Wrapf(ctx.Err(), "page fetch canceled")
		}
	}
}

func (c *nvdClient) fetchOnce(ctx context.Context, endpoint string, params url.Values) (*nvdPage, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, false, err
	}
	if c.apiKey != "" {
		req.Header.Set("apiKey", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return nil, true, oops.Errorf("status %d", resp.StatusCode)
	default:
		return nil, false, oops.Errorf("status %d", resp.StatusCode)
	}

	var page nvdPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, true, err
	}
	return &page, false, nil
}
