package fetch

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"
	pb "gopkg.in/cheggaaa/pb.v1"

	"github.com/sec-certs/certdb/pkg/log"
	"github.com/sec-certs/certdb/pkg/utils"
)

// Pseudo status codes reported for failed requests. Real HTTP statuses
// are always positive.
const (
	// StatusNOK is returned on any non-timeout failure.
	StatusNOK = -1
	// StatusTimeout is returned when the request exceeded its deadline.
	StatusTimeout = -2
)

// OK reports whether a download status is a successful HTTP status.
func OK(status int) bool {
	return status >= 200 && status < 300
}

// Request is one (url, destination path) pair for DownloadParallel.
type Request struct {
	URL  string
	Path string
}

// Result pairs a request URL with its final status. Ordering of parallel
// results is not guaranteed; correlate by URL.
type Result struct {
	URL    string
	Status int
}

// Client is a bounded parallel downloader. A failed download never
// leaves a partial file at the destination.
type Client struct {
	http       *http.Client
	numWorkers int
	progress   bool
	userAgent  string
}

type Option func(*Client)

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = timeout
	}
}

func WithWorkers(n int) Option {
	return func(c *Client) {
		c.numWorkers = n
	}
}

func WithProgress(enabled bool) Option {
	return func(c *Client) {
		c.progress = enabled
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		numWorkers: 8,
		userAgent:  "certdb",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Download fetches url to path. It returns the HTTP status, or one of the
// pseudo statuses on failure. An optional delay is applied before the
// request, which index scrapers use to stay polite.
func (c *Client) Download(ctx context.Context, url, path string, delay time.Duration) int {
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return StatusTimeout
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Debug("Malformed download URL", log.String("url", url), log.Err(err))
		return StatusNOK
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return StatusTimeout
		}
		log.Debug("Download failed", log.String("url", url), log.Err(err))
		return StatusNOK
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode
	}

	err = utils.WriteFileAtomic(path, func(w io.Writer) error {
		_, cerr := io.Copy(w, resp.Body)
		return cerr
	})
	if err != nil {
		if isTimeout(err) {
			return StatusTimeout
		}
		log.Debug("Download write failed", log.String("url", url), log.FilePath(path), log.Err(err))
		return StatusNOK
	}
	return resp.StatusCode
}

// DownloadParallel dispatches the requests across the worker pool and
// returns one result per request, in no particular order.
func (c *Client) DownloadParallel(ctx context.Context, requests []Request, description string) []Result {
	if len(requests) == 0 {
		return nil
	}

	var bar *pb.ProgressBar
	if c.progress {
		bar = pb.New(len(requests)).Prefix(description)
		bar.Start()
		defer bar.Finish()
	}

	results := make([]Result, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.numWorkers)
	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			results[i] = Result{
				URL:    req.URL,
				Status: c.Download(gctx, req.URL, req.Path, 0),
			}
			if bar != nil {
				bar.Increment()
			}
			return nil
		})
	}
	g.Wait() // workers never return errors, failures are per-result

	return results
}

// QuerySize returns the Content-Length reported for url, or nil when it
// is not reliably known. It is used to pick a temp directory large enough
// for dataset archives.
func (c *Client) QuerySize(ctx context.Context, url string) (*int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, oops.With("url", url).Wrapf(err, "request build error")
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, oops.With("url", url).Wrapf(err, "head request error")
	}
	defer resp.Body.Close()

	if resp.ContentLength < 0 {
		return nil, nil
	}
	size := resp.ContentLength
	return &size, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
