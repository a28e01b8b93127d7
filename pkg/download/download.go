package download

import (
	"context"
	"strconv"

	"github.com/sec-certs/certdb/pkg/fetch"
	"github.com/sec-certs/certdb/pkg/log"
	"github.com/sec-certs/certdb/pkg/storage"
	"github.com/sec-certs/certdb/pkg/types"
	"github.com/sec-certs/certdb/pkg/utils"
)

// Downloader fetches certificate artifacts (and FIPS module pages)
// through the HTTP fetcher, recording hashes and download flags on the
// certificate state.
type Downloader struct {
	client *fetch.Client
	logger *log.Logger
}

func NewDownloader(client *fetch.Client) *Downloader {
	return &Downloader{
		client: client,
		logger: log.WithPrefix("download"),
	}
}

type job struct {
	digest string
	source types.ArtifactSource
	doc    *types.DocumentState
	req    fetch.Request
}

// DownloadAll enqueues every certificate artifact with a link and no
// recorded download (or all of them when fresh is true), dispatches the
// batch in parallel and retries failures once. Per-artifact failures are
// recorded, never fatal.
func (d *Downloader) DownloadAll(ctx context.Context, certs map[string]types.Certificate, layout storage.Layout, fresh bool) error {
	if err := layout.EnsureDirs(); err != nil {
		return err
	}

	var jobs []job
	for digest, cert := range certs {
		for _, source := range types.ArtifactSourcesFor(cert.CertScheme()) {
			url := artifactLink(cert, source)
			if url == "" {
				continue
			}
			doc := cert.CertState().Document(source)
			if doc.DownloadOK && !fresh {
				continue
			}
			if fresh {
				doc.Reset()
			}
			jobs = append(jobs, job{
				digest: digest,
				source: source,
				doc:    doc,
				req: fetch.Request{
					URL:  url,
					Path: layout.PdfPath(source, digest),
				},
			})
		}
		if fips, ok := cert.(*types.FIPSCertificate); ok && fips.ModuleLink != "" {
			htmlPath := layout.ModuleHTMLPath(strconv.Itoa(fips.CertID))
			if exists, _ := utils.Exists(htmlPath); !exists || fresh {
				jobs = append(jobs, job{
					digest: digest,
					source: types.SourceModule,
					req: fetch.Request{
						URL:  fips.ModuleLink,
						Path: htmlPath,
					},
				})
			}
		}
	}

	failed := d.dispatch(ctx, jobs, "Downloading artifacts")
	if len(failed) > 0 {
		d.logger.Info("Retrying failed downloads", log.Int("count", len(failed)))
		failed = d.dispatch(ctx, failed, "Retrying artifacts")
	}

	for _, j := range failed {
		d.logger.Warn("Artifact download failed",
			log.Digest(j.digest), log.String("source", string(j.source)), log.String("url", j.req.URL))
	}
	d.logger.Info("Download finished",
		log.Int("requested", len(jobs)), log.Int("failed", len(failed)))
	return nil
}

// dispatch runs one parallel batch and returns the jobs that failed.
func (d *Downloader) dispatch(ctx context.Context, jobs []job, description string) []job {
	if len(jobs) == 0 {
		return nil
	}

	requests := make([]fetch.Request, len(jobs))
	for i, j := range jobs {
		requests[i] = j.req
	}
	results := d.client.DownloadParallel(ctx, requests, description)

	statusByURL := make(map[string]int, len(results))
	for _, res := range results {
		statusByURL[res.URL] = res.Status
	}

	var failed []job
	for _, j := range jobs {
		if !fetch.OK(statusByURL[j.req.URL]) {
			failed = append(failed, j)
			continue
		}
		if j.doc == nil {
			continue // module HTML page, nothing to record
		}
		hash, err := utils.SHA256File(j.req.Path)
		if err != nil {
			d.logger.Warn("Hashing downloaded artifact failed",
				log.Digest(j.digest), log.Err(err))
			failed = append(failed, j)
			continue
		}
		j.doc.DownloadOK = true
		j.doc.PdfHash = hash
		j.doc.PdfPath = j.req.Path
	}
	return failed
}

func artifactLink(cert types.Certificate, source types.ArtifactSource) string {
	switch c := cert.(type) {
	case *types.CCCertificate:
		switch source {
		case types.SourceReport:
			return c.ReportLink
		case types.SourceTarget:
			return c.TargetLink
		default:
			return c.CertLink
		}
	case *types.FIPSCertificate:
		// the security policy is the FIPS target artifact
		if source == types.SourceTarget {
			return c.PolicyLink
		}
	}
	return ""
}
