package fips

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/oops"

	"github.com/sec-certs/certdb/pkg/fetch"
	"github.com/sec-certs/certdb/pkg/log"
	"github.com/sec-certs/certdb/pkg/storage"
	"github.com/sec-certs/certdb/pkg/types"
)

const cmvpBaseURL = "https://csrc.nist.gov/projects/cryptographic-module-validation-program"

type indexSource struct {
	name   string
	url    string
	status types.Status
}

var indexSources = []indexSource{
	{
		name:   "fips_modules_active",
		url:    cmvpBaseURL + "/validated-modules/search?CertificateStatus=Active",
		status: types.StatusActive,
	},
	{
		name:   "fips_modules_historical",
		url:    cmvpBaseURL + "/validated-modules/search?CertificateStatus=Historical",
		status: types.StatusHistorical,
	},
	{
		name:   "fips_modules_revoked",
		url:    cmvpBaseURL + "/validated-modules/search?CertificateStatus=Revoked",
		status: types.StatusRevoked,
	},
}

// ModuleURL returns the CMVP detail page for a certificate number.
func ModuleURL(certID int) string {
	return cmvpBaseURL + "/certificate/" + strconv.Itoa(certID)
}

// Scraper builds FIPS certificate skeletons from the CMVP search pages.
// Module detail pages are fetched later, in the download stage, and
// parsed by ParseModulePage during extraction.
type Scraper struct {
	client *fetch.Client
	layout storage.Layout
	logger *log.Logger
}

func NewScraper(client *fetch.Client, layout storage.Layout) *Scraper {
	return &Scraper{
		client: client,
		layout: layout,
		logger: log.WithPrefix("fips-scraper"),
	}
}

// Scrape downloads the three status index pages and parses them into a
// digest-keyed certificate map. A certificate's status is inferred from
// the page it came from.
func (s *Scraper) Scrape(ctx context.Context) (map[string]types.Certificate, error) {
	certs := make(map[string]types.Certificate)
	for _, src := range indexSources {
		path := s.layout.IndexPath(src.name + ".html")
		if err := s.fetchIndex(ctx, src.url, path); err != nil {
			return nil, oops.With("source", src.name).Wrapf(err, "fips index scrape error")
		}

		f, err := os.Open(path)
		if err != nil {
			return nil, oops.With("file_path", path).Wrapf(err, "index open error")
		}
		parsed, err := parseIndex(f, src.status)
		f.Close()
		if err != nil {
			return nil, oops.With("source", src.name).Wrapf(err, "fips index parse error")
		}
		for _, cert := range parsed {
			certs[cert.Digest()] = cert
		}
	}
	s.logger.Info("Parsed FIPS index", log.Int("certs", len(certs)))
	return certs, nil
}

func (s *Scraper) fetchIndex(ctx context.Context, url, path string) error {
	status := s.client.Download(ctx, url, path, 0)
	if !fetch.OK(status) {
		s.logger.Warn("Index download failed, retrying",
			log.String("url", url), log.Int("status", status))
		status = s.client.Download(ctx, url, path, time.Second)
	}
	if !fetch.OK(status) {
		return oops.With("url", url).With("status", status).Errorf("index download failed")
	}
	return nil
}

// parseIndex parses one CMVP search result page. Each result row carries
// the certificate number (linking to the module page), vendor and module
// name.
func parseIndex(r io.Reader, status types.Status) ([]*types.FIPSCertificate, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, oops.Wrapf(err, "html parse error")
	}

	var certs []*types.FIPSCertificate
	doc.Find("tr.module-row").Each(func(_ int, row *goquery.Selection) {
		numCell := row.Find("td.cert-number")
		certID, err := strconv.Atoi(strings.TrimSpace(numCell.Text()))
		if err != nil {
			log.Debug("Skipping FIPS row without numeric cert id",
				log.String("cell", numCell.Text()))
			return
		}

		cert := types.NewFIPSCertificate(certID, strings.TrimSpace(row.Find("td.module-name").Text()))
		cert.Status = status
		cert.VendorName = strings.TrimSpace(row.Find("td.vendor").Text())
		cert.ModuleType = strings.TrimSpace(row.Find("td.module-type").Text())
		cert.ValidationDate = parseCMVPDate(row.Find("td.validation-date").Text())
		if href, ok := numCell.Find("a").Attr("href"); ok {
			cert.ModuleLink = absoluteLink(href)
		} else {
			cert.ModuleLink = ModuleURL(certID)
		}
		certs = append(certs, cert)
	})
	return certs, nil
}

func parseCMVPDate(s string) *time.Time {
	return types.ParseDate(strings.TrimSpace(s), "1/2/2006", "01/02/2006", "2006-01-02")
}

func absoluteLink(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.Contains(href, "://") {
		return href
	}
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return "https://csrc.nist.gov" + href
}
