package cc

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/sec-certs/certdb/pkg/fetch"
	"github.com/sec-certs/certdb/pkg/log"
	"github.com/sec-certs/certdb/pkg/storage"
	"github.com/sec-certs/certdb/pkg/types"
)

const portalBaseURL = "https://www.commoncriteriaportal.org"

// indexSource is one (status, CSV, HTML) triple on the CC portal. Both
// representations of the same index must be merged: CSV rows are
// authoritative, HTML rows contribute protection profiles, maintenance
// updates and caveat references.
type indexSource struct {
	name    string
	csvURL  string
	htmlURL string
	status  types.Status
}

var indexSources = []indexSource{
	{
		name:    "cc_products_active",
		csvURL:  portalBaseURL + "/products/certified_products.csv",
		htmlURL: portalBaseURL + "/products/index.cfm",
		status:  types.StatusActive,
	},
	{
		name:    "cc_products_archived",
		csvURL:  portalBaseURL + "/products/certified_products-archived.csv",
		htmlURL: portalBaseURL + "/products/index.cfm?archived=1",
		status:  types.StatusArchived,
	},
}

// Scraper builds CC certificate skeletons from the portal index pages.
type Scraper struct {
	client *fetch.Client
	layout storage.Layout
	logger *log.Logger
}

func NewScraper(client *fetch.Client, layout storage.Layout) *Scraper {
	return &Scraper{
		client: client,
		layout: layout,
		logger: log.WithPrefix("cc-scraper"),
	}
}

// Scrape downloads the index sources and parses them into a digest-keyed
// certificate map.
func (s *Scraper) Scrape(ctx context.Context) (map[string]types.Certificate, error) {
	certs := make(map[string]types.Certificate)
	for _, src := range indexSources {
		if err := s.scrapeSource(ctx, src, certs); err != nil {
			return nil, oops.With("source", src.name).Wrapf(err, "cc index scrape error")
		}
	}
	s.logger.Info("Parsed CC index", log.Int("certs", len(certs)))
	return certs, nil
}

func (s *Scraper) scrapeSource(ctx context.Context, src indexSource, certs map[string]types.Certificate) error {
	csvPath := s.layout.IndexPath(src.name + ".csv")
	htmlPath := s.layout.IndexPath(src.name + ".html")

	if err := s.fetchIndex(ctx, src.csvURL, csvPath); err != nil {
		return err
	}
	if err := s.fetchIndex(ctx, src.htmlURL, htmlPath); err != nil {
		return err
	}

	fromCSV, err := s.parseCSVFile(csvPath, src.status)
	if err != nil {
		return err
	}

	htmlFile, err := os.Open(htmlPath)
	if err != nil {
		return oops.With("file_path", htmlPath).Wrapf(err, "index open error")
	}
	fromHTML, err := parseHTMLIndex(htmlFile, src.status)
	htmlFile.Close()
	if err != nil {
		return err
	}

	merged := mergeSources(fromCSV, fromHTML)
	for _, cert := range merged {
		certs[cert.Digest()] = cert
	}
	return nil
}

// fetchIndex downloads an index page with one retry round.
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

// CSV columns on the portal dump:
// category, name, manufacturer, scheme, security level,
// not valid before, not valid after, report link, target link,
// maintenance dates, maintenance titles, maintenance report links, maintenance target links
const (
	colCategory = iota
	colName
	colManufacturer
	colScheme
	colSecurityLevel
	colNotValidBefore
	colNotValidAfter
	colReportLink
	colTargetLink
	colMaintenanceDates
	colMaintenanceTitles
	colMaintenanceReports
	colMaintenanceTargets
	numCSVColumns
)

func (s *Scraper) parseCSVFile(path string, status types.Status) ([]*types.CCCertificate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, oops.With("file_path", path).Wrapf(err, "csv open error")
	}
	defer f.Close()
	return parseCSV(f, status)
}

func parseCSV(r io.Reader, status types.Status) ([]*types.CCCertificate, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var certs []*types.CCCertificate
	header := true
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, oops.Wrapf(err, "csv parse error")
		}
		if header {
			header = false
			continue
		}
		if len(row) < colTargetLink+1 {
			log.Debug("Skipping short CSV row", log.Int("columns", len(row)))
			continue
		}

		cert := types.NewCCCertificate(strings.TrimSpace(row[colName]), strings.TrimSpace(row[colReportLink]))
		cert.Category = strings.TrimSpace(row[colCategory])
		cert.Manufacturer = strings.TrimSpace(row[colManufacturer])
		cert.SchemeCode = strings.TrimSpace(row[colScheme])
		cert.Status = status
		cert.TargetLink = strings.TrimSpace(row[colTargetLink])
		cert.NotValidBefore = parsePortalDate(row[colNotValidBefore])
		cert.NotValidAfter = parsePortalDate(row[colNotValidAfter])
		setSecurityLevel(cert, row[colSecurityLevel])

		if len(row) >= numCSVColumns {
			cert.MaintenanceUpdates = parseMaintenanceColumns(
				row[colMaintenanceDates], row[colMaintenanceTitles],
				row[colMaintenanceReports], row[colMaintenanceTargets])
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// setSecurityLevel splits the portal's security level cell into the level
// set and picks out the EAL component.
func setSecurityLevel(cert *types.CCCertificate, cell string) {
	for _, part := range strings.Split(cell, ",") {
		part = strings.TrimSpace(part)
		if part == "" || part == "None" {
			continue
		}
		cert.SecurityLevels.Append(part)
		if strings.HasPrefix(part, "EAL") {
			cert.EAL = part
		}
	}
}

// parseMaintenanceColumns zips the portal's parallel comma-separated
// maintenance columns into update records.
func parseMaintenanceColumns(dates, titles, reports, targets string) []types.MaintenanceUpdate {
	titleList := splitCell(titles)
	dateList := splitCell(dates)
	reportList := splitCell(reports)
	targetList := splitCell(targets)

	var updates []types.MaintenanceUpdate
	for i, title := range titleList {
		mu := types.MaintenanceUpdate{Name: title}
		if i < len(dateList) {
			mu.Date = parsePortalDate(dateList[i])
		}
		if i < len(reportList) {
			mu.ReportLink = reportList[i]
		}
		if i < len(targetList) {
			mu.TargetLink = targetList[i]
		}
		updates = append(updates, mu)
	}
	return updates
}

func splitCell(cell string) []string {
	var out []string
	for _, part := range strings.Split(cell, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parsePortalDate(s string) *time.Time {
	return types.ParseDate(strings.TrimSpace(s), "2006-01-02", "01/02/2006", "2006.01.02")
}

// mergeSources combines CSV and HTML rows. An HTML row matching a CSV
// entry by report link or by (name, manufacturer) only contributes the
// fields the CSV dump lacks; unmatched HTML rows become new entries.
func mergeSources(fromCSV, fromHTML []*types.CCCertificate) []*types.CCCertificate {
	byReportLink := make(map[string]*types.CCCertificate)
	byNameVendor := make(map[[2]string]*types.CCCertificate)
	for _, cert := range fromCSV {
		if cert.ReportLink != "" {
			byReportLink[cert.ReportLink] = cert
		}
		byNameVendor[[2]string{cert.Name, cert.Manufacturer}] = cert
	}

	merged := fromCSV
	for _, row := range fromHTML {
		existing := byReportLink[row.ReportLink]
		if existing == nil {
			existing = byNameVendor[[2]string{row.Name, row.Manufacturer}]
		}
		if existing == nil {
			merged = append(merged, row)
			continue
		}

		existing.ProtectionProfileLinks = existing.ProtectionProfileLinks.Union(row.ProtectionProfileLinks)
		existing.CaveatReferences = existing.CaveatReferences.Union(row.CaveatReferences)
		if len(existing.MaintenanceUpdates) == 0 {
			existing.MaintenanceUpdates = row.MaintenanceUpdates
		}
		if existing.CertLink == "" {
			existing.CertLink = row.CertLink
		}
		if existing.ManufacturerLink == "" {
			existing.ManufacturerLink = row.ManufacturerLink
		}
	}
	return merged
}
