package cc

import (
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/oops"

	"github.com/sec-certs/certdb/pkg/types"
)

// caveatCertIDRe picks explicit certificate ids out of the portal's
// caveat column, e.g. "ANSSI-CC-2020/11" or "BSI-DSZ-CC-1052-2019".
var caveatCertIDRe = regexp.MustCompile(`[A-Z]{2,10}(?:-[A-Z]{1,5})*-(?:CC-)?\d{2,4}(?:[-/]\d{1,4})*`)

// parseHTMLIndex parses one portal HTML index into certificate rows.
// The portal renders one <tr class="product-row"> per certified product
// with classed cells for name, vendor, caveat, protection profiles and
// maintenance reports.
func parseHTMLIndex(r io.Reader, status types.Status) ([]*types.CCCertificate, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, oops.Wrapf(err, "html parse error")
	}

	var certs []*types.CCCertificate
	doc.Find("tr.product-row").Each(func(_ int, row *goquery.Selection) {
		cert := parseProductRow(row)
		if cert == nil {
			return
		}
		cert.Status = status
		certs = append(certs, cert)
	})
	return certs, nil
}

func parseProductRow(row *goquery.Selection) *types.CCCertificate {
	nameCell := row.Find("td.product-name")
	name := strings.TrimSpace(nameCell.Find("a").First().Text())
	if name == "" {
		name = strings.TrimSpace(nameCell.Text())
	}
	if name == "" {
		return nil
	}

	reportLink, _ := nameCell.Find("a").First().Attr("href")
	cert := types.NewCCCertificate(name, absoluteLink(reportLink))

	if href, ok := nameCell.Find("a.st-link").Attr("href"); ok {
		cert.TargetLink = absoluteLink(href)
	}
	if href, ok := nameCell.Find("a.cert-link").Attr("href"); ok {
		cert.CertLink = absoluteLink(href)
	}

	vendorCell := row.Find("td.vendor")
	cert.Manufacturer = strings.TrimSpace(vendorCell.Text())
	if href, ok := vendorCell.Find("a").Attr("href"); ok {
		cert.ManufacturerLink = href
		cert.Manufacturer = strings.TrimSpace(vendorCell.Find("a").Text())
	}

	cert.Category = strings.TrimSpace(row.Find("td.category").Text())
	cert.SchemeCode = strings.TrimSpace(row.Find("td.scheme").Text())
	setSecurityLevel(cert, row.Find("td.level").Text())

	for _, id := range caveatCertIDRe.FindAllString(row.Find("td.caveat").Text(), -1) {
		cert.CaveatReferences.Append(id)
	}

	row.Find("td.pp-list a").Each(func(_ int, a *goquery.Selection) {
		if href, ok := a.Attr("href"); ok {
			cert.ProtectionProfileLinks.Append(absoluteLink(href))
		}
	})

	row.Find("td.maintenance-list .maintenance-row").Each(func(_ int, mr *goquery.Selection) {
		update := types.MaintenanceUpdate{
			Name: strings.TrimSpace(mr.Find("a").First().Text()),
		}
		if date, ok := mr.Attr("data-date"); ok {
			update.Date = parsePortalDate(date)
		}
		if href, ok := mr.Find("a.maintenance-report").Attr("href"); ok {
			update.ReportLink = absoluteLink(href)
		}
		if href, ok := mr.Find("a.maintenance-target").Attr("href"); ok {
			update.TargetLink = absoluteLink(href)
		}
		if update.Name != "" {
			cert.MaintenanceUpdates = append(cert.MaintenanceUpdates, update)
		}
	})

	return cert
}

// absoluteLink resolves portal-relative hrefs. Link escaping is kept
// untouched so digests stay stable.
func absoluteLink(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.Contains(href, "://") {
		return href
	}
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return portalBaseURL + href
}
