package fips

import (
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/oops"

	"github.com/sec-certs/certdb/pkg/set"
	"github.com/sec-certs/certdb/pkg/types"
)

// moduleRefRe finds certificate numbers mentioned in free-text fields of
// a module page, e.g. "#3093" or "Cert. #3094".
var moduleRefRe = regexp.MustCompile(`(?:Cert\.?\s*)?#\s*(\d{2,5})`)

// sectionLevelRe matches per-section level rows like
// "Roles, Services, and Authentication: Level 3".
var sectionLevelRe = regexp.MustCompile(`^(.*?):\s*Level\s+(\d\+?)$`)

// ParseModulePage fills the structured fields of a FIPS certificate from
// its CMVP detail page: standard, levels, module type, embodiment,
// algorithm implementations, validation history and raw references from
// the caveat and description text.
func ParseModulePage(r io.Reader, cert *types.FIPSCertificate) error {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return oops.With("cert_id", cert.CertID).Wrapf(err, "module page parse error")
	}

	parseDetailList(doc, cert)
	parseAlgorithmTable(doc, cert)
	parseValidationHistory(doc, cert)
	parseRawReferences(doc, cert)
	cert.ModuleParsed = true
	return nil
}

// parseDetailList walks the <dt>/<dd> pairs of the module detail list.
func parseDetailList(doc *goquery.Document, cert *types.FIPSCertificate) {
	doc.Find("dl.module-details dt").Each(func(_ int, dt *goquery.Selection) {
		dd := dt.NextFiltered("dd")
		value := strings.TrimSpace(dd.Text())
		switch strings.TrimSuffix(strings.TrimSpace(dt.Text()), ":") {
		case "Standard":
			cert.Standard = value
		case "Overall Level":
			if level, err := strconv.Atoi(value); err == nil {
				cert.Level = level
			}
		case "Module Type":
			cert.ModuleType = value
		case "Embodiment":
			cert.Embodiment = value
		case "Vendor":
			cert.VendorName = value
			if href, ok := dd.Find("a").Attr("href"); ok {
				cert.VendorLink = href
			}
		case "Security Policy":
			if href, ok := dd.Find("a").Attr("href"); ok {
				cert.PolicyLink = absoluteLink(href)
			}
		case "Sunset Date":
			cert.SunsetDate = parseCMVPDate(value)
		case "Individual Levels":
			parseSectionLevels(value, cert)
		}
	})
}

func parseSectionLevels(value string, cert *types.FIPSCertificate) {
	for _, line := range strings.Split(value, "\n") {
		m := sectionLevelRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		if cert.SectionLevels == nil {
			cert.SectionLevels = make(map[string]string)
		}
		cert.SectionLevels[strings.TrimSpace(m[1])] = m[2]
	}
}

func parseAlgorithmTable(doc *goquery.Document, cert *types.FIPSCertificate) {
	doc.Find("table.algorithms-table tr").Each(func(_ int, row *goquery.Selection) {
		algType := strings.TrimSpace(row.Find("td.alg-type").Text())
		numText := strings.TrimSpace(row.Find("td.alg-number").Text())
		if algType == "" || numText == "" {
			return
		}
		// cells list one or more certificate numbers, e.g. "#4271, #4272"
		for _, m := range moduleRefRe.FindAllStringSubmatch(numText, -1) {
			if num, err := strconv.Atoi(m[1]); err == nil {
				cert.Algorithms = append(cert.Algorithms, types.AlgorithmImplementation{
					Type:   algType,
					Number: num,
				})
			}
		}
		if !strings.Contains(numText, "#") {
			if num, err := strconv.Atoi(numText); err == nil {
				cert.Algorithms = append(cert.Algorithms, types.AlgorithmImplementation{
					Type:   algType,
					Number: num,
				})
			}
		}
	})
}

func parseValidationHistory(doc *goquery.Document, cert *types.FIPSCertificate) {
	doc.Find("table.validation-history tr").Each(func(_ int, row *goquery.Selection) {
		date := parseCMVPDate(row.Find("td.date").Text())
		kind := strings.TrimSpace(row.Find("td.kind").Text())
		if date == nil && kind == "" {
			return
		}
		cert.ValidationHistory = append(cert.ValidationHistory, types.ValidationEntry{
			Date: date,
			Kind: kind,
		})
	})
}

// parseRawReferences collects certificate numbers mentioned in the caveat
// and description. They feed reference resolution, which filters false
// positives (algorithm numbers, self references).
func parseRawReferences(doc *goquery.Document, cert *types.FIPSCertificate) {
	refs := set.NewOrdered[string]()
	text := doc.Find("div.caveat").Text() + "\n" + doc.Find("div.description").Text()
	for _, m := range moduleRefRe.FindAllStringSubmatch(text, -1) {
		refs.Append(m[1])
	}
	cert.ModuleReferences = refs
}
