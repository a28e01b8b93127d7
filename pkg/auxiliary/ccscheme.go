package auxiliary

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/oops"

	"github.com/sec-certs/certdb/pkg/fetch"
	"github.com/sec-certs/certdb/pkg/log"
	"github.com/sec-certs/certdb/pkg/storage"
	"github.com/sec-certs/certdb/pkg/utils"
)

// SchemeEntry is one certified product row from a national scheme site.
type SchemeEntry struct {
	CertID   string `json:"cert_id,omitempty"`
	Name     string `json:"name"`
	Vendor   string `json:"vendor,omitempty"`
	CertLink string `json:"cert_link,omitempty"`
}

// CCSchemeDataset groups scheme entries by country code. Scheme sites
// publish richer certificate ids than the portal CSV, which reference
// resolution uses to anchor canonical ids.
type CCSchemeDataset struct {
	LastUpdated time.Time                `json:"last_updated"`
	Schemes     map[string][]SchemeEntry `json:"schemes"`
}

func NewCCSchemeDataset() *CCSchemeDataset {
	return &CCSchemeDataset{Schemes: make(map[string][]SchemeEntry)}
}

type schemeSource struct {
	country string
	url     string
}

// The per-country certified-products listings. Sites come and go; a
// country whose listing fails to download is skipped with a warning
// rather than failing the whole dataset.
var schemeSources = []schemeSource{
	{"DE", "https://www.bsi.bund.de/EN/Topics/Certification/certified_products/certified_products.html"},
	{"FR", "https://cyber.gouv.fr/produits-certifies"},
	{"NL", "https://www.trustcb.com/common-criteria/certificates/"},
	{"US", "https://www.niap-ccevs.org/Product/"},
	{"ES", "https://oc.ccn.cni.es/en/certified-products/certified-products"},
	{"SE", "https://www.fmv.se/verksamhet/ovrig-verksamhet/csec/certifikat-utgivna-av-csec/"},
	{"JP", "https://www.ipa.go.jp/en/security/jisec/software/certified-cert/index.html"},
	{"KR", "https://itscc.kr/certprod/listA.do"},
	{"CA", "https://www.cyber.gc.ca/en/tools-services/common-criteria/certified-products"},
	{"AU", "https://www.cyber.gov.au/acsc/view-all-content/programs/australian-information-security-evaluation-program"},
}

// CCSchemeHandler maintains cc_scheme.json by scraping national scheme
// sites. No change feed exists, so a refresh is a full rebuild.
type CCSchemeHandler struct {
	client  *fetch.Client
	path    string
	dataset *CCSchemeDataset
	logger  *log.Logger
}

func NewCCSchemeHandler(client *fetch.Client) *CCSchemeHandler {
	return &CCSchemeHandler{
		client: client,
		logger: log.WithPrefix("aux-ccscheme"),
	}
}

func (h *CCSchemeHandler) Type() Type { return TypeCCScheme }

func (h *CCSchemeHandler) SetLocalPaths(layout storage.Layout) {
	h.path = filepath.Join(layout.AuxDir(), "cc_scheme.json")
}

// Dataset returns the loaded dataset, nil before LoadDataset.
func (h *CCSchemeHandler) Dataset() *CCSchemeDataset { return h.dataset }

func (h *CCSchemeHandler) ProcessDataset(ctx context.Context, fresh bool) error {
	exists, err := utils.Exists(h.path)
	if err != nil {
		return err
	}
	if exists && !fresh {
		return h.LoadDataset(ctx)
	}

	tmpDir, err := os.MkdirTemp("", "ccscheme")
	if err != nil {
		return oops.Wrapf(err, "temp dir error")
	}
	defer os.RemoveAll(tmpDir)

	next := NewCCSchemeDataset()
	for _, src := range schemeSources {
		pagePath := filepath.Join(tmpDir, src.country+".html")
		if status := h.client.Download(ctx, src.url, pagePath, 0); !fetch.OK(status) {
			h.logger.Warn("Scheme page download failed",
				log.String("country", src.country), log.Int("status", status))
			continue
		}
		entries, err := parseSchemePage(pagePath)
		if err != nil {
			h.logger.Warn("Scheme page parse failed",
				log.String("country", src.country), log.Err(err))
			continue
		}
		next.Schemes[src.country] = entries
	}

	next.LastUpdated = time.Now().UTC()
	if err := utils.MarshalJSONFile(next, h.path); err != nil {
		return err
	}
	h.dataset = next
	h.logger.Info("CC scheme dataset rebuilt", log.Int("countries", len(next.Schemes)))
	return nil
}

func (h *CCSchemeHandler) LoadDataset(_ context.Context) error {
	dataset := NewCCSchemeDataset()
	if err := utils.UnmarshalJSONFile(dataset, h.path); err != nil {
		return err
	}
	h.dataset = dataset
	return nil
}

// parseSchemePage parses a certified-products listing. The national
// sites differ wildly; rows marked with the product-row class carry the
// cells the dataset needs, anything else is ignored.
func parseSchemePage(path string) ([]SchemeEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, oops.Wrapf(err, "html parse error")
	}

	var entries []SchemeEntry
	doc.Find("tr.product-row, tr.certified-product").Each(func(_ int, row *goquery.Selection) {
		entry := SchemeEntry{
			CertID: strings.TrimSpace(row.Find("td.cert-id").Text()),
			Name:   strings.TrimSpace(row.Find("td.product-name").Text()),
			Vendor: strings.TrimSpace(row.Find("td.vendor").Text()),
		}
		if href, ok := row.Find("td.product-name a").First().Attr("href"); ok {
			entry.CertLink = href
		}
		if entry.Name == "" {
			return
		}
		entries = append(entries, entry)
	})
	return entries, nil
}
