package auxiliary

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/oops"

	"github.com/sec-certs/certdb/pkg/fetch"
	"github.com/sec-certs/certdb/pkg/log"
	"github.com/sec-certs/certdb/pkg/storage"
	"github.com/sec-certs/certdb/pkg/types"
	"github.com/sec-certs/certdb/pkg/utils"
)

const cavpSearchURL = "https://csrc.nist.gov/projects/cryptographic-algorithm-validation-program/validation-search?searchMode=validation&ipp=250&page="

// FIPSAlgorithmDataset lists CAVP algorithm validations. Reference
// resolution uses it to tell algorithm certificate numbers apart from
// module certificate numbers.
type FIPSAlgorithmDataset struct {
	LastUpdated time.Time             `json:"last_updated"`
	Algorithms  []types.FIPSAlgorithm `json:"algorithms"`

	byNumber map[int][]types.FIPSAlgorithm
}

func NewFIPSAlgorithmDataset() *FIPSAlgorithmDataset {
	return &FIPSAlgorithmDataset{}
}

func (d *FIPSAlgorithmDataset) BuildIndex() {
	d.byNumber = make(map[int][]types.FIPSAlgorithm, len(d.Algorithms))
	for _, alg := range d.Algorithms {
		d.byNumber[alg.Number] = append(d.byNumber[alg.Number], alg)
	}
}

// ByNumber returns the algorithm validations with the given number.
// Numbers are only unique per algorithm type, so this can return several.
func (d *FIPSAlgorithmDataset) ByNumber(number int) []types.FIPSAlgorithm {
	return d.byNumber[number]
}

// HasVendor reports whether any algorithm validation with the number was
// issued to a vendor matching the normalized signature.
func (d *FIPSAlgorithmDataset) HasVendor(number int, vendorSignature string) bool {
	for _, alg := range d.byNumber[number] {
		if NormalizeVendor(alg.Vendor) == vendorSignature {
			return true
		}
	}
	return false
}

// NormalizeVendor reduces a vendor name to a comparison signature:
// lowercase, punctuation and corporate suffixes dropped, whitespace
// collapsed.
func NormalizeVendor(vendor string) string {
	s := strings.ToLower(vendor)
	s = strings.ReplaceAll(s, ",", " ")
	s = strings.ReplaceAll(s, ".", " ")
	s = strings.Join(strings.Fields(s), " ")
	for changed := true; changed; {
		changed = false
		for _, suffix := range []string{" inc", " llc", " limited", " ltd", " gmbh", " corporation", " corp", " co", " ag", " sa", " bv"} {
			if strings.HasSuffix(s, suffix) {
				s = strings.TrimSuffix(s, suffix)
				changed = true
			}
		}
	}
	return strings.TrimSpace(s)
}

// FIPSAlgorithmHandler maintains algorithms.json by scraping the
// CAVP validation search pages. The source offers no change feed, so a
// refresh is always a full rebuild.
type FIPSAlgorithmHandler struct {
	client  *fetch.Client
	path    string
	dataset *FIPSAlgorithmDataset
	logger  *log.Logger
}

func NewFIPSAlgorithmHandler(client *fetch.Client) *FIPSAlgorithmHandler {
	return &FIPSAlgorithmHandler{
		client: client,
		logger: log.WithPrefix("aux-fipsalg"),
	}
}

func (h *FIPSAlgorithmHandler) Type() Type { return TypeFIPSAlgorithm }

func (h *FIPSAlgorithmHandler) SetLocalPaths(layout storage.Layout) {
	h.path = filepath.Join(layout.AuxDir(), "algorithms.json")
}

// Dataset returns the loaded dataset, nil before LoadDataset.
func (h *FIPSAlgorithmHandler) Dataset() *FIPSAlgorithmDataset { return h.dataset }

func (h *FIPSAlgorithmHandler) ProcessDataset(ctx context.Context, fresh bool) error {
	exists, err := utils.Exists(h.path)
	if err != nil {
		return err
	}
	if exists && !fresh {
		return h.LoadDataset(ctx)
	}

	tmpDir, err := os.MkdirTemp("", "cavp")
	if err != nil {
		return oops.Wrapf(err, "temp dir error")
	}
	defer os.RemoveAll(tmpDir)

	next := NewFIPSAlgorithmDataset()
	for page := 1; ; page++ {
		pagePath := filepath.Join(tmpDir, "page.html")
		url := cavpSearchURL + strconv.Itoa(page)
		if status := h.client.Download(ctx, url, pagePath, 0); !fetch.OK(status) {
			return oops.With("url", url).With("status", status).Errorf("validation page download error")
		}

		algs, err := parseCAVPPage(pagePath)
		if err != nil {
			return oops.With("url", url).Wrapf(err, "validation page parse error")
		}
		if len(algs) == 0 {
			break
		}
		next.Algorithms = append(next.Algorithms, algs...)
	}

	next.LastUpdated = time.Now().UTC()
	if err := utils.MarshalJSONFile(next, h.path); err != nil {
		return err
	}
	next.BuildIndex()
	h.dataset = next
	h.logger.Info("CAVP algorithm list rebuilt", log.Int("algorithms", len(next.Algorithms)))
	return nil
}

func (h *FIPSAlgorithmHandler) LoadDataset(_ context.Context) error {
	dataset := NewFIPSAlgorithmDataset()
	if err := utils.UnmarshalJSONFile(dataset, h.path); err != nil {
		return err
	}
	dataset.BuildIndex()
	h.dataset = dataset
	return nil
}

// parseCAVPPage parses one validation search result page. Rows carry the
// validation number, algorithm type, vendor and implementation name.
func parseCAVPPage(path string) ([]types.FIPSAlgorithm, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, oops.Wrapf(err, "html parse error")
	}

	var algs []types.FIPSAlgorithm
	doc.Find("tr.validation-row").Each(func(_ int, row *goquery.Selection) {
		number, err := strconv.Atoi(strings.TrimSpace(row.Find("td.validation-number").Text()))
		if err != nil {
			return
		}
		alg := types.FIPSAlgorithm{
			Number:         number,
			Type:           strings.TrimSpace(row.Find("td.validation-type").Text()),
			Vendor:         strings.TrimSpace(row.Find("td.vendor-name").Text()),
			Implementation: strings.TrimSpace(row.Find("td.implementation-name").Text()),
		}
		alg.ValidationDate = types.ParseDate(strings.TrimSpace(row.Find("td.validation-date").Text()),
			"1/2/2006", "01/02/2006", "2006-01-02")
		algs = append(algs, alg)
	})
	return algs, nil
}
