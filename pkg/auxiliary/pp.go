package auxiliary

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"

	"github.com/sec-certs/certdb/pkg/config"
	"github.com/sec-certs/certdb/pkg/convert"
	"github.com/sec-certs/certdb/pkg/extract"
	"github.com/sec-certs/certdb/pkg/fetch"
	"github.com/sec-certs/certdb/pkg/log"
	"github.com/sec-certs/certdb/pkg/storage"
	"github.com/sec-certs/certdb/pkg/types"
	"github.com/sec-certs/certdb/pkg/utils"
)

const ppIndexURL = "https://www.commoncriteriaportal.org/pps/pps.csv"

// ProtectionProfile is one entry of the CC portal PP index, enriched by
// the keyword pass over its PP document.
type ProtectionProfile struct {
	Name       string            `json:"name"`
	Category   string            `json:"category,omitempty"`
	Status     string            `json:"status,omitempty"`
	Level      string            `json:"level,omitempty"`
	CertDate   *time.Time        `json:"cert_date,omitempty"`
	ReportLink string            `json:"report_link,omitempty"`
	PPLink     string            `json:"pp_link,omitempty"`
	Keywords   types.KeywordHits `json:"keywords,omitempty"`
}

// Digest keys a protection profile the same way certificates are keyed.
func (p ProtectionProfile) Digest() string {
	return types.ComputeDigest(p.Name, p.PPLink)
}

// PPDataset is the protection-profile dictionary keyed by digest.
type PPDataset struct {
	LastUpdated time.Time                    `json:"last_updated"`
	PPs         map[string]ProtectionProfile `json:"pps"`
}

func NewPPDataset() *PPDataset {
	return &PPDataset{PPs: make(map[string]ProtectionProfile)}
}

// ByPPLink returns the profile with the given document link.
func (d *PPDataset) ByPPLink(link string) (ProtectionProfile, bool) {
	for _, pp := range d.PPs {
		if pp.PPLink == link {
			return pp, true
		}
	}
	return ProtectionProfile{}, false
}

// ProtectionProfileHandler maintains pp_dataset.json with its own mini
// pipeline: scrape the portal index, download each PP document, convert
// it to text and run the keyword pass. Profiles already processed keep
// their keywords across refreshes, so the pipeline is incremental.
type ProtectionProfileHandler struct {
	cfg     config.Config
	client  *fetch.Client
	path    string
	workDir string
	dataset *PPDataset
	logger  *log.Logger
}

func NewProtectionProfileHandler(cfg config.Config, client *fetch.Client) *ProtectionProfileHandler {
	return &ProtectionProfileHandler{
		cfg:    cfg,
		client: client,
		logger: log.WithPrefix("aux-pp"),
	}
}

func (h *ProtectionProfileHandler) Type() Type { return TypeProtectionProfile }

func (h *ProtectionProfileHandler) SetLocalPaths(layout storage.Layout) {
	h.workDir = filepath.Join(layout.AuxDir(), "protection_profiles")
	h.path = filepath.Join(h.workDir, "pp_dataset.json")
}

// Dataset returns the loaded dataset, nil before LoadDataset.
func (h *ProtectionProfileHandler) Dataset() *PPDataset { return h.dataset }

func (h *ProtectionProfileHandler) ProcessDataset(ctx context.Context, fresh bool) error {
	exists, err := utils.Exists(h.path)
	if err != nil {
		return err
	}

	// The index is always re-scraped; without fresh, document work from
	// the previous dataset is reused.
	prev := NewPPDataset()
	if exists {
		if err := h.LoadDataset(ctx); err != nil {
			return err
		}
		prev = h.dataset
	}

	next, err := h.scrapeIndex(ctx)
	if err != nil {
		return err
	}

	// carry keywords over for profiles whose document did not change
	if !fresh {
		for digest, pp := range next.PPs {
			if old, ok := prev.PPs[digest]; ok && old.Keywords != nil {
				pp.Keywords = old.Keywords
				next.PPs[digest] = pp
			}
		}
	}

	if err := h.processDocuments(ctx, next); err != nil {
		return err
	}

	next.LastUpdated = time.Now().UTC()
	if err := utils.MarshalJSONFile(next, h.path); err != nil {
		return err
	}
	h.dataset = next
	h.logger.Info("Protection profile dataset updated", log.Int("pps", len(next.PPs)))
	return nil
}

func (h *ProtectionProfileHandler) LoadDataset(_ context.Context) error {
	dataset := NewPPDataset()
	if err := utils.UnmarshalJSONFile(dataset, h.path); err != nil {
		return err
	}
	h.dataset = dataset
	return nil
}

func (h *ProtectionProfileHandler) scrapeIndex(ctx context.Context) (*PPDataset, error) {
	if err := os.MkdirAll(h.workDir, 0o755); err != nil {
		return nil, oops.With("dir_path", h.workDir).Wrapf(err, "mkdir error")
	}
	csvPath := filepath.Join(h.workDir, "pps.csv")
	if status := h.client.Download(ctx, ppIndexURL, csvPath, 0); !fetch.OK(status) {
		return nil, oops.With("url", ppIndexURL).With("status", status).Errorf("pp index download error")
	}

	f, err := os.Open(csvPath)
	if err != nil {
		return nil, oops.With("file_path", csvPath).Wrapf(err, "pp index open error")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, oops.Wrapf(err, "pp index csv error")
	}

	dataset := NewPPDataset()
	for i, row := range rows {
		if i == 0 || len(row) < 8 {
			continue
		}
		pp := ProtectionProfile{
			Category:   strings.TrimSpace(row[0]),
			Name:       strings.TrimSpace(row[1]),
			Status:     strings.TrimSpace(row[3]),
			Level:      strings.TrimSpace(row[4]),
			CertDate:   types.ParseDate(strings.TrimSpace(row[5]), "2006-01-02", "01/02/2006", "1/2/2006"),
			ReportLink: strings.TrimSpace(row[6]),
			PPLink:     strings.TrimSpace(row[7]),
		}
		if pp.Name == "" {
			continue
		}
		dataset.PPs[pp.Digest()] = pp
	}
	return dataset, nil
}

// processDocuments runs the download-convert-extract pipeline for every
// profile that has a document link but no keywords yet.
func (h *ProtectionProfileHandler) processDocuments(ctx context.Context, dataset *PPDataset) error {
	pdfDir := filepath.Join(h.workDir, "pdf")
	txtDir := filepath.Join(h.workDir, "txt")
	for _, dir := range []string{pdfDir, txtDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return oops.With("dir_path", dir).Wrapf(err, "mkdir error")
		}
	}

	type docJob struct {
		digest string
		link   string
	}
	var jobs []docJob
	for digest, pp := range dataset.PPs {
		if pp.PPLink == "" || pp.Keywords != nil {
			continue
		}
		jobs = append(jobs, docJob{digest: digest, link: pp.PPLink})
	}
	if len(jobs) == 0 {
		return nil
	}
	h.logger.Info("Processing protection profile documents", log.Int("count", len(jobs)))

	engine := convert.PopplerEngine{}
	var (
		g, gctx = errgroup.WithContext(ctx)
		results = make([]types.KeywordHits, len(jobs))
	)
	g.SetLimit(h.cfg.NumWorkers)
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			pdfPath := filepath.Join(pdfDir, j.digest+".pdf")
			txtPath := filepath.Join(txtDir, j.digest+".txt")

			if status := h.client.Download(gctx, j.link, pdfPath, 0); !fetch.OK(status) {
				h.logger.Warn("PP document download failed",
					log.Digest(j.digest), log.Int("status", status))
				return nil
			}
			if err := engine.ExtractText(gctx, pdfPath, txtPath); err != nil {
				h.logger.Warn("PP document conversion failed", log.Digest(j.digest), log.Err(err))
				return nil
			}
			text, err := os.ReadFile(txtPath)
			if err != nil {
				return nil
			}
			hits := make(types.KeywordHits)
			for _, hit := range extract.ScanKeywords(string(text)) {
				hits.Add(hit.Category, hit.Family, hit.Name, hit.Count)
			}
			results[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, j := range jobs {
		if results[i] == nil {
			continue
		}
		pp := dataset.PPs[j.digest]
		pp.Keywords = results[i]
		dataset.PPs[j.digest] = pp
	}
	return nil
}
