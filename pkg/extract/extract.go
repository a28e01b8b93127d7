package extract

import (
	"context"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sec-certs/certdb/pkg/log"
	"github.com/sec-certs/certdb/pkg/scrape/fips"
	"github.com/sec-certs/certdb/pkg/storage"
	"github.com/sec-certs/certdb/pkg/types"
)

// MetadataFunc lifts PDF trailer metadata from an artifact on disk.
type MetadataFunc func(ctx context.Context, pdfPath string) (*types.PDFMetadata, error)

type Option func(*Extractor)

// WithWorkers bounds the number of artifacts processed concurrently.
func WithWorkers(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithMetadataFunc overrides the pdfinfo-based metadata reader.
func WithMetadataFunc(fn MetadataFunc) Option {
	return func(e *Extractor) {
		e.metadata = fn
	}
}

// Extractor runs the keyword, metadata and reference-candidate pass over
// converted artifact texts.
type Extractor struct {
	workers  int
	metadata MetadataFunc
	logger   *log.Logger
}

func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		workers:  4,
		metadata: PdfinfoMetadata,
		logger:   log.WithPrefix("extract"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractAll processes every converted artifact of every certificate.
// Artifacts already extracted are skipped unless fresh is set. A failing
// artifact is logged and skipped, never fatal for the stage.
func (e *Extractor) ExtractAll(ctx context.Context, certs map[string]types.Certificate, layout storage.Layout, fresh bool) error {
	type task struct {
		digest string
		cert   types.Certificate
		source types.ArtifactSource
		doc    *types.DocumentState
	}

	var tasks []task
	for digest, cert := range certs {
		for _, source := range types.ArtifactSourcesFor(cert.CertScheme()) {
			doc := cert.CertState().Document(source)
			if !doc.ConvertOK {
				continue
			}
			if doc.ExtractOK && !fresh {
				continue
			}
			tasks = append(tasks, task{digest: digest, cert: cert, source: source, doc: doc})
		}
	}
	e.logger.Info("Extracting artifact data", log.Int("artifacts", len(tasks)))

	var (
		mu     sync.Mutex
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, tk := range tasks {
		tk := tk
		g.Go(func() error {
			if err := e.extractOne(gctx, tk.cert, tk.source, tk.doc); err != nil {
				e.logger.Warn("Artifact extraction failed",
					log.Digest(tk.digest), log.String("source", string(tk.source)), log.Err(err))
				mu.Lock()
				failed++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// FIPS module pages were fetched during the download stage; parse the
	// ones on disk into structured fields and raw references.
	for digest, cert := range certs {
		fips, ok := cert.(*types.FIPSCertificate)
		if !ok || (fips.ModuleParsed && !fresh) {
			continue
		}
		if err := e.parseModulePage(fips, layout); err != nil {
			e.logger.Warn("Module page parse failed", log.Digest(digest), log.Err(err))
		}
	}
	e.logger.Info("Extraction finished",
		log.Int("artifacts", len(tasks)), log.Int("failed", failed))
	return nil
}

func (e *Extractor) extractOne(ctx context.Context, cert types.Certificate, source types.ArtifactSource, doc *types.DocumentState) error {
	raw, err := os.ReadFile(doc.TxtPath)
	if err != nil {
		return err
	}
	text := string(raw)

	pdfData := cert.CertPdfData()
	hits := pdfData.KeywordsFor(source)
	for category := range hits {
		delete(hits, category)
	}
	for _, h := range ScanKeywords(text) {
		hits.Add(h.Category, h.Family, h.Name, h.Count)
	}

	selfID := ""
	if fips, ok := cert.(*types.FIPSCertificate); ok {
		selfID = strconv.Itoa(fips.CertID)
	}
	for _, h := range ScanCertIDs(text, selfID) {
		hits.Add(h.Category, h.Family, h.Name, h.Count)
	}

	if doc.PdfPath != "" && e.metadata != nil {
		meta, err := e.metadata(ctx, doc.PdfPath)
		if err != nil {
			e.logger.Warn("PDF metadata extraction failed",
				log.String("pdf_path", doc.PdfPath), log.Err(err))
		} else {
			meta.Hyperlinks = hyperlinks(text)
			e.storeMetadata(pdfData, source, meta)
		}
	}

	switch {
	case cert.CertScheme() == types.SchemeCC && source == types.SourceReport:
		pdfData.Frontpage = ParseFrontpage(text)
	case cert.CertScheme() == types.SchemeFIPS && source == types.SourceTarget:
		pdfData.PolicyAlgorithms = ParsePolicyTables(text)
	}

	doc.ExtractOK = true
	return nil
}

func (e *Extractor) parseModulePage(cert *types.FIPSCertificate, layout storage.Layout) error {
	path := layout.ModuleHTMLPath(strconv.Itoa(cert.CertID))
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	return fips.ParseModulePage(f, cert)
}

func (e *Extractor) storeMetadata(pdfData *types.PdfData, source types.ArtifactSource, meta *types.PDFMetadata) {
	switch source {
	case types.SourceReport:
		pdfData.ReportMetadata = meta
	case types.SourceTarget:
		pdfData.TargetMetadata = meta
	default:
		pdfData.CertMetadata = meta
	}
}

// ScanKeywords applies the keyword catalog and folds the matches.
func ScanKeywords(text string) []Hit {
	return scan(text, keywordRules, func(family, name string) string {
		return strings.Join(strings.Fields(name), " ")
	})
}

// ScanCertIDs applies the certificate-reference catalog. Matches equal to
// selfID after normalization are dropped so a document citing its own
// certificate number does not reference itself.
func ScanCertIDs(text, selfID string) []Hit {
	hits := scan(text, certIDRules, NormalizeCertID)
	if selfID == "" {
		return hits
	}
	out := hits[:0]
	for _, h := range hits {
		if h.Name == selfID {
			continue
		}
		out = append(out, h)
	}
	return out
}

func scan(text string, rules []Rule, canonical func(family, name string) string) []Hit {
	type key struct{ category, family, name string }
	counts := make(map[key]int)
	var order []key
	for _, r := range rules {
		for _, m := range r.re.FindAllStringSubmatch(text, -1) {
			name := m[0]
			if len(m) > 1 && m[1] != "" {
				name = m[1]
			}
			name = canonical(r.Family, name)
			if name == "" {
				continue
			}
			k := key{r.Category, r.Family, name}
			if counts[k] == 0 {
				order = append(order, k)
			}
			counts[k]++
		}
	}
	hits := make([]Hit, 0, len(order))
	for _, k := range order {
		hits = append(hits, Hit{Category: k.category, Family: k.family, Name: k.name, Count: counts[k]})
	}
	return hits
}

// NormalizeCertID maps a raw reference match to its canonical form:
// whitespace collapsed, decoration such as "Cert. #" (any case) and the
// "CA0" prefix stripped, and FIPS numbers reduced to the bare decimal
// without leading zeros.
func NormalizeCertID(family, raw string) string {
	s := strings.Join(strings.Fields(raw), " ")
	for _, prefix := range []string{"cert. ", "cert.", "cert "} {
		if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
			s = strings.TrimSpace(s[len(prefix):])
			break
		}
	}
	s = strings.TrimPrefix(s, "#")
	s = strings.TrimSpace(s)
	s = strings.Trim(s, ".,;:")
	s = strings.TrimPrefix(s, "CA0")
	if family == "FIPS" {
		s = strings.TrimLeft(s, "0")
	}
	return s
}

var urlRe = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

func hyperlinks(text string) []string {
	seen := make(map[string]struct{})
	var links []string
	for _, m := range urlRe.FindAllString(text, -1) {
		m = strings.TrimRight(m, ".,;")
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		links = append(links, m)
	}
	return links
}
