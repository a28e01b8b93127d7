package convert

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"unicode"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/sec-certs/certdb/pkg/log"
	"github.com/sec-certs/certdb/pkg/storage"
	"github.com/sec-certs/certdb/pkg/types"
)

// Engine turns a PDF into text. The default engine shells out to
// pdftotext; a missing binary degrades quality but never aborts the
// pipeline.
type Engine interface {
	ExtractText(ctx context.Context, pdfPath, txtPath string) error
}

// OCREngine rasterizes and OCRs a PDF into a new searchable PDF, used as
// a second chance for scanned or subset-font documents.
type OCREngine interface {
	OCR(ctx context.Context, pdfPath, outPath string) error
}

// Converter drives PDF-to-text conversion for all artifacts of a
// certificate map.
type Converter struct {
	primary Engine
	ocr     OCREngine
	// garbageAlphaPerKB is the minimum alphabetic characters per KB of
	// PDF below which the output is considered garbage and OCR runs.
	garbageAlphaPerKB int
	numWorkers        int
	logger            *log.Logger
}

type Option func(*Converter)

func WithEngines(primary Engine, ocr OCREngine) Option {
	return func(c *Converter) {
		c.primary = primary
		c.ocr = ocr
	}
}

func WithGarbageThreshold(alphaPerKB int) Option {
	return func(c *Converter) {
		c.garbageAlphaPerKB = alphaPerKB
	}
}

func WithWorkers(n int) Option {
	return func(c *Converter) {
		c.numWorkers = n
	}
}

func NewConverter(opts ...Option) *Converter {
	c := &Converter{
		primary:           PopplerEngine{},
		ocr:               OCRMyPDFEngine{},
		garbageAlphaPerKB: 20,
		numWorkers:        4,
		logger:            log.WithPrefix("convert"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.warnMissingTools()
	return c
}

func (c *Converter) warnMissingTools() {
	if _, ok := c.primary.(PopplerEngine); ok {
		if _, err := exec.LookPath("pdftotext"); err != nil {
			c.logger.Warn("pdftotext not found, conversion will fail for all artifacts")
		}
	}
	if _, ok := c.ocr.(OCRMyPDFEngine); ok {
		if _, err := exec.LookPath("ocrmypdf"); err != nil {
			c.logger.Warn("ocrmypdf not found, OCR fallback disabled")
		}
	}
}

type skip struct {
	digest string
	reason string
}

// ConvertAll converts every downloaded artifact whose conversion is not
// yet recorded as ok, or all of them when fresh is true. Per-artifact
// failures are recorded on the certificate state and never abort the
// stage.
func (c *Converter) ConvertAll(ctx context.Context, certs map[string]types.Certificate, layout storage.Layout, fresh bool) error {
	var (
		mu    sync.Mutex
		skips []skip
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.numWorkers)
	for digest, cert := range certs {
		digest, cert := digest, cert
		g.Go(func() error {
			for _, source := range types.ArtifactSourcesFor(cert.CertScheme()) {
				doc := cert.CertState().Document(source)
				if !doc.DownloadOK {
					continue
				}
				if doc.ConvertOK && !fresh {
					continue
				}
				if err := c.convertOne(gctx, doc, layout, source, digest); err != nil {
					mu.Lock()
					skips = append(skips, skip{digest: digest, reason: err.Error()})
					mu.Unlock()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, s := range skips {
		c.logger.Warn("Conversion skipped", log.Digest(s.digest), log.String("reason", s.reason))
	}
	c.logger.Info("Conversion finished",
		log.Int("certs", len(certs)), log.Int("failed", len(skips)))
	return nil
}

func (c *Converter) convertOne(ctx context.Context, doc *types.DocumentState, layout storage.Layout, source types.ArtifactSource, digest string) error {
	pdfPath := layout.PdfPath(source, digest)
	txtPath := layout.TxtPath(source, digest)

	doc.ConvertOK = false
	doc.ConvertGarbage = false

	if err := c.primary.ExtractText(ctx, pdfPath, txtPath); err != nil {
		os.Remove(txtPath)
		return xerrors.Errorf("%s text extraction failed: %w", source, err)
	}

	garbage, err := c.isGarbage(pdfPath, txtPath)
	if err != nil {
		return xerrors.Errorf("%s garbage check failed: %w", source, err)
	}
	if garbage {
		doc.ConvertGarbage = true
		if err = c.runOCR(ctx, pdfPath, txtPath); err != nil {
			log.Debug("OCR fallback failed", log.Digest(digest), log.Err(err))
		}
	}

	info, err := os.Stat(txtPath)
	if err != nil || info.Size() == 0 {
		os.Remove(txtPath)
		return xerrors.Errorf("%s conversion produced no text", source)
	}

	doc.ConvertOK = true
	doc.TxtPath = txtPath
	return nil
}

func (c *Converter) runOCR(ctx context.Context, pdfPath, txtPath string) error {
	ocrPdf := filepath.Join(filepath.Dir(pdfPath), "."+filepath.Base(pdfPath)+".ocr")
	defer os.Remove(ocrPdf)

	if err := c.ocr.OCR(ctx, pdfPath, ocrPdf); err != nil {
		return err
	}
	return c.primary.ExtractText(ctx, ocrPdf, txtPath)
}

// isGarbage reports whether the extracted text has too few alphabetic
// characters relative to the PDF size.
func (c *Converter) isGarbage(pdfPath, txtPath string) (bool, error) {
	pdfInfo, err := os.Stat(pdfPath)
	if err != nil {
		return false, err
	}
	text, err := os.ReadFile(txtPath)
	if err != nil {
		return false, err
	}
	if len(text) == 0 {
		return true, nil
	}

	alpha := 0
	for _, r := range string(text) {
		if unicode.IsLetter(r) {
			alpha++
		}
	}
	kb := pdfInfo.Size() / 1024
	if kb == 0 {
		kb = 1
	}
	return int64(alpha) < kb*int64(c.garbageAlphaPerKB), nil
}

