package convert

import (
	"context"
	"os/exec"
	"strings"

	"github.com/samber/oops"
)

// PopplerEngine extracts text with poppler's pdftotext.
type PopplerEngine struct{}

func (PopplerEngine) ExtractText(ctx context.Context, pdfPath, txtPath string) error {
	cmd := exec.CommandContext(ctx, "pdftotext", "-layout", pdfPath, txtPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return oops.
			With("pdf_path", pdfPath).
			With("output", strings.TrimSpace(string(out))).
			Wrapf(err, "pdftotext error")
	}
	return nil
}

// OCRMyPDFEngine produces a searchable PDF with ocrmypdf.
type OCRMyPDFEngine struct{}

func (OCRMyPDFEngine) OCR(ctx context.Context, pdfPath, outPath string) error {
	cmd := exec.CommandContext(ctx, "ocrmypdf", "--force-ocr", "--output-type", "pdf", pdfPath, outPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return oops.
			With("pdf_path", pdfPath).
			With("output", strings.TrimSpace(string(out))).
			Wrapf(err, "ocrmypdf error")
	}
	return nil
}
