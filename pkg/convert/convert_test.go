package convert_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sec-certs/certdb/pkg/convert"
	"github.com/sec-certs/certdb/pkg/storage"
	"github.com/sec-certs/certdb/pkg/types"
	"github.com/sec-certs/certdb/pkg/utils"
)

// fakeEngine writes fixed text for each PDF it sees.
type fakeEngine struct {
	text map[string]string // keyed by pdf path suffix
}

func (f fakeEngine) ExtractText(_ context.Context, pdfPath, txtPath string) error {
	for suffix, text := range f.text {
		if strings.HasSuffix(pdfPath, suffix) {
			return os.WriteFile(txtPath, []byte(text), 0o644)
		}
	}
	return os.WriteFile(txtPath, []byte(""), 0o644)
}

// fakeOCR copies the source so the follow-up text extraction sees the
// OCR'd path.
type fakeOCR struct {
	called *bool
	text   string
}

func (f fakeOCR) OCR(_ context.Context, pdfPath, outPath string) error {
	if f.called != nil {
		*f.called = true
	}
	return os.WriteFile(outPath, []byte("%PDF ocr "+f.text), 0o644)
}

func setupCert(t *testing.T, layout storage.Layout, digest string, pdfContent string) {
	t.Helper()
	require.NoError(t, layout.EnsureDirs())
	pdfPath := layout.PdfPath(types.SourceReport, digest)
	require.NoError(t, os.WriteFile(pdfPath, []byte(pdfContent), 0o644))
}

func TestConverter_ConvertAll(t *testing.T) {
	layout := storage.NewLayout(t.TempDir())

	cert := types.NewCCCertificate("Foo v1.2", "https://example.com/foo.pdf")
	digest := cert.Digest()
	setupCert(t, layout, digest, "%PDF-1.4 "+strings.Repeat("x", 500))
	cert.State.Report.DownloadOK = true
	cert.State.Report.PdfPath = layout.PdfPath(types.SourceReport, digest)

	certs := map[string]types.Certificate{digest: cert}

	conv := convert.NewConverter(
		convert.WithEngines(fakeEngine{text: map[string]string{digest + ".pdf": "This is the certification report text."}}, fakeOCR{}),
		convert.WithWorkers(2),
	)
	require.NoError(t, conv.ConvertAll(context.Background(), certs, layout, false))

	assert.True(t, cert.State.Report.ConvertOK)
	assert.False(t, cert.State.Report.ConvertGarbage)

	// convert_ok implies a non-empty text file
	txt := cert.State.Report.TxtPath
	require.NotEmpty(t, txt)
	info, err := os.Stat(txt)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}

func TestConverter_GarbageTriggersOCR(t *testing.T) {
	layout := storage.NewLayout(t.TempDir())

	cert := types.NewCCCertificate("Scanned Cert", "https://example.com/scan.pdf")
	digest := cert.Digest()
	// a large PDF whose primary extraction yields almost nothing
	setupCert(t, layout, digest, "%PDF-1.4 "+strings.Repeat("b", 64*1024))
	cert.State.Report.DownloadOK = true

	ocrCalled := false
	conv := convert.NewConverter(
		convert.WithEngines(
			fakeEngine{text: map[string]string{
				digest + ".pdf":     "..",
				digest + ".pdf.ocr": "Recovered text from the scanned certification report.",
			}},
			fakeOCR{called: &ocrCalled},
		),
	)

	certs := map[string]types.Certificate{digest: cert}
	require.NoError(t, conv.ConvertAll(context.Background(), certs, layout, false))

	assert.True(t, ocrCalled, "garbage output must trigger the OCR fallback")
	assert.True(t, cert.State.Report.ConvertGarbage)
	assert.True(t, cert.State.Report.ConvertOK)
}

func TestConverter_SkipsConverted(t *testing.T) {
	layout := storage.NewLayout(t.TempDir())

	cert := types.NewCCCertificate("Done Cert", "https://example.com/done.pdf")
	digest := cert.Digest()
	setupCert(t, layout, digest, "%PDF-1.4 content")
	cert.State.Report.DownloadOK = true
	cert.State.Report.ConvertOK = true
	cert.State.Report.TxtPath = layout.TxtPath(types.SourceReport, digest)
	require.NoError(t, os.WriteFile(cert.State.Report.TxtPath, []byte("existing"), 0o644))

	conv := convert.NewConverter(
		convert.WithEngines(fakeEngine{text: map[string]string{digest + ".pdf": "The artifact text was reconverted because fresh mode was requested"}}, fakeOCR{}),
	)
	certs := map[string]types.Certificate{digest: cert}
	require.NoError(t, conv.ConvertAll(context.Background(), certs, layout, false))

	data, err := os.ReadFile(cert.State.Report.TxtPath)
	require.NoError(t, err)
	assert.Equal(t, "existing", string(data), "already-converted artifacts are not redone without fresh")

	// fresh forces reconversion
	require.NoError(t, conv.ConvertAll(context.Background(), certs, layout, true))
	data, err = os.ReadFile(cert.State.Report.TxtPath)
	require.NoError(t, err)
	assert.Equal(t, "The artifact text was reconverted because fresh mode was requested", string(data))
}

func TestConverter_EmptyOutputFails(t *testing.T) {
	layout := storage.NewLayout(t.TempDir())

	cert := types.NewFIPSCertificate(77, "Empty Module")
	digest := cert.Digest()
	setupCert(t, layout, digest, "%PDF-1.4 tiny")
	cert.State.Report.DownloadOK = true

	conv := convert.NewConverter(convert.WithEngines(fakeEngine{}, fakeOCR{}))
	certs := map[string]types.Certificate{digest: cert}
	require.NoError(t, conv.ConvertAll(context.Background(), certs, layout, false),
		"per-artifact failures never abort the stage")

	assert.False(t, cert.State.Report.ConvertOK)

	ok, err := utils.Exists(layout.TxtPath(types.SourceReport, digest))
	require.NoError(t, err)
	assert.False(t, ok, "failed conversion leaves no text file")
}
