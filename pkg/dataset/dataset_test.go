package dataset_test

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	fake "k8s.io/utils/clock/testing"

	"github.com/sec-certs/certdb/pkg/config"
	"github.com/sec-certs/certdb/pkg/dataset"
	"github.com/sec-certs/certdb/pkg/types"
	"github.com/sec-certs/certdb/pkg/utils"
)

type stubScraper struct {
	certs map[string]types.Certificate
	err   error
}

func (s *stubScraper) Scrape(context.Context) (map[string]types.Certificate, error) {
	return s.certs, s.err
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Progress = false
	return cfg
}

func fipsCerts(ids ...int) map[string]types.Certificate {
	certs := make(map[string]types.Certificate, len(ids))
	for _, id := range ids {
		cert := types.NewFIPSCertificate(id, "Module")
		certs[cert.Digest()] = cert
	}
	return certs
}

func TestDataset_BuildEmpty(t *testing.T) {
	d := dataset.New(types.SchemeFIPS, "empty", "nothing scraped", t.TempDir(), testConfig(),
		dataset.WithScraper(&stubScraper{certs: map[string]types.Certificate{}}))

	require.NoError(t, d.Build(context.Background()))

	assert.Empty(t, d.Certs)
	assert.True(t, d.State.MetaSourcesParsed)
	assert.False(t, d.State.ArtifactsDownloaded)
	assert.False(t, d.State.PdfsConverted)
	assert.False(t, d.State.AuxiliaryDatasetsProcessed)
	assert.False(t, d.State.CertsAnalyzed)
	assert.FileExists(t, d.JSONPath())
}

func TestDataset_StagePreconditions(t *testing.T) {
	ctx := context.Background()
	d := dataset.New(types.SchemeFIPS, "fresh", "", t.TempDir(), testConfig(),
		dataset.WithScraper(&stubScraper{certs: fipsCerts(3095)}))

	assert.ErrorIs(t, d.DownloadAllArtifacts(ctx, false), dataset.ErrNotBuilt)
	assert.ErrorIs(t, d.ProcessAuxiliaryDatasets(ctx, false), dataset.ErrNotBuilt)
	assert.ErrorIs(t, d.ConvertAllPdfs(ctx, false), dataset.ErrNotDownloaded)
	assert.ErrorIs(t, d.AnalyzeCertificates(ctx, false), dataset.ErrNotConverted)

	// a failed precondition leaves the dataset untouched
	assert.Empty(t, d.Certs)
	assert.NoFileExists(t, d.JSONPath())

	d.State.PdfsConverted = true
	assert.ErrorIs(t, d.AnalyzeCertificates(ctx, false), dataset.ErrAuxNotProcessed)
}

func TestDataset_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	clk := fake.NewFakeClock(time.Date(2021, 1, 2, 3, 4, 5, 0, time.UTC))
	d := dataset.New(types.SchemeFIPS, "fips", "validated modules", dir, testConfig(),
		dataset.WithScraper(&stubScraper{certs: fipsCerts(3093, 3094, 3095)}),
		dataset.WithClock(clk))

	require.NoError(t, d.Build(context.Background()))
	assert.Equal(t, clk.Now().UTC(), d.Timestamp)

	loaded, err := dataset.FromJSON(d.JSONPath(), testConfig())
	require.NoError(t, err)

	assert.Equal(t, d.Name, loaded.Name)
	assert.Equal(t, d.Description, loaded.Description)
	assert.Equal(t, d.Scheme, loaded.Scheme)
	assert.Equal(t, d.State, loaded.State)
	assert.Equal(t, d.Timestamp, loaded.Timestamp)
	require.Len(t, loaded.Certs, 3)
	for digest, cert := range loaded.Certs {
		assert.Equal(t, digest, cert.Digest())
		assert.IsType(t, &types.FIPSCertificate{}, cert)
	}

	// the serialization is deterministic, so writing the reloaded dataset
	// reproduces the original bytes
	want, err := json.Marshal(d)
	require.NoError(t, err)
	got, err := json.Marshal(loaded)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDataset_CompressedRoundTrip(t *testing.T) {
	d := dataset.New(types.SchemeFIPS, "packed", "", t.TempDir(), testConfig(),
		dataset.WithScraper(&stubScraper{certs: fipsCerts(3095)}))
	require.NoError(t, d.Build(context.Background()))

	gzPath := filepath.Join(t.TempDir(), "packed.json.gz")
	require.NoError(t, utils.MarshalJSONFile(d, gzPath))

	plain, err := dataset.FromJSON(d.JSONPath(), testConfig())
	require.NoError(t, err)
	packed, err := dataset.FromJSON(gzPath, testConfig())
	require.NoError(t, err)

	assert.Equal(t, plain.State, packed.State)
	assert.Equal(t, plain.Certs, packed.Certs)
}

func TestDataset_SavePreservesLoadedPath(t *testing.T) {
	d := dataset.New(types.SchemeFIPS, "packed", "", t.TempDir(), testConfig(),
		dataset.WithScraper(&stubScraper{certs: fipsCerts(3095)}))
	require.NoError(t, d.Build(context.Background()))

	dir := t.TempDir()
	gzPath := filepath.Join(dir, "packed.json.gz")
	require.NoError(t, utils.MarshalJSONFile(d, gzPath))

	clk := fake.NewFakeClock(time.Date(2022, 3, 4, 5, 6, 7, 0, time.UTC))
	loaded, err := dataset.FromJSON(gzPath, testConfig(), dataset.WithClock(clk))
	require.NoError(t, err)
	require.Equal(t, gzPath, loaded.JSONPath())
	require.NoError(t, loaded.Save())

	// the compressed serialization was updated in place, no uncompressed
	// sibling appeared
	assert.NoFileExists(t, filepath.Join(dir, "packed.json"))
	again, err := dataset.FromJSON(gzPath, testConfig())
	require.NoError(t, err)
	assert.Equal(t, clk.Now().UTC(), again.Timestamp)
}

func TestDataset_FromJSONRebindsPaths(t *testing.T) {
	oldDir := t.TempDir()
	certs := fipsCerts(2441)
	for _, cert := range certs {
		doc := cert.CertState().Document(types.SourceTarget)
		doc.DownloadOK = true
		doc.PdfPath = "/stale/location/x.pdf"
	}

	d := dataset.New(types.SchemeFIPS, "moved", "", oldDir, testConfig(),
		dataset.WithScraper(&stubScraper{certs: certs}))
	require.NoError(t, d.Build(context.Background()))

	// move the serialization somewhere else entirely
	newDir := t.TempDir()
	newPath := filepath.Join(newDir, "moved.json")
	data, err := os.ReadFile(d.JSONPath())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(newPath, data, 0o644))

	loaded, err := dataset.FromJSON(newPath, testConfig())
	require.NoError(t, err)

	for digest, cert := range loaded.Certs {
		doc := cert.CertState().Document(types.SourceTarget)
		want := filepath.Join(newDir, "certs", "targets", "pdf", digest+".pdf")
		assert.Equal(t, want, doc.PdfPath)
	}
}

func TestFromWeb(t *testing.T) {
	srcDir := t.TempDir()
	d := dataset.New(types.SchemeFIPS, "snapshot", "prebuilt", srcDir, testConfig(),
		dataset.WithScraper(&stubScraper{certs: fipsCerts(3090, 3091)}))
	require.NoError(t, d.Build(context.Background()))

	archive := tarGz(t, d.JSONPath(), "snapshot.json")
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer ts.Close()

	loaded, err := dataset.FromWeb(context.Background(), ts.URL+"/snapshot.tar.gz", t.TempDir(), testConfig())
	require.NoError(t, err)

	assert.Equal(t, "snapshot", loaded.Name)
	assert.True(t, loaded.State.MetaSourcesParsed)
	assert.Len(t, loaded.Certs, 2)
}

func TestFromWeb_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	_, err := dataset.FromWeb(context.Background(), ts.URL+"/missing.tar.gz", t.TempDir(), testConfig())
	assert.Error(t, err)
}

// tarGz packs a single file into a gzipped tarball under the given name.
func tarGz(t *testing.T, path, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	tmp := filepath.Join(t.TempDir(), "archive.tar.gz")
	f, err := os.Create(tmp)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	tw := tar.NewWriter(zw)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(data))}))
	_, err = tw.Write(data)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	out, err := os.ReadFile(tmp)
	require.NoError(t, err)
	return out
}
