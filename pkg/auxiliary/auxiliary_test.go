package auxiliary

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sec-certs/certdb/pkg/config"
	"github.com/sec-certs/certdb/pkg/fetch"
	"github.com/sec-certs/certdb/pkg/storage"
	"github.com/sec-certs/certdb/pkg/types"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Progress = false
	return cfg
}

func fastNVDClient(t *testing.T, cfg config.Config) *nvdClient {
	t.Helper()
	saved := nvdPublicInterval
	nvdPublicInterval = time.Millisecond
	t.Cleanup(func() { nvdPublicInterval = saved })
	return newNVDClient(cfg)
}

func TestWindows(t *testing.T) {
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(200 * 24 * time.Hour)

	ws := windows(since, until)
	require.Len(t, ws, 2)
	assert.Equal(t, since, ws[0].start)
	assert.Equal(t, since.Add(nvdMaxWindow), ws[0].end)
	assert.Equal(t, ws[0].end, ws[1].start)
	assert.Equal(t, until, ws[1].end)

	assert.Empty(t, windows(until, until), "empty span yields no windows")
}

func TestRegistryComposition(t *testing.T) {
	cfg := testConfig()
	client := fetch.NewClient(fetch.WithProgress(false))

	fips := NewRegistry(types.SchemeFIPS, cfg, client)
	var fipsTypes []Type
	for _, h := range fips.Handlers() {
		fipsTypes = append(fipsTypes, h.Type())
	}
	assert.Equal(t, []Type{TypeCPE, TypeCVE, TypeCPEMatch, TypeFIPSAlgorithm}, fipsTypes)

	cc := NewRegistry(types.SchemeCC, cfg, client)
	assert.NotNil(t, cc.Handler(TypeProtectionProfile))
	assert.NotNil(t, cc.Handler(TypeCCMaintenance))
	assert.Nil(t, cc.Handler(TypeFIPSAlgorithm))

	_, bound := cc.Handler(TypeCCMaintenance).(CertBound)
	assert.True(t, bound, "the maintenance handler derives from the certificates")
}

func TestCPEHandler_Snapshot(t *testing.T) {
	dataset := NewCPEDataset()
	dataset.CPEs["cpe:2.3:o:redhat:enterprise_linux:7.1:*:*:*:*:*:*:*"] = types.CPE{
		URI:     "cpe:2.3:o:redhat:enterprise_linux:7.1:*:*:*:*:*:*:*",
		Vendor:  "redhat",
		Product: "enterprise_linux",
		Version: "7.1",
	}
	dataset.LastUpdated = time.Now().UTC()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cpe_dataset.json.gz", r.URL.Path)
		gz := gzip.NewWriter(w)
		require.NoError(t, json.NewEncoder(gz).Encode(dataset))
		require.NoError(t, gz.Close())
	}))
	defer ts.Close()

	cfg := testConfig()
	cfg.SnapshotBaseURL = ts.URL
	client := fetch.NewClient(fetch.WithProgress(false))

	h := NewCPEHandler(cfg, client, fastNVDClient(t, cfg))
	h.SetLocalPaths(layoutWithDirs(t))

	require.NoError(t, h.ProcessDataset(context.Background(), false))
	require.NotNil(t, h.Dataset())
	cpe, ok := h.Dataset().CPEs["cpe:2.3:o:redhat:enterprise_linux:7.1:*:*:*:*:*:*:*"]
	require.True(t, ok)
	assert.Equal(t, "7.1", cpe.Version)
}

func TestCPEHandler_APIRebuild(t *testing.T) {
	page := func(start int, total int, products ...string) map[string]any {
		items := make([]map[string]any, 0, len(products))
		for _, uri := range products {
			items = append(items, map[string]any{
				"cpe": map[string]any{
					"cpeName": uri,
					"titles":  []map[string]string{{"title": "Title of " + uri, "lang": "en"}},
				},
			})
		}
		return map[string]any{
			"resultsPerPage": len(items),
			"startIndex":     start,
			"totalResults":   total,
			"products":       items,
		}
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cpes/2.0", r.URL.Path)
		switch r.URL.Query().Get("startIndex") {
		case "0":
			json.NewEncoder(w).Encode(page(0, 3, "cpe:2.3:a:acme:tool:1.0:*:*:*:*:*:*:*", "cpe:2.3:a:acme:tool:2.0:*:*:*:*:*:*:*"))
		default:
			json.NewEncoder(w).Encode(page(2, 3, "cpe:2.3:o:acme:os:-:*:*:*:*:*:*:*"))
		}
	}))
	defer ts.Close()

	cfg := testConfig()
	cfg.AuxSource = config.AuxSourceAPI
	cfg.NVDAPIBaseURL = ts.URL
	client := fetch.NewClient(fetch.WithProgress(false))

	layout := layoutWithDirs(t)
	h := NewCPEHandler(cfg, client, fastNVDClient(t, cfg))
	h.SetLocalPaths(layout)

	require.NoError(t, h.ProcessDataset(context.Background(), false))
	require.Len(t, h.Dataset().CPEs, 3)
	assert.Equal(t, "Title of cpe:2.3:a:acme:tool:1.0:*:*:*:*:*:*:*",
		h.Dataset().CPEs["cpe:2.3:a:acme:tool:1.0:*:*:*:*:*:*:*"].Title)
	assert.False(t, h.Dataset().LastUpdated.IsZero())

	// the file was written, so a second handler can load it back
	h2 := NewCPEHandler(cfg, client, fastNVDClient(t, cfg))
	h2.SetLocalPaths(layout)
	require.NoError(t, h2.LoadDataset(context.Background()))
	assert.Len(t, h2.Dataset().CPEs, 3)
}

func TestNVDClient_RetryBudget(t *testing.T) {
	var hits int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "slow down", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	cfg := testConfig()
	cfg.NVDAPIBaseURL = ts.URL

	saved := nvdWaitTimes
	nvdWaitTimes = []time.Duration{time.Millisecond, time.Millisecond}
	t.Cleanup(func() { nvdWaitTimes = saved })

	client := fastNVDClient(t, cfg)
	err := client.fetchAll(context.Background(), nvdEndpointCVE, nil, func(json.RawMessage) error { return nil })
	require.Error(t, err)
	assert.Equal(t, len(nvdWaitTimes)+1, hits, "every budgeted attempt is spent")
}

func TestParseNVDCVE(t *testing.T) {
	raw := json.RawMessage(`{
	  "cve": {
	    "id": "CVE-2021-0001",
	    "published": "2021-06-09T11:15:07.000",
	    "descriptions": [
	      {"lang": "es", "value": "descripcion"},
	      {"lang": "en", "value": "Out-of-bounds read in the crypto module."}
	    ],
	    "metrics": {"cvssMetricV31": [{"cvssData": {"baseScore": 7.5}}]},
	    "configurations": [{"nodes": [{"cpeMatch": [
	      {"vulnerable": true, "criteria": "cpe:2.3:o:redhat:enterprise_linux:7.1:*:*:*:*:*:*:*", "matchCriteriaId": "ABCD-1234"},
	      {"vulnerable": false, "criteria": "cpe:2.3:o:other:thing:1.0:*:*:*:*:*:*:*", "matchCriteriaId": "IGNORED"}
	    ]}]}]
	  }
	}`)

	cve, err := parseNVDCVE(raw)
	require.NoError(t, err)
	assert.Equal(t, "CVE-2021-0001", cve.ID)
	assert.Equal(t, "Out-of-bounds read in the crypto module.", cve.Description)
	assert.Equal(t, 7.5, cve.CVSSScore)
	assert.Equal(t, []string{"cpe:2.3:o:redhat:enterprise_linux:7.1:*:*:*:*:*:*:*"}, cve.CPEURIs)
	assert.Equal(t, []string{"ABCD-1234"}, cve.CriteriaIDs)
	require.NotNil(t, cve.Published)
	assert.Equal(t, 2021, cve.Published.Year())
}

func TestCVEDatasetLookups(t *testing.T) {
	d := NewCVEDataset()
	d.CVEs["CVE-123456"] = types.CVE{
		ID:          "CVE-123456",
		CPEURIs:     []string{"cpe:2.3:o:redhat:enterprise_linux:7.1:*:*:*:*:*:*:*"},
		CriteriaIDs: []string{"CRIT-1"},
	}
	d.CVEs["CVE-999999"] = types.CVE{
		ID:      "CVE-999999",
		CPEURIs: []string{"cpe:2.3:a:acme:tool:1.0:*:*:*:*:*:*:*"},
	}
	d.BuildIndex()

	assert.Equal(t, []string{"CVE-123456"}, d.CVEsForCPE("cpe:2.3:o:redhat:enterprise_linux:7.1:*:*:*:*:*:*:*"))
	assert.Equal(t, []string{"CVE-123456"}, d.CVEsForCriteria("CRIT-1"))
	assert.Nil(t, d.CVEsForCPE("cpe:2.3:o:unknown:product:1.0:*:*:*:*:*:*:*"))
}

func TestParseNVDMatchString(t *testing.T) {
	raw := json.RawMessage(`{
	  "matchString": {
	    "matchCriteriaId": "CRIT-1",
	    "criteria": "cpe:2.3:o:redhat:enterprise_linux:*:*:*:*:*:*:*:*",
	    "matches": [
	      {"cpeName": "cpe:2.3:o:redhat:enterprise_linux:7.0:*:*:*:*:*:*:*"},
	      {"cpeName": "cpe:2.3:o:redhat:enterprise_linux:7.1:*:*:*:*:*:*:*"}
	    ]
	  }
	}`)

	id, uris, err := parseNVDMatchString(raw)
	require.NoError(t, err)
	assert.Equal(t, "CRIT-1", id)
	assert.Len(t, uris, 2)

	d := NewCPEMatchDict()
	d.Criteria[id] = uris
	assert.Equal(t, []string{"CRIT-1"}, d.CriteriaContaining("cpe:2.3:o:redhat:enterprise_linux:7.1:*:*:*:*:*:*:*"))
	assert.Empty(t, d.CriteriaContaining("cpe:2.3:a:acme:tool:1.0:*:*:*:*:*:*:*"))
}

func TestNormalizeVendor(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Acme, Inc.", "acme"},
		{"ACME Corporation", "acme"},
		{"Giesecke+Devrient GmbH", "giesecke+devrient"},
		{"Red Hat", "red hat"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeVendor(tt.in), tt.in)
	}
}

func TestCCMaintenanceHandler_Process(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%%PDF maintenance %s", r.URL.Path)
	}))
	defer ts.Close()

	parent := types.NewCCCertificate("Parent Product", ts.URL+"/report.pdf")
	date := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	parent.MaintenanceUpdates = []types.MaintenanceUpdate{
		{Name: "Parent Product Maintenance 1", Date: &date, ReportLink: ts.URL + "/mu1-report.pdf"},
		{Name: "no links at all"},
	}
	certs := map[string]types.Certificate{parent.Digest(): parent}

	cfg := testConfig()
	client := fetch.NewClient(fetch.WithProgress(false))
	h := NewCCMaintenanceHandler(cfg, client)
	h.SetLocalPaths(layoutWithDirs(t))
	h.BindCerts(certs)

	require.NoError(t, h.ProcessDataset(context.Background(), false))
	require.Len(t, h.Dataset().Updates, 1, "updates without links are skipped")
	for _, child := range h.Dataset().Updates {
		assert.Equal(t, "Parent Product Maintenance 1", child.Name)
		assert.True(t, child.State.Report.DownloadOK)
		assert.Equal(t, &date, child.NotValidBefore)
	}
}

func layoutWithDirs(t *testing.T) storage.Layout {
	t.Helper()
	layout := storage.NewLayout(t.TempDir())
	require.NoError(t, layout.EnsureDirs())
	return layout
}

func TestHandlerLocalPaths(t *testing.T) {
	layout := storage.NewLayout(t.TempDir())
	auxDir := layout.AuxDir()
	cfg := testConfig()
	client := fetch.NewClient(fetch.WithProgress(false))
	nvd := fastNVDClient(t, cfg)

	cpe := NewCPEHandler(cfg, client, nvd)
	cpe.SetLocalPaths(layout)
	assert.Equal(t, filepath.Join(auxDir, "cpe_dataset.json"), cpe.path)

	cve := NewCVEHandler(cfg, client, nvd)
	cve.SetLocalPaths(layout)
	assert.Equal(t, filepath.Join(auxDir, "cve_dataset.json"), cve.path)

	match := NewCPEMatchHandler(cfg, client, nvd)
	match.SetLocalPaths(layout)
	assert.Equal(t, filepath.Join(auxDir, "cpe_match_dict.json"), match.path)

	alg := NewFIPSAlgorithmHandler(client)
	alg.SetLocalPaths(layout)
	assert.Equal(t, filepath.Join(auxDir, "algorithms.json"), alg.path)

	scheme := NewCCSchemeHandler(client)
	scheme.SetLocalPaths(layout)
	assert.Equal(t, filepath.Join(auxDir, "cc_scheme.json"), scheme.path)

	pp := NewProtectionProfileHandler(cfg, client)
	pp.SetLocalPaths(layout)
	assert.Equal(t, filepath.Join(auxDir, "protection_profiles"), pp.workDir)
	assert.Equal(t, filepath.Join(auxDir, "protection_profiles", "pp_dataset.json"), pp.path)

	maint := NewCCMaintenanceHandler(cfg, client)
	maint.SetLocalPaths(layout)
	assert.Equal(t, filepath.Join(auxDir, "cc_maintenance.json"), maint.path)
	assert.Equal(t, filepath.Join(auxDir, "maintenances"), maint.layout.Root)
}
