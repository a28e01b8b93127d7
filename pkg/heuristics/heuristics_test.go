package heuristics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sec-certs/certdb/pkg/auxiliary"
	"github.com/sec-certs/certdb/pkg/heuristics"
	"github.com/sec-certs/certdb/pkg/set"
	"github.com/sec-certs/certdb/pkg/types"
)

func TestExtractVersions(t *testing.T) {
	tests := []struct {
		name string
		want []string
	}{
		{"Foo v1.2 Release", []string{"1.2"}},
		{"Bar version 3.1.4", []string{"3.1.4"}},
		{"Baz 2.0", []string{"2.0"}},
		{"Quux 5000", []string{"5000"}},
		{"Crypto Module v2.1 and v2.2", []string{"2.1", "2.2"}},
		{"No Version Here", nil},
	}
	for _, tt := range tests {
		got := heuristics.ExtractVersions(tt.name)
		if tt.want == nil {
			assert.Empty(t, got, tt.name)
			continue
		}
		assert.Equal(t, tt.want, got, tt.name)
	}
}

func cpeDictionary() *auxiliary.CPEDataset {
	d := auxiliary.NewCPEDataset()
	for _, uri := range []string{
		"cpe:2.3:a:acme:tool:1.2:*:*:*:*:*:*:*",
		"cpe:2.3:a:acme:tool:2.0:*:*:*:*:*:*:*",
		"cpe:2.3:a:acme:other_product:1.2:*:*:*:*:*:*:*",
		"cpe:2.3:o:redhat:enterprise_linux:7.1:*:*:*:*:*:*:*",
	} {
		vendor, product, ver, _ := types.ParseCPEURI(uri)
		d.CPEs[uri] = types.CPE{URI: uri, Vendor: vendor, Product: product, Version: ver}
	}
	return d
}

func TestCPEMatcher_Match(t *testing.T) {
	matcher := heuristics.NewCPEMatcher(cpeDictionary())

	uris := matcher.Match("Acme Tool v1.2 Release", "Acme, Inc.", []string{"1.2"})
	assert.Equal(t, []string{"cpe:2.3:a:acme:tool:1.2:*:*:*:*:*:*:*"}, uris,
		"wrong versions and products of the same vendor are excluded")

	assert.Empty(t, matcher.Match("Acme Tool v1.2", "Unrelated Corp", []string{"1.2"}),
		"vendor signatures must agree")

	uris = matcher.Match("Acme Tool v1.2.0", "Acme", []string{"1.2.0"})
	assert.Equal(t, []string{"cpe:2.3:a:acme:tool:1.2:*:*:*:*:*:*:*"}, uris,
		"1.2.0 and 1.2 compare equal")
}

func TestEngine_CVEMatching(t *testing.T) {
	// a matched CPE is injected up front; CVE matching must pick it up
	// through both the exact URI and the criteria expansion
	cert := types.NewFIPSCertificate(2441, "Acme Crypto Module")
	uri := "cpe:2.3:o:redhat:enterprise_linux:7.1:*:*:*:*:*:*:*"
	cert.Heuristics.CPEMatches.Append(uri)

	cves := auxiliary.NewCVEDataset()
	cves.CVEs["CVE-123456"] = types.CVE{ID: "CVE-123456", CPEURIs: []string{uri}}
	cves.CVEs["CVE-777777"] = types.CVE{ID: "CVE-777777", CriteriaIDs: []string{"CRIT-1"}}
	cves.BuildIndex()

	dict := auxiliary.NewCPEMatchDict()
	dict.Criteria["CRIT-1"] = []string{uri}

	certs := map[string]types.Certificate{cert.Digest(): cert}
	heuristics.NewEngine(nil, cves, dict).Analyze(certs)

	related := cert.Heuristics.RelatedCVEs.Values()
	assert.Contains(t, related, "CVE-123456")
	assert.Contains(t, related, "CVE-777777")
	assert.Equal(t, []string{types.CPEVersionNA}, cert.Heuristics.ExtractedVersions.Values(),
		"a name without versions gets the sentinel")
}

func TestEngine_TransitiveCVEs(t *testing.T) {
	uri := "cpe:2.3:a:acme:tool:1.2:*:*:*:*:*:*:*"

	vulnerable := types.NewFIPSCertificate(3093, "Vulnerable Module")
	vulnerable.Heuristics.CPEMatches.Append(uri)

	inner := types.NewFIPSCertificate(3094, "Inner Module")
	parent := types.NewFIPSCertificate(3095, "Parent Module")

	// parent -> inner -> vulnerable, resolved closures injected directly
	direct := set.NewOrdered(inner.Digest())
	indirect := set.NewOrdered(inner.Digest(), vulnerable.Digest())
	parent.Heuristics.TargetReferences = &types.ReferenceClosure{
		DirectlyReferencing:   &direct,
		IndirectlyReferencing: &indirect,
	}
	innerDirect := set.NewOrdered(vulnerable.Digest())
	inner.Heuristics.TargetReferences = &types.ReferenceClosure{
		DirectlyReferencing:   &innerDirect,
		IndirectlyReferencing: &innerDirect,
	}

	cves := auxiliary.NewCVEDataset()
	cves.CVEs["CVE-123456"] = types.CVE{ID: "CVE-123456", CPEURIs: []string{uri}}
	cves.BuildIndex()

	certs := map[string]types.Certificate{
		vulnerable.Digest(): vulnerable,
		inner.Digest():      inner,
		parent.Digest():     parent,
	}
	heuristics.NewEngine(nil, cves, nil).Analyze(certs)

	require.Equal(t, []string{"CVE-123456"}, vulnerable.Heuristics.RelatedCVEs.Values())

	assert.Empty(t, parent.Heuristics.DirectTransitiveCVEs.Values(),
		"inner itself is not vulnerable")
	assert.Equal(t, []string{"CVE-123456"}, parent.Heuristics.IndirectTransitiveCVEs.Values())
	assert.Equal(t, []string{"CVE-123456"}, inner.Heuristics.DirectTransitiveCVEs.Values())
	assert.Empty(t, parent.Heuristics.RelatedCVEs.Values(),
		"transitive hits never leak into related_cves")
}
