package cc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sec-certs/certdb/pkg/types"
)

const csvFixture = `category,name,manufacturer,scheme,security level,not valid before,not valid after,report link,target link,maintenance dates,maintenance titles,maintenance report links,maintenance target links
ICs,Foo Smartcard v1.2,Acme GmbH,DE,"EAL4+, ALC_DVS.2",2020-01-15,2025-01-15,https://www.commoncriteriaportal.org/files/epfiles/foo_report.pdf,https://www.commoncriteriaportal.org/files/epfiles/foo_st.pdf,2021-03-01,Foo Maintenance 1,https://www.commoncriteriaportal.org/files/epfiles/foo_mr1.pdf,
Network Devices,Bar Router,Bar Networks,US,EAL2,2019-06-01,2024-06-01,https://www.commoncriteriaportal.org/files/epfiles/bar_report.pdf,https://www.commoncriteriaportal.org/files/epfiles/bar_st.pdf,,,,
`

const htmlFixture = `<html><body><table>
<tr class="product-row">
  <td class="category">ICs</td>
  <td class="product-name"><a href="/files/epfiles/foo_report.pdf">Foo Smartcard v1.2</a>
    <a class="st-link" href="/files/epfiles/foo_st.pdf">ST</a>
    <a class="cert-link" href="/files/epfiles/foo_cert.pdf">Cert</a></td>
  <td class="vendor"><a href="https://acme.example.com">Acme GmbH</a></td>
  <td class="scheme">DE</td>
  <td class="level">EAL4+</td>
  <td class="caveat">The certificate BSI-DSZ-CC-1052-2019 is covered.</td>
  <td class="pp-list"><a href="/files/ppfiles/pp0084.pdf">PP0084</a></td>
  <td class="maintenance-list"><span class="maintenance-row" data-date="2021-03-01">
    <a class="maintenance-report" href="/files/epfiles/foo_mr1.pdf">Foo Maintenance 1</a></span></td>
</tr>
<tr class="product-row">
  <td class="category">Other</td>
  <td class="product-name"><a href="/files/epfiles/baz_report.pdf">Baz HSM</a></td>
  <td class="vendor">Baz Inc.</td>
  <td class="scheme">FR</td>
  <td class="level">EAL5</td>
  <td class="caveat"></td>
  <td class="pp-list"></td>
  <td class="maintenance-list"></td>
</tr>
</table></body></html>`

func TestParseCSV(t *testing.T) {
	certs, err := parseCSV(strings.NewReader(csvFixture), types.StatusActive)
	require.NoError(t, err)
	require.Len(t, certs, 2)

	foo := certs[0]
	assert.Equal(t, "Foo Smartcard v1.2", foo.Name)
	assert.Equal(t, "Acme GmbH", foo.Manufacturer)
	assert.Equal(t, "DE", foo.SchemeCode)
	assert.Equal(t, "EAL4+", foo.EAL)
	assert.ElementsMatch(t, []string{"EAL4+", "ALC_DVS.2"}, foo.SecurityLevels.Values())
	assert.Equal(t, types.StatusActive, foo.Status)
	require.NotNil(t, foo.NotValidBefore)
	assert.Equal(t, 2020, foo.NotValidBefore.Year())
	require.Len(t, foo.MaintenanceUpdates, 1)
	assert.Equal(t, "Foo Maintenance 1", foo.MaintenanceUpdates[0].Name)

	// report link must be carried verbatim, it feeds the digest
	assert.Equal(t, "https://www.commoncriteriaportal.org/files/epfiles/foo_report.pdf", foo.ReportLink)
	assert.Equal(t, types.ComputeDigest(foo.Name, foo.ReportLink), foo.Digest())
}

func TestParseHTMLIndex(t *testing.T) {
	certs, err := parseHTMLIndex(strings.NewReader(htmlFixture), types.StatusActive)
	require.NoError(t, err)
	require.Len(t, certs, 2)

	foo := certs[0]
	assert.Equal(t, "Foo Smartcard v1.2", foo.Name)
	assert.Equal(t, "https://www.commoncriteriaportal.org/files/epfiles/foo_report.pdf", foo.ReportLink)
	assert.Equal(t, "https://www.commoncriteriaportal.org/files/epfiles/foo_cert.pdf", foo.CertLink)
	assert.Equal(t, "Acme GmbH", foo.Manufacturer)
	assert.Equal(t, "https://acme.example.com", foo.ManufacturerLink)
	assert.Equal(t, []string{"BSI-DSZ-CC-1052-2019"}, foo.CaveatReferences.Values())
	assert.Equal(t, []string{"https://www.commoncriteriaportal.org/files/ppfiles/pp0084.pdf"},
		foo.ProtectionProfileLinks.Values())
	require.Len(t, foo.MaintenanceUpdates, 1)
	assert.Equal(t, "Foo Maintenance 1", foo.MaintenanceUpdates[0].Name)
}

func TestMergeSources(t *testing.T) {
	fromCSV, err := parseCSV(strings.NewReader(csvFixture), types.StatusActive)
	require.NoError(t, err)
	fromHTML, err := parseHTMLIndex(strings.NewReader(htmlFixture), types.StatusActive)
	require.NoError(t, err)

	merged := mergeSources(fromCSV, fromHTML)
	// 2 CSV rows, 1 HTML-only row
	require.Len(t, merged, 3)

	byName := make(map[string]*types.CCCertificate)
	for _, cert := range merged {
		byName[cert.Name] = cert
	}

	foo := byName["Foo Smartcard v1.2"]
	require.NotNil(t, foo)
	// HTML contributed fields on top of the CSV row
	assert.NotEmpty(t, foo.CertLink)
	assert.NotEmpty(t, foo.ProtectionProfileLinks.Values())
	assert.NotEmpty(t, foo.CaveatReferences.Values())
	// CSV row identity preserved
	assert.Equal(t, "EAL4+", foo.EAL)

	baz := byName["Baz HSM"]
	require.NotNil(t, baz)
	assert.Equal(t, "FR", baz.SchemeCode)

	bar := byName["Bar Router"]
	require.NotNil(t, bar)
	assert.Empty(t, bar.ProtectionProfileLinks.Values())
}

func TestMergeSources_MatchByNameVendor(t *testing.T) {
	csvCert := types.NewCCCertificate("Qux VPN", "https://www.commoncriteriaportal.org/files/epfiles/qux_report.pdf")
	csvCert.Manufacturer = "Qux Ltd"

	htmlCert := types.NewCCCertificate("Qux VPN", "")
	htmlCert.Manufacturer = "Qux Ltd"
	htmlCert.ProtectionProfileLinks.Append("https://www.commoncriteriaportal.org/files/ppfiles/pp1.pdf")

	merged := mergeSources([]*types.CCCertificate{csvCert}, []*types.CCCertificate{htmlCert})
	require.Len(t, merged, 1)
	assert.Len(t, merged[0].ProtectionProfileLinks.Values(), 1)
}