package fips

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sec-certs/certdb/pkg/types"
)

const indexFixture = `<html><body><table class="search-results">
<tr><th>Cert</th><th>Vendor</th><th>Module</th></tr>
<tr class="module-row">
  <td class="cert-number"><a href="/projects/cryptographic-module-validation-program/certificate/3095">3095</a></td>
  <td class="vendor">Acme Security</td>
  <td class="module-name">Acme Crypto Module</td>
  <td class="module-type">Hardware</td>
  <td class="validation-date">8/14/2017</td>
</tr>
<tr class="module-row">
  <td class="cert-number">not-a-number</td>
  <td class="vendor">Broken Inc</td>
  <td class="module-name">Broken Module</td>
</tr>
<tr class="module-row">
  <td class="cert-number">2441</td>
  <td class="vendor">Red Hat</td>
  <td class="module-name">Red Hat Enterprise Linux OpenSSL</td>
  <td class="module-type">Software</td>
  <td class="validation-date">2015-07-31</td>
</tr>
</table></body></html>`

func TestParseIndex(t *testing.T) {
	certs, err := parseIndex(strings.NewReader(indexFixture), types.StatusHistorical)
	require.NoError(t, err)
	require.Len(t, certs, 2, "rows without a numeric cert id are skipped")

	acme := certs[0]
	assert.Equal(t, 3095, acme.CertID)
	assert.Equal(t, "Acme Crypto Module", acme.ModuleName)
	assert.Equal(t, "Acme Security", acme.VendorName)
	assert.Equal(t, "Hardware", acme.ModuleType)
	assert.Equal(t, types.StatusHistorical, acme.Status)
	assert.Equal(t,
		"https://csrc.nist.gov/projects/cryptographic-module-validation-program/certificate/3095",
		acme.ModuleLink)
	require.NotNil(t, acme.ValidationDate)
	assert.Equal(t, 2017, acme.ValidationDate.Year())
}

const moduleFixture = `<html><body>
<dl class="module-details">
  <dt>Standard</dt><dd>FIPS 140-2</dd>
  <dt>Overall Level</dt><dd>2</dd>
  <dt>Module Type</dt><dd>Hardware</dd>
  <dt>Embodiment</dt><dd>Multi-Chip Stand Alone</dd>
  <dt>Vendor</dt><dd><a href="https://acme.example.com">Acme Security</a></dd>
  <dt>Security Policy</dt><dd><a href="/media/projects/sp3095.pdf">Security Policy</a></dd>
  <dt>Sunset Date</dt><dd>9/21/2026</dd>
  <dt>Individual Levels</dt><dd>Roles, Services, and Authentication: Level 3
Physical Security: Level 2</dd>
</dl>
<table class="algorithms-table">
  <tr><td class="alg-type">AES</td><td class="alg-number">#4271, #4272</td></tr>
  <tr><td class="alg-type">SHS</td><td class="alg-number">3512</td></tr>
</table>
<table class="validation-history">
  <tr><td class="date">8/14/2017</td><td class="kind">Initial</td></tr>
  <tr><td class="date">1/3/2019</td><td class="kind">Update</td></tr>
</table>
<div class="caveat">When operated in FIPS mode with modules #3093 and Cert. #3094 installed.</div>
<div class="description">Works alongside #3096.</div>
</body></html>`

func TestParseModulePage(t *testing.T) {
	cert := types.NewFIPSCertificate(3095, "Acme Crypto Module")
	require.NoError(t, ParseModulePage(strings.NewReader(moduleFixture), cert))

	assert.Equal(t, "FIPS 140-2", cert.Standard)
	assert.Equal(t, 2, cert.Level)
	assert.Equal(t, "Hardware", cert.ModuleType)
	assert.Equal(t, "Multi-Chip Stand Alone", cert.Embodiment)
	assert.Equal(t, "Acme Security", cert.VendorName)
	assert.Equal(t, "https://acme.example.com", cert.VendorLink)
	assert.Equal(t, "https://csrc.nist.gov/media/projects/sp3095.pdf", cert.PolicyLink)
	require.NotNil(t, cert.SunsetDate)
	assert.Equal(t, 2026, cert.SunsetDate.Year())

	assert.Equal(t, map[string]string{
		"Roles, Services, and Authentication": "3",
		"Physical Security":                   "2",
	}, cert.SectionLevels)

	assert.ElementsMatch(t, []types.AlgorithmImplementation{
		{Type: "AES", Number: 4271},
		{Type: "AES", Number: 4272},
		{Type: "SHS", Number: 3512},
	}, cert.Algorithms)

	require.Len(t, cert.ValidationHistory, 2)
	first, last := cert.ValidationYears()
	assert.Equal(t, 2017, first)
	assert.Equal(t, 2019, last)

	assert.Equal(t, []string{"3093", "3094", "3096"}, cert.ModuleReferences.Values())
}
