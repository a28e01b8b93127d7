package types_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sec-certs/certdb/pkg/types"
)

func TestComputeDigest(t *testing.T) {
	d1 := types.ComputeDigest("NetIron CES", "https://example.com/report.pdf")
	d2 := types.ComputeDigest("NetIron CES", "https://example.com/report.pdf")

	assert.Len(t, d1, 16)
	assert.Equal(t, d1, d2, "digests must be stable across runs")

	d3 := types.ComputeDigest("NetIron CES", "https://example.com/other.pdf")
	assert.NotEqual(t, d1, d3)

	// golden vectors pin the exact recipe: sha256 over the fields
	// concatenated without a separator, truncated to 16 hex chars
	assert.Equal(t, "3a68af085d66447c", d1)
	assert.Equal(t, "cd0666cdd7ce0244", types.ComputeDigest("3095"))
}

func TestCertificate_Digest(t *testing.T) {
	cc := types.NewCCCertificate("Foo v1.2", "https://cc.example.com/foo.pdf")
	assert.Equal(t, types.ComputeDigest("Foo v1.2", "https://cc.example.com/foo.pdf"), cc.Digest())

	fips := types.NewFIPSCertificate(3095, "Acme Crypto Module")
	assert.Equal(t, types.ComputeDigest("3095"), fips.Digest())
	// the module name must not influence the digest
	fips2 := types.NewFIPSCertificate(3095, "Renamed Module")
	assert.Equal(t, fips.Digest(), fips2.Digest())
}

func TestStatus_JSON(t *testing.T) {
	data, err := json.Marshal(types.StatusArchived)
	require.NoError(t, err)
	assert.Equal(t, `"archived"`, string(data))

	var s types.Status
	require.NoError(t, json.Unmarshal([]byte(`"revoked"`), &s))
	assert.Equal(t, types.StatusRevoked, s)

	err = json.Unmarshal([]byte(`"bogus"`), &s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown status")
}

func TestKeywordHits_Add(t *testing.T) {
	hits := make(types.KeywordHits)
	hits.Add("symmetric_crypto", "AES_competition", "AES", 2)
	hits.Add("symmetric_crypto", "AES_competition", "AES", 1)
	hits.Add("hash_function", "SHA", "SHA-256", 1)

	assert.Equal(t, 3, hits["symmetric_crypto"]["AES_competition"]["AES"])
	assert.Equal(t, 1, hits["hash_function"]["SHA"]["SHA-256"])
}

func TestMarshalCertificate_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		cert types.Certificate
	}{
		{
			name: "cc certificate",
			cert: types.NewCCCertificate("Foo v1.2", "https://cc.example.com/foo.pdf"),
		},
		{
			name: "fips certificate",
			cert: types.NewFIPSCertificate(2441, "Red Hat Enterprise Linux OpenSSL"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := types.MarshalCertificate(tt.cert)
			require.NoError(t, err)

			got, err := types.UnmarshalCertificate(data)
			require.NoError(t, err)
			assert.Equal(t, tt.cert.Digest(), got.Digest())
			assert.Equal(t, tt.cert.CertScheme(), got.CertScheme())
			assert.Equal(t, tt.cert.CertName(), got.CertName())
		})
	}
}

func TestUnmarshalCertificate_UnknownTag(t *testing.T) {
	_, err := types.UnmarshalCertificate([]byte(`{"type":"pkcs11","cert":{}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown certificate type")
}

func TestFIPSCertificate_ValidationYears(t *testing.T) {
	c := types.NewFIPSCertificate(3095, "Acme Module")
	d1 := types.ParseDate("2017-08-14", "2006-01-02")
	d2 := types.ParseDate("2019-01-03", "2006-01-02")
	c.ValidationHistory = []types.ValidationEntry{
		{Date: d2, Kind: "Update"},
		{Date: d1, Kind: "Initial"},
	}

	first, last := c.ValidationYears()
	assert.Equal(t, 2017, first)
	assert.Equal(t, 2019, last)
}
