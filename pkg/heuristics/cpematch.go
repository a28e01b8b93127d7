package heuristics

import (
	"strings"

	version "github.com/hashicorp/go-version"
	"github.com/samber/lo"

	"github.com/sec-certs/certdb/pkg/auxiliary"
	"github.com/sec-certs/certdb/pkg/types"
)

// CPEMatcher matches certificates against the CPE dictionary. The
// dictionary is sliced by normalized vendor signature up front; matching
// then scores product-title token containment and version equality.
type CPEMatcher struct {
	byVendor map[string][]types.CPE
}

func NewCPEMatcher(dataset *auxiliary.CPEDataset) *CPEMatcher {
	m := &CPEMatcher{byVendor: make(map[string][]types.CPE)}
	for _, cpe := range dataset.CPEs {
		if cpe.Deprecated {
			continue
		}
		key := auxiliary.NormalizeVendor(cpe.Vendor)
		m.byVendor[key] = append(m.byVendor[key], cpe)
	}
	return m
}

// Match returns the CPE URIs matching a certificate name, vendor and
// extracted versions. The result is deterministic for a fixed
// dictionary and inputs.
func (m *CPEMatcher) Match(name, vendor string, versions []string) []string {
	candidates := m.candidatesFor(vendor)
	if len(candidates) == 0 {
		return nil
	}

	nameTokens := tokenize(name)
	var uris []string
	for _, cpe := range candidates {
		if !versionMatches(cpe.Version, versions) {
			continue
		}
		if !tokensContained(productTokens(cpe), nameTokens) {
			continue
		}
		uris = append(uris, cpe.URI)
	}
	return lo.Uniq(uris)
}

// candidatesFor returns the dictionary slice for a vendor. Vendor
// signatures on certificates are noisier than in the dictionary, so the
// slice also includes vendors whose signature is a token subset.
func (m *CPEMatcher) candidatesFor(vendor string) []types.CPE {
	signature := auxiliary.NormalizeVendor(vendor)
	if cpes, ok := m.byVendor[signature]; ok {
		return cpes
	}

	vendorTokens := tokenize(signature)
	var out []types.CPE
	for key, cpes := range m.byVendor {
		if key == "" {
			continue
		}
		if tokensContained(tokenize(strings.ReplaceAll(key, "_", " ")), vendorTokens) {
			out = append(out, cpes...)
		}
	}
	return out
}

// versionMatches accepts a CPE whose version equals one of the
// extracted versions (1.2 and 1.2.0 compare equal), or an any/NA
// version CPE when nothing was extracted.
func versionMatches(cpeVersion string, versions []string) bool {
	if cpeVersion == "*" || cpeVersion == types.CPEVersionNA {
		return len(versions) == 0 || lo.Contains(versions, types.CPEVersionNA)
	}
	for _, v := range versions {
		if v == cpeVersion {
			return true
		}
		left, lerr := version.NewVersion(v)
		right, rerr := version.NewVersion(cpeVersion)
		if lerr == nil && rerr == nil && left.Equal(right) {
			return true
		}
	}
	return false
}

// tokensContained reports whether every token of want occurs in have.
func tokensContained(want, have []string) bool {
	if len(want) == 0 {
		return false
	}
	for _, t := range want {
		if !lo.Contains(have, t) {
			return false
		}
	}
	return true
}

func productTokens(cpe types.CPE) []string {
	return tokenize(strings.ReplaceAll(cpe.Product, "_", " "))
}

func tokenize(s string) []string {
	s = strings.ToLower(s)
	return strings.FieldsFunc(s, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '+':
			return false
		default:
			return true
		}
	})
}
