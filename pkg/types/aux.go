package types

import (
	"strings"
	"time"
)

// CPE is one Common Platform Enumeration dictionary entry.
type CPE struct {
	URI        string `json:"uri"`
	Vendor     string `json:"vendor,omitempty"`
	Product    string `json:"product,omitempty"`
	Version    string `json:"version,omitempty"`
	Title      string `json:"title,omitempty"`
	Deprecated bool   `json:"deprecated,omitempty"`
}

// ParseCPEURI splits a cpe:2.3 URI into its component fields.
//
// cpe:2.3:part:vendor:product:version:update:edition:language:sw_edition:target_sw:target_hw:other
func ParseCPEURI(uri string) (vendor, product, version string, ok bool) {
	parts := strings.Split(uri, ":")
	if len(parts) < 6 || parts[0] != "cpe" || parts[1] != "2.3" {
		return "", "", "", false
	}
	return parts[3], parts[4], parts[5], true
}

// CVE is one vulnerability record from the NVD CVE dictionary.
type CVE struct {
	ID          string     `json:"id"`
	Description string     `json:"description,omitempty"`
	CVSSScore   float64    `json:"cvss_score,omitempty"`
	CPEURIs     []string   `json:"cpe_uris,omitempty"`
	CriteriaIDs []string   `json:"criteria_ids,omitempty"`
	Published   *time.Time `json:"published,omitempty"`
}

// FIPSAlgorithm is one validated algorithm implementation from the CAVP
// search pages.
type FIPSAlgorithm struct {
	Number         int        `json:"number"`
	Type           string     `json:"type"` // AES, SHS, RSA, ...
	Vendor         string     `json:"vendor,omitempty"`
	Implementation string     `json:"implementation,omitempty"`
	ValidationDate *time.Time `json:"validation_date,omitempty"`
}
