package types

import (
	"strconv"
	"time"

	"github.com/sec-certs/certdb/pkg/set"
)

// AlgorithmImplementation is one row of the "Algorithms" table on a FIPS
// module page, e.g. ("AES", 4271).
type AlgorithmImplementation struct {
	Type   string `json:"type"`
	Number int    `json:"number"`
}

// ValidationEntry is one row of the validation history table on a FIPS
// module page.
type ValidationEntry struct {
	Date *time.Time `json:"date,omitempty"`
	Kind string     `json:"kind,omitempty"`
}

// FIPSCertificate is a validated FIPS 140 cryptographic module entry.
type FIPSCertificate struct {
	CertID     int    `json:"cert_id"`
	ModuleName string `json:"module_name"`
	VendorName string `json:"vendor,omitempty"`
	Status     Status `json:"status"`

	Standard   string `json:"standard,omitempty"` // FIPS 140-1/140-2/140-3
	Level      int    `json:"level,omitempty"`
	ModuleType string `json:"module_type,omitempty"` // Hardware/Firmware/Software/Hybrid
	Embodiment string `json:"embodiment,omitempty"`

	// SectionLevels maps FIPS section names to their individual levels
	// when they differ from the overall level.
	SectionLevels map[string]string `json:"section_levels,omitempty"`

	ValidationDate *time.Time `json:"validation_date,omitempty"`
	SunsetDate     *time.Time `json:"sunset_date,omitempty"`

	ModuleLink string `json:"module_link,omitempty"`
	PolicyLink string `json:"policy_link,omitempty"`
	VendorLink string `json:"vendor_link,omitempty"`

	Algorithms        []AlgorithmImplementation `json:"algorithms,omitempty"`
	ValidationHistory []ValidationEntry         `json:"validation_history,omitempty"`

	// ModuleReferences are raw certificate ids scraped from the module
	// HTML page (before resolution). ModuleParsed records whether the page
	// was parsed at all; without it an empty set would be indistinguishable
	// from a page that was never fetched.
	ModuleReferences set.Ordered[string] `json:"module_raw_references"`
	ModuleParsed     bool                `json:"module_parsed,omitempty"`

	State      *State      `json:"state"`
	PdfData    *PdfData    `json:"pdf_data"`
	Heuristics *Heuristics `json:"heuristics"`
}

func NewFIPSCertificate(certID int, moduleName string) *FIPSCertificate {
	return &FIPSCertificate{
		CertID:           certID,
		ModuleName:       moduleName,
		ModuleReferences: set.NewOrdered[string](),
		State:            NewState(),
		PdfData:          NewPdfData(),
		Heuristics:       NewHeuristics(),
	}
}

// Digest is derived from the numeric certificate id, the scheme's only
// stable identifying field.
func (c *FIPSCertificate) Digest() string {
	return ComputeDigest(strconv.Itoa(c.CertID))
}

func (c *FIPSCertificate) CertName() string   { return c.ModuleName }
func (c *FIPSCertificate) Vendor() string     { return c.VendorName }
func (c *FIPSCertificate) CertScheme() Scheme { return SchemeFIPS }
func (c *FIPSCertificate) CertStatus() Status { return c.Status }

func (c *FIPSCertificate) CertState() *State {
	if c.State == nil {
		c.State = NewState()
	}
	return c.State
}

func (c *FIPSCertificate) CertPdfData() *PdfData {
	if c.PdfData == nil {
		c.PdfData = NewPdfData()
	}
	return c.PdfData
}

func (c *FIPSCertificate) CertHeuristics() *Heuristics {
	if c.Heuristics == nil {
		c.Heuristics = NewHeuristics()
	}
	return c.Heuristics
}

// ValidationYears returns the first and last validation years recorded in
// the module's validation history, falling back to the validation date.
func (c *FIPSCertificate) ValidationYears() (first, last int) {
	for _, entry := range c.ValidationHistory {
		if entry.Date == nil {
			continue
		}
		year := entry.Date.Year()
		if first == 0 || year < first {
			first = year
		}
		if year > last {
			last = year
		}
	}
	if first == 0 && c.ValidationDate != nil {
		first = c.ValidationDate.Year()
		last = first
	}
	return first, last
}
