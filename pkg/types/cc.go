package types

import (
	"time"

	"github.com/sec-certs/certdb/pkg/set"
)

// MaintenanceUpdate is one maintenance report row attached to a CC
// certificate on the portal.
type MaintenanceUpdate struct {
	Date       *time.Time `json:"date,omitempty"`
	Name       string     `json:"name"`
	ReportLink string     `json:"report_link,omitempty"`
	TargetLink string     `json:"target_link,omitempty"`
}

// CCCertificate is a Common Criteria certified product entry.
type CCCertificate struct {
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer,omitempty"`
	SchemeCode   string `json:"scheme_code,omitempty"`
	Category     string `json:"category,omitempty"`
	Status       Status `json:"status"`

	NotValidBefore *time.Time `json:"not_valid_before,omitempty"`
	NotValidAfter  *time.Time `json:"not_valid_after,omitempty"`

	ReportLink       string `json:"report_link,omitempty"`
	TargetLink       string `json:"target_link,omitempty"`
	CertLink         string `json:"cert_link,omitempty"`
	ManufacturerLink string `json:"manufacturer_link,omitempty"`

	SecurityLevels set.Ordered[string] `json:"security_levels"`
	EAL            string              `json:"eal,omitempty"`

	ProtectionProfileLinks set.Ordered[string] `json:"protection_profile_links"`
	MaintenanceUpdates     []MaintenanceUpdate `json:"maintenance_updates,omitempty"`

	// CaveatReferences are certificate ids mentioned in the portal's
	// caveat column. They are known-good and bypass false-positive
	// filtering during reference resolution.
	CaveatReferences set.Ordered[string] `json:"caveat_references"`

	State      *State      `json:"state"`
	PdfData    *PdfData    `json:"pdf_data"`
	Heuristics *Heuristics `json:"heuristics"`
}

func NewCCCertificate(name, reportLink string) *CCCertificate {
	return &CCCertificate{
		Name:                   name,
		ReportLink:             reportLink,
		SecurityLevels:         set.NewOrdered[string](),
		ProtectionProfileLinks: set.NewOrdered[string](),
		CaveatReferences:       set.NewOrdered[string](),
		State:                  NewState(),
		PdfData:                NewPdfData(),
		Heuristics:             NewHeuristics(),
	}
}

// Digest is sha256(name || report link) truncated to 16 hex characters,
// stable across runs over the same index.
func (c *CCCertificate) Digest() string {
	return ComputeDigest(c.Name, c.ReportLink)
}

func (c *CCCertificate) CertName() string   { return c.Name }
func (c *CCCertificate) Vendor() string     { return c.Manufacturer }
func (c *CCCertificate) CertScheme() Scheme { return SchemeCC }
func (c *CCCertificate) CertStatus() Status { return c.Status }

func (c *CCCertificate) CertState() *State {
	if c.State == nil {
		c.State = NewState()
	}
	return c.State
}

func (c *CCCertificate) CertPdfData() *PdfData {
	if c.PdfData == nil {
		c.PdfData = NewPdfData()
	}
	return c.PdfData
}

func (c *CCCertificate) CertHeuristics() *Heuristics {
	if c.Heuristics == nil {
		c.Heuristics = NewHeuristics()
	}
	return c.Heuristics
}
