package types

import (
	"github.com/sec-certs/certdb/pkg/set"
)

// CPEVersionNA is the sentinel used when no version could be extracted
// from a certificate name.
const CPEVersionNA = "-"

// ReferenceClosure holds the resolved reference sets of one artifact
// source. Nil fields mean "could not look" (extraction failed), which is
// distinct from an empty set meaning "no references found".
type ReferenceClosure struct {
	DirectlyReferencing    *set.Ordered[string] `json:"directly_referencing,omitempty"`
	IndirectlyReferencing  *set.Ordered[string] `json:"indirectly_referencing,omitempty"`
	DirectlyReferencedBy   *set.Ordered[string] `json:"directly_referenced_by,omitempty"`
	IndirectlyReferencedBy *set.Ordered[string] `json:"indirectly_referenced_by,omitempty"`
}

// Heuristics carries everything computed after extraction: product
// versions, CPE/CVE matches and the reference closures per source.
type Heuristics struct {
	// CertID is the canonical scheme certificate id. FIPS modules carry it
	// natively; for CC it is inferred from the report text during
	// reference resolution.
	CertID string `json:"cert_id,omitempty"`

	ExtractedVersions set.Ordered[string] `json:"extracted_versions"`
	CPEMatches        set.Ordered[string] `json:"cpe_matches"`
	RelatedCVEs       set.Ordered[string] `json:"related_cves"`

	DirectTransitiveCVEs   set.Ordered[string] `json:"direct_transitive_cves"`
	IndirectTransitiveCVEs set.Ordered[string] `json:"indirect_transitive_cves"`

	// ReportReferences covers the certification report text (CC and FIPS).
	// TargetReferences covers the security target (CC) or policy (FIPS)
	// text. ModuleReferences covers the FIPS module HTML page and stays
	// nil for CC certificates.
	ReportReferences *ReferenceClosure `json:"report_references,omitempty"`
	TargetReferences *ReferenceClosure `json:"target_references,omitempty"`
	ModuleReferences *ReferenceClosure `json:"module_references,omitempty"`
}

func NewHeuristics() *Heuristics {
	return &Heuristics{
		ExtractedVersions:      set.NewOrdered[string](),
		CPEMatches:             set.NewOrdered[string](),
		RelatedCVEs:            set.NewOrdered[string](),
		DirectTransitiveCVEs:   set.NewOrdered[string](),
		IndirectTransitiveCVEs: set.NewOrdered[string](),
	}
}

// ClosureFor returns the closure slot for the given source, allocating it
// on first use.
func (h *Heuristics) ClosureFor(source ArtifactSource) *ReferenceClosure {
	var slot **ReferenceClosure
	switch source {
	case SourceReport:
		slot = &h.ReportReferences
	case SourceModule:
		slot = &h.ModuleReferences
	default:
		slot = &h.TargetReferences
	}
	if *slot == nil {
		*slot = &ReferenceClosure{}
	}
	return *slot
}
