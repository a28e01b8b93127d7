package heuristics

import (
	"github.com/sec-certs/certdb/pkg/auxiliary"
	"github.com/sec-certs/certdb/pkg/log"
	"github.com/sec-certs/certdb/pkg/set"
	"github.com/sec-certs/certdb/pkg/types"
)

// Engine computes the post-extraction heuristics: product versions, CPE
// and CVE matches, and the vulnerabilities inherited over the reference
// graph.
type Engine struct {
	cpes     *auxiliary.CPEDataset
	cves     *auxiliary.CVEDataset
	cpeMatch *auxiliary.CPEMatchDict
	logger   *log.Logger
}

func NewEngine(cpes *auxiliary.CPEDataset, cves *auxiliary.CVEDataset, cpeMatch *auxiliary.CPEMatchDict) *Engine {
	return &Engine{
		cpes:     cpes,
		cves:     cves,
		cpeMatch: cpeMatch,
		logger:   log.WithPrefix("heuristics"),
	}
}

// Analyze runs the full heuristic pass over the certificate map. The
// reference closures must already be resolved for the transitive CVE
// step to see any edges.
func (e *Engine) Analyze(certs map[string]types.Certificate) {
	var matcher *CPEMatcher
	if e.cpes != nil {
		matcher = NewCPEMatcher(e.cpes)
	}

	matched := 0
	for _, cert := range certs {
		h := cert.CertHeuristics()

		versions := ExtractVersions(cert.CertName())
		if len(versions) == 0 {
			versions = []string{types.CPEVersionNA}
		}
		h.ExtractedVersions = set.NewOrdered(versions...)

		if matcher != nil {
			for _, uri := range matcher.Match(cert.CertName(), cert.Vendor(), versions) {
				h.CPEMatches.Append(uri)
			}
		}

		e.matchCVEs(h)
		if h.RelatedCVEs.Size() > 0 {
			matched++
		}
	}

	e.computeTransitiveCVEs(certs)
	e.logger.Info("Heuristic analysis finished",
		log.Int("certs", len(certs)), log.Int("with_cves", matched))
}

// matchCVEs unions the CVEs affecting each matched CPE, either directly
// or through a match criteria containing it.
func (e *Engine) matchCVEs(h *types.Heuristics) {
	if e.cves == nil {
		return
	}
	for _, uri := range h.CPEMatches.Values() {
		h.RelatedCVEs.Append(e.cves.CVEsForCPE(uri)...)
		if e.cpeMatch == nil {
			continue
		}
		for _, criteriaID := range e.cpeMatch.CriteriaContaining(uri) {
			h.RelatedCVEs.Append(e.cves.CVEsForCriteria(criteriaID)...)
		}
	}
}

// computeTransitiveCVEs propagates related CVEs over the resolved
// reference closures. Direct uses direct edges, indirect the transitive
// ones; neither touches RelatedCVEs itself.
func (e *Engine) computeTransitiveCVEs(certs map[string]types.Certificate) {
	for _, cert := range certs {
		h := cert.CertHeuristics()
		direct := set.NewOrdered[string]()
		indirect := set.NewOrdered[string]()

		for _, closure := range []*types.ReferenceClosure{
			h.ReportReferences, h.TargetReferences, h.ModuleReferences,
		} {
			if closure == nil {
				continue
			}
			collectCVEs(certs, closure.DirectlyReferencing, direct)
			collectCVEs(certs, closure.IndirectlyReferencing, indirect)
		}

		h.DirectTransitiveCVEs = direct
		h.IndirectTransitiveCVEs = indirect
	}
}

func collectCVEs(certs map[string]types.Certificate, digests *set.Ordered[string], into set.Ordered[string]) {
	if digests == nil {
		return
	}
	for _, digest := range digests.Values() {
		ref, ok := certs[digest]
		if !ok {
			continue
		}
		into.Append(ref.CertHeuristics().RelatedCVEs.Values()...)
	}
}
