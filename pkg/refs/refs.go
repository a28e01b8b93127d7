package refs

import (
	"strconv"

	"github.com/sec-certs/certdb/pkg/auxiliary"
	"github.com/sec-certs/certdb/pkg/config"
	"github.com/sec-certs/certdb/pkg/extract"
	"github.com/sec-certs/certdb/pkg/log"
	"github.com/sec-certs/certdb/pkg/set"
	"github.com/sec-certs/certdb/pkg/types"
)

// Resolver turns the raw certificate ids found during extraction into
// reference closures: per source, the set of dataset certificates a
// certificate directly and transitively references, plus the inverse
// direction.
type Resolver struct {
	minCertID     int
	yearThreshold int
	algorithms    *auxiliary.FIPSAlgorithmDataset
	logger        *log.Logger
}

type Option func(*Resolver)

// WithAlgorithms enables the shared-vendor algorithm disambiguation
// filter against the CAVP dataset.
func WithAlgorithms(dataset *auxiliary.FIPSAlgorithmDataset) Option {
	return func(r *Resolver) {
		r.algorithms = dataset
	}
}

func NewResolver(cfg config.Config, opts ...Option) *Resolver {
	r := &Resolver{
		minCertID:     cfg.FIPSMinCertID,
		yearThreshold: cfg.FIPSYearDifferenceThreshold,
		logger:        log.WithPrefix("refs"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// sources lists the reference-bearing artifacts per scheme. CC caveat
// references from the portal are folded into the report source.
func sources(scheme types.Scheme) []types.ArtifactSource {
	if scheme == types.SchemeCC {
		return []types.ArtifactSource{types.SourceReport, types.SourceTarget}
	}
	return []types.ArtifactSource{types.SourceReport, types.SourceTarget, types.SourceModule}
}

// ResolveAll computes every certificate's reference closures. Closures
// stay nil for sources whose extraction failed, distinguishing "could
// not look" from "no references found".
func (r *Resolver) ResolveAll(certs map[string]types.Certificate) {
	index := r.buildIDIndex(certs)

	resolved := 0
	for _, scheme := range []types.Scheme{types.SchemeCC, types.SchemeFIPS} {
		for _, source := range sources(scheme) {
			direct := make(map[string]set.Set[string])
			for digest, cert := range certs {
				if cert.CertScheme() != scheme {
					continue
				}
				refs, ok := r.directReferences(cert, source, index, certs)
				if !ok {
					continue
				}
				direct[digest] = refs
				resolved++
			}
			materializeClosures(certs, source, direct)
		}
	}
	r.logger.Info("Reference resolution finished",
		log.Int("certs", len(certs)), log.Int("closures", resolved))
}

// buildIDIndex maps canonical certificate ids to digests. FIPS modules
// are keyed by their decimal certificate number. CC certificates are
// keyed by their inferred scheme id, which is also stored on the
// heuristics for later inspection.
func (r *Resolver) buildIDIndex(certs map[string]types.Certificate) map[string]string {
	index := make(map[string]string, len(certs))
	for digest, cert := range certs {
		switch c := cert.(type) {
		case *types.FIPSCertificate:
			id := strconv.Itoa(c.CertID)
			c.CertHeuristics().CertID = id
			index[id] = digest
		case *types.CCCertificate:
			id := inferCCID(c)
			c.CertHeuristics().CertID = id
			if id != "" {
				index[id] = digest
			}
		}
	}
	return index
}

// inferCCID picks the most frequent scheme id found in the certificate's
// own report text. Reports state their certificate id prominently, so
// the dominant match is almost always the document's own id.
func inferCCID(cert *types.CCCertificate) string {
	families := cert.CertPdfData().ReportKeywords.Category(extract.CatCertID)
	best, bestCount := "", 0
	for family, names := range families {
		if family == "FIPS" {
			continue
		}
		for name, count := range names {
			if count > bestCount || (count == bestCount && name < best) {
				best, bestCount = name, count
			}
		}
	}
	return best
}

// directReferences returns the filtered direct reference set of one
// source, or ok=false when the source could not be looked at.
func (r *Resolver) directReferences(cert types.Certificate, source types.ArtifactSource, index map[string]string, certs map[string]types.Certificate) (set.Set[string], bool) {
	raw, ok := rawIDs(cert, source)
	if !ok {
		return set.Set[string]{}, false
	}

	refs := set.New[string]()
	for _, id := range raw {
		digest, ok := index[id]
		if !ok {
			continue // dangling ids are dropped, closures are intra-dataset
		}
		if r.isFalsePositive(cert, id, certs[digest]) {
			continue
		}
		refs.Append(digest)
	}

	// caveat references are scheme-confirmed and bypass the filters
	if cc, isCC := cert.(*types.CCCertificate); isCC && source == types.SourceReport {
		for _, id := range cc.CaveatReferences.Values() {
			if digest, ok := index[id]; ok && digest != cc.Digest() {
				refs.Append(digest)
			}
		}
	}
	return refs, true
}

// rawIDs gathers the unresolved ids of one source: keyword hits of the
// PDF texts, or the scraped module page references for FIPS.
func rawIDs(cert types.Certificate, source types.ArtifactSource) ([]string, bool) {
	if source == types.SourceModule {
		fips, ok := cert.(*types.FIPSCertificate)
		if !ok || !fips.ModuleParsed {
			return nil, false
		}
		self := strconv.Itoa(fips.CertID)
		var ids []string
		for _, raw := range fips.ModuleReferences.Values() {
			// module pages carry ids as scraped, so normalize them the
			// same way the PDF keyword hits are
			id := extract.NormalizeCertID("FIPS", raw)
			if id != self {
				ids = append(ids, id)
			}
		}
		return ids, true
	}

	doc := cert.CertState().Document(source)
	if !doc.ExtractOK {
		return nil, false
	}
	var ids []string
	for _, names := range cert.CertPdfData().KeywordsFor(source).Category(extract.CatCertID) {
		for name := range names {
			ids = append(ids, name)
		}
	}
	return ids, true
}

// isFalsePositive applies the self filter and the FIPS-specific
// candidate filters. CC candidates otherwise pass through; their ids are
// scheme strings that do not suffer the numeric ambiguities.
func (r *Resolver) isFalsePositive(cert types.Certificate, id string, ref types.Certificate) bool {
	if ref == cert {
		return true
	}
	fips, ok := cert.(*types.FIPSCertificate)
	if !ok {
		return false
	}
	refFIPS, ok := ref.(*types.FIPSCertificate)
	if !ok {
		return true
	}

	num, err := strconv.Atoi(id)
	if err != nil {
		return true // FIPS references are numeric by definition
	}
	if num < r.minCertID {
		return true
	}
	if r.yearGapTooLarge(fips, refFIPS) {
		return true
	}

	// algorithm certificate numbers masquerading as module numbers
	for _, alg := range fips.Algorithms {
		if alg.Number == num {
			return true
		}
	}
	if r.algorithms != nil && r.algorithms.HasVendor(num, auxiliary.NormalizeVendor(fips.VendorName)) {
		return true
	}
	return false
}

// yearGapTooLarge reports whether candidate c is too recent to have been
// referenced by p: both its first and last validation years exceed p's
// by more than the threshold.
func (r *Resolver) yearGapTooLarge(p, c *types.FIPSCertificate) bool {
	pFirst, _ := p.ValidationYears()
	cFirst, cLast := c.ValidationYears()
	if pFirst == 0 || cFirst == 0 {
		return false
	}
	return cFirst-pFirst > r.yearThreshold && cLast-pFirst > r.yearThreshold
}

// materializeClosures writes the direct sets, their transitive closures
// and the inverse direction onto the certificates' heuristics.
func materializeClosures(certs map[string]types.Certificate, source types.ArtifactSource, direct map[string]set.Set[string]) {
	indirect := transitiveClosure(direct)

	directBy := invert(direct)
	indirectBy := invert(indirect)

	for digest := range direct {
		closure := certs[digest].CertHeuristics().ClosureFor(source)
		closure.DirectlyReferencing = orderedPtr(direct[digest])
		closure.IndirectlyReferencing = orderedPtr(indirect[digest])
		closure.DirectlyReferencedBy = orderedPtr(directBy[digest])
		closure.IndirectlyReferencedBy = orderedPtr(indirectBy[digest])
	}
}

// transitiveClosure expands each node's direct edges to everything
// reachable. Cycles are tolerated; a node never enters its own closure
// unless a raw self-loop survives filtering.
func transitiveClosure(direct map[string]set.Set[string]) map[string]set.Set[string] {
	out := make(map[string]set.Set[string], len(direct))
	for node := range direct {
		reach := set.New[string]()
		stack := direct[node].Values()
		for len(stack) > 0 {
			next := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if reach.Contains(next) {
				continue
			}
			reach.Append(next)
			if edges, ok := direct[next]; ok {
				stack = append(stack, edges.Values()...)
			}
		}
		out[node] = reach
	}
	return out
}

func invert(edges map[string]set.Set[string]) map[string]set.Set[string] {
	out := make(map[string]set.Set[string], len(edges))
	for from, tos := range edges {
		for _, to := range tos.Values() {
			s, ok := out[to]
			if !ok {
				s = set.New[string]()
				out[to] = s
			}
			s.Append(from)
		}
	}
	return out
}

func orderedPtr(s set.Set[string]) *set.Ordered[string] {
	out := set.NewOrdered[string]()
	if s.Size() > 0 {
		out.Append(s.Values()...)
	}
	return &out
}
