package types

// PDFMetadata is lifted from the PDF trailer of a downloaded artifact.
type PDFMetadata struct {
	Title        string   `json:"title,omitempty"`
	Author       string   `json:"author,omitempty"`
	Producer     string   `json:"producer,omitempty"`
	CreationDate string   `json:"creation_date,omitempty"`
	ModDate      string   `json:"mod_date,omitempty"`
	Pages        int      `json:"pages,omitempty"`
	Encrypted    bool     `json:"encrypted,omitempty"`
	Hyperlinks   []string `json:"hyperlinks,omitempty"`
}

// KeywordHits is the authoritative shape of keyword extraction output:
// category -> rule family -> canonical name -> occurrence count.
type KeywordHits map[string]map[string]map[string]int

// Add folds a single hit into the nested mapping.
func (k KeywordHits) Add(category, family, name string, count int) {
	families, ok := k[category]
	if !ok {
		families = make(map[string]map[string]int)
		k[category] = families
	}
	names, ok := families[family]
	if !ok {
		names = make(map[string]int)
		families[family] = names
	}
	names[name] += count
}

// Category returns the family map for a category, which may be nil.
func (k KeywordHits) Category(category string) map[string]map[string]int {
	return k[category]
}

// Frontpage is the CC report summary block parsed from the first pages of
// the certification report text.
type Frontpage struct {
	Scheme    string `json:"scheme,omitempty"`
	Level     string `json:"level,omitempty"`
	Developer string `json:"developer,omitempty"`
	CertDate  string `json:"cert_date,omitempty"`
}

// PdfData aggregates the raw extraction outputs of a certificate.
type PdfData struct {
	ReportMetadata *PDFMetadata `json:"report_metadata,omitempty"`
	TargetMetadata *PDFMetadata `json:"target_metadata,omitempty"`
	CertMetadata   *PDFMetadata `json:"cert_metadata,omitempty"`

	ReportKeywords KeywordHits `json:"report_keywords,omitempty"`
	TargetKeywords KeywordHits `json:"target_keywords,omitempty"`
	CertKeywords   KeywordHits `json:"cert_keywords,omitempty"`

	// CC only
	Frontpage *Frontpage `json:"frontpage,omitempty"`

	// FIPS only: algorithm numbers recovered from security-policy tables.
	PolicyAlgorithms []int `json:"policy_algorithms,omitempty"`
}

func NewPdfData() *PdfData {
	return &PdfData{
		ReportKeywords: make(KeywordHits),
		TargetKeywords: make(KeywordHits),
		CertKeywords:   make(KeywordHits),
	}
}

// KeywordsFor returns the hit map for the given artifact source, creating
// it when absent.
func (p *PdfData) KeywordsFor(source ArtifactSource) KeywordHits {
	switch source {
	case SourceReport:
		if p.ReportKeywords == nil {
			p.ReportKeywords = make(KeywordHits)
		}
		return p.ReportKeywords
	case SourceTarget:
		if p.TargetKeywords == nil {
			p.TargetKeywords = make(KeywordHits)
		}
		return p.TargetKeywords
	default:
		if p.CertKeywords == nil {
			p.CertKeywords = make(KeywordHits)
		}
		return p.CertKeywords
	}
}

// ArtifactSource names one of the up to three artifacts of a certificate.
type ArtifactSource string

const (
	SourceReport ArtifactSource = "report"
	SourceTarget ArtifactSource = "target"
	SourceCert   ArtifactSource = "cert"
	// SourceModule is the FIPS module HTML page, which carries references
	// but no PDF artifact.
	SourceModule ArtifactSource = "module"
)
