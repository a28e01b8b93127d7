package types

// DocumentState tracks one artifact of a certificate through the pipeline.
// The (path, flag, hash) triple is kept consistent: DownloadOK implies
// PdfHash and PdfPath are set, ConvertOK implies TxtPath points at a
// non-empty text file.
type DocumentState struct {
	DownloadOK     bool   `json:"download_ok"`
	ConvertOK      bool   `json:"convert_ok"`
	ExtractOK      bool   `json:"extract_ok"`
	ConvertGarbage bool   `json:"convert_garbage"`
	PdfHash        string `json:"pdf_hash,omitempty"`
	PdfPath        string `json:"pdf_path,omitempty"`
	TxtPath        string `json:"txt_path,omitempty"`
}

// Reset clears all artifact progress, used when a stage runs fresh.
func (d *DocumentState) Reset() {
	*d = DocumentState{}
}

// State holds the per-artifact pipeline status of a certificate.
// Report and Target exist for both schemes (Target holds the security
// target for CC and the security policy for FIPS); Cert is the CC-only
// certificate PDF.
type State struct {
	Report DocumentState `json:"report"`
	Target DocumentState `json:"target"`
	Cert   DocumentState `json:"cert"`
}

func NewState() *State {
	return &State{}
}

// Document returns the state slot for an artifact source. SourceModule
// has no PDF artifact and maps to the Cert slot only for CC.
func (s *State) Document(source ArtifactSource) *DocumentState {
	switch source {
	case SourceReport:
		return &s.Report
	case SourceTarget:
		return &s.Target
	default:
		return &s.Cert
	}
}

// ArtifactSourcesFor lists the PDF artifacts a scheme's certificates
// carry: report + security target (+ certificate PDF for CC; the FIPS
// target slot holds the security policy).
func ArtifactSourcesFor(scheme Scheme) []ArtifactSource {
	if scheme == SchemeCC {
		return []ArtifactSource{SourceReport, SourceTarget, SourceCert}
	}
	return []ArtifactSource{SourceReport, SourceTarget}
}
