package storage

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"

	"github.com/sec-certs/certdb/pkg/types"
)

// Layout maps a dataset root directory to the canonical on-disk tree:
//
//	<name>.json
//	web/
//	certs/reports/{pdf,txt}/
//	certs/targets/{pdf,txt}/
//	certs/certificates/{pdf,txt}/
//	auxiliary_datasets/
type Layout struct {
	Root string
}

func NewLayout(root string) Layout {
	return Layout{Root: root}
}

func (l Layout) WebDir() string { return filepath.Join(l.Root, "web") }

func (l Layout) AuxDir() string { return filepath.Join(l.Root, "auxiliary_datasets") }

func (l Layout) DatasetPath(name string) string {
	return filepath.Join(l.Root, name+".json")
}

func (l Layout) artifactDir(source types.ArtifactSource) string {
	switch source {
	case types.SourceReport:
		return filepath.Join(l.Root, "certs", "reports")
	case types.SourceTarget:
		return filepath.Join(l.Root, "certs", "targets")
	default:
		return filepath.Join(l.Root, "certs", "certificates")
	}
}

// PdfPath returns the artifact PDF location for a certificate digest.
func (l Layout) PdfPath(source types.ArtifactSource, digest string) string {
	return filepath.Join(l.artifactDir(source), "pdf", digest+".pdf")
}

// TxtPath returns the converted-text location for a certificate digest.
func (l Layout) TxtPath(source types.ArtifactSource, digest string) string {
	return filepath.Join(l.artifactDir(source), "txt", digest+".txt")
}

// ModuleHTMLPath returns the location of a scraped FIPS module page.
func (l Layout) ModuleHTMLPath(certID string) string {
	return filepath.Join(l.WebDir(), "module_"+certID+".html")
}

// IndexPath returns the location of a scraped index page.
func (l Layout) IndexPath(name string) string {
	return filepath.Join(l.WebDir(), name)
}

// EnsureDirs creates the whole tree.
func (l Layout) EnsureDirs() error {
	dirs := []string{
		l.WebDir(),
		l.AuxDir(),
	}
	for _, source := range []types.ArtifactSource{types.SourceReport, types.SourceTarget, types.SourceCert} {
		dirs = append(dirs,
			filepath.Join(l.artifactDir(source), "pdf"),
			filepath.Join(l.artifactDir(source), "txt"),
		)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return oops.With("dir_path", dir).Wrapf(err, "mkdir error")
		}
	}
	return nil
}
