package storage

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"

	"github.com/sec-certs/certdb/pkg/log"
)

// Untar unpacks a .tar.gz dataset archive into dstDir, refusing entries
// that would escape it.
func Untar(archivePath, dstDir string) error {
	eb := oops.With("file_path", archivePath).With("dir_path", dstDir)

	f, err := os.Open(archivePath)
	if err != nil {
		return eb.Wrapf(err, "archive open error")
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return eb.Wrapf(err, "gzip open error")
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return eb.Wrapf(err, "tar read error")
		}

		target := filepath.Join(dstDir, filepath.Clean(hdr.Name))
		if !strings.HasPrefix(target, filepath.Clean(dstDir)+string(os.PathSeparator)) {
			log.Warn("Skipping archive entry outside destination", log.String("entry", hdr.Name))
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err = os.MkdirAll(target, 0o755); err != nil {
				return eb.Wrapf(err, "mkdir error")
			}
		case tar.TypeReg:
			if err = os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return eb.Wrapf(err, "mkdir error")
			}
			out, err := os.Create(target)
			if err != nil {
				return eb.Wrapf(err, "file create error")
			}
			if _, err = io.Copy(out, tr); err != nil {
				out.Close()
				return eb.Wrapf(err, "file write error")
			}
			if err = out.Close(); err != nil {
				return eb.Wrapf(err, "file close error")
			}
		default:
			// symlinks and specials are not expected in dataset archives
			log.Debug("Skipping unsupported archive entry", log.String("entry", hdr.Name))
		}
	}
}

// TempDirFor picks a temp directory with enough free space for an archive
// of the given size. A nil size falls back to the system temp dir.
func TempDirFor(size *int64) string {
	tmp := os.TempDir()
	if size == nil {
		return tmp
	}
	if free := freeSpace(tmp); free > 0 && free < *size*2 {
		// system tmp is often a small tmpfs; fall back to the working dir
		if wd, err := os.Getwd(); err == nil && freeSpace(wd) >= *size*2 {
			return wd
		}
	}
	return tmp
}
