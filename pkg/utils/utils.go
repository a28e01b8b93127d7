package utils

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
)

func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return true, err
}

// SHA256File returns the lowercase hex SHA-256 digest of the file contents.
func SHA256File(path string) (string, error) {
	eb := oops.With("file_path", path)

	f, err := os.Open(path)
	if err != nil {
		return "", eb.Wrapf(err, "file open error")
	}
	defer f.Close()

	h := sha256.New()
	if _, err = io.Copy(h, f); err != nil {
		return "", eb.Wrapf(err, "file read error")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteFileAtomic writes data to path via a temp file in the same directory
// followed by a rename, so readers never observe a partial file.
func WriteFileAtomic(path string, write func(w io.Writer) error) error {
	eb := oops.With("file_path", path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eb.Wrapf(err, "mkdir error")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return eb.Wrapf(err, "temp file create error")
	}
	defer os.Remove(tmp.Name())

	if err = write(tmp); err != nil {
		tmp.Close()
		return eb.Wrapf(err, "write error")
	}
	if err = tmp.Close(); err != nil {
		return eb.Wrapf(err, "temp file close error")
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return eb.Wrapf(err, "rename error")
	}
	return nil
}

// IsGzip reports whether the path refers to a gzip-compressed file.
func IsGzip(path string) bool {
	return strings.HasSuffix(path, ".gz")
}

// OpenMaybeGzip opens a file, transparently decompressing ".gz" suffixed ones.
func OpenMaybeGzip(path string) (io.ReadCloser, error) {
	eb := oops.With("file_path", path)

	f, err := os.Open(path)
	if err != nil {
		return nil, eb.Wrapf(err, "file open error")
	}
	if !IsGzip(path) {
		return f, nil
	}

	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, eb.Wrapf(err, "gzip open error")
	}
	return &gzipReadCloser{zr: zr, f: f}, nil
}

type gzipReadCloser struct {
	zr *gzip.Reader
	f  *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.zr.Read(p) }

func (g *gzipReadCloser) Close() error {
	if err := g.zr.Close(); err != nil {
		g.f.Close()
		return err
	}
	return g.f.Close()
}

func UnmarshalJSONFile(v any, fileName string) error {
	eb := oops.With("file_name", fileName)

	r, err := OpenMaybeGzip(fileName)
	if err != nil {
		return eb.Wrapf(err, "file open error")
	}
	defer r.Close()

	if err = json.NewDecoder(r).Decode(v); err != nil {
		return eb.Wrapf(err, "json decode error")
	}
	return nil
}

// MarshalJSONFile atomically writes v as JSON, gzip-compressing when the
// file name carries a ".gz" suffix.
func MarshalJSONFile(v any, fileName string) error {
	eb := oops.With("file_name", fileName)

	err := WriteFileAtomic(fileName, func(w io.Writer) error {
		if IsGzip(fileName) {
			zw := gzip.NewWriter(w)
			if err := json.NewEncoder(zw).Encode(v); err != nil {
				zw.Close()
				return err
			}
			return zw.Close()
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
	if err != nil {
		return eb.Wrapf(err, "json encode error")
	}
	return nil
}
