package extract

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/samber/oops"

	"github.com/sec-certs/certdb/pkg/types"
)

// PdfinfoMetadata reads trailer metadata with poppler's pdfinfo. It is
// the default MetadataFunc of the extractor.
func PdfinfoMetadata(ctx context.Context, pdfPath string) (*types.PDFMetadata, error) {
	cmd := exec.CommandContext(ctx, "pdfinfo", pdfPath)
	out, err := cmd.Output()
	if err != nil {
		return nil, oops.With("pdf_path", pdfPath).Wrapf(err, "pdfinfo error")
	}
	return parsePdfinfo(out), nil
}

func parsePdfinfo(out []byte) *types.PDFMetadata {
	meta := &types.PDFMetadata{}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Title":
			meta.Title = value
		case "Author":
			meta.Author = value
		case "Producer":
			meta.Producer = value
		case "CreationDate":
			meta.CreationDate = value
		case "ModDate":
			meta.ModDate = value
		case "Pages":
			meta.Pages, _ = strconv.Atoi(value)
		case "Encrypted":
			meta.Encrypted = strings.HasPrefix(value, "yes")
		}
	}
	return meta
}
