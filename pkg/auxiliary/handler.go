package auxiliary

import (
	"context"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/samber/oops"

	"github.com/sec-certs/certdb/pkg/config"
	"github.com/sec-certs/certdb/pkg/fetch"
	"github.com/sec-certs/certdb/pkg/log"
	"github.com/sec-certs/certdb/pkg/storage"
	"github.com/sec-certs/certdb/pkg/utils"
)

// nvdHandler carries what the three NVD-backed handlers share: the bound
// file path, the choice between prebuilt snapshots and the live API, and
// the snapshot download.
type nvdHandler struct {
	cfg      config.Config
	client   *fetch.Client
	nvd      *nvdClient
	filename string
	path     string
	logger   *log.Logger
}

func newNVDHandler(cfg config.Config, client *fetch.Client, nvd *nvdClient, filename string, prefix string) nvdHandler {
	return nvdHandler{
		cfg:      cfg,
		client:   client,
		nvd:      nvd,
		filename: filename,
		logger:   log.WithPrefix(prefix),
	}
}

func (h *nvdHandler) SetLocalPaths(layout storage.Layout) {
	h.path = filepath.Join(layout.AuxDir(), h.filename)
}

func (h *nvdHandler) exists() (bool, error) {
	if h.path == "" {
		return false, oops.Errorf("handler has no local path bound")
	}
	return utils.Exists(h.path)
}

// refreshFromAPI walks the endpoint's pages. With a zero since it
// fetches the whole corpus, otherwise only items modified after since,
// chunked into API-acceptable windows. It returns the refresh timestamp.
func (h *nvdHandler) refreshFromAPI(ctx context.Context, endpoint string, since time.Time, visit func(json.RawMessage) error) (time.Time, error) {
	now := time.Now().UTC()
	if since.IsZero() {
		if err := h.nvd.fetchAll(ctx, endpoint, nil, visit); err != nil {
			return time.Time{}, err
		}
		return now, nil
	}
	for _, w := range windows(since, now) {
		w := w
		if err := h.nvd.fetchAll(ctx, endpoint, &w, visit); err != nil {
			return time.Time{}, err
		}
	}
	return now, nil
}

// downloadSnapshot fetches the prebuilt dataset from the project website.
// Snapshots are served gzipped; the JSON readers sniff that on load.
func (h *nvdHandler) downloadSnapshot(ctx context.Context) error {
	url := h.cfg.SnapshotBaseURL + "/" + h.filename + ".gz"
	h.logger.Info("Downloading dataset snapshot", log.String("url", url))
	if status := h.client.Download(ctx, url, h.path, 0); !fetch.OK(status) {
		return oops.With("url", url).With("status", status).Errorf("snapshot download error")
	}
	return nil
}
