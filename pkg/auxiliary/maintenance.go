package auxiliary

import (
	"context"
	"path/filepath"
	"time"

	"github.com/sec-certs/certdb/pkg/config"
	"github.com/sec-certs/certdb/pkg/convert"
	"github.com/sec-certs/certdb/pkg/download"
	"github.com/sec-certs/certdb/pkg/fetch"
	"github.com/sec-certs/certdb/pkg/log"
	"github.com/sec-certs/certdb/pkg/storage"
	"github.com/sec-certs/certdb/pkg/types"
	"github.com/sec-certs/certdb/pkg/utils"
)

// CCMaintenanceDataset holds maintenance updates materialized as
// certificates of their own, keyed by digest, with the usual artifact
// state tracked through the sub-pipeline.
type CCMaintenanceDataset struct {
	LastUpdated time.Time                       `json:"last_updated"`
	Updates     map[string]*types.CCCertificate `json:"updates"`
}

func NewCCMaintenanceDataset() *CCMaintenanceDataset {
	return &CCMaintenanceDataset{Updates: make(map[string]*types.CCCertificate)}
}

// CCMaintenanceHandler runs the per-certificate maintenance sub-pipeline:
// every maintenance update of a bound CC certificate becomes a child
// certificate whose report and target are downloaded and converted under
// the auxiliary directory.
type CCMaintenanceHandler struct {
	cfg     config.Config
	client  *fetch.Client
	path    string
	layout  storage.Layout
	certs   map[string]types.Certificate
	dataset *CCMaintenanceDataset
	logger  *log.Logger
}

func NewCCMaintenanceHandler(cfg config.Config, client *fetch.Client) *CCMaintenanceHandler {
	return &CCMaintenanceHandler{
		cfg:    cfg,
		client: client,
		logger: log.WithPrefix("aux-maintenance"),
	}
}

func (h *CCMaintenanceHandler) Type() Type { return TypeCCMaintenance }

func (h *CCMaintenanceHandler) SetLocalPaths(layout storage.Layout) {
	h.path = filepath.Join(layout.AuxDir(), "cc_maintenance.json")
	h.layout = storage.NewLayout(filepath.Join(layout.AuxDir(), "maintenances"))
}

// BindCerts hands the handler the certificates whose maintenance updates
// it materializes.
func (h *CCMaintenanceHandler) BindCerts(certs map[string]types.Certificate) {
	h.certs = certs
}

// Dataset returns the loaded dataset, nil before LoadDataset.
func (h *CCMaintenanceHandler) Dataset() *CCMaintenanceDataset { return h.dataset }

func (h *CCMaintenanceHandler) ProcessDataset(ctx context.Context, fresh bool) error {
	prev := NewCCMaintenanceDataset()
	if exists, err := utils.Exists(h.path); err != nil {
		return err
	} else if exists {
		if err := h.LoadDataset(ctx); err != nil {
			return err
		}
		prev = h.dataset
	}

	next := NewCCMaintenanceDataset()
	for _, cert := range h.certs {
		cc, ok := cert.(*types.CCCertificate)
		if !ok {
			continue
		}
		for _, mu := range cc.MaintenanceUpdates {
			if mu.ReportLink == "" && mu.TargetLink == "" {
				continue
			}
			child := types.NewCCCertificate(mu.Name, mu.ReportLink)
			child.Manufacturer = cc.Manufacturer
			child.Category = cc.Category
			child.SchemeCode = cc.SchemeCode
			child.TargetLink = mu.TargetLink
			child.NotValidBefore = mu.Date
			if old, ok := prev.Updates[child.Digest()]; ok && !fresh {
				child.State = old.State
				child.PdfData = old.PdfData
			}
			next.Updates[child.Digest()] = child
		}
	}

	asCerts := make(map[string]types.Certificate, len(next.Updates))
	for digest, child := range next.Updates {
		asCerts[digest] = child
	}

	d := download.NewDownloader(h.client)
	if err := d.DownloadAll(ctx, asCerts, h.layout, fresh); err != nil {
		return err
	}
	conv := convert.NewConverter(
		convert.WithWorkers(h.cfg.NumWorkers),
		convert.WithGarbageThreshold(h.cfg.GarbageAlphaPerKB),
	)
	if err := conv.ConvertAll(ctx, asCerts, h.layout, fresh); err != nil {
		return err
	}

	next.LastUpdated = time.Now().UTC()
	if err := utils.MarshalJSONFile(next, h.path); err != nil {
		return err
	}
	h.dataset = next
	h.logger.Info("Maintenance updates processed", log.Int("updates", len(next.Updates)))
	return nil
}

func (h *CCMaintenanceHandler) LoadDataset(_ context.Context) error {
	dataset := NewCCMaintenanceDataset()
	if err := utils.UnmarshalJSONFile(dataset, h.path); err != nil {
		return err
	}
	h.dataset = dataset
	return nil
}
