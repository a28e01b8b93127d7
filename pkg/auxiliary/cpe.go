package auxiliary

import (
	"context"
	"encoding/json"
	"time"

	"github.com/samber/oops"

	"github.com/sec-certs/certdb/pkg/config"
	"github.com/sec-certs/certdb/pkg/fetch"
	"github.com/sec-certs/certdb/pkg/log"
	"github.com/sec-certs/certdb/pkg/types"
	"github.com/sec-certs/certdb/pkg/utils"
)

// CPEDataset is the CPE dictionary keyed by CPE URI.
type CPEDataset struct {
	LastUpdated time.Time            `json:"last_updated"`
	CPEs        map[string]types.CPE `json:"cpes"`
}

func NewCPEDataset() *CPEDataset {
	return &CPEDataset{CPEs: make(map[string]types.CPE)}
}

func (d *CPEDataset) clone() *CPEDataset {
	out := &CPEDataset{
		LastUpdated: d.LastUpdated,
		CPEs:        make(map[string]types.CPE, len(d.CPEs)),
	}
	for uri, cpe := range d.CPEs {
		out.CPEs[uri] = cpe
	}
	return out
}

// CPEHandler maintains cpe_dataset.json from snapshots or the NVD API.
type CPEHandler struct {
	nvdHandler
	dataset *CPEDataset
}

func NewCPEHandler(cfg config.Config, client *fetch.Client, nvd *nvdClient) *CPEHandler {
	return &CPEHandler{nvdHandler: newNVDHandler(cfg, client, nvd, "cpe_dataset.json", "aux-cpe")}
}

func (h *CPEHandler) Type() Type { return TypeCPE }

// Dataset returns the loaded dictionary, nil before LoadDataset.
func (h *CPEHandler) Dataset() *CPEDataset { return h.dataset }

func (h *CPEHandler) ProcessDataset(ctx context.Context, fresh bool) error {
	exists, err := h.exists()
	if err != nil {
		return err
	}

	if h.cfg.AuxSource == config.AuxSourceSnapshot {
		if !exists || fresh {
			if err := h.downloadSnapshot(ctx); err != nil {
				return err
			}
		}
		return h.LoadDataset(ctx)
	}

	// API mode. A full rebuild when no usable local file exists, an
	// incremental mod-date refresh otherwise. The refresh works on a
	// copy so a mid-flight failure cannot corrupt the loaded dataset.
	next := NewCPEDataset()
	var since time.Time
	if exists && !fresh {
		if err := h.LoadDataset(ctx); err != nil {
			return err
		}
		next = h.dataset.clone()
		since = next.LastUpdated
	}

	updated, err := h.refreshFromAPI(ctx, nvdEndpointCPE, since, func(raw json.RawMessage) error {
		cpe, err := parseNVDCPE(raw)
		if err != nil {
			return err
		}
		next.CPEs[cpe.URI] = cpe
		return nil
	})
	if err != nil {
		return err
	}

	next.LastUpdated = updated
	if err := utils.MarshalJSONFile(next, h.path); err != nil {
		return err
	}
	h.dataset = next
	h.logger.Info("CPE dictionary updated", log.Int("cpes", len(next.CPEs)))
	return nil
}

func (h *CPEHandler) LoadDataset(_ context.Context) error {
	dataset := NewCPEDataset()
	if err := utils.UnmarshalJSONFile(dataset, h.path); err != nil {
		return err
	}
	h.dataset = dataset
	return nil
}

// nvdCPEItem mirrors the relevant slice of a /cpes/2.0 product entry.
type nvdCPEItem struct {
	CPE struct {
		Name       string `json:"cpeName"`
		Deprecated bool   `json:"deprecated"`
		Titles     []struct {
			Title string `json:"title"`
			Lang  string `json:"lang"`
		} `json:"titles"`
	} `json:"cpe"`
}

func parseNVDCPE(raw json.RawMessage) (types.CPE, error) {
	var item nvdCPEItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return types.CPE{}, oops.Wrapf(err, "cpe decode error")
	}

	cpe := types.CPE{
		URI:        item.CPE.Name,
		Deprecated: item.CPE.Deprecated,
	}
	if vendor, product, version, ok := types.ParseCPEURI(cpe.URI); ok {
		cpe.Vendor, cpe.Product, cpe.Version = vendor, product, version
	}
	for _, t := range item.CPE.Titles {
		if t.Lang == "en" {
			cpe.Title = t.Title
			break
		}
	}
	return cpe, nil
}
