package auxiliary

import (
	"context"
	"encoding/json"
	"time"

	"github.com/samber/oops"

	"github.com/sec-certs/certdb/pkg/config"
	"github.com/sec-certs/certdb/pkg/fetch"
	"github.com/sec-certs/certdb/pkg/log"
	"github.com/sec-certs/certdb/pkg/utils"
)

// CPEMatchDict maps NVD match-criteria ids to the CPE URIs they expand
// to. It is what lets CVE matching reach beyond exact CPE equality.
type CPEMatchDict struct {
	LastUpdated time.Time           `json:"last_updated"`
	Criteria    map[string][]string `json:"criteria"`
}

func NewCPEMatchDict() *CPEMatchDict {
	return &CPEMatchDict{Criteria: make(map[string][]string)}
}

func (d *CPEMatchDict) clone() *CPEMatchDict {
	out := &CPEMatchDict{
		LastUpdated: d.LastUpdated,
		Criteria:    make(map[string][]string, len(d.Criteria)),
	}
	for id, uris := range d.Criteria {
		out.Criteria[id] = append([]string(nil), uris...)
	}
	return out
}

// URIsFor returns the CPE URIs a match criteria expands to.
func (d *CPEMatchDict) URIsFor(criteriaID string) []string {
	return d.Criteria[criteriaID]
}

// CriteriaContaining returns the criteria ids whose expansion includes
// the given CPE URI.
func (d *CPEMatchDict) CriteriaContaining(uri string) []string {
	var out []string
	for id, uris := range d.Criteria {
		for _, u := range uris {
			if u == uri {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// CPEMatchHandler maintains cpe_match_dict.json from snapshots or the
// NVD API.
type CPEMatchHandler struct {
	nvdHandler
	dataset *CPEMatchDict
}

func NewCPEMatchHandler(cfg config.Config, client *fetch.Client, nvd *nvdClient) *CPEMatchHandler {
	return &CPEMatchHandler{nvdHandler: newNVDHandler(cfg, client, nvd, "cpe_match_dict.json", "aux-cpematch")}
}

func (h *CPEMatchHandler) Type() Type { return TypeCPEMatch }

// Dataset returns the loaded dictionary, nil before LoadDataset.
func (h *CPEMatchHandler) Dataset() *CPEMatchDict { return h.dataset }

func (h *CPEMatchHandler) ProcessDataset(ctx context.Context, fresh bool) error {
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

	next := NewCPEMatchDict()
	var since time.Time
	if exists && !fresh {
		if err := h.LoadDataset(ctx); err != nil {
			return err
		}
		next = h.dataset.clone()
		since = next.LastUpdated
	}

	updated, err := h.refreshFromAPI(ctx, nvdEndpointCPEMatch, since, func(raw json.RawMessage) error {
		id, uris, err := parseNVDMatchString(raw)
		if err != nil {
			return err
		}
		next.Criteria[id] = uris
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
	h.logger.Info("CPE-match dictionary updated", log.Int("criteria", len(next.Criteria)))
	return nil
}

func (h *CPEMatchHandler) LoadDataset(_ context.Context) error {
	dataset := NewCPEMatchDict()
	if err := utils.UnmarshalJSONFile(dataset, h.path); err != nil {
		return err
	}
	h.dataset = dataset
	return nil
}

// nvdMatchItem mirrors the relevant slice of a /cpematch/2.0 entry.
type nvdMatchItem struct {
	MatchString struct {
		MatchCriteriaID string `json:"matchCriteriaId"`
		Criteria        string `json:"criteria"`
		Matches         []struct {
			CPEName string `json:"cpeName"`
		} `json:"matches"`
	} `json:"matchString"`
}

func parseNVDMatchString(raw json.RawMessage) (string, []string, error) {
	var item nvdMatchItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return "", nil, oops.Wrapf(err, "match string decode error")
	}
	uris := make([]string, 0, len(item.MatchString.Matches))
	for _, m := range item.MatchString.Matches {
		uris = append(uris, m.CPEName)
	}
	return item.MatchString.MatchCriteriaID, uris, nil
}
