package auxiliary

import (
	"context"
	"encoding/json"
	"time"

	"github.com/samber/oops"

	"github.com/sec-certs/certdb/pkg/config"
	"github.com/sec-certs/certdb/pkg/fetch"
	"github.com/sec-certs/certdb/pkg/log"
	"github.com/sec-certs/certdb/pkg/set"
	"github.com/sec-certs/certdb/pkg/types"
	"github.com/sec-certs/certdb/pkg/utils"
)

// CVEDataset is the CVE dictionary keyed by CVE id, with derived lookup
// indices from CPE URIs and match-criteria ids to the CVEs naming them.
type CVEDataset struct {
	LastUpdated time.Time            `json:"last_updated"`
	CVEs        map[string]types.CVE `json:"cves"`

	byCPE      map[string]set.Set[string]
	byCriteria map[string]set.Set[string]
}

func NewCVEDataset() *CVEDataset {
	return &CVEDataset{CVEs: make(map[string]types.CVE)}
}

func (d *CVEDataset) clone() *CVEDataset {
	out := &CVEDataset{
		LastUpdated: d.LastUpdated,
		CVEs:        make(map[string]types.CVE, len(d.CVEs)),
	}
	for id, cve := range d.CVEs {
		out.CVEs[id] = cve
	}
	return out
}

// BuildIndex derives the cpe_uri and criteria_id lookups. It must be
// called after the CVE map changes and before the CVEsFor lookups.
func (d *CVEDataset) BuildIndex() {
	d.byCPE = make(map[string]set.Set[string])
	d.byCriteria = make(map[string]set.Set[string])
	for id, cve := range d.CVEs {
		for _, uri := range cve.CPEURIs {
			s, ok := d.byCPE[uri]
			if !ok {
				s = set.New[string]()
				d.byCPE[uri] = s
			}
			s.Append(id)
		}
		for _, criteria := range cve.CriteriaIDs {
			s, ok := d.byCriteria[criteria]
			if !ok {
				s = set.New[string]()
				d.byCriteria[criteria] = s
			}
			s.Append(id)
		}
	}
}

// CVEsForCPE returns the ids of CVEs that name the exact CPE URI.
func (d *CVEDataset) CVEsForCPE(uri string) []string {
	if s, ok := d.byCPE[uri]; ok {
		return s.Values()
	}
	return nil
}

// CVEsForCriteria returns the ids of CVEs that name the match criteria.
func (d *CVEDataset) CVEsForCriteria(criteriaID string) []string {
	if s, ok := d.byCriteria[criteriaID]; ok {
		return s.Values()
	}
	return nil
}

// CVEHandler maintains cve_dataset.json from snapshots or the NVD API.
type CVEHandler struct {
	nvdHandler
	dataset *CVEDataset
}

func NewCVEHandler(cfg config.Config, client *fetch.Client, nvd *nvdClient) *CVEHandler {
	return &CVEHandler{nvdHandler: newNVDHandler(cfg, client, nvd, "cve_dataset.json", "aux-cve")}
}

func (h *CVEHandler) Type() Type { return TypeCVE }

// Dataset returns the loaded dictionary, nil before LoadDataset.
func (h *CVEHandler) Dataset() *CVEDataset { return h.dataset }

func (h *CVEHandler) ProcessDataset(ctx context.Context, fresh bool) error {
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

	next := NewCVEDataset()
	var since time.Time
	if exists && !fresh {
		if err := h.LoadDataset(ctx); err != nil {
			return err
		}
		next = h.dataset.clone()
		since = next.LastUpdated
	}

	updated, err := h.refreshFromAPI(ctx, nvdEndpointCVE, since, func(raw json.RawMessage) error {
		cve, err := parseNVDCVE(raw)
		if err != nil {
			return err
		}
		next.CVEs[cve.ID] = cve
		return nil
	})
	if err != nil {
		return err
	}

	next.LastUpdated = updated
	if err := utils.MarshalJSONFile(next, h.path); err != nil {
		return err
	}
	next.BuildIndex()
	h.dataset = next
	h.logger.Info("CVE dictionary updated", log.Int("cves", len(next.CVEs)))
	return nil
}

func (h *CVEHandler) LoadDataset(_ context.Context) error {
	dataset := NewCVEDataset()
	if err := utils.UnmarshalJSONFile(dataset, h.path); err != nil {
		return err
	}
	dataset.BuildIndex()
	h.dataset = dataset
	return nil
}

// nvdCVEItem mirrors the relevant slice of a /cves/2.0 vulnerability.
type nvdCVEItem struct {
	CVE struct {
		ID           string `json:"id"`
		Published    string `json:"published"`
		Descriptions []struct {
			Lang  string `json:"lang"`
			Value string `json:"value"`
		} `json:"descriptions"`
		Metrics struct {
			V31 []nvdMetric `json:"cvssMetricV31"`
			V30 []nvdMetric `json:"cvssMetricV30"`
			V2  []nvdMetric `json:"cvssMetricV2"`
		} `json:"metrics"`
		Configurations []struct {
			Nodes []struct {
				CPEMatch []struct {
					Vulnerable      bool   `json:"vulnerable"`
					Criteria        string `json:"criteria"`
					MatchCriteriaID string `json:"matchCriteriaId"`
				} `json:"cpeMatch"`
			} `json:"nodes"`
		} `json:"configurations"`
	} `json:"cve"`
}

type nvdMetric struct {
	CVSSData struct {
		BaseScore float64 `json:"baseScore"`
	} `json:"cvssData"`
}

func parseNVDCVE(raw json.RawMessage) (types.CVE, error) {
	var item nvdCVEItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return types.CVE{}, oops.Wrapf(err, "cve decode error")
	}

	cve := types.CVE{ID: item.CVE.ID}
	for _, d := range item.CVE.Descriptions {
		if d.Lang == "en" {
			cve.Description = d.Value
			break
		}
	}
	switch m := item.CVE.Metrics; {
	case len(m.V31) > 0:
		cve.CVSSScore = m.V31[0].CVSSData.BaseScore
	case len(m.V30) > 0:
		cve.CVSSScore = m.V30[0].CVSSData.BaseScore
	case len(m.V2) > 0:
		cve.CVSSScore = m.V2[0].CVSSData.BaseScore
	}
	if published, err := time.Parse("2006-01-02T15:04:05.000", item.CVE.Published); err == nil {
		cve.Published = &published
	}

	uris := set.New[string]()
	criteria := set.New[string]()
	for _, cfg := range item.CVE.Configurations {
		for _, node := range cfg.Nodes {
			for _, match := range node.CPEMatch {
				if !match.Vulnerable {
					continue
				}
				uris.Append(match.Criteria)
				if match.MatchCriteriaID != "" {
					criteria.Append(match.MatchCriteriaID)
				}
			}
		}
	}
	cve.CPEURIs = uris.Values()
	cve.CriteriaIDs = criteria.Values()
	return cve, nil
}
