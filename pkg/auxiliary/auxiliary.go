package auxiliary

import (
	"context"

	"golang.org/x/xerrors"

	"github.com/sec-certs/certdb/pkg/config"
	"github.com/sec-certs/certdb/pkg/fetch"
	"github.com/sec-certs/certdb/pkg/storage"
	"github.com/sec-certs/certdb/pkg/types"
)

// Type identifies an auxiliary dataset handler.
type Type string

const (
	TypeCPE               Type = "cpe"
	TypeCVE               Type = "cve"
	TypeCPEMatch          Type = "cpe_match"
	TypeFIPSAlgorithm     Type = "fips_algorithm"
	TypeCCScheme          Type = "cc_scheme"
	TypeProtectionProfile Type = "protection_profile"
	TypeCCMaintenance     Type = "cc_maintenance"
)

// Handler owns one auxiliary dataset: its on-disk JSON file under the
// dataset's auxiliary_datasets directory, how it is (re)built, and how it
// is loaded back. A failed refresh must leave the previous on-disk
// dataset intact.
type Handler interface {
	Type() Type

	// SetLocalPaths binds the handler to a dataset root.
	SetLocalPaths(layout storage.Layout)

	// ProcessDataset builds or refreshes the dataset. With fresh the
	// handler rebuilds from its remote source even when a local file
	// exists; otherwise an existing file is refreshed incrementally where
	// the source supports it and reused as-is where it does not.
	ProcessDataset(ctx context.Context, fresh bool) error

	// LoadDataset reads the on-disk dataset into memory.
	LoadDataset(ctx context.Context) error
}

// CertBound is implemented by handlers whose dataset derives from the
// certificates themselves rather than an external corpus. The pipeline
// binds the current certificate map before processing.
type CertBound interface {
	BindCerts(certs map[string]types.Certificate)
}

// Registry holds the handlers of one pipeline run in processing order.
type Registry struct {
	handlers []Handler
}

// NewRegistry assembles the handler set for a scheme. Both schemes carry
// the NVD-backed dictionaries; the rest is scheme-specific.
func NewRegistry(scheme types.Scheme, cfg config.Config, client *fetch.Client) *Registry {
	nvd := newNVDClient(cfg)
	handlers := []Handler{
		NewCPEHandler(cfg, client, nvd),
		NewCVEHandler(cfg, client, nvd),
		NewCPEMatchHandler(cfg, client, nvd),
	}
	switch scheme {
	case types.SchemeFIPS:
		handlers = append(handlers, NewFIPSAlgorithmHandler(client))
	case types.SchemeCC:
		handlers = append(handlers,
			NewCCSchemeHandler(client),
			NewProtectionProfileHandler(cfg, client),
			NewCCMaintenanceHandler(cfg, client),
		)
	}
	return &Registry{handlers: handlers}
}

// Handlers returns the registered handlers in processing order.
func (r *Registry) Handlers() []Handler {
	return r.handlers
}

// Handler returns the handler of the given type, or nil.
func (r *Registry) Handler(t Type) Handler {
	for _, h := range r.handlers {
		if h.Type() == t {
			return h
		}
	}
	return nil
}

// SetLocalPaths rebinds every handler to a dataset root.
func (r *Registry) SetLocalPaths(layout storage.Layout) {
	for _, h := range r.handlers {
		h.SetLocalPaths(layout)
	}
}

// ProcessAll runs every handler, stopping at the first failure so a
// broken refresh is reported instead of silently building on stale data.
func (r *Registry) ProcessAll(ctx context.Context, fresh bool) error {
	for _, h := range r.handlers {
		if err := h.ProcessDataset(ctx, fresh); err != nil {
			return xerrors.Errorf("%s dataset error: %w", h.Type(), err)
		}
	}
	return nil
}

// LoadAll loads every handler's dataset into memory.
func (r *Registry) LoadAll(ctx context.Context) error {
	for _, h := range r.handlers {
		if err := h.LoadDataset(ctx); err != nil {
			return xerrors.Errorf("%s dataset error: %w", h.Type(), err)
		}
	}
	return nil
}
