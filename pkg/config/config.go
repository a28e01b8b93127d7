package config

import (
	"os"
	"time"

	"github.com/samber/oops"
	"gopkg.in/yaml.v2"
)

// AuxSource selects where the NVD-backed auxiliary datasets come from.
type AuxSource string

const (
	// AuxSourceSnapshot downloads prebuilt dataset snapshots.
	AuxSourceSnapshot AuxSource = "sec-certs"
	// AuxSourceAPI builds the datasets from the NVD REST API.
	AuxSourceAPI AuxSource = "api"
)

// Config is the recognized pipeline configuration surface.
type Config struct {
	NumWorkers  int           `yaml:"num_workers"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// FIPSMinCertID is the lowest numeric id considered a plausible FIPS
	// certificate reference.
	FIPSMinCertID int `yaml:"fips_min_cert_id"`
	// FIPSYearDifferenceThreshold drops reference candidates whose
	// validation years exceed the referencing module's by more than this.
	FIPSYearDifferenceThreshold int `yaml:"fips_year_difference_threshold"`

	// GarbageAlphaPerKB triggers the OCR fallback when a converted text
	// has fewer alphabetic characters per KB of PDF than this.
	GarbageAlphaPerKB int `yaml:"garbage_alpha_per_kb"`

	AuxSource       AuxSource `yaml:"aux_source"`
	SnapshotBaseURL string    `yaml:"snapshot_base_url"`
	NVDAPIBaseURL   string    `yaml:"nvd_api_base_url"`
	NVDAPIKey       string    `yaml:"nvd_api_key"`

	Progress bool   `yaml:"progress"`
	LogFile  string `yaml:"log_file"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		NumWorkers:                  8,
		HTTPTimeout:                 30 * time.Second,
		FIPSMinCertID:               10,
		FIPSYearDifferenceThreshold: 7,
		GarbageAlphaPerKB:           20,
		AuxSource:                   AuxSourceSnapshot,
		SnapshotBaseURL:             "https://sec-certs.org/dataset",
		NVDAPIBaseURL:               "https://services.nvd.nist.gov/rest/json",
		Progress:                    true,
	}
}

// Load reads a YAML config file over the defaults and validates it.
func Load(path string) (Config, error) {
	eb := oops.With("file_path", path)

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, eb.Wrapf(err, "config read error")
	}
	if err = yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, eb.Wrapf(err, "config decode error")
	}
	if err = cfg.Validate(); err != nil {
		return Config{}, eb.Wrapf(err, "config validation error")
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.NumWorkers < 1 {
		return oops.Errorf("num_workers must be positive, got %d", c.NumWorkers)
	}
	if c.HTTPTimeout <= 0 {
		return oops.Errorf("http_timeout must be positive, got %s", c.HTTPTimeout)
	}
	if c.GarbageAlphaPerKB < 0 {
		return oops.Errorf("garbage_alpha_per_kb must not be negative, got %d", c.GarbageAlphaPerKB)
	}
	switch c.AuxSource {
	case AuxSourceSnapshot, AuxSourceAPI:
	default:
		return oops.Errorf("aux_source must be %q or %q, got %q",
			AuxSourceSnapshot, AuxSourceAPI, c.AuxSource)
	}
	return nil
}
