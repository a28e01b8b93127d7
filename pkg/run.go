package pkg

import (
	"context"
	"time"

	"github.com/briandowns/spinner"
	"github.com/urfave/cli"
	"golang.org/x/xerrors"

	"github.com/sec-certs/certdb/pkg/config"
	"github.com/sec-certs/certdb/pkg/dataset"
	"github.com/sec-certs/certdb/pkg/log"
	"github.com/sec-certs/certdb/pkg/types"
)

func runAll(c *cli.Context) error {
	return withDataset(c, func(ctx context.Context, d *dataset.Dataset, cfg config.Config, fresh bool) error {
		return d.RunAll(ctx, fresh)
	})
}

func runBuild(c *cli.Context) error {
	return withDataset(c, func(ctx context.Context, d *dataset.Dataset, cfg config.Config, fresh bool) error {
		return spin(cfg, "scraping index pages", func() error {
			return d.Build(ctx)
		})
	})
}

func runDownload(c *cli.Context) error {
	return withDataset(c, func(ctx context.Context, d *dataset.Dataset, cfg config.Config, fresh bool) error {
		return d.DownloadAllArtifacts(ctx, fresh)
	})
}

func runConvert(c *cli.Context) error {
	return withDataset(c, func(ctx context.Context, d *dataset.Dataset, cfg config.Config, fresh bool) error {
		return d.ConvertAllPdfs(ctx, fresh)
	})
}

func runProcessAux(c *cli.Context) error {
	return withDataset(c, func(ctx context.Context, d *dataset.Dataset, cfg config.Config, fresh bool) error {
		return spin(cfg, "processing auxiliary datasets", func() error {
			return d.ProcessAuxiliaryDatasets(ctx, fresh)
		})
	})
}

func runAnalyze(c *cli.Context) error {
	return withDataset(c, func(ctx context.Context, d *dataset.Dataset, cfg config.Config, fresh bool) error {
		return spin(cfg, "analyzing certificates", func() error {
			return d.AnalyzeCertificates(ctx, fresh)
		})
	})
}

// withDataset loads the configuration, opens or creates the dataset the
// flags point at, and hands it to the stage action.
func withDataset(c *cli.Context, action func(ctx context.Context, d *dataset.Dataset, cfg config.Config, fresh bool) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.Bool("quiet") {
		log.SetQuiet(true)
		cfg.Progress = false
	}
	if cfg.LogFile != "" {
		closer, err := log.SetOutputFile(cfg.LogFile)
		if err != nil {
			return err
		}
		defer closer.Close()
	}

	d, err := openDataset(c, cfg)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := action(context.Background(), d, cfg, c.Bool("fresh")); err != nil {
		return err
	}
	log.Info("Done", log.String("elapsed", time.Since(start).Round(time.Second).String()),
		log.FilePath(d.JSONPath()))
	return nil
}

func loadConfig(c *cli.Context) (config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	return config.Default(), nil
}

func openDataset(c *cli.Context, cfg config.Config) (*dataset.Dataset, error) {
	if input := c.String("input"); input != "" {
		return dataset.FromJSON(input, cfg)
	}

	scheme, err := parseFramework(c.String("framework"))
	if err != nil {
		return nil, err
	}
	name := string(scheme) + "_dataset"
	description := "certification corpus built " + time.Now().UTC().Format(time.DateOnly)
	return dataset.New(scheme, name, description, c.String("output"), cfg), nil
}

func parseFramework(s string) (types.Scheme, error) {
	switch types.Scheme(s) {
	case types.SchemeCC:
		return types.SchemeCC, nil
	case types.SchemeFIPS:
		return types.SchemeFIPS, nil
	default:
		return "", xerrors.Errorf("unknown framework %q, want cc or fips", s)
	}
}

// spin shows an indeterminate spinner around stages that have no
// per-item progress bar of their own.
func spin(cfg config.Config, message string, fn func() error) error {
	if !cfg.Progress {
		return fn()
	}
	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Start()
	defer s.Stop()
	return fn()
}
