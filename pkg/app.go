package pkg

import (
	"github.com/urfave/cli"
)

// NewApp builds the certdb command line interface. Every command runs
// one pipeline stage (or all of them) against a dataset directory.
func NewApp(version string) *cli.App {
	app := cli.NewApp()
	app.Name = "certdb"
	app.Version = version
	app.Usage = "certification corpus pipeline for Common Criteria and FIPS 140"

	flags := []cli.Flag{
		cli.StringFlag{
			Name:  "framework, f",
			Value: "cc",
			Usage: "certification framework, cc or fips",
		},
		cli.StringFlag{
			Name:  "output, o",
			Value: ".",
			Usage: "dataset root directory",
		},
		cli.StringFlag{
			Name:  "input, i",
			Usage: "existing dataset JSON to continue from",
		},
		cli.StringFlag{
			Name:  "config, c",
			Usage: "YAML configuration file",
		},
		cli.BoolFlag{
			Name:  "fresh",
			Usage: "redo finished work instead of reusing it",
		},
		cli.BoolFlag{
			Name:  "quiet, q",
			Usage: "log warnings only and disable progress output",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:   "all",
			Usage:  "run the whole pipeline",
			Action: runAll,
			Flags:  flags,
		},
		{
			Name:   "build",
			Usage:  "scrape the framework's index pages into a new dataset",
			Action: runBuild,
			Flags:  flags,
		},
		{
			Name:   "download",
			Usage:  "download certification artifacts",
			Action: runDownload,
			Flags:  flags,
		},
		{
			Name:   "convert",
			Usage:  "convert downloaded PDFs to text",
			Action: runConvert,
			Flags:  flags,
		},
		{
			Name:   "process-aux-dsets",
			Usage:  "build or refresh the auxiliary datasets",
			Action: runProcessAux,
			Flags:  flags,
		},
		{
			Name:   "analyze",
			Usage:  "extract keywords and resolve references, CPEs and CVEs",
			Action: runAnalyze,
			Flags:  flags,
		},
	}

	return app
}
