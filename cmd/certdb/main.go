package main

import (
	"fmt"
	"os"

	"github.com/sec-certs/certdb/pkg"
)

var version = "0.1.0"

func main() {
	app := pkg.NewApp(version)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}
