package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tahseelapp/tahseel/internal/appdir"
	"github.com/tahseelapp/tahseel/internal/config"
	"github.com/tahseelapp/tahseel/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default ~/.tahseel/config.toml)")
	flag.Parse()

	path := *configFlag
	if path == "" {
		path = appdir.ConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Backend.URL == "" {
		fmt.Fprintf(os.Stderr, "error: backend.url is not set in %s\n", path)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Config: cfg}),
	)

	app.Run()
}
