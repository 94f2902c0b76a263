//go:build linux

package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"github.com/danmuck/gammactl/internal/daemon"
	"github.com/danmuck/gammactl/internal/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gammactl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("gammactl", flag.ContinueOnError)
	configPath := flags.String("config", "gammactl.toml", "path to TOML config")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := loadServiceConfig(*configPath)
	if err != nil {
		if !isMissing(err) {
			return err
		}
		cfg = defaultRuntimeConfig()
	}
	logging.ApplyEnvOverrides(&cfg.Log)
	logging.Apply(cfg.Log)

	svc, err := daemon.NewServiceWithConfig(cfg.Service)
	if err != nil {
		return err
	}
	return svc.Run()
}

func isMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
