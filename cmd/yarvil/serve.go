package main

import (
	"flag"
	"fmt"

	"github.com/chazu/yarvil/config"
	"github.com/chazu/yarvil/server"
	"github.com/chazu/yarvil/telemetry"
)

func runServe(args []string, cfg *config.Config) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	port := fs.Int("port", cfg.Server.Port, "Port to listen on")
	persist := fs.Bool("persist", false, "Save each translation's counters to the telemetry store")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var opts []server.ServerOption
	if *persist {
		store, err := telemetry.Open(cfg.Telemetry.Driver, cfg.Telemetry.DSN)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, server.WithStore(store))
	}

	srv := server.New(cfg, opts...)
	defer srv.Stop()
	return srv.ListenAndServe(fmt.Sprintf(":%d", *port))
}
