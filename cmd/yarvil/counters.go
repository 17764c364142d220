package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/chazu/yarvil/config"
	"github.com/chazu/yarvil/telemetry"
)

// runCounters prints saved counters: the totals over every run, one run,
// or the list of runs.
func runCounters(w io.Writer, args []string, cfg *config.Config) error {
	fs := flag.NewFlagSet("counters", flag.ContinueOnError)
	db := fs.String("db", cfg.Telemetry.DSN, "Counter database")
	driver := fs.String("driver", cfg.Telemetry.Driver, "Database driver (sqlite or duckdb)")
	run := fs.String("run", "", "Print a single run")
	list := fs.Bool("runs", false, "List saved runs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := telemetry.Open(*driver, *db)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := context.Background()

	if *list {
		runs, err := store.Runs(ctx)
		if err != nil {
			return err
		}
		for _, id := range runs {
			fmt.Fprintln(w, id)
		}
		return nil
	}

	var snap telemetry.Snapshot
	if *run != "" {
		snap, err = store.Load(ctx, *run)
	} else {
		snap, err = store.Totals(ctx)
	}
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	for _, name := range snap.Names() {
		fmt.Fprintf(tw, "%d\t%s\n", snap[name], name)
	}
	return tw.Flush()
}
