package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/chazu/yarvil/config"
	"github.com/chazu/yarvil/il"
	"github.com/chazu/yarvil/ilgen"
	"github.com/chazu/yarvil/jit"
	"github.com/chazu/yarvil/server"
	"github.com/chazu/yarvil/telemetry"
	"github.com/chazu/yarvil/yarv"
)

// ---------------------------------------------------------------------------
// yarvil translate
// ---------------------------------------------------------------------------

func runTranslate(w io.Writer, args []string, cfg *config.Config) error {
	fs := flag.NewFlagSet("translate", flag.ContinueOnError)
	dot := fs.Bool("dot", false, "Print the CFG as Graphviz DOT instead of trees")
	lower := fs.Bool("lower", cfg.JIT.LowerAsyncChecks, "Lower asynccheck macros")
	verify := fs.Bool("verify", cfg.JIT.Verify, "Verify the IL after translation")
	countersDB := fs.String("counters", "", "Save the run's counters to this database")
	remote := fs.String("remote", "", "Translate on the server at this URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("translate: no method files given")
	}

	run := *cfg
	run.JIT.LowerAsyncChecks = *lower
	run.JIT.Verify = *verify

	if *remote != "" {
		return translateRemote(w, fs.Args(), *remote, &run, *dot)
	}

	counters := telemetry.NewCounters()
	env := ilgen.NewEnv()
	failed := 0
	for _, path := range fs.Args() {
		iseq, err := yarv.LoadFile(path)
		if err != nil {
			return err
		}
		res, err := jit.Translate(iseq, &run, jit.WithEnv(env), jit.WithCounters(counters))
		if err != nil {
			var abort *ilgen.AbortError
			if !errors.As(err, &abort) && !errors.Is(err, jit.ErrComplexArguments) {
				return err
			}
			fmt.Fprintf(w, "%s: not translated: %s\n", iseq.Name(), err)
			failed++
			continue
		}
		if *dot {
			fmt.Fprint(w, res.Method.CFG.ToDot())
		} else {
			il.Dump(w, res.Method)
		}
	}

	if *countersDB != "" {
		if err := saveCounters(run.Telemetry.Driver, *countersDB, counters.Snapshot(), w); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d methods not translated", failed, fs.NArg())
	}
	return nil
}

func translateRemote(w io.Writer, paths []string, url string, cfg *config.Config, dot bool) error {
	client := server.NewClient(url)
	for _, path := range paths {
		iseq, err := yarv.LoadFile(path)
		if err != nil {
			return err
		}
		data, err := yarv.MarshalIseq(iseq)
		if err != nil {
			return err
		}
		resp, err := client.Translate(context.Background(), &server.TranslateRequest{
			Iseq:             data,
			Translator:       &cfg.Translator,
			LowerAsyncChecks: cfg.JIT.LowerAsyncChecks,
			Verify:           cfg.JIT.Verify,
			WantDot:          dot,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		switch {
		case !resp.Success:
			fmt.Fprintf(w, "%s: not translated: %s\n", resp.Signature, resp.ErrorMessage)
		case dot:
			fmt.Fprint(w, resp.Dot)
		default:
			fmt.Fprint(w, resp.Dump)
		}
	}
	return nil
}

func saveCounters(driver, dsn string, snap telemetry.Snapshot, w io.Writer) error {
	store, err := telemetry.Open(driver, dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	runID := telemetry.NewRunID()
	if err := store.Save(context.Background(), runID, snap); err != nil {
		return err
	}
	fmt.Fprintf(w, "counters saved as run %s\n", runID)
	return nil
}

// ---------------------------------------------------------------------------
// yarvil disasm
// ---------------------------------------------------------------------------

func runDisasm(w io.Writer, args []string) error {
	if len(args) == 0 {
		return errors.New("disasm: no method files given")
	}
	for _, path := range args {
		iseq, err := yarv.LoadFile(path)
		if err != nil {
			return err
		}
		fmt.Fprint(w, yarv.Disassemble(iseq))
	}
	return nil
}
