// yarvil translates YARV method bodies into tree IL.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/yarvil/config"
	"github.com/chazu/yarvil/server"
)

func main() {
	verbose := flag.Int("v", 0, "Log verbosity (0 = warnings, 2 = info, 4 = debug)")
	logFile := flag.String("log", "", "Write logs to this file instead of stderr")
	configDir := flag.String("config", ".", "Directory to search upward for yarvil.toml")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: yarvil [options] <command> [arguments]\n\n")
		fmt.Fprintf(os.Stderr, "Translates YARV method bodies (.yaml or .cbor) into tree IL.\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  translate [-dot] [-lower] [-verify] [-counters db] [-remote url] files...\n")
		fmt.Fprintf(os.Stderr, "  disasm files...\n")
		fmt.Fprintf(os.Stderr, "  serve [-port N] [-persist]\n")
		fmt.Fprintf(os.Stderr, "  counters [-db path] [-run id | -runs]\n")
		fmt.Fprintf(os.Stderr, "  lsp                   Serve method-file diagnostics on stdio\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  yarvil translate max.yaml          # Print the trees\n")
		fmt.Fprintf(os.Stderr, "  yarvil translate -dot max.yaml     # Print the CFG as Graphviz\n")
		fmt.Fprintf(os.Stderr, "  yarvil -v 4 translate max.yaml     # Trace the translation\n")
		fmt.Fprintf(os.Stderr, "  yarvil serve -port 8090            # Serve translations over Connect\n")
	}
	flag.Parse()

	if *logFile != "" {
		commonlog.Configure(*verbose, logFile)
	} else {
		commonlog.Configure(*verbose, nil)
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()[1:]
	switch flag.Arg(0) {
	case "translate":
		err = runTranslate(os.Stdout, args, cfg)
	case "disasm":
		err = runDisasm(os.Stdout, args)
	case "serve":
		err = runServe(args, cfg)
	case "counters":
		err = runCounters(os.Stdout, args, cfg)
	case "lsp":
		err = server.NewLSP(cfg).Run()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", flag.Arg(0))
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig finds yarvil.toml above dir, applies environment overrides
// and validates the result.
func loadConfig(dir string) (*config.Config, error) {
	cfg, err := config.FindAndLoad(dir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
