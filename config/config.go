// Package config handles yarvil.toml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "yarvil.toml"

// Config represents a yarvil.toml configuration.
type Config struct {
	Translator Translator `toml:"translator" json:"translator"`
	JIT        JIT        `toml:"jit" json:"jit"`
	Telemetry  Telemetry  `toml:"telemetry" json:"telemetry"`
	Server     Server     `toml:"server" json:"server"`

	// Dir is the directory containing the yarvil.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Translator configures bytecode-to-IL generation.
type Translator struct {
	DisableEntrySwitch       bool `toml:"disable-entry-switch" json:"disable-entry-switch"`
	DisableMultipleEntry     bool `toml:"disable-multiple-entry" json:"disable-multiple-entry"`
	DisableStackAdjustEntry  bool `toml:"disable-stack-adjust-entry" json:"disable-stack-adjust-entry"`
	EnableBugBlock           bool `toml:"enable-bug-block" json:"enable-bug-block"`
	DisableExceptionTargets  bool `toml:"disable-exception-targets" json:"disable-exception-targets"`
	DisableTraceInstructions bool `toml:"disable-trace-instructions" json:"disable-trace-instructions"`
	DisableStackRestoration  bool `toml:"disable-stack-restoration" json:"disable-stack-restoration"`

	// InstructionLimit is the highest bytecode offset the walker will
	// translate before giving up.
	InstructionLimit int `toml:"instruction-limit" json:"instruction-limit"`

	// Trace logs a disassembly and the trees before the entry switch.
	Trace bool `toml:"trace" json:"trace"`
}

// JIT configures the translation driver and compile queue.
type JIT struct {
	DisableOptionalArguments bool `toml:"disable-optional-arguments" json:"disable-optional-arguments"`
	LowerAsyncChecks         bool `toml:"lower-asyncchecks" json:"lower-asyncchecks"`
	IrritateAsyncCheck       bool `toml:"irritate-asynccheck" json:"irritate-asynccheck"`
	Verify                   bool `toml:"verify" json:"verify"`
	TieredCompilation        bool `toml:"tiered-compilation" json:"tiered-compilation"`
	HotThreshold             int  `toml:"hot-threshold" json:"hot-threshold"`
	QueueSize                int  `toml:"queue-size" json:"queue-size"`
}

// Telemetry configures counter persistence.
type Telemetry struct {
	Driver string `toml:"driver" json:"driver"`
	DSN    string `toml:"dsn" json:"dsn"`
}

// Server configures the translation service.
type Server struct {
	Port int `toml:"port" json:"port"`
}

// Default values applied after unmarshal.
const (
	DefaultInstructionLimit = 10000
	DefaultHotThreshold     = 1000
	DefaultQueueSize        = 64
	DefaultDriver           = "sqlite"
	DefaultDSN              = "yarvil-counters.db"
	DefaultPort             = 8090
)

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Translator.InstructionLimit == 0 {
		c.Translator.InstructionLimit = DefaultInstructionLimit
	}
	if c.JIT.HotThreshold == 0 {
		c.JIT.HotThreshold = DefaultHotThreshold
	}
	if c.JIT.QueueSize == 0 {
		c.JIT.QueueSize = DefaultQueueSize
	}
	if c.Telemetry.Driver == "" {
		c.Telemetry.Driver = DefaultDriver
	}
	if c.Telemetry.DSN == "" {
		c.Telemetry.DSN = DefaultDSN
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
}

// Load parses a yarvil.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// Parse decodes TOML configuration text and applies defaults.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	return &c, nil
}

// FindAndLoad walks up from startDir to find a yarvil.toml file,
// then loads and returns the config. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// ---------------------------------------------------------------------------
// Environment overrides
// ---------------------------------------------------------------------------

// Environment variable names. Flag variables take effect when set to any
// value.
const (
	EnvDisableEntrySwitch       = "TR_DISABLE_ENTRY_SWITCH"
	EnvDisableMultipleEntry     = "TR_DISABLE_MULTIPLE_ENTRY"
	EnvDisableStackAdjustEntry  = "TR_DISABLE_STACK_ADJUST_ENTRY"
	EnvEnableBugBlock           = "TR_ENABLE_BUG_BLOCK"
	EnvDisableExceptionTargets  = "TR_RUBY_DISABLE_EXCEPTION_TARGETS"
	EnvBytecodeLimit            = "OMR_RUBY_BYTECODE_LIMIT"
	EnvDisableTraceInstructions = "OMR_DISABLE_TRACE_INSTRUCTIONS"
	EnvDisableOptionalArguments = "TR_DISABLE_OPTIONAL_ARGUMENTS"
	EnvDisableStackRestoration  = "DISABLE_YARV_STACK_RESTORATION"
	EnvIrritateAsyncCheck       = "TR_RUBY_IRRITATE_ASYNCHECK"
	EnvTrace                    = "TR_TRACE_RUBYILGEN"
)

// ApplyEnv overrides settings from the process environment.
func (c *Config) ApplyEnv() error {
	return c.ApplyLookup(os.LookupEnv)
}

// ApplyLookup overrides settings using lookup to read variables.
func (c *Config) ApplyLookup(lookup func(string) (string, bool)) error {
	flags := []struct {
		name string
		dst  *bool
	}{
		{EnvDisableEntrySwitch, &c.Translator.DisableEntrySwitch},
		{EnvDisableMultipleEntry, &c.Translator.DisableMultipleEntry},
		{EnvDisableStackAdjustEntry, &c.Translator.DisableStackAdjustEntry},
		{EnvEnableBugBlock, &c.Translator.EnableBugBlock},
		{EnvDisableExceptionTargets, &c.Translator.DisableExceptionTargets},
		{EnvDisableTraceInstructions, &c.Translator.DisableTraceInstructions},
		{EnvDisableStackRestoration, &c.Translator.DisableStackRestoration},
		{EnvTrace, &c.Translator.Trace},
		{EnvDisableOptionalArguments, &c.JIT.DisableOptionalArguments},
		{EnvIrritateAsyncCheck, &c.JIT.IrritateAsyncCheck},
	}
	for _, f := range flags {
		if _, ok := lookup(f.name); ok {
			*f.dst = true
		}
	}

	if s, ok := lookup(EnvBytecodeLimit); ok {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvBytecodeLimit, err)
		}
		c.Translator.InstructionLimit = n
	}
	return nil
}
