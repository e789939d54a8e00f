// Package config handles hogvm.toml configuration.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"

	"github.com/chazu/hogvm/validator"
	"github.com/chazu/hogvm/vm"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "hogvm.toml"

//go:embed schema.cue
var schemaSource string

// Config represents a hogvm.toml configuration.
type Config struct {
	Execution  Execution  `toml:"execution"`
	Validation Validation `toml:"validation"`
	Server     Server     `toml:"server"`
	Store      Store      `toml:"store"`
	Log        Log        `toml:"log"`

	// Dir is the directory containing the hogvm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Execution sets the budgets of ordinary runs.
type Execution struct {
	Timeout     Duration `toml:"timeout"`
	MemoryLimit ByteSize `toml:"memory-limit"`
}

// Validation sets the budgets of validation runs.
type Validation struct {
	Timeout     Duration `toml:"timeout"`
	MemoryLimit ByteSize `toml:"memory-limit"`
}

// Server configures the RPC service.
type Server struct {
	Listen          string   `toml:"listen"`
	Workers         int      `toml:"workers"`
	MaxRequestBytes ByteSize `toml:"max-request-bytes"`
}

// Store configures the program database.
type Store struct {
	Path string `toml:"path"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Duration is a time.Duration written as a string such as "300ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ByteSize is a size written as a string such as "64MiB".
type ByteSize int

func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := humanize.ParseBytes(string(text))
	if err != nil {
		return err
	}
	*b = ByteSize(v)
	return nil
}

func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(humanize.IBytes(uint64(b))), nil
}

// Default returns the configuration used when no hogvm.toml exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Execution.Timeout.Duration <= 0 {
		c.Execution.Timeout.Duration = vm.DefaultTimeout
	}
	if c.Execution.MemoryLimit <= 0 {
		c.Execution.MemoryLimit = vm.MaxMemory
	}
	if c.Validation.Timeout.Duration <= 0 {
		c.Validation.Timeout.Duration = validator.DefaultTimeout
	}
	if c.Validation.MemoryLimit <= 0 {
		c.Validation.MemoryLimit = vm.MaxMemory
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.Workers <= 0 {
		c.Server.Workers = runtime.NumCPU()
	}
	if c.Server.MaxRequestBytes <= 0 {
		c.Server.MaxRequestBytes = 4 << 20
	}
	if c.Store.Path == "" {
		c.Store.Path = "hogvm.db"
	}
}

// Load parses a hogvm.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// Parse checks data against the configuration schema and decodes it.
func Parse(data []byte) (*Config, error) {
	raw := map[string]any{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if err := checkSchema(raw); err != nil {
		return nil, err
	}
	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

func checkSchema(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	v := schema.Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// FindAndLoad walks up from startDir to find a hogvm.toml file,
// then loads and returns it. Returns nil if no file is found.
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
			return nil, nil
		}
		dir = parent
	}
}

// StorePath returns the database path, resolved against Dir.
func (c *Config) StorePath() string {
	if filepath.IsAbs(c.Store.Path) || c.Dir == "" {
		return c.Store.Path
	}
	return filepath.Join(c.Dir, c.Store.Path)
}

// ExecutionOptions returns interpreter options carrying the execution
// budgets.
func (c *Config) ExecutionOptions() vm.Options {
	return vm.Options{
		Timeout:     c.Execution.Timeout.Duration,
		MemoryLimit: int(c.Execution.MemoryLimit),
	}
}

// ValidationOptions returns the validator options carrying the validation
// budgets.
func (c *Config) ValidationOptions() []validator.Option {
	return []validator.Option{
		validator.WithTimeout(c.Validation.Timeout.Duration),
		validator.WithMemoryLimit(int(c.Validation.MemoryLimit)),
	}
}
