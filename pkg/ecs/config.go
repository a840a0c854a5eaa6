package ecs

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

const envPrefix = "ECS_"

// worldConfig holds the configuration for a World. Every field can be set from the environment
// or from a TOML file whose keys are the variable names without the prefix, in lower case
// (chunk_size = 8192).
type worldConfig struct {
	// Bytes per chunk arena.
	ChunkSize int `env:"ECS_CHUNK_SIZE" envDefault:"16384"`

	// Upper bound on rows per chunk regardless of how small rows are.
	MaxChunkCapacity int `env:"ECS_MAX_CHUNK_CAPACITY" envDefault:"128"`

	// Initial number of entity index slots.
	EntityCapacity int `env:"ECS_ENTITY_CAPACITY" envDefault:"1024"`

	// Goroutines used by parallel chunk jobs. 0 means GOMAXPROCS.
	JobWorkers int `env:"ECS_JOB_WORKERS" envDefault:"0"`

	// Empty arenas kept by the world-wide chunk pool.
	PoolSize int `env:"ECS_POOL_SIZE" envDefault:"64"`

	// zerolog level name. "disabled" turns logging off.
	LogLevel string `env:"ECS_LOG_LEVEL" envDefault:"disabled"`

	// Human readable console output instead of JSON.
	LogPretty bool `env:"ECS_LOG_PRETTY" envDefault:"false"`
}

// loadWorldConfig loads the configuration. Values come from, in increasing precedence: defaults,
// the TOML file at path (if any), the process environment.
func loadWorldConfig(path string) (worldConfig, error) {
	environment := make(map[string]string)
	if path != "" {
		fileEnv, err := readConfigFile(path)
		if err != nil {
			return worldConfig{}, err
		}
		environment = fileEnv
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			environment[k] = v
		}
	}

	cfg := worldConfig{}
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environment}); err != nil {
		return cfg, eris.Wrap(err, "failed to parse world config")
	}
	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate config")
	}
	return cfg, nil
}

// readConfigFile decodes a flat TOML file into environment-style variables.
func readConfigFile(path string) (map[string]string, error) {
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, eris.Wrapf(err, "failed to read config file %s", path)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[envPrefix+strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return out, nil
}

// validate performs validation on the loaded configuration.
func (cfg *worldConfig) validate() error {
	if cfg.ChunkSize < minChunkSize {
		return eris.Wrapf(ErrInvalidConfig, "chunk size must be at least %d bytes", minChunkSize)
	}
	if cfg.MaxChunkCapacity < 1 {
		return eris.Wrap(ErrInvalidConfig, "max chunk capacity must be at least 1")
	}
	if cfg.EntityCapacity < 0 {
		return eris.Wrap(ErrInvalidConfig, "entity capacity cannot be negative")
	}
	if cfg.JobWorkers < 0 {
		return eris.Wrap(ErrInvalidConfig, "job workers cannot be negative")
	}
	if cfg.PoolSize < 0 {
		return eris.Wrap(ErrInvalidConfig, "pool size cannot be negative")
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return eris.Wrapf(ErrInvalidConfig, "unknown log level %q", cfg.LogLevel)
	}
	return nil
}

// applyToOptions fills the options left unset by the caller.
func (cfg *worldConfig) applyToOptions(opt *WorldOptions) {
	if opt.ChunkSize == 0 {
		opt.ChunkSize = cfg.ChunkSize
	}
	if opt.MaxChunkCapacity == 0 {
		opt.MaxChunkCapacity = cfg.MaxChunkCapacity
	}
	if opt.EntityCapacity == 0 {
		opt.EntityCapacity = cfg.EntityCapacity
	}
	if opt.JobWorkers == 0 {
		opt.JobWorkers = cfg.JobWorkers
	}
	if opt.PoolSize == 0 {
		opt.PoolSize = cfg.PoolSize
	}
	if opt.LogLevel == "" {
		opt.LogLevel = cfg.LogLevel
	}
	if !opt.LogPretty {
		opt.LogPretty = cfg.LogPretty
	}
}

// minChunkSize keeps chunks large enough to hold at least a handful of small rows.
const minChunkSize = 1024

// WorldOptions configures NewWorld. Zero fields fall back to the environment, then the TOML file
// named by ConfigFile, then the defaults.
type WorldOptions struct {
	ChunkSize        int    // Bytes per chunk arena
	MaxChunkCapacity int    // Upper bound on rows per chunk
	EntityCapacity   int    // Initial entity index slots
	JobWorkers       int    // Parallel job goroutines, 0 for GOMAXPROCS
	PoolSize         int    // Pooled empty chunk arenas
	LogLevel         string // zerolog level name
	LogPretty        bool   // Console writer instead of JSON
	ConfigFile       string // Optional TOML file

	// Registry to resolve component types with. A fresh registry is created when nil. Worlds may
	// share a registry.
	Registry *TypeRegistry

	// Logger overrides LogLevel and LogPretty when set.
	Logger *zerolog.Logger
}

// validate checks the merged options.
func (opt *WorldOptions) validate() error {
	cfg := worldConfig{
		ChunkSize:        opt.ChunkSize,
		MaxChunkCapacity: opt.MaxChunkCapacity,
		EntityCapacity:   opt.EntityCapacity,
		JobWorkers:       opt.JobWorkers,
		PoolSize:         opt.PoolSize,
		LogLevel:         opt.LogLevel,
	}
	return cfg.validate()
}
