// Package config loads cogmem settings from an optional YAML file with
// COGMEM_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vthunder/cogmem/internal/cognitive"
	"github.com/vthunder/cogmem/internal/store"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("config: invalid")

// Vector store backends
const (
	BackendChromem = "chromem"
	BackendSQLite  = "sqlite"
)

// Config holds all configuration values
type Config struct {
	StatePath string `yaml:"state_path"`

	Log struct {
		File  string `yaml:"file"`
		Level string `yaml:"level"`
	} `yaml:"log"`

	Embedding struct {
		URL   string `yaml:"url"`
		Model string `yaml:"model"`
	} `yaml:"embedding"`

	Vector struct {
		Backend    string `yaml:"backend"`
		Path       string `yaml:"path"`
		Collection string `yaml:"collection"`
	} `yaml:"vector"`

	Store struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
	} `yaml:"store"`

	Graph struct {
		File string `yaml:"file"`
	} `yaml:"graph"`

	// Prose adds NLP entity extraction on top of the keyword extractor
	Extract struct {
		Prose bool `yaml:"prose"`
	} `yaml:"extract"`

	Profiling struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"profiling"`

	Memory cognitive.Config `yaml:"memory"`
}

// Default returns the configuration used when nothing is set
func Default() Config {
	var c Config
	c.StatePath = "state"
	c.Log.Level = "info"
	c.Embedding.URL = "http://localhost:11434"
	c.Embedding.Model = "nomic-embed-text"
	c.Vector.Backend = BackendChromem
	c.Vector.Collection = "documents"
	c.Store.Driver = store.DriverSQLite
	c.Profiling.Level = "off"
	c.Memory = cognitive.DefaultConfig()
	return c
}

// Load reads path (skipped when empty or missing) over the defaults, then
// applies environment overrides. Relative paths are resolved under StatePath.
func Load(path string) (Config, error) {
	c := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &c); err != nil {
				return c, fmt.Errorf("parse %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return c, fmt.Errorf("read %s: %w", path, err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return c, err
	}
	c.resolvePaths()
	return c, c.Validate()
}

func (c *Config) applyEnv() error {
	c.StatePath = getEnv("COGMEM_STATE_PATH", c.StatePath)
	c.Log.File = getEnv("COGMEM_LOG_FILE", c.Log.File)
	c.Log.Level = getEnv("COGMEM_LOG_LEVEL", c.Log.Level)
	c.Embedding.URL = getEnv("OLLAMA_URL", c.Embedding.URL)
	c.Embedding.Model = getEnv("COGMEM_EMBEDDING_MODEL", c.Embedding.Model)
	c.Vector.Backend = getEnv("COGMEM_VECTOR_BACKEND", c.Vector.Backend)
	c.Vector.Path = getEnv("COGMEM_VECTOR_PATH", c.Vector.Path)
	c.Vector.Collection = getEnv("COGMEM_VECTOR_COLLECTION", c.Vector.Collection)
	c.Store.Driver = getEnv("COGMEM_STORE_DRIVER", c.Store.Driver)
	c.Store.Path = getEnv("COGMEM_STORE_PATH", c.Store.Path)
	c.Graph.File = getEnv("COGMEM_GRAPH_FILE", c.Graph.File)
	c.Profiling.Level = getEnv("COGMEM_PROFILE_LEVEL", c.Profiling.Level)
	c.Profiling.File = getEnv("COGMEM_PROFILE_FILE", c.Profiling.File)
	c.Extract.Prose = getEnv("COGMEM_EXTRACT_PROSE", strconv.FormatBool(c.Extract.Prose)) == "true"

	var err error
	if c.Memory.BufferCapacity, err = getEnvInt("COGMEM_BUFFER_CAPACITY", c.Memory.BufferCapacity); err != nil {
		return err
	}
	if c.Memory.TopK, err = getEnvInt("COGMEM_TOP_K", c.Memory.TopK); err != nil {
		return err
	}
	if c.Memory.ValidationThreshold, err = getEnvFloat("COGMEM_VALIDATION_THRESHOLD", c.Memory.ValidationThreshold); err != nil {
		return err
	}
	return nil
}

func (c *Config) resolvePaths() {
	if c.Store.Path == "" {
		c.Store.Path = "cogmem.db"
	}
	if c.Vector.Path == "" && c.Vector.Backend == BackendChromem {
		c.Vector.Path = "vectors"
	}
	if c.Profiling.File == "" {
		c.Profiling.File = "profiling.jsonl"
	}
	c.Store.Path = c.under(c.Store.Path)
	c.Vector.Path = c.under(c.Vector.Path)
	c.Profiling.File = c.under(c.Profiling.File)
	if c.Log.File != "" {
		c.Log.File = c.under(c.Log.File)
	}
}

func (c *Config) under(p string) string {
	if p == "" || filepath.IsAbs(p) || c.StatePath == "" {
		return p
	}
	return filepath.Join(c.StatePath, p)
}

// Validate rejects values the pipeline cannot run with
func (c Config) Validate() error {
	var problems []string
	m := c.Memory

	if m.BufferCapacity < 0 {
		problems = append(problems, fmt.Sprintf("memory.buffer_capacity %d < 0", m.BufferCapacity))
	}
	if m.TopK < 0 || m.EpisodicTopK < 0 || m.ConceptTopK < 0 {
		problems = append(problems, "memory top_k values must be >= 0")
	}
	if m.HalfLife < 0 {
		problems = append(problems, "memory.half_life must be >= 0")
	}
	if m.MaxHops < 0 {
		problems = append(problems, "memory.max_hops must be >= 0")
	}
	if m.ActivationDecay < 0 || m.ActivationDecay > 1 {
		problems = append(problems, fmt.Sprintf("memory.activation_decay %v outside (0,1]", m.ActivationDecay))
	}
	unit := []struct {
		name string
		v    float64
	}{
		{"episodic_min_score", m.EpisodicMinScore},
		{"activation_threshold", m.ActivationThreshold},
		{"concept_similarity", m.ConceptSimilarity},
		{"validation_threshold", m.ValidationThreshold},
	}
	for _, f := range unit {
		if f.v < 0 || f.v > 1 {
			problems = append(problems, fmt.Sprintf("memory.%s %v outside [0,1]", f.name, f.v))
		}
	}
	if m.MinEvidence < 0 {
		problems = append(problems, "memory.min_evidence must be >= 0")
	}
	if err := m.Weights.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	switch c.Vector.Backend {
	case BackendChromem, BackendSQLite:
	default:
		problems = append(problems, fmt.Sprintf("vector.backend %q (want %s or %s)", c.Vector.Backend, BackendChromem, BackendSQLite))
	}
	switch c.Store.Driver {
	case "", store.DriverSQLite, store.DriverSQLite3:
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q", c.Store.Driver))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, key, val)
	}
	return n, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%w: %s=%q is not a number", ErrInvalidConfig, key, val)
	}
	return f, nil
}
