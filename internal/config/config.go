package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Store struct {
		Driver string `yaml:"driver"` // "memory" or "sqlite"
		Path   string `yaml:"path"`
	} `yaml:"store"`
	Policy struct {
		UnresolvedSeverity string `yaml:"unresolved_severity"` // error | warning | info
		TypeCompatibility  string `yaml:"type_compatibility"`  // exact | lenient
		ValidationHops     int    `yaml:"validation_hops"`
	} `yaml:"policy"`
	AI struct {
		Model  string `yaml:"model"`
		APIKey string `yaml:"api_key"`
	} `yaml:"ai"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.Store.Driver = "memory"
	cfg.Policy.UnresolvedSeverity = "warning"
	cfg.Policy.TypeCompatibility = "exact"
	cfg.Policy.ValidationHops = 1
	cfg.AI.Model = "gemini-2.5-flash"
	return &cfg
}

// LoadConfig reads the YAML config, layering .env and LAWGRAPH_*
// environment variables on top. An empty path yields the defaults plus
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	cfg := Default()

	// 2. Load YAML config
	if path != "" {
		file, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, err
		}
	}

	// 3. Override with Environment Variables if present
	if driver := os.Getenv("LAWGRAPH_STORE_DRIVER"); driver != "" {
		cfg.Store.Driver = driver
	}
	if dbPath := os.Getenv("LAWGRAPH_STORE_PATH"); dbPath != "" {
		cfg.Store.Path = dbPath
	}
	if sev := os.Getenv("LAWGRAPH_UNRESOLVED_SEVERITY"); sev != "" {
		cfg.Policy.UnresolvedSeverity = sev
	}
	if compat := os.Getenv("LAWGRAPH_TYPE_COMPATIBILITY"); compat != "" {
		cfg.Policy.TypeCompatibility = compat
	}
	if hops := os.Getenv("LAWGRAPH_VALIDATION_HOPS"); hops != "" {
		n, err := strconv.Atoi(hops)
		if err != nil {
			return nil, fmt.Errorf("LAWGRAPH_VALIDATION_HOPS: %w", err)
		}
		cfg.Policy.ValidationHops = n
	}
	if apiKey := os.Getenv("LAWGRAPH_API_KEY"); apiKey != "" {
		cfg.AI.APIKey = apiKey
	}
	if model := os.Getenv("LAWGRAPH_AI_MODEL"); model != "" {
		cfg.AI.Model = model
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("store driver %q: must be memory or sqlite", c.Store.Driver)
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		return fmt.Errorf("store driver sqlite requires a path")
	}
	switch c.Policy.UnresolvedSeverity {
	case "error", "warning", "info":
	default:
		return fmt.Errorf("unresolved severity %q: must be error, warning, or info", c.Policy.UnresolvedSeverity)
	}
	switch c.Policy.TypeCompatibility {
	case "exact", "lenient":
	default:
		return fmt.Errorf("type compatibility %q: must be exact or lenient", c.Policy.TypeCompatibility)
	}
	if c.Policy.ValidationHops < 0 {
		return fmt.Errorf("validation hops must be non-negative")
	}
	return nil
}
