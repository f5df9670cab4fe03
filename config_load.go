package llmrouter

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed config.schema.json
var configSchemaJSON string

var (
	configSchemaOnce sync.Once
	configSchema     *jsonschema.Schema
	configSchemaErr  error
)

func loadConfigSchema() (*jsonschema.Schema, error) {
	configSchemaOnce.Do(func() {
		configSchema, configSchemaErr = jsonschema.CompileString("config.schema.json", configSchemaJSON)
	})
	return configSchema, configSchemaErr
}

// LoadConfig reads and parses a config file from the given path.
// Supported formats: JSON (.json), YAML (.yaml, .yml). Backend URLs are
// normalised (trailing slashes removed); the result is not validated.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}

	normalizeConfig(&cfg)
	return &cfg, nil
}

// ValidateConfig validates a Config against the config schema and checks the
// backend registry for problems the schema cannot express.
func ValidateConfig(cfg Config) error {
	schema, err := loadConfigSchema()
	if err != nil {
		return fmt.Errorf("compiling config schema: %w", err)
	}

	// The schema validates the generic JSON shape of the config.
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("config does not match schema: %w", err)
	}

	seen := make(map[string]string, len(cfg.Backends))
	for i, b := range cfg.Backends {
		label := b.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		u, err := url.Parse(b.URL)
		if err != nil {
			return fmt.Errorf("backend %s: invalid url: %w", label, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("backend %s: url %q must be an absolute http(s) URL", label, b.URL)
		}
		key := strings.TrimRight(b.URL, "/")
		if other, dup := seen[key]; dup {
			return fmt.Errorf("backends %s and %s share url %q", other, label, key)
		}
		seen[key] = label
		if err := b.Auth.Validate(); err != nil {
			return fmt.Errorf("backend %s: %w", label, err)
		}
	}

	return nil
}

func normalizeConfig(cfg *Config) {
	for i := range cfg.Backends {
		cfg.Backends[i].URL = strings.TrimRight(strings.TrimSpace(cfg.Backends[i].URL), "/")
	}
}
