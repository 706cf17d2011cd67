package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var configLocations = []string{"storm.yaml", "storm.yml", ".storm.yaml", ".storm.yml"}

// StormConfig represents the storm.yaml configuration structure
type StormConfig struct {
	Version string `yaml:"version"`
	Project string `yaml:"project"`

	Database struct {
		Driver         string `yaml:"driver"`
		URL            string `yaml:"url"`
		MaxConnections int    `yaml:"max_connections"`
		MaxIdle        int    `yaml:"max_idle"`
	} `yaml:"database"`

	Relations struct {
		File string `yaml:"file"`
		Glue string `yaml:"glue"`
	} `yaml:"relations"`

	Discovery struct {
		Schemas      []string `yaml:"schemas,omitempty"`
		Exclude      []string `yaml:"exclude,omitempty"`
		SingleColumn bool     `yaml:"single_column"`
	} `yaml:"discovery"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// DefaultStormConfig returns the configuration used when no file is found
func DefaultStormConfig() *StormConfig {
	config := &StormConfig{}
	config.applyDefaults()
	return config
}

func (c *StormConfig) applyDefaults() {
	if c.Version == "" {
		c.Version = "1"
	}
	if c.Database.MaxConnections == 0 {
		c.Database.MaxConnections = 25
	}
	if c.Relations.File == "" {
		c.Relations.File = "relations.yaml"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "warn"
	}
}

// LoadStormConfig reads the config at path, or the first of the default
// locations when path is empty. It returns nil without error when no file
// exists.
func LoadStormConfig(path string) (*StormConfig, error) {
	if path == "" {
		path = GetConfigPath()
		if path == "" {
			return nil, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config StormConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func GetConfigPath() string {
	if path := os.Getenv("STORM_CONFIG"); path != "" {
		return path
	}

	for _, loc := range configLocations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

func SaveStormConfig(config *StormConfig, path string) error {
	if path == "" {
		path = "storm.yaml"
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
