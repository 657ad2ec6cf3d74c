package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	projectConfigName = "workgraph.yaml"
	homeConfigName    = "config.yaml"
)

// Config is the optional YAML configuration file. Flags override it.
type Config struct {
	Workers           int             `yaml:"workers,omitempty"`
	ContinueOnFailure bool            `yaml:"continue_on_failure,omitempty"`
	EventBatch        int             `yaml:"event_batch,omitempty"`
	EventsDB          string          `yaml:"events_db,omitempty"`
	OTLPEndpoint      string          `yaml:"otlp_endpoint,omitempty"`
	LogLevel          string          `yaml:"log_level,omitempty"`
	LogFormat         string          `yaml:"log_format,omitempty"`
	Retention         RetentionConfig `yaml:"retention,omitempty"`
}

// RetentionConfig bounds what the events database keeps.
type RetentionConfig struct {
	MaxAge    time.Duration `yaml:"max_age,omitempty"`
	MaxEvents int           `yaml:"max_events,omitempty"`
}

// DiscoverConfigPath resolves the config location with first-match semantics.
func DiscoverConfigPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = ""
	}
	return DiscoverConfigPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverConfigPathFrom is a testable variant of DiscoverConfigPath.
func DiscoverConfigPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	explicit := strings.TrimSpace(explicitPath)
	if explicit != "" {
		candidates = append(candidates, filepath.Clean(explicit))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		if homeDir != "" {
			candidates = append(candidates, filepath.Join(homeDir, ".workgraph", homeConfigName))
		}
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if explicit != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// LoadConfig reads the YAML config file at path.
func LoadConfig(path string) (Config, error) {
	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
	}
	return cfg, nil
}

// commandConfig discovers and loads the config for cmd. A missing default
// config yields the zero Config.
func commandConfig(cmd *cobra.Command) (Config, error) {
	explicit, _ := cmd.Flags().GetString("config")
	path, found, err := DiscoverConfigPath(explicit)
	if err != nil {
		return Config{}, exitError(exitBadFlags, "%v", err)
	}
	if !found {
		return Config{}, nil
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return Config{}, exitError(exitBadFlags, "%v", err)
	}
	return cfg, nil
}
