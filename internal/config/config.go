// Package config provides unified configuration loading for simrun.
// It supports loading from YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/simrun/internal/constants"
	"github.com/nvandessel/simrun/internal/pathutil"
)

// RegistryFile is the registry document's file name inside the state directory.
const RegistryFile = "rundb.json"

// Config contains all simrun configuration settings.
type Config struct {
	// Registry selects where run records are stored.
	Registry RegistryConfig `json:"registry" yaml:"registry"`

	// Data configures how run output files are found and read.
	Data DataConfig `json:"data" yaml:"data"`

	// Selection configures the default event and hit cuts.
	Selection SelectionConfig `json:"selection" yaml:"selection"`

	// Histogram configures binning and weights.
	Histogram HistogramConfig `json:"histogram" yaml:"histogram"`

	// Backup configures registry snapshots.
	Backup BackupConfig `json:"backup" yaml:"backup"`

	// Logging contains settings for operational and audit logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// RegistryConfig configures the run registry store.
type RegistryConfig struct {
	// Backend is "json" (default), "sqlite" or "memory".
	Backend string `json:"backend" yaml:"backend" validate:"omitempty,oneof=json sqlite memory"`

	// Path is the registry file. Supports ${VAR} syntax.
	Path string `json:"path" yaml:"path" validate:"required_unless=Backend memory"`
}

// DataConfig configures output file discovery and loading.
type DataConfig struct {
	// Roots are the directories run outputs must live under to be removed on
	// delete. Empty disables the check. Supports ${VAR} syntax.
	Roots []string `json:"roots,omitempty" yaml:"roots,omitempty"`

	// Tree is the event tree name in ROOT files.
	Tree string `json:"tree" yaml:"tree" validate:"required"`

	// Extensions lists the output file extensions, in lower case with the dot.
	Extensions []string `json:"extensions" yaml:"extensions" validate:"min=1,dive,startswith=."`

	// Workers bounds parallel file reads.
	Workers int `json:"workers" yaml:"workers" validate:"gte=1,lte=64"`
}

// SelectionConfig configures the default cuts.
type SelectionConfig struct {
	// HitEnergyThreshold is the minimum hit energy in keV.
	HitEnergyThreshold float64 `json:"hit_energy_threshold" yaml:"hit_energy_threshold" validate:"gte=0"`

	ComptonField   string `json:"compton_field" yaml:"compton_field" validate:"required"`
	PhotoField     string `json:"photo_field" yaml:"photo_field" validate:"required"`
	TypeField      string `json:"type_field" yaml:"type_field" validate:"required"`
	HitEnergyField string `json:"hit_energy_field" yaml:"hit_energy_field" validate:"required"`

	// HitFields are the jagged fields with one entry per hit. They share the
	// hit mask; other jagged fields keep whole rows.
	HitFields []string `json:"hit_fields" yaml:"hit_fields"`
}

// HistogramConfig configures the weighted aggregator.
type HistogramConfig struct {
	// Bins is the default bin count.
	Bins int `json:"bins" yaml:"bins" validate:"gte=1"`

	// EventWeight and HitWeight name the log-weight series.
	EventWeight string `json:"event_weight" yaml:"event_weight" validate:"required"`
	HitWeight   string `json:"hit_weight" yaml:"hit_weight" validate:"required"`

	// Weights maps a field to its weight series by name. Fields not listed
	// fall back to choosing by series length.
	Weights map[string]string `json:"weights,omitempty" yaml:"weights,omitempty" validate:"omitempty,dive,keys,required,endkeys,required"`
}

// BackupConfig configures registry snapshots.
type BackupConfig struct {
	// Dir holds the snapshot files. Supports ${VAR} syntax.
	Dir string `json:"dir" yaml:"dir" validate:"required"`

	// Keep is how many snapshots are retained. Zero disables the automatic
	// snapshot taken before a run is deleted.
	Keep int `json:"keep" yaml:"keep" validate:"gte=0"`
}

// LoggingConfig configures simrun's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" and "trace" also write registry mutations to audit.jsonl.
	Level string `json:"level" yaml:"level" validate:"omitempty,oneof=info debug trace"`
}

var validate = validator.New()

// Default returns a Config with sensible defaults.
func Default() *Config {
	registryPath := RegistryFile
	backupDir := "backups"
	if dir, err := pathutil.StateDir(); err == nil {
		registryPath = filepath.Join(dir, RegistryFile)
		backupDir = filepath.Join(dir, "backups")
	}

	return &Config{
		Registry: RegistryConfig{
			Backend: "json",
			Path:    registryPath,
		},
		Data: DataConfig{
			Tree:       constants.EventTree,
			Extensions: append([]string(nil), constants.DefaultOutputExtensions...),
			Workers:    4,
		},
		Selection: SelectionConfig{
			HitEnergyThreshold: constants.HitEnergyThreshold,
			ComptonField:       constants.FieldComptonCount,
			PhotoField:         constants.FieldPhotoCount,
			TypeField:          constants.FieldEventType,
			HitEnergyField:     constants.FieldHitEnergy,
			HitFields:          append([]string(nil), constants.HitFields...),
		},
		Histogram: HistogramConfig{
			Bins:        constants.DefaultBins,
			EventWeight: constants.FieldWeight,
			HitWeight:   constants.FieldHitWeight,
		},
		Backup: BackupConfig{
			Dir:  backupDir,
			Keep: 10,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.simrun/config.yaml -> environment variables
func Load() (*Config, error) {
	config := Default()

	if dir, err := pathutil.StateDir(); err == nil {
		configPath := filepath.Join(dir, "config.yaml")
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadPath loads configuration from path instead of the default location,
// then applies environment overrides.
func LoadPath(path string) (*Config, error) {
	config, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Registry.Path = expandEnvVars(config.Registry.Path)
	config.Backup.Dir = expandEnvVars(config.Backup.Dir)
	for i, root := range config.Data.Roots {
		config.Data.Roots[i] = expandEnvVars(root)
	}

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: %q fails %s", fe.Namespace(), fmt.Sprint(fe.Value()), fe.Tag())
		}
		return err
	}

	for _, root := range c.Data.Roots {
		if !filepath.IsAbs(root) {
			return fmt.Errorf("data root must be absolute, got %q", root)
		}
	}
	for _, ext := range c.Data.Extensions {
		if ext != strings.ToLower(ext) {
			return fmt.Errorf("extension must be lower case, got %q", ext)
		}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) error {
	if v := os.Getenv("SIMRUN_REGISTRY_PATH"); v != "" {
		config.Registry.Path = v
	}

	if v := os.Getenv("SIMRUN_REGISTRY_BACKEND"); v != "" {
		config.Registry.Backend = v
	}

	if v := os.Getenv("SIMRUN_DATA_ROOT"); v != "" {
		config.Data.Roots = filepath.SplitList(v)
	}

	if v := os.Getenv("SIMRUN_LOAD_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SIMRUN_LOAD_WORKERS: %w", err)
		}
		config.Data.Workers = n
	}

	if v := os.Getenv("SIMRUN_HIT_ENERGY_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SIMRUN_HIT_ENERGY_THRESHOLD: %w", err)
		}
		config.Selection.HitEnergyThreshold = f
	}

	if v := os.Getenv("SIMRUN_BACKUP_DIR"); v != "" {
		config.Backup.Dir = v
	}

	if v := os.Getenv("SIMRUN_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	return nil
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
