// Package config loads optional .gofhir.yaml defaults for cmd/gofhir, the
// yaml/cobra-flag layering pattern the rest of the retrieved pack uses:
// file values set defaults, explicit flags always win.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is the config file cmd/gofhir looks for in the current
// directory when no --config flag is given.
const DefaultFileName = ".gofhir.yaml"

// Config is the shape of .gofhir.yaml.
type Config struct {
	SpecsDir  string          `yaml:"specs_dir"`
	OutputDir string          `yaml:"output_dir"`
	Version   string          `yaml:"version"`
	Validator ValidatorConfig `yaml:"validator"`
}

// ValidatorConfig mirrors the subset of validator.ValidatorOptions that
// makes sense as a file-level default (booleans and the two numeric
// knobs) — service handles (TerminologyService, ValueSetRegistry) are
// runtime objects and have no YAML representation.
type ValidatorConfig struct {
	ValidateConstraints bool `yaml:"validate_constraints"`
	ValidateTerminology bool `yaml:"validate_terminology"`
	ValidateReferences  bool `yaml:"validate_references"`
	ValidateExtensions  bool `yaml:"validate_extensions"`
	SkipInvariants      bool `yaml:"skip_invariants"`
	SkipBindings        bool `yaml:"skip_bindings"`
	WarnOnUnknownFields bool `yaml:"warn_on_unknown_fields"`
	MaxDepth            int  `yaml:"max_depth"`
	StrictMode          bool `yaml:"strict_mode"`
	MaxErrors           int  `yaml:"max_errors"`
}

// Default returns the built-in defaults used when no config file exists.
func Default() Config {
	return Config{
		SpecsDir:  "./specs",
		OutputDir: "./pkg/fhir",
		Version:   "r4",
		Validator: ValidatorConfig{
			ValidateConstraints: true,
			ValidateExtensions:  true,
			WarnOnUnknownFields: true,
			MaxDepth:            100,
		},
	}
}

// Load reads and parses a .gofhir.yaml file at path. A missing file is not
// an error — it returns Default() unchanged, since the config file is
// entirely optional.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return cfg, nil
}

// LoadDefault loads DefaultFileName from the current directory.
func LoadDefault() (Config, error) {
	return Load(DefaultFileName)
}
