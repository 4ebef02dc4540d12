package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// runtimeYAMLFile is the main configuration file inside the config directory.
const runtimeYAMLFile = "dialogkit.yaml"

// flowsSubdir holds additional per-flow YAML files.
const flowsSubdir = "flows"

// dialogkitYAML represents the complete dialogkit.yaml file structure.
type dialogkitYAML struct {
	RuntimeConfig `yaml:",inline"`
	Flows         map[string]FlowDefinition `yaml:"flows,omitempty"`
}

// Initialize loads, merges, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load dialogkit.yaml (runtime options + inline flows)
//  2. Expand environment variables
//  3. Merge user options over built-in defaults
//  4. Load flows/*.yaml definition files
//  5. Build the flow registry
//  6. Validate all configuration
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized successfully",
		"flows", cfg.Flows.Len(),
		"max_stack_depth", cfg.Runtime.FlowManagement.MaxStackDepth)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	main, err := loadMainYAML(configDir)
	if err != nil {
		return nil, err
	}

	// User options override built-in defaults; unset fields keep defaults.
	runtime := main.RuntimeConfig
	if err := mergo.Merge(&runtime, DefaultRuntimeConfig()); err != nil {
		return nil, fmt.Errorf("merging runtime defaults: %w", err)
	}

	flows := make(map[string]*FlowDefinition, len(main.Flows))
	for name, def := range main.Flows {
		defCopy := def
		if defCopy.Name == "" {
			defCopy.Name = name
		}
		flows[name] = &defCopy
	}

	// Per-flow files override inline definitions with the same name.
	fileFlows, err := loadFlowFiles(filepath.Join(configDir, flowsSubdir))
	if err != nil {
		return nil, err
	}
	for name, def := range fileFlows {
		flows[name] = def
	}

	return &Config{
		configDir: configDir,
		Runtime:   &runtime,
		Flows:     NewFlowRegistry(flows),
	}, nil
}

func loadMainYAML(configDir string) (*dialogkitYAML, error) {
	path := filepath.Join(configDir, runtimeYAMLFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(runtimeYAMLFile, ErrConfigNotFound)
		}
		return nil, NewLoadError(runtimeYAMLFile, err)
	}

	data = ExpandEnv(data)

	var out dialogkitYAML
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, NewLoadError(runtimeYAMLFile, fmt.Errorf("%w: %w", ErrInvalidYAML, err))
	}
	return &out, nil
}

// flowsYAML is the structure of a file under flows/.
type flowsYAML struct {
	Flows map[string]FlowDefinition `yaml:"flows"`
}

func loadFlowFiles(dir string) (map[string]*FlowDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // flows/ directory is optional
		}
		return nil, NewLoadError(flowsSubdir, err)
	}

	out := map[string]*FlowDefinition{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, NewLoadError(entry.Name(), err)
		}
		data = ExpandEnv(data)

		var file flowsYAML
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, NewLoadError(entry.Name(), fmt.Errorf("%w: %w", ErrInvalidYAML, err))
		}
		for name, def := range file.Flows {
			defCopy := def
			if defCopy.Name == "" {
				defCopy.Name = name
			}
			out[name] = &defCopy
		}
	}
	return out, nil
}
