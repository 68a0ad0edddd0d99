// Package config loads the YAML runtime configuration: store location,
// node identity, publisher tuning, and conflict severity policy.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/prepline/manifest/internal/causality"
	"github.com/prepline/manifest/internal/outbox"
)

// Config is the full runtime configuration. Every field has a usable
// default; a missing config file means "all defaults".
type Config struct {
	Store     Store          `yaml:"store"`
	Node      Node           `yaml:"node"`
	Publisher outbox.Config  `yaml:"publisher"`
	Conflicts ConflictPolicy `yaml:"conflicts"`
}

// Store locates the SQLite database.
type Store struct {
	Path string `yaml:"path"`
}

// Node identifies this process in vector clocks and outbox claims.
type Node struct {
	ID string `yaml:"id"`
}

// ConflictPolicy overrides severity grading per conflict type. Types not
// listed keep the default grading.
type ConflictPolicy struct {
	Severity map[string]causality.SeverityRule `yaml:"severity"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store:     Store{Path: "manifest.db"},
		Node:      Node{ID: defaultNodeID()},
		Publisher: outbox.Config{}.WithDefaults(),
	}
}

// Load reads a YAML config file and applies defaults for anything unset.
// An empty path returns Default unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.Publisher = cfg.Publisher.WithDefaults()
	if cfg.Store.Path == "" {
		cfg.Store.Path = "manifest.db"
	}
	if cfg.Node.ID == "" {
		cfg.Node.ID = defaultNodeID()
	}
	if _, err := cfg.Conflicts.Policy(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Policy materializes the conflict severity policy: the defaults with any
// configured overrides on top. Unknown types or severities are rejected
// rather than silently ignored.
func (c ConflictPolicy) Policy() (causality.Policy, error) {
	policy := causality.DefaultPolicy()
	for name, rule := range c.Severity {
		t := causality.ConflictType(name)
		if !t.Valid() {
			return nil, fmt.Errorf("unknown conflict type %q", name)
		}
		if !rule.Full.Valid() {
			return nil, fmt.Errorf("conflict type %q: unknown severity %q", name, rule.Full)
		}
		if !rule.Partial.Valid() {
			return nil, fmt.Errorf("conflict type %q: unknown severity %q", name, rule.Partial)
		}
		policy[t] = rule
	}
	return policy, nil
}

func defaultNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "local"
	}
	return host
}
