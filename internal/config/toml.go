// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/verte-zerg/napfilter/internal/schema"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Clean   CleanConfig         `toml:"clean"`
	Schemas []schema.Definition `toml:"schema"`
}

// CleanConfig maps cleaning-related settings.
type CleanConfig struct {
	Schema          *string `toml:"schema"`
	NapMin          *string `toml:"nap-min"`
	ShortInactivity *string `toml:"short-inactivity"`
	History         *bool   `toml:"history"`
	DB              *string `toml:"db"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return FileConfig{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	return cfg, nil
}

// Registry builds the schema registry from the built-in variants and the
// config's custom ones.
func (c FileConfig) Registry() (*schema.Registry, error) {
	reg, err := schema.NewRegistry(c.Schemas...)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return reg, nil
}
