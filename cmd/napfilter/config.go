package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/verte-zerg/napfilter/internal/config"
	"github.com/verte-zerg/napfilter/internal/schema"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := ensureConfigFile(path); err != nil {
		return err
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

// ensureConfigFile writes the commented template unless a config exists.
func ensureConfigFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}
	return nil
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyBoolConfig(cmd *cobra.Command, name string, target, value *bool) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func absPath(path string) string {
	if path == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

func defaultConfigTemplate() string {
	hub := schema.Hub()
	return fmt.Sprintf(`# napfilter configuration
# Uncomment a value to enable it. CLI flags override config values.

[clean]
# schema = %q               # Input schema: hub, pro or a custom name below
# nap-min = %q               # Nap threshold, in the schema's duration format
# short-inactivity = %q      # Noise+silence threshold for a quiet row
# history = true              # Record runs in the history database
# db = "/path/to/history.db"  # History database location

# Custom schemas extend the built-in hub and pro layouts.
# Column indexes are zero-based. Print the built-ins with: napfilter schemas --toml
#
# [[schema]]
# name = "lab"
# encoding = "seconds"        # seconds or clock (HH:MM:SS)
# nap-min = "900"
# short-inactivity = "180"
# cvc-active-above = 10
# require-outputs = false
#
# [schema.columns]
# participant-id = 0
# age = 1
# duration = 2
# meaningful = 3
# distant = 4
# tv = 5
# noise = 6
# silence = 7
# awc-actual = 8
# ctc-actual = 9
# cvc-actual = 10
`,
		defaultSchema,
		hub.NapMin,
		hub.ShortInactivity,
	)
}
