package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/verte-zerg/napfilter/internal/config"
	"github.com/verte-zerg/napfilter/internal/schema"
)

var schemasTOML bool

func newSchemasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schemas",
		Short: "List input schemas",
		Args:  cobra.NoArgs,
		RunE:  runSchemasCmd,
	}
	cmd.Flags().BoolVar(&schemasTOML, "toml", false, "print definitions as config TOML")
	return cmd
}

func runSchemasCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	reg, err := fileCfg.Registry()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if schemasTOML {
		doc := struct {
			Schemas []schema.Definition `toml:"schema"`
		}{Schemas: reg.Definitions()}
		if err := toml.NewEncoder(out).Encode(doc); err != nil {
			return fmt.Errorf("failed to encode schemas: %w", err)
		}
		return nil
	}

	for _, name := range reg.Names() {
		s, err := reg.Lookup(name)
		if err != nil {
			return err
		}
		outputs := "optional"
		if s.RequireOutputs {
			outputs = "required"
		}
		if _, err := fmt.Fprintf(out, "%-8s %-8s nap-min=%s short-inactivity=%s outputs=%s  %s\n",
			s.Name, s.Encoding.Name(), s.FormatDuration(s.NapMin), s.FormatDuration(s.ShortInactivity),
			outputs, s.Description); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}
