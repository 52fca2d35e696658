package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// dumpCmd represents the dump command
var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the attribute table of a device profile",
	Long: `Builds the attribute database of a device profile and prints one attribute per line:
handle, kind, permissions, type and value.

Examples:
  # Attribute table of the built-in profile
  gattsrv dump

  # Built-in profile as YAML, a starting point for a custom one
  gattsrv dump --yaml > device.yaml`,
	Args: cobra.NoArgs,
	RunE: runDump,
}

var dumpYAML bool

func init() {
	dumpCmd.Flags().BoolVar(&dumpYAML, "yaml", false, "Print the profile as YAML instead of the attribute table")
}

func runDump(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	p, err := loadProfile(cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	if dumpYAML {
		return p.Encode(out)
	}

	reg, err := p.Registration()
	if err != nil {
		return err
	}
	db, tokens := reg.Build()

	name := p.Name
	if name == "" {
		name = "profile"
	}
	color.New(color.Bold).Fprintf(out, "%s: %d attributes, %d services\n", name, db.Len(), len(db.Services()))
	if err := db.Dump(out); err != nil {
		return err
	}
	for token, h := range tokens.All() {
		color.New(color.Faint).Fprintf(out, "token %-16s 0x%04X\n", token, h)
	}
	return nil
}
