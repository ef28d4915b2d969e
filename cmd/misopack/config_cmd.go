package main

import (
	"fmt"
	"log/slog"

	"github.com/BadgerOps/misopack/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage misopack configuration. Subcommands allow viewing the effective
configuration and writing a starter config file.`,
		Example: `  misopack config show
  misopack config init ~/.config/misopack/misopack.yaml`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigInitCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration in YAML format. If a config file
is loaded, shows the loaded configuration on top of the defaults.`,
		Example: `  misopack config show
  misopack config show --config /etc/misopack/misopack.yaml`,
		Args: cobra.NoArgs,
		RunE: configShowRun,
	}

	return cmd
}

func configShowRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	log.Debug("showing configuration", "path", cfgPath)

	data, err := yaml.Marshal(globalCfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	source := cfgPath
	if source == "" {
		source = "(defaults)"
	}

	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Printf("# source: %s\n", source)
	fmt.Printf("# catalog database: %s\n", globalCfg.CatalogPath())
	fmt.Println(string(data))

	return nil
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default config file",
		Long: `Write the default configuration to path (misopack.yaml in the current
directory when omitted). An existing file is never overwritten.`,
		Example: `  misopack config init
  misopack config init /etc/misopack/misopack.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: configInitRun,
	}

	return cmd
}

func configInitRun(cmd *cobra.Command, args []string) error {
	path := "misopack.yaml"
	if len(args) > 0 {
		path = args[0]
	}

	if err := config.WriteDefault(path); err != nil {
		return err
	}

	slog.Default().Info("wrote default config", "path", path)
	fmt.Printf("Wrote default configuration to %s\n", path)
	return nil
}
