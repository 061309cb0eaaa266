package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vergegrid/gridkeeper/internal/config"
	"gopkg.in/yaml.v3"
)

var (
	configInitPath  string
	configInitForce bool
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the gridkeeper configuration file. Subcommands write a default
config or display the effective one.`,
		Example: `  gridkeeper config init
  gridkeeper config show`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
	)

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Write a configuration file populated with the defaults. Without --path the
file goes to the user config directory, where it is auto-discovered on
later runs.`,
		Example: `  gridkeeper config init
  gridkeeper config init --path ./gridkeeper.yaml
  gridkeeper config init --force`,
		RunE: configInitRun,
	}

	cmd.Flags().StringVar(&configInitPath, "path", "", "where to write the config (default: user config dir)")
	cmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")

	return cmd
}

func configInitRun(cmd *cobra.Command, args []string) error {
	path := configInitPath
	if path == "" {
		var err error
		path, err = config.DefaultConfigPath()
		if err != nil {
			return err
		}
	}

	if _, err := os.Stat(path); err == nil && !configInitForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := config.Save(config.DefaultConfig(), path); err != nil {
		return err
	}

	fmt.Printf("Wrote %s\n", path)
	return nil
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the effective configuration in YAML format: the loaded config file
if one was found, otherwise the defaults, with any command-line overrides
applied.`,
		Example: `  gridkeeper config show
  gridkeeper config show --config ./gridkeeper.yaml`,
		RunE: configShowRun,
	}

	return cmd
}

func configShowRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	data, err := yaml.Marshal(globalCfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println(string(data))

	return nil
}
