package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lungprep/pkg/config"
)

// ConfigCmd returns the configuration command group
func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration file management",
	}

	cmd.AddCommand(ConfigInitCmd())

	return cmd
}

// ConfigInitCmd returns the command that writes a default configuration file
func ConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigInit,
	}

	cmd.Flags().String("variant", config.VariantPrimary, "Preset: primary or isotropic")
	cmd.Flags().Bool("force", false, "Overwrite an existing file")

	return cmd
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	if len(args) == 1 {
		path = args[0]
	}
	variant, _ := cmd.Flags().GetString("variant")
	force, _ := cmd.Flags().GetBool("force")

	if _, err := os.Stat(path); err == nil && !force {
		return configError(fmt.Errorf("%s already exists, use --force to overwrite it", path))
	}

	if err := config.CreateDefaultConfigFile(path, variant); err != nil {
		if errors.Is(err, config.ErrInvalidConfig) {
			return configError(err)
		}
		return fatalError(err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "default %s configuration written to %s\n", variant, path)
	return nil
}
