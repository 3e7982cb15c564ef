package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ardnew/microscpi/config"
	"github.com/ardnew/microscpi/pkg"
)

func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create, check and show configuration files",
	}

	// init and validate work on the file named by their argument, not on
	// --config, so they must not fail when --config is absent or broken.
	noLoad := func(cmd *cobra.Command, args []string) error { return nil }

	var force bool
	initCmd := &cobra.Command{
		Use:               "init PATH",
		Short:             "Write the default configuration",
		Args:              cobra.ExactArgs(1),
		PersistentPreRunE: noLoad,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%w: %s exists (use --force to overwrite)", pkg.ErrInvalidParameter, path)
			}
			if err := config.WriteDefaultConfig(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:               "validate PATH",
		Short:             "Check a configuration file",
		Args:              cobra.ExactArgs(1),
		PersistentPreRunE: noLoad,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.LoadConfig(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(opts.cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.AddCommand(initCmd, validateCmd, showCmd)
	return cmd
}
