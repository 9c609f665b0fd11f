package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lyricreel/internal/config"
	"lyricreel/internal/logging"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Locate or create the configuration file",
		// Neither subcommand needs the store.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.configPath = config.ResolvePath(a.configPath)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the configuration file lyricreelctl reads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), a.configPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, created, err := config.LoadOrCreate(a.configPath)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", a.configPath)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "config already exists at %s\n", a.configPath)
			}
			return nil
		},
	})
	return cmd
}

// watchConfig reloads the configuration file while a long-running command
// is active. Only the log level is applied live, and --log-level pins it.
func (a *app) watchConfig() (*config.Loader, error) {
	loader := config.NewLoader(a.configPath, a.log)
	if _, err := loader.Load(); err != nil {
		return nil, err
	}
	loader.OnChange(a.applyLogLevel)
	if err := loader.Watch(); err != nil {
		loader.Close()
		return nil, err
	}
	return loader, nil
}

func (a *app) applyLogLevel(cfg *config.Config) {
	if a.logLevel != "" {
		return
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		a.log.Warn("ignoring reloaded log level", "level", cfg.Logging.Level, "error", err)
		return
	}
	if level != a.log.Level() {
		a.log.SetLevel(level)
		a.log.Info("log level changed", "level", logging.LevelString(level))
	}
}
