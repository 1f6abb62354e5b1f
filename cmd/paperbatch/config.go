package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/paperbatch/internal/api"
	"github.com/jackzampolin/paperbatch/internal/config"
	"github.com/jackzampolin/paperbatch/internal/home"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config.yaml",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			h, err := home.New(homeDir)
			if err != nil {
				return err
			}
			path = h.ConfigPath()
		}
		if err := config.WriteDefault(path, configForce); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), api.Status(true, false, "wrote "+path))
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		cfg := *a.cfg
		cfg.Provider.APIKey = maskKey(cfg.ResolvedAPIKey())

		w := cmd.OutOrStdout()
		if !api.IsStructuredOutput() {
			source := a.cfgMgr.ConfigFile()
			if source == "" {
				source = "defaults (no config file found)"
			}
			fmt.Fprintln(w, api.Dim("# "+source))
		}
		return api.OutputTo(w, api.GetOutputFormat(), cfg)
	},
}

// maskKey keeps the last four characters of a secret.
func maskKey(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) <= 8:
		return strings.Repeat("*", len(key))
	default:
		return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
	}
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing config file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
}
