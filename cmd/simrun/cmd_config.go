package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/simrun/internal/pathutil"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect simrun configuration",
		Long: `View the effective simrun configuration.

Configuration is read from ~/.simrun/config.yaml (or --config), then
SIMRUN_* environment variables are applied.`,
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			shown := *cfg
			shown.Registry.Path = pathutil.RedactPath(cfg.Registry.Path)
			roots := make([]string, len(cfg.Data.Roots))
			for i, r := range cfg.Data.Roots {
				roots[i] = pathutil.RedactPath(r)
			}
			shown.Data.Roots = roots
			shown.Backup.Dir = pathutil.RedactPath(cfg.Backup.Dir)

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(shown)
			}

			data, err := yaml.Marshal(&shown)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), strings.TrimRight(string(data), "\n")+"\n")
			return nil
		},
	}
}
