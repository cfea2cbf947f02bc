package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/simrun/internal/dataset"
)

func newConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <input>... <output.arrow>",
		Short: "Convert run output files to one Arrow IPC file",
		Long: `Read one or more output files (ROOT or Arrow) and write their
concatenated event table as an Arrow IPC file.

Example:
  simrun convert /data/runs/run_07/xams_0.root /data/runs/run_07/xams_1.root run_07.arrow`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			derive, _ := cmd.Flags().GetBool("derive")
			inputs, output := args[:len(args)-1], args[len(args)-1]

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			loader := dataset.NewLoader(cfg.Data.Tree, cfg.Data.Workers, nil)
			if !derive {
				loader.Derivers = nil
			}

			ds, err := loader.Load(cmd.Context(), inputs)
			if err != nil {
				return err
			}
			if err := dataset.WriteArrowFile(output, ds); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"output": output,
					"events": ds.Events(),
					"fields": ds.Fields(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d events (%d fields) to %s\n", ds.Events(), len(ds.Fields()), output)
			return nil
		},
	}

	cmd.Flags().Bool("derive", false, "Add derived fields such as r before writing")

	return cmd
}
