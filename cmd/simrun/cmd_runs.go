package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nvandessel/simrun/internal/registry"
	"github.com/nvandessel/simrun/internal/schemas"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Manage the run registry",
		Long: `List, register, inspect and delete simulation runs.

Examples:
  simrun runs list --all
  simrun runs add --settings prepared.json --output-dir /data/runs/run_07 -n 100000 --jobs 10
  simrun runs files run_07 --first
  simrun runs settings run_07 --normalize
  simrun runs delete run_03`,
	}

	cmd.AddCommand(
		newRunsListCmd(),
		newRunsShowCmd(),
		newRunsAddCmd(),
		newRunsStatusCmd(),
		newRunsDeleteCmd(),
		newRunsFilesCmd(),
		newRunsSettingsCmd(),
	)

	return cmd
}

func newRunsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			all, _ := cmd.Flags().GetBool("all")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			runs := a.reg.List(all)
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"runs":  runs,
					"count": len(runs),
				})
			}

			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs registered.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPARTICLE\tION\tENERGY\tEVENTS\tSTATUS\tOUTPUT")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					r.ID, r.Particle, r.Ion, r.Energy, r.NumEvents, r.Status, r.OutputDir)
			}
			return w.Flush()
		},
	}

	cmd.Flags().Bool("all", false, "Include deleted runs")

	return cmd
}

func newRunsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one run record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			rec := a.reg.Lookup(args[0])
			if rec == nil {
				return fmt.Errorf("%w: %s", registry.ErrNotFound, args[0])
			}
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(rec)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:            %s\n", rec.ID)
			fmt.Fprintf(out, "Status:        %s\n", rec.Status)
			fmt.Fprintf(out, "Particle:      %s\n", rec.Particle)
			fmt.Fprintf(out, "Ion:           %s\n", valueOrDefault(rec.Ion, "-"))
			fmt.Fprintf(out, "Energy:        %s\n", valueOrDefault(rec.Energy, "-"))
			fmt.Fprintf(out, "Source volume: %s\n", valueOrDefault(rec.SourceVolume, "-"))
			fmt.Fprintf(out, "Output dir:    %s\n", rec.OutputDir)
			fmt.Fprintf(out, "Output file:   %s\n", valueOrDefault(rec.OutputFile, "-"))
			fmt.Fprintf(out, "Events:        %d\n", rec.NumEvents)
			fmt.Fprintf(out, "Jobs:          %d\n", rec.NumJobs)
			fmt.Fprintf(out, "Random seed:   %d\n", rec.RandomSeed)
			fmt.Fprintf(out, "Settings:      %s\n", registry.SettingsPath(*rec))
			return nil
		},
	}
}

func newRunsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a prepared run",
		Long: `Register a run from its prepared settings document.

The settings document is validated, the record fields are taken from it,
and a copy is written to the output directory as settings.json unless one
is already there.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			settingsPath, _ := cmd.Flags().GetString("settings")
			outputDir, _ := cmd.Flags().GetString("output-dir")
			events, _ := cmd.Flags().GetInt64("events")
			jobs, _ := cmd.Flags().GetInt("jobs")

			if settingsPath == "" || outputDir == "" {
				return fmt.Errorf("--settings and --output-dir are required")
			}

			raw, err := os.ReadFile(settingsPath)
			if err != nil {
				return fmt.Errorf("failed to read settings: %w", err)
			}
			if err := schemas.ValidateSettings(raw); err != nil {
				return err
			}
			var settings map[string]any
			if err := json.Unmarshal(raw, &settings); err != nil {
				return fmt.Errorf("failed to parse settings: %w", err)
			}

			outputDir, err = filepath.Abs(outputDir)
			if err != nil {
				return err
			}
			rec, err := registry.NewRecord(settings, outputDir, events, jobs)
			if err != nil {
				return err
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			rec, err = a.reg.Add(cmd.Context(), rec)
			if err != nil {
				return fmt.Errorf("failed to register run: %w", err)
			}
			if err := copySettings(raw, registry.SettingsPath(rec)); err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(rec)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s) in %s\n", rec.ID, rec.Particle, rec.OutputDir)
			return nil
		},
	}

	cmd.Flags().String("settings", "", "Prepared settings document (JSON)")
	cmd.Flags().String("output-dir", "", "Directory the run writes its output files to")
	cmd.Flags().Int64P("events", "n", 0, "Number of events simulated")
	cmd.Flags().Int("jobs", 1, "Number of parallel jobs")

	return cmd
}

// copySettings writes raw to path unless a file already exists there.
func copySettings(raw []byte, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

func newRunsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <active|deleted>",
		Short: "Set a run's status without touching its data",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			status := registry.Status(args[1])
			if !status.Valid() {
				return fmt.Errorf("invalid status %q (valid: active, deleted)", args[1])
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.reg.SetStatus(cmd.Context(), args[0], status); err != nil {
				return err
			}
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"id": args[0], "status": string(status)})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[0], status)
			return nil
		},
	}
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Mark a run deleted and remove its output directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if a.reg.Lookup(args[0]) == nil {
				return fmt.Errorf("%w: %s", registry.ErrNotFound, args[0])
			}
			if err := a.snapshot(cmd.Context()); err != nil {
				return err
			}

			err = a.reg.Delete(cmd.Context(), args[0])
			var cleanup *registry.CleanupError
			switch {
			case errors.As(err, &cleanup):
				// The record is already marked deleted.
				if jsonOut {
					return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{
						"id":     args[0],
						"status": string(registry.StatusDeleted),
						"error":  cleanup.Error(),
					})
				}
				return err
			case err != nil:
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"id": args[0], "status": string(registry.StatusDeleted)})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func newRunsFilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files <id>",
		Short: "List a run's output files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			first, _ := cmd.Flags().GetBool("first")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			files, err := runFiles(a, args[0], !first)
			if err != nil {
				return err
			}
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{"id": args[0], "files": files})
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}

	cmd.Flags().Bool("first", false, "Only the first output file")

	return cmd
}

// runFiles returns the output files of an active run, or only the first one.
func runFiles(a *app, id string, all bool) ([]string, error) {
	if a.reg.Lookup(id) == nil {
		return nil, fmt.Errorf("%w: %s", registry.ErrNotFound, id)
	}
	if all {
		files, err := a.reg.OutputFiles(id)
		if err != nil {
			return nil, err
		}
		if files == nil {
			files = []string{}
		}
		return files, nil
	}
	f, ok, err := a.reg.FirstOutputFile(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []string{}, nil
	}
	return []string{f}, nil
}

func newRunsSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings <id>",
		Short: "Print a run's settings document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			normalize, _ := cmd.Flags().GetBool("normalize")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			settings, err := a.reg.Settings(args[0], normalize)
			if err != nil {
				return err
			}
			if settings == nil {
				return fmt.Errorf("no settings available for %s", args[0])
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "    ")
			return enc.Encode(settings)
		},
	}

	cmd.Flags().Bool("normalize", false, "Convert unit-suffixed values to mm and keV")

	return cmd
}

func valueOrDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
