package main

import (
	"encoding/json"
	"fmt"
	"math"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nvandessel/simrun/internal/histogram"
	"github.com/nvandessel/simrun/internal/registry"
	"github.com/nvandessel/simrun/internal/render"
)

// histFlags are shared by hist and plot.
func addHistFlags(cmd *cobra.Command) {
	cmd.Flags().Int("bins", 0, "Number of bins (default from config)")
	cmd.Flags().Float64("min", math.NaN(), "Lower edge of the range (default data minimum)")
	cmd.Flags().Float64("max", math.NaN(), "Upper edge of the range (default data maximum)")
	cmd.Flags().Bool("all-files", false, "Load every output file instead of only the first")
}

// buildHistogram loads a run's output, applies the default selection and
// histograms field.
func buildHistogram(cmd *cobra.Command, a *app, id, field string) (*histogram.Histogram, error) {
	bins, _ := cmd.Flags().GetInt("bins")
	low, _ := cmd.Flags().GetFloat64("min")
	high, _ := cmd.Flags().GetFloat64("max")
	allFiles, _ := cmd.Flags().GetBool("all-files")

	rec := a.reg.Lookup(id)
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", registry.ErrNotFound, id)
	}
	if rec.Status == registry.StatusDeleted {
		return nil, fmt.Errorf("run %s is deleted", id)
	}

	files, err := runFiles(a, id, allFiles)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("run %s has no output files in %s", id, rec.OutputDir)
	}

	ds, err := a.loader().Load(cmd.Context(), files)
	if err != nil {
		return nil, err
	}
	res, err := a.engine().Apply(ds, nil, nil)
	if err != nil {
		return nil, err
	}

	if bins == 0 {
		bins = a.cfg.Histogram.Bins
	}
	opts := histogram.Options{Bins: bins, Weights: a.weights()}
	if !math.IsNaN(low) || !math.IsNaN(high) {
		if math.IsNaN(low) || math.IsNaN(high) {
			return nil, fmt.Errorf("--min and --max must be given together")
		}
		opts.Range = &[2]float64{low, high}
	}

	h, err := histogram.Build(res, field, opts)
	if err != nil {
		return nil, err
	}
	a.logger.Info("histogram", "run", id, "field", field, "weights", h.WeightField, "integral", h.Integral, "entries", h.Entries)
	return h, nil
}

func newHistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hist <id> <field>",
		Short: "Histogram a field of a run after the default selection",
		Long: `Load a run's output, apply the default event and hit selection, and
print the weighted histogram of one field.

Values are weighted by exp(weight). The event weight is used when its
series is as long as the field's, the hit weight otherwise.

Examples:
  simrun hist run_07 r --bins 40 --min 0 --max 80
  simrun hist run_07 eh --all-files --json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			h, err := buildHistogram(cmd, a, args[0], args[1])
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"run":          args[0],
					"field":        h.Field,
					"weight_field": h.WeightField,
					"counts":       h.Counts,
					"edges":        h.Edges,
					"integral":     h.Integral,
					"entries":      h.Entries,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s  %s  (weights: %s)\n", args[0], render.AxisLabel(h.Field), h.WeightField)
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LOW\tHIGH\tCOUNT")
			for i, c := range h.Counts {
				fmt.Fprintf(w, "%g\t%g\t%g\n", h.Edges[i], h.Edges[i+1], c)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "integral = %g  entries = %d\n", h.Integral, h.Entries)
			return nil
		},
	}

	addHistFlags(cmd)

	return cmd
}

func newPlotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plot <id> <field>",
		Short: "Draw the histogram of a field to an image file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			output, _ := cmd.Flags().GetString("output")
			label, _ := cmd.Flags().GetString("label")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			h, err := buildHistogram(cmd, a, args[0], args[1])
			if err != nil {
				return err
			}

			if label == "" {
				settings, err := a.reg.Settings(args[0], false)
				if err != nil {
					a.logger.Warn("reading settings for legend", "run", args[0], "error", err)
				}
				label = render.IonLabel(settings)
			}

			if err := render.SaveHistogram(h, output, args[0], label); err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"run":      args[0],
					"field":    h.Field,
					"output":   output,
					"integral": h.Integral,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "integral = %g\nPlot written to %s\n", h.Integral, output)
			return nil
		},
	}

	addHistFlags(cmd)
	cmd.Flags().StringP("output", "o", "hist.png", "Output image (.png, .svg, .pdf)")
	cmd.Flags().String("label", "", "Legend label (default derived from the ion source)")

	return cmd
}
