// Package render draws histograms and derives the axis and legend labels the
// analysis plots use.
package render

import (
	"fmt"
	"strconv"
	"strings"

	"go-hep.org/x/hep/hplot"
	"gonum.org/v1/plot/vg"

	"github.com/nvandessel/simrun/internal/constants"
	"github.com/nvandessel/simrun/internal/histogram"
)

// Default canvas size.
const (
	Width  = 6 * vg.Inch
	Height = 4 * vg.Inch
)

// AxisLabel returns the x-axis label for a field.
func AxisLabel(field string) string {
	switch field {
	case constants.FieldRadius:
		return "radius (mm)"
	case constants.FieldPrimaryX, constants.FieldHitX:
		return "x (mm)"
	case constants.FieldPrimaryY, constants.FieldHitY:
		return "y (mm)"
	case constants.FieldPrimaryZ, constants.FieldHitZ:
		return "z (mm)"
	case constants.FieldHitEnergy, "e":
		return "Energy (keV)"
	}
	return field
}

// IonLabel builds a legend label such as "ion: ^{241}Am" from the source's
// "Z A" ion setting. It returns "" when the run does not use an ion source.
func IonLabel(settings map[string]any) string {
	gps, _ := settings["gps_settings"].(map[string]any)
	ion, _ := gps["ion"].(string)
	fields := strings.Fields(ion)
	if len(fields) < 2 || ion == constants.NoneValue {
		return ""
	}
	z, err := strconv.Atoi(fields[0])
	if err != nil {
		return ""
	}
	a, err := strconv.Atoi(fields[1])
	if err != nil {
		return ""
	}
	sym, ok := Symbol(z)
	if !ok {
		return ""
	}
	return fmt.Sprintf("ion: ^{%d}%s", a, sym)
}

// SaveHistogram draws h as a step histogram and writes it to path. The image
// format follows the file extension (png, svg, pdf, ...).
func SaveHistogram(h *histogram.Histogram, path, title, legend string) error {
	if h == nil || h.H1D == nil {
		return fmt.Errorf("%w: no histogram to draw", histogram.ErrPrecondition)
	}

	p := hplot.New()
	p.Title.Text = title
	p.X.Label.Text = AxisLabel(h.Field)
	p.Y.Label.Text = "Counts"

	hh := hplot.NewH1D(h.H1D)
	p.Add(hh)
	if legend != "" {
		p.Legend.Add(legend, hh)
		p.Legend.Top = true
	}

	if err := p.Save(Width, Height, path); err != nil {
		return fmt.Errorf("could not save plot to %s: %w", path, err)
	}
	return nil
}
