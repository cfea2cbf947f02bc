package histogram

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/nvandessel/simrun/internal/selection"
)

func TestByLength(t *testing.T) {
	// Two events passed the event cut and three hits the hit cut.
	equal := selection.Result{
		"ev": {0, 3},
		"w":  {0, 0},
		"eh": {5, 3, 2},
		"wh": {0, 0, 0},
	}
	// Event and hit series happen to have the same length.
	clash := selection.Result{
		"ev": {0, 3},
		"w":  {0, 0},
		"eh": {5, 3},
		"wh": {0, 0},
	}

	tests := []struct {
		name  string
		res   selection.Result
		field string
		want  string
	}{
		{"flat field uses event weight", equal, "ev", "w"},
		{"hit field uses hit weight", equal, "eh", "wh"},
		{"equal lengths pick event weight for hit field", clash, "eh", "w"},
	}

	sel := ByLength("w", "wh")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sel(tt.res, tt.field)
			if err != nil {
				t.Fatalf("selector error = %v", err)
			}
			if got != tt.want {
				t.Errorf("selector(%s) = %q, want %q", tt.field, got, tt.want)
			}
		})
	}
}

func TestByLength_Missing(t *testing.T) {
	sel := ByLength("w", "wh")

	if _, err := sel(selection.Result{"ev": {1}}, "eh"); !errors.Is(err, ErrPrecondition) {
		t.Errorf("unknown field error = %v, want ErrPrecondition", err)
	}
	if _, err := sel(selection.Result{"eh": {1, 2}, "w": {0}}, "eh"); !errors.Is(err, ErrPrecondition) {
		t.Errorf("no hit weight error = %v, want ErrPrecondition", err)
	}
}

func TestExplicit(t *testing.T) {
	res := selection.Result{
		"ev": {0, 3},
		"w":  {0, 0},
		"eh": {5, 3},
		"wh": {1, 1},
	}
	sel := Explicit(map[string]string{"eh": "wh"}, DefaultWeights())

	if got, _ := sel(res, "eh"); got != "wh" {
		t.Errorf("mapped field weight = %q, want wh", got)
	}
	if got, _ := sel(res, "ev"); got != "w" {
		t.Errorf("fallback weight = %q, want w", got)
	}
	if _, err := Explicit(map[string]string{"eh": "wh"}, nil)(res, "ev"); !errors.Is(err, ErrPrecondition) {
		t.Errorf("unmapped without fallback error = %v, want ErrPrecondition", err)
	}
	if _, err := Explicit(map[string]string{"eh": "nope"}, nil)(res, "eh"); !errors.Is(err, ErrPrecondition) {
		t.Errorf("missing mapped series error = %v, want ErrPrecondition", err)
	}
}

func TestBuild_ExpWeights(t *testing.T) {
	res := selection.Result{
		"eh": {0.5, 1.5, 2.5, 3.5},
		"wh": {0, math.Log(2), math.Log(3), 0},
		"w":  {0},
	}

	h, err := Build(res, "eh", Options{Bins: 4, Range: &[2]float64{0, 4}})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if h.WeightField != "wh" {
		t.Errorf("WeightField = %q, want wh", h.WeightField)
	}
	approx := cmpopts.EquateApprox(0, 1e-12)
	if diff := cmp.Diff([]float64{1, 2, 3, 1}, h.Counts, approx); diff != "" {
		t.Errorf("Counts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0, 1, 2, 3, 4}, h.Edges); diff != "" {
		t.Errorf("Edges mismatch (-want +got):\n%s", diff)
	}
	if math.Abs(h.Integral-7) > 1e-12 {
		t.Errorf("Integral = %v, want 7", h.Integral)
	}
	if h.Entries != 4 {
		t.Errorf("Entries = %d, want 4", h.Entries)
	}
	if h.H1D == nil || h.H1D.Len() != 4 {
		t.Error("H1D should hold the same binning")
	}
}

func TestBuild_EventWeightBranch(t *testing.T) {
	res := selection.Result{
		"ev": {0, 3},
		"w":  {math.Log(4), 0},
		"eh": {5, 3, 2},
		"wh": {0, 0, 0},
	}

	h, err := Build(res, "ev", Options{Bins: 2, Range: &[2]float64{0, 4}})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if h.WeightField != "w" {
		t.Errorf("WeightField = %q, want w", h.WeightField)
	}
	approx := cmpopts.EquateApprox(0, 1e-12)
	if diff := cmp.Diff([]float64{4, 1}, h.Counts, approx); diff != "" {
		t.Errorf("Counts mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_RangeSemantics(t *testing.T) {
	res := selection.Result{
		"r":  {-1, 0, 0.5, 1.999, 2, 2.5, math.NaN()},
		"wh": {0, 0, 0, 0, 0, 0, 0},
	}

	h, err := Build(res, "r", Options{Bins: 2, Range: &[2]float64{0, 2}, Weights: ByLength("w", "wh")})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	// -1, 2.5 and NaN are dropped; 2 lands in the last bin.
	if diff := cmp.Diff([]float64{2, 2}, h.Counts); diff != "" {
		t.Errorf("Counts mismatch (-want +got):\n%s", diff)
	}
	if h.Entries != 4 {
		t.Errorf("Entries = %d, want 4", h.Entries)
	}
	if h.Integral != 4 {
		t.Errorf("Integral = %v, want 4", h.Integral)
	}
}

func TestBuild_DefaultRange(t *testing.T) {
	res := selection.Result{
		"ev": {2, 4, 6, 10},
		"w":  {0, 0, 0, 0},
	}

	h, err := Build(res, "ev", Options{Bins: 4})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if diff := cmp.Diff([]float64{2, 4, 6, 8, 10}, h.Edges); diff != "" {
		t.Errorf("Edges mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{1, 1, 1, 1}, h.Counts); diff != "" {
		t.Errorf("Counts mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_DegenerateRange(t *testing.T) {
	res := selection.Result{
		"ev": {3, 3},
		"w":  {0, 0},
	}

	h, err := Build(res, "ev", Options{Bins: 1})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if diff := cmp.Diff([]float64{2.5, 3.5}, h.Edges); diff != "" {
		t.Errorf("Edges mismatch (-want +got):\n%s", diff)
	}
	if h.Counts[0] != 2 {
		t.Errorf("Counts[0] = %v, want 2", h.Counts[0])
	}
}

func TestBuild_DefaultBins(t *testing.T) {
	res := selection.Result{"ev": {1, 2}, "w": {0, 0}}

	h, err := Build(res, "ev", Options{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(h.Counts) != 50 || len(h.Edges) != 51 {
		t.Errorf("got %d bins and %d edges, want 50 and 51", len(h.Counts), len(h.Edges))
	}
}

func TestBuild_EmptySeries(t *testing.T) {
	res := selection.Result{"ev": {}, "w": {}}

	h, err := Build(res, "ev", Options{Bins: 2})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if h.Entries != 0 || h.Integral != 0 {
		t.Errorf("Entries = %d, Integral = %v, want zero", h.Entries, h.Integral)
	}
}

func TestBuild_Errors(t *testing.T) {
	res := selection.Result{"ev": {1, 2}, "w": {0, 0}, "eh": {1}, "wh": {0, 0}}

	tests := []struct {
		name  string
		res   selection.Result
		field string
		opts  Options
		isPre bool
	}{
		{name: "nil result", res: nil, field: "ev", isPre: true},
		{name: "unknown field", res: res, field: "xh", isPre: true},
		{name: "weight length mismatch", res: res, field: "eh"},
		{name: "inverted range", res: res, field: "ev", opts: Options{Range: &[2]float64{2, 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.res, tt.field, tt.opts)
			if err == nil {
				t.Fatal("Build() should fail")
			}
			if tt.isPre && !errors.Is(err, ErrPrecondition) {
				t.Errorf("Build() error = %v, want ErrPrecondition", err)
			}
		})
	}
}
