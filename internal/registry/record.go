// Package registry keeps the persistent list of simulation runs: which
// output directory each run wrote to, how it was configured, and whether it
// has been deleted.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nvandessel/simrun/internal/constants"
)

// ErrNotFound is returned by mutators when no run has the requested id.
// Read-only lookups report absence with a nil result instead.
var ErrNotFound = errors.New("run not found")

// Status is the lifecycle state of a run.
type Status string

const (
	// StatusActive runs are listed and their data can be loaded.
	StatusActive Status = "active"

	// StatusDeleted runs stay in the registry for audit but are hidden from
	// default listings and their output directory has been removed.
	StatusDeleted Status = "deleted"
)

// Valid returns true if the status is a recognized value.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusDeleted:
		return true
	}
	return false
}

// RunRecord is one entry of the registry document. JSON names are shared
// with the job preparation tooling and must not change.
type RunRecord struct {
	ID           string `json:"id" validate:"required"`
	Particle     string `json:"particle" validate:"required"`
	Ion          string `json:"ion,omitempty"`
	Energy       string `json:"energy,omitempty"`
	SourceVolume string `json:"sourceVolume"`
	OutputDir    string `json:"outputDir" validate:"required"`
	OutputFile   string `json:"outputFile"`
	NumEvents    int64  `json:"numEvents" validate:"gte=0"`
	NumJobs      int    `json:"numJobs" validate:"gte=1"`
	RandomSeed   int64  `json:"randomSeed"`
	SettingsFile string `json:"settingsFile"`
	Status       Status `json:"status" validate:"oneof=active deleted"`

	// Extra holds keys this version does not know. They are written back
	// unchanged so other tools sharing the document keep their data.
	Extra map[string]json.RawMessage `json:"-"`
}

// recordFields is RunRecord without its JSON methods.
type recordFields RunRecord

// UnmarshalJSON decodes a record written by any version of the job
// preparation tooling. Text fields also accept numbers, booleans and null,
// which older tools wrote for energy and ion.
func (r *RunRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = RunRecord{}
	text := map[string]*string{
		"id":           &r.ID,
		"particle":     &r.Particle,
		"ion":          &r.Ion,
		"energy":       &r.Energy,
		"sourceVolume": &r.SourceVolume,
		"outputDir":    &r.OutputDir,
		"outputFile":   &r.OutputFile,
		"settingsFile": &r.SettingsFile,
		"status":       (*string)(&r.Status),
	}
	numbers := map[string]any{
		"numEvents":  &r.NumEvents,
		"numJobs":    &r.NumJobs,
		"randomSeed": &r.RandomSeed,
	}

	for key, value := range raw {
		if dst, ok := text[key]; ok {
			s, err := textValue(value)
			if err != nil {
				return fmt.Errorf("run record field %s: %w", key, err)
			}
			*dst = s
			continue
		}
		if dst, ok := numbers[key]; ok {
			if string(value) == "null" {
				continue
			}
			if err := json.Unmarshal(value, dst); err != nil {
				return fmt.Errorf("run record field %s: %w", key, err)
			}
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]json.RawMessage)
		}
		r.Extra[key] = value
	}
	return nil
}

// MarshalJSON encodes the known fields followed by any preserved extra keys.
func (r RunRecord) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(recordFields(r))
	if err != nil || len(r.Extra) == 0 {
		return data, err
	}

	merged := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for key, value := range r.Extra {
		if _, known := merged[key]; !known {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

// textValue reads a JSON scalar as text.
func textValue(value json.RawMessage) (string, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	}
	return "", fmt.Errorf("expected a string, got %s", value)
}

// Document is the on-disk shape of the registry.
type Document struct {
	Runs []RunRecord `json:"runs"`
}

// clone returns a deep copy of d.
func (d *Document) clone() *Document {
	if d == nil {
		return &Document{Runs: []RunRecord{}}
	}
	runs := make([]RunRecord, len(d.Runs))
	copy(runs, d.Runs)
	return &Document{Runs: runs}
}

// index returns the position of id in d.Runs or -1.
func (d *Document) index(id string) int {
	for i := range d.Runs {
		if d.Runs[i].ID == id {
			return i
		}
	}
	return -1
}

var validate = validator.New()

// Validate checks the record's required fields.
func (r RunRecord) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid run record %q: field %s failed %q", r.ID, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("invalid run record %q: %w", r.ID, err)
	}
	return nil
}

// FormatID renders the n-th run identifier.
func FormatID(n int) string {
	return fmt.Sprintf("run_%02d", n)
}

// parseID extracts the sequence number from a run_NN identifier.
func parseID(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, "run_")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// nextID returns the identifier for a new run. Deleted runs keep their
// entries, so the sequence never goes backwards.
func nextID(runs []RunRecord) string {
	highest := len(runs)
	for _, r := range runs {
		if n, ok := parseID(r.ID); ok && n > highest {
			highest = n
		}
	}
	return FormatID(highest + 1)
}

// NewRecord builds a run record from a prepared settings document the way
// the job preparation step does. The id and status are assigned by
// Registry.Add.
func NewRecord(settings map[string]any, outputDir string, numEvents int64, numJobs int) (RunRecord, error) {
	gps, ok := settings["gps_settings"].(map[string]any)
	if !ok {
		return RunRecord{}, fmt.Errorf("settings have no gps_settings section")
	}

	rec := RunRecord{
		Particle:     stringValue(gps["particle"]),
		Ion:          constants.NoneValue,
		Energy:       constants.NoneValue,
		OutputDir:    outputDir,
		NumEvents:    numEvents,
		NumJobs:      numJobs,
		SettingsFile: constants.DefaultSettingsFile,
	}

	if rec.Particle == "ion" {
		rec.Ion = stringValue(gps["ion"])
	}
	if e, ok := gps["energy"]; ok {
		rec.Energy = stringValue(e)
	}
	if stringValue(gps["posType"]) == "Volume" {
		rec.SourceVolume = stringValue(gps["posConfine"])
	}
	if rs, ok := settings["run_settings"].(map[string]any); ok {
		rec.OutputFile = stringValue(rs["outputFileName"])
	}
	if seed, ok := settings["randomSeed"].(float64); ok {
		rec.RandomSeed = int64(seed)
	}

	return rec, nil
}

func stringValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
