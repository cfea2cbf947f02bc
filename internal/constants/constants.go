// Package constants provides named constants used throughout simrun.
// Field names mirror the columns written by the simulation's "ev" ntuple and
// must not be renamed.
package constants

// Event table layout
const (
	// EventTree is the name of the per-event table inside each output file.
	EventTree = "ev"

	// DefaultSettingsFile is the settings document name used when a run record
	// does not name one.
	DefaultSettingsFile = "settings.json"

	// NoneValue is written into run records for optional descriptors that do not apply.
	NoneValue = "None"
)

// Flat (one value per event) field names.
const (
	FieldEventID   = "ev"
	FieldWeight    = "w"
	FieldEventType = "type"
	FieldPrimaryX  = "xp"
	FieldPrimaryY  = "yp"
	FieldPrimaryZ  = "zp"
)

// Jagged (variable length per event) field names.
const (
	FieldHitEnergy    = "eh"
	FieldHitX         = "xh"
	FieldHitY         = "yh"
	FieldHitZ         = "zh"
	FieldHitWeight    = "wh"
	FieldHitID        = "id"
	FieldDetEnergy    = "edet"
	FieldDetHits      = "ndet"
	FieldPhotoCount   = "nphot"
	FieldComptonCount = "ncomp"
)

// FieldRadius is the derived radial distance, hypot(xh, yh).
const FieldRadius = "r"

// HitFields are the jagged fields holding one entry per hit. They share the
// hit mask; other jagged fields have their own multiplicity.
var HitFields = []string{FieldHitEnergy, FieldHitX, FieldHitY, FieldHitZ, FieldHitWeight, FieldHitID, FieldRadius}

// Selection defaults
const (
	// PrimaryEventType marks an event whose primary reached the detector directly.
	PrimaryEventType = 0

	// HitEnergyThreshold is the minimum hit energy in keV for a hit to survive selection.
	HitEnergyThreshold = 1.0

	// DefaultBins is the histogram bin count when none is requested.
	DefaultBins = 50
)

// DefaultOutputExtensions are the file extensions recognized as run output.
var DefaultOutputExtensions = []string{".root", ".arrow"}
