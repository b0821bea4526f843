// Package domain contains the core entities and types for gout-related
// clinical decision support: kidney function, acute kidney injury
// trajectories, chronic kidney disease staging, and gout flare
// prophylaxis indications derived from ACR guideline rules.
package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

// AkiStatus describes the trajectory of an acute kidney injury episode.
// The status is recomputed idempotently from the creatinine trend every
// time the readings change rather than transitioned step-wise.
type AkiStatus string

const (
	ONGOING   AkiStatus = "ongoing"
	IMPROVING AkiStatus = "improving"
	RESOLVED  AkiStatus = "resolved"
)

// Stage represents chronic kidney disease severity, derived from eGFR.
// StageNone is the empty sentinel used when no CKD stage applies.
type Stage int

const (
	StageNone Stage = 0
	StageI    Stage = 1
	StageII   Stage = 2
	StageIII  Stage = 3
	StageIV   Stage = 4
	StageV    Stage = 5
)

// Indication is the ternary outcome of the prophylaxis decision aid.
// It is a pure derived value, always recomputed from the gout detail
// and the urate series, never independently mutated.
type Indication int

const (
	NOTINDICATED Indication = 0
	CONDITIONAL  Indication = 1
	INDICATED    Indication = 2
)

// Gender selects the CKD-EPI equation coefficients.
type Gender string

const (
	MALE   Gender = "MALE"
	FEMALE Gender = "FEMALE"
)

// DialysisType enumerates renal replacement modalities.
type DialysisType string

const (
	HEMODIALYSIS DialysisType = "HEMODIALYSIS"
	PERITONEAL   DialysisType = "PERITONEAL"
)

// DialysisDuration buckets how long a patient has been on dialysis.
type DialysisDuration string

const (
	LESSTHANSIX  DialysisDuration = "LESSTHANSIX"
	LESSTHANYEAR DialysisDuration = "LESSTHANYEAR"
	MORETHANYEAR DialysisDuration = "MORETHANYEAR"
)

// GoalUrate is the target serum uric acid threshold used to judge gout
// control, in mg/dL. Callers pass it explicitly; helpers never fall back
// to an ambient default.
type GoalUrate int

const (
	GoalUrateSix  GoalUrate = 6
	GoalUrateFive GoalUrate = 5
)

// Sentinel errors for misuse of the decision services.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidStatus     = errors.New("invalid AKI status")
	ErrInvalidStage      = errors.New("invalid CKD stage")
	ErrInvalidIndication = errors.New("invalid prophylaxis indication")
)

// IsValid reports whether the status is one of the three AKI trajectories.
func (s AkiStatus) IsValid() bool {
	switch s {
	case ONGOING, IMPROVING, RESOLVED:
		return true
	default:
		return false
	}
}

// String returns the string representation of the status.
func (s AkiStatus) String() string {
	return string(s)
}

// IsValid reports whether the stage is I-V or the empty sentinel.
func (s Stage) IsValid() bool {
	return s >= StageNone && s <= StageV
}

// IsSet reports whether a stage has been assigned. StageNone counts as
// absent, mirroring the empty-string sentinel accepted at the API
// boundary.
func (s Stage) IsSet() bool {
	return s >= StageI && s <= StageV
}

// String returns the numeric form of the stage, e.g. "3". Used when
// interpolating stages into validation messages.
func (s Stage) String() string {
	if !s.IsSet() {
		return "unknown"
	}
	return [...]string{"1", "2", "3", "4", "5"}[s-1]
}

// Roman returns the conventional clinical notation for the stage.
func (s Stage) Roman() string {
	if !s.IsSet() {
		return "----"
	}
	return [...]string{"I", "II", "III", "IV", "V"}[s-1]
}

// IsValid reports whether the indication is one of the ternary outcomes.
func (i Indication) IsValid() bool {
	switch i {
	case NOTINDICATED, CONDITIONAL, INDICATED:
		return true
	default:
		return false
	}
}

// String returns the clinical label for the indication.
func (i Indication) String() string {
	switch i {
	case NOTINDICATED:
		return "Not Indicated"
	case CONDITIONAL:
		return "Conditionally Indicated"
	case INDICATED:
		return "Indicated"
	default:
		return "Unknown"
	}
}

// LogFields returns structured logging fields for decision audit trails.
func (i Indication) LogFields() map[string]any {
	return map[string]any{
		"indication":       i.String(),
		"is_valid":         i.IsValid(),
		"requires_action":  i == INDICATED,
		"conditional_only": i == CONDITIONAL,
	}
}

// IsValid reports whether the gender is a known CKD-EPI coefficient set.
func (g Gender) IsValid() bool {
	switch g {
	case MALE, FEMALE:
		return true
	default:
		return false
	}
}

// IsValid reports whether the dialysis type is a known modality.
func (d DialysisType) IsValid() bool {
	switch d {
	case HEMODIALYSIS, PERITONEAL:
		return true
	default:
		return false
	}
}

// IsValid reports whether the dialysis duration is a known bucket.
func (d DialysisDuration) IsValid() bool {
	switch d {
	case LESSTHANSIX, LESSTHANYEAR, MORETHANYEAR:
		return true
	default:
		return false
	}
}

// Value returns the goal urate threshold as a decimal in mg/dL.
func (g GoalUrate) Value() decimal.Decimal {
	return decimal.NewFromInt(int64(g))
}

// IsValid reports whether the goal urate is a supported target.
func (g GoalUrate) IsValid() bool {
	return g == GoalUrateSix || g == GoalUrateFive
}
