package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LabKind identifies which analyte a reading measures.
type LabKind string

const (
	CREATININE LabKind = "CREATININE"
	URATE      LabKind = "URATE"
)

// Reference limits in mg/dL for each lab kind.
var (
	CreatinineLowerLimit = decimal.RequireFromString("0.74")
	CreatinineUpperLimit = decimal.RequireFromString("1.35")
	UrateLowerLimit      = decimal.RequireFromString("3.5")
	UrateUpperLimit      = decimal.RequireFromString("7.2")

	// Plausibility ceilings. Values above these are almost certainly
	// data-entry errors and are rejected at validation time.
	BaselineCreatinineMaxValue = decimal.NewFromInt(10)
	UrateMaxValue              = decimal.NewFromInt(30)
)

// UpperLimit returns the upper reference limit for the lab kind.
func (k LabKind) UpperLimit() decimal.Decimal {
	if k == CREATININE {
		return CreatinineUpperLimit
	}
	return UrateUpperLimit
}

// LowerLimit returns the lower reference limit for the lab kind.
func (k LabKind) LowerLimit() decimal.Decimal {
	if k == CREATININE {
		return CreatinineLowerLimit
	}
	return UrateLowerLimit
}

// LabReading is a single dated lab value. A reading belongs to exactly
// one subject (a patient) or exactly one episode (an AKI or a flare),
// never both. DateDrawn may be zero when the reading was reported as
// part of an episode without an exact draw date; FallbackDate then
// carries the owning episode's date.
type LabReading struct {
	ID           uuid.UUID       `json:"id"`
	Kind         LabKind         `json:"kind"`
	Value        decimal.Decimal `json:"value"`
	DateDrawn    time.Time       `json:"date_drawn"`
	FallbackDate time.Time       `json:"fallback_date,omitempty"`
	SubjectID    uuid.UUID       `json:"subject_id,omitempty"`
	EpisodeID    uuid.UUID       `json:"episode_id,omitempty"`
}

// EffectiveDate returns the reading's draw date, or the owning episode's
// fallback date when the draw date is absent. An error is returned when
// neither is available, since a dateless reading cannot participate in
// any trend computation.
func (r *LabReading) EffectiveDate() (time.Time, error) {
	if !r.DateDrawn.IsZero() {
		return r.DateDrawn, nil
	}
	if !r.FallbackDate.IsZero() {
		return r.FallbackDate, nil
	}
	return time.Time{}, fmt.Errorf("%s reading %s has no date drawn or episode date", r.Kind, r.ID)
}

// Validate enforces the structural invariants of a reading: a known
// kind, a positive value, a draw date not in the future, exclusive
// subject-or-episode ownership, and the per-kind plausibility ceiling.
func (r *LabReading) Validate(now time.Time) error {
	if r.Kind != CREATININE && r.Kind != URATE {
		return fmt.Errorf("lab reading validation: unknown lab kind %q", r.Kind)
	}
	if r.Value.Sign() <= 0 {
		return fmt.Errorf("lab reading validation: value must be positive, got %s", r.Value)
	}
	if !r.DateDrawn.IsZero() && r.DateDrawn.After(now) {
		return fmt.Errorf("lab reading validation: date drawn %s is in the future", r.DateDrawn.Format(time.RFC3339))
	}
	if r.SubjectID != uuid.Nil && r.EpisodeID != uuid.Nil {
		return fmt.Errorf("lab reading validation: reading %s belongs to both a subject and an episode", r.ID)
	}
	if r.Kind == URATE && r.Value.GreaterThan(UrateMaxValue) {
		return fmt.Errorf("lab reading validation: %s", UrateMaxValueMessage)
	}
	return nil
}

// Plausibility messages surfaced to callers verbatim.
const (
	BaselineCreatinineMaxValueMessage = "A baseline creatinine value greater than 10 mg/dL isn't very likely. " +
		"This would typically mean the patient is on dialysis."
	UrateMaxValueMessage = "Uric acid values above 30 mg/dL are very unlikely. " +
		"If this value is correct, an emergency medical evaluation is warranted."
)

// LabRef refers to a lab reading either by identity or by value. The
// reference is resolved once at the service boundary; core logic only
// ever sees hydrated readings.
type LabRef struct {
	ID      uuid.UUID
	Reading *LabReading
}

// ByID constructs a reference to an already-persisted reading.
func ByID(id uuid.UUID) LabRef {
	return LabRef{ID: id}
}

// ByValue constructs a reference carrying the reading itself.
func ByValue(r *LabReading) LabRef {
	return LabRef{Reading: r}
}

// IsHydrated reports whether the reference carries the reading.
func (ref LabRef) IsHydrated() bool {
	return ref.Reading != nil
}

// SortReadingsByDateDesc orders readings newest-first by effective date.
// Readings with no resolvable date produce an error rather than a silent
// arbitrary position.
func SortReadingsByDateDesc(readings []*LabReading) error {
	for _, r := range readings {
		if _, err := r.EffectiveDate(); err != nil {
			return err
		}
	}
	sort.SliceStable(readings, func(i, j int) bool {
		di, _ := readings[i].EffectiveDate()
		dj, _ := readings[j].EffectiveDate()
		return di.After(dj)
	})
	return nil
}
