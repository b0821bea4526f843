package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AkiEpisode is an acute kidney injury episode tracked via a creatinine
// trend. Status is either asserted by the clinician or computed from the
// readings; the two are cross-checked on every create and update.
type AkiEpisode struct {
	ID          uuid.UUID     `json:"id"`
	SubjectID   uuid.UUID     `json:"subject_id"`
	Status      AkiStatus     `json:"status"`
	Creatinines []*LabReading `json:"creatinines,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Validate ensures the episode's status and readings are structurally
// sound before any decision logic runs.
func (a *AkiEpisode) Validate(now time.Time) error {
	if a.Status != "" && !a.Status.IsValid() {
		return fmt.Errorf("aki episode validation: %w: %q", ErrInvalidStatus, a.Status)
	}
	for _, c := range a.Creatinines {
		if c.Kind != CREATININE {
			return fmt.Errorf("aki episode validation: reading %s is not a creatinine", c.ID)
		}
		if err := c.Validate(now); err != nil {
			return fmt.Errorf("aki episode validation: %w", err)
		}
	}
	return nil
}

// CkdDetail captures the chronic kidney disease particulars attached to
// a patient's medical history. The dialysis fields and the stage are
// interdependent: dialysis implies stage V with both dialysis fields
// populated, and no dialysis means both dialysis fields are empty.
type CkdDetail struct {
	Dialysis         bool             `json:"dialysis"`
	DialysisType     DialysisType     `json:"dialysis_type,omitempty"`
	DialysisDuration DialysisDuration `json:"dialysis_duration,omitempty"`
	Stage            Stage            `json:"stage"`
}

// Validate enforces the dialysis/stage invariant.
func (d *CkdDetail) Validate() error {
	if !d.Stage.IsValid() {
		return fmt.Errorf("ckd detail validation: %w: %d", ErrInvalidStage, d.Stage)
	}
	if d.Dialysis {
		if d.Stage != StageV {
			return fmt.Errorf("ckd detail validation: stage must be 5 if dialysis is true, got %s", d.Stage)
		}
		if !d.DialysisType.IsValid() {
			return fmt.Errorf("ckd detail validation: dialysis type is required if dialysis is true")
		}
		if !d.DialysisDuration.IsValid() {
			return fmt.Errorf("ckd detail validation: dialysis duration is required if dialysis is true")
		}
	} else {
		if d.DialysisType != "" || d.DialysisDuration != "" {
			return fmt.Errorf("ckd detail validation: dialysis type and duration must be empty if dialysis is false")
		}
	}
	return nil
}

// GoutDetail carries the gout history flags a clinician has asserted.
// Tri-state flags (nil = never assessed) are pointers; the remaining
// flags default to false.
type GoutDetail struct {
	Flaring        *bool `json:"flaring"`
	AtGoal         *bool `json:"at_goal"`
	AtGoalLongTerm bool  `json:"at_goal_long_term"`
	Hyperuricemic  *bool `json:"hyperuricemic"`
	OnPpx          bool  `json:"on_ppx"`
	OnUlt          bool  `json:"on_ult"`
	StartingUlt    bool  `json:"starting_ult"`
}

// Validate enforces that long-term goal attainment implies current goal
// attainment.
func (g *GoutDetail) Validate() error {
	if g.AtGoalLongTerm && (g.AtGoal == nil || !*g.AtGoal) {
		return fmt.Errorf("gout detail validation: at goal long term requires at goal to be true")
	}
	return nil
}

// PatientSnapshot is everything the repository materializes up front for
// one evaluation: demographics, the chronic-condition details, and the
// relevant lab series. All decision services consume this snapshot; none
// of them perform I/O mid-computation.
type PatientSnapshot struct {
	SubjectID          uuid.UUID        `json:"subject_id"`
	Age                *int             `json:"age,omitempty"`
	Gender             *Gender          `json:"gender,omitempty"`
	BaselineCreatinine *decimal.Decimal `json:"baseline_creatinine,omitempty"`
	CkdDetail          *CkdDetail       `json:"ckd_detail,omitempty"`
	HasGoutHistory     bool             `json:"has_gout_history"`
	GoutDetail         *GoutDetail      `json:"gout_detail,omitempty"`
	GoalUrate          GoalUrate        `json:"goal_urate"`
	Urates             []*LabReading    `json:"urates,omitempty"`
	Creatinines        []*LabReading    `json:"creatinines,omitempty"`
	Aki                *AkiEpisode      `json:"aki,omitempty"`
}

// PpxDecision is the outcome of one prophylaxis evaluation, including
// the intermediate classifications that produced it.
type PpxDecision struct {
	SubjectID     uuid.UUID  `json:"subject_id"`
	Indication    Indication `json:"indication"`
	Hyperuricemic bool       `json:"hyperuricemic"`
	AtGoal        bool       `json:"at_goal"`
	RecentUrate   bool       `json:"recent_urate"`
	Discrepancy   string     `json:"discrepancy,omitempty"`
	EvaluatedAt   time.Time  `json:"evaluated_at"`
}

// GoutDetailChanges is the flag-refresh plan computed alongside a Ppx
// evaluation. Changes are applied only when a urate was drawn recently
// enough that the lab trend should override clinician-entered state.
type GoutDetailChanges struct {
	AtGoal         *bool `json:"at_goal,omitempty"`
	AtGoalLongTerm *bool `json:"at_goal_long_term,omitempty"`
	Hyperuricemic  *bool `json:"hyperuricemic,omitempty"`
}

// IsEmpty reports whether the plan would change nothing.
func (c *GoutDetailChanges) IsEmpty() bool {
	return c == nil || (c.AtGoal == nil && c.AtGoalLongTerm == nil && c.Hyperuricemic == nil)
}

// AgeAt converts a date of birth into whole years at the given time.
func AgeAt(dateOfBirth, now time.Time) int {
	age := now.Year() - dateOfBirth.Year()
	if now.YearDay() < dateOfBirth.YearDay() {
		age--
	}
	return age
}
