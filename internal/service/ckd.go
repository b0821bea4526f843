package service

import (
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/gouthelper-server/internal/domain"
)

// CKD reconciliation validation messages, surfaced verbatim.
const (
	DialysisRequiredMessage = "Dialysis is a required field."

	ageGenderBaseMessage = "required to interpret a baseline creatinine (calculate a stage). " +
		"Please double check and try again."
	AgeAndGenderRequiredMessage = "Age and gender are " + ageGenderBaseMessage
	AgeRequiredMessage          = "Age is " + ageGenderBaseMessage
	GenderRequiredMessage       = "Gender is " + ageGenderBaseMessage
)

// CkdInput is one reconciliation request: the caller-supplied chronic
// kidney disease fields plus the demographics needed to interpret a
// baseline creatinine. A nil Dialysis means the field was not selected
// at all, which is distinct from an explicit false.
type CkdInput struct {
	Dialysis         *bool
	DialysisType     domain.DialysisType
	DialysisDuration domain.DialysisDuration
	Stage            domain.Stage
	Baseline         *decimal.Decimal
	Age              *int
	Gender           *domain.Gender
}

// CkdInitial is the persisted snapshot of the same fields, used for
// change detection so unchanged submissions do not generate spurious
// writes or audit entries.
type CkdInitial struct {
	Dialysis         *bool
	DialysisType     domain.DialysisType
	DialysisDuration domain.DialysisDuration
	Stage            domain.Stage
	Baseline         *decimal.Decimal
	Age              *int
	Gender           *domain.Gender
	HasDetail        bool
}

// CkdPlan is the reconciliation outcome: either a detail to persist
// (with an optional baseline value), a deletion of the existing detail
// and baseline, or a no-op.
type CkdPlan struct {
	Detail         *domain.CkdDetail
	Baseline       *decimal.Decimal
	DeleteDetail   bool
	DeleteBaseline bool
	// BaselineReset carries the value a stored baseline must be
	// restored to before deletion, so the storage layer's non-null
	// constraint is never violated mid-delete.
	BaselineReset *decimal.Decimal
	NoOp          bool
}

// CkdService reconciles dialysis state, an asserted CKD stage, and a
// baseline creatinine into one consistent detail record.
type CkdService struct {
	logger *logrus.Logger
}

// NewCkdService creates a CKD detail reconciliation service.
func NewCkdService(logger *logrus.Logger) *CkdService {
	return &CkdService{logger: logger}
}

// CalculatedStage derives the CKD stage from a baseline creatinine plus
// age and gender, or StageNone when any of the three is missing.
func (s *CkdService) CalculatedStage(baseline *decimal.Decimal, age *int, gender *domain.Gender) domain.Stage {
	if baseline == nil || age == nil || gender == nil {
		return domain.StageNone
	}
	return StageFromEGFR(EGFR(*baseline, *age, *gender))
}

// GetStage resolves the stage to persist from the dialysis flag, the
// asserted stage, and the calculated stage. Dialysis is a hard override
// to stage V. StageNone means no detail record is needed and any
// existing one is scheduled for deletion. A conflicting asserted and
// calculated stage reaching this point is a caller error; CheckForErrors
// must run first.
func (s *CkdService) GetStage(dialysis *bool, stage, calculated domain.Stage) (domain.Stage, error) {
	switch {
	case dialysis != nil && *dialysis:
		return domain.StageV, nil
	case dialysis == nil && !stage.IsSet():
		return domain.StageNone, nil
	case stage.IsSet() && calculated.IsSet() && stage != calculated:
		return domain.StageNone, domain.NewConfigurationError(
			"stage %s and calculated stage %s must be equal; validation should have rejected this input", stage, calculated)
	case stage.IsSet():
		return stage, nil
	case calculated.IsSet():
		return calculated, nil
	default:
		return domain.StageNone, nil
	}
}

// CheckForErrors validates one reconciliation request, collecting
// field-scoped messages. The baseline creatinine can only be
// interpreted when dialysis was explicitly answered and, when false,
// age and gender are known and any asserted stage agrees with the
// calculated one.
func (s *CkdService) CheckForErrors(in *CkdInput) domain.ValidationErrors {
	errs := domain.NewValidationErrors()
	if in.Baseline != nil {
		if err := ValidateBaselineCreatinine(*in.Baseline); err != nil {
			errs.Add(domain.FieldValue, err.Error())
		}
	}
	if in.Dialysis == nil {
		// A baseline creatinine cannot be interpreted until the
		// dialysis question is answered. Without a baseline, an
		// unanswered dialysis just means no detail is needed.
		if in.Baseline != nil {
			errs.Add(domain.FieldDialysis, DialysisRequiredMessage)
			errs.Add(domain.FieldValue, DialysisRequiredMessage)
		}
		return errs
	}
	if !*in.Dialysis && in.Baseline != nil {
		if in.Gender == nil || in.Age == nil {
			var msg string
			switch {
			case in.Age == nil && in.Gender == nil:
				msg = AgeAndGenderRequiredMessage
			case in.Age == nil:
				msg = AgeRequiredMessage
			default:
				msg = GenderRequiredMessage
			}
			errs.Add(domain.FieldValue, msg)
			if in.Gender == nil {
				errs.Add(domain.FieldGender, msg)
			}
			if in.Age == nil {
				errs.Add(domain.FieldDateOfBirth, msg)
			}
		} else if calculated := s.CalculatedStage(in.Baseline, in.Age, in.Gender); calculated.IsSet() && in.Stage.IsSet() && calculated != in.Stage {
			errs.Add(domain.FieldValue, stageCalculatedMismatchMessage(calculated, in.Stage))
			errs.Add(domain.FieldStage, stageSelectedMismatchMessage(in.Stage, calculated))
		}
	}
	return errs
}

func stageCalculatedMismatchMessage(calculated, selected domain.Stage) string {
	return "The stage (" + calculated.String() + ") calculated from the baseline creatinine, " +
		"age, and gender does not match the selected stage (" + selected.String() + "). " +
		"Please double check and try again."
}

func stageSelectedMismatchMessage(selected, calculated domain.Stage) string {
	return "The selected stage (" + selected.String() + ") does not match the stage " +
		calculated.String() + " calculated from the baseline creatinine, age, and gender. " +
		"Please double check and try again."
}

// Process validates and reconciles one request against the persisted
// snapshot, producing the plan to apply. No plan is produced when any
// validation error was collected.
func (s *CkdService) Process(in *CkdInput, initial *CkdInitial) (*CkdPlan, error) {
	if errs := s.CheckForErrors(in); errs.HasErrors() {
		return nil, errs.Err()
	}

	calculated := s.CalculatedStage(in.Baseline, in.Age, in.Gender)
	detailNeeded := in.Stage.IsSet() || (in.Dialysis != nil && *in.Dialysis) || calculated.IsSet()

	if !detailNeeded {
		plan := &CkdPlan{}
		if initial != nil && initial.HasDetail {
			plan.DeleteDetail = true
			if initial.Baseline != nil {
				plan.DeleteBaseline = true
				plan.BaselineReset = initial.Baseline
			}
		} else {
			plan.NoOp = true
		}
		return plan, nil
	}

	if initial != nil && initial.HasDetail && !s.changed(in, initial) {
		return &CkdPlan{NoOp: true}, nil
	}

	stage, err := s.GetStage(in.Dialysis, in.Stage, calculated)
	if err != nil {
		return nil, err
	}
	detail := &domain.CkdDetail{Stage: stage}
	if in.Dialysis != nil && *in.Dialysis {
		detail.Dialysis = true
		detail.DialysisType = in.DialysisType
		detail.DialysisDuration = in.DialysisDuration
	}
	if err := detail.Validate(); err != nil {
		return nil, err
	}

	plan := &CkdPlan{Detail: detail}
	switch {
	case detail.Dialysis:
		// A baseline has no meaning on dialysis; an existing one is
		// removed, restoring its stored value first.
		if initial != nil && initial.Baseline != nil {
			plan.DeleteBaseline = true
			plan.BaselineReset = initial.Baseline
		}
	case in.Baseline != nil:
		plan.Baseline = in.Baseline
	case initial != nil && initial.Baseline != nil:
		plan.DeleteBaseline = true
		plan.BaselineReset = initial.Baseline
	}

	s.logger.WithFields(logrus.Fields{
		"stage":    stage.String(),
		"dialysis": detail.Dialysis,
		"delete":   plan.DeleteDetail,
	}).Debug("CKD detail reconciled")
	return plan, nil
}

// changed reports whether any reconciled field differs from the
// persisted snapshot. Comparing against an unchanged snapshot is the
// no-op gate that keeps idempotent submissions from writing.
func (s *CkdService) changed(in *CkdInput, initial *CkdInitial) bool {
	if !boolPtrEqual(in.Dialysis, initial.Dialysis) ||
		in.DialysisType != initial.DialysisType ||
		in.DialysisDuration != initial.DialysisDuration ||
		in.Stage != initial.Stage {
		return true
	}
	if !decimalPtrEqual(in.Baseline, initial.Baseline) {
		return true
	}
	if !intPtrEqual(in.Age, initial.Age) || !genderPtrEqual(in.Gender, initial.Gender) {
		return true
	}
	return false
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func decimalPtrEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func genderPtrEqual(a, b *domain.Gender) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
