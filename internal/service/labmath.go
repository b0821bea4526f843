// Package service implements the rule-evaluation core: lab
// classification helpers, the AKI trajectory engine, CKD detail
// reconciliation, and the gout flare prophylaxis decision engine.
// Classification functions are pure; orchestration methods perform at
// most one batch of persistence writes after all validation passes.
package service

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/gouthelper-server/internal/domain"
)

// CKD-EPI creatinine equation coefficients, selected by gender.
// https://www.kidney.org/professionals/kdoqi/gfr_calculator/formula
const (
	maleSexModifier   = 1.000
	maleAlpha         = -0.302
	maleKappa         = 0.9
	femaleSexModifier = 1.012
	femaleAlpha       = -0.241
	femaleKappa       = 0.7
)

// AtBaselineTolerance is the multiplier applied to a baseline
// creatinine when judging whether a value has returned to baseline.
var AtBaselineTolerance = decimal.RequireFromString("1.1")

// EGFR computes the estimated glomerular filtration rate from a
// creatinine value, age in years, and gender via the CKD-EPI creatinine
// equation, rounded half-away-from-zero to zero decimal places.
func EGFR(creatinine decimal.Decimal, age int, gender domain.Gender) decimal.Decimal {
	sex, alpha, kappa := femaleSexModifier, femaleAlpha, femaleKappa
	if gender == domain.MALE {
		sex, alpha, kappa = maleSexModifier, maleAlpha, maleKappa
	}
	ratio := creatinine.InexactFloat64() / kappa
	egfr := 142 *
		math.Pow(math.Min(ratio, 1), alpha) *
		math.Pow(math.Max(ratio, 1), -1.200) *
		math.Pow(0.9938, float64(age)) *
		sex
	return decimal.NewFromFloat(egfr).Round(0)
}

// StageFromEGFR maps an eGFR onto the CKD stage bands: >=90 is stage I,
// 60-89 stage II, 30-59 stage III, 15-29 stage IV, below 15 stage V.
func StageFromEGFR(egfr decimal.Decimal) domain.Stage {
	switch {
	case egfr.GreaterThanOrEqual(decimal.NewFromInt(90)):
		return domain.StageI
	case egfr.GreaterThanOrEqual(decimal.NewFromInt(60)):
		return domain.StageII
	case egfr.GreaterThanOrEqual(decimal.NewFromInt(30)):
		return domain.StageIII
	case egfr.GreaterThanOrEqual(decimal.NewFromInt(15)):
		return domain.StageIV
	default:
		return domain.StageV
	}
}

// WithinNormalLimits reports whether a lab value is at or below the
// given upper reference limit.
func WithinNormalLimits(value, upperLimit decimal.Decimal) bool {
	return value.LessThanOrEqual(upperLimit)
}

// AtBaseline reports whether a creatinine value has returned to the
// patient's baseline, within AtBaselineTolerance. The comparison is
// undefined without a baseline or for a patient on dialysis; both raise
// rather than default.
func AtBaseline(value decimal.Decimal, baseline *decimal.Decimal, onDialysis bool) (bool, error) {
	if baseline == nil {
		return false, fmt.Errorf("cannot compare creatinine %s against an absent baseline", value)
	}
	if onDialysis {
		return false, fmt.Errorf("baseline comparison is undefined for a patient on dialysis")
	}
	return value.LessThanOrEqual(baseline.Mul(AtBaselineTolerance)), nil
}

// WithinRangeForStage reports whether a creatinine value is consistent
// with an asserted CKD stage: the stage computed from the value, age,
// and gender must be no worse than the asserted one.
func WithinRangeForStage(value decimal.Decimal, stage domain.Stage, age int, gender domain.Gender) (bool, error) {
	if !stage.IsSet() {
		return false, fmt.Errorf("cannot compare creatinine %s against an unset stage", value)
	}
	return StageFromEGFR(EGFR(value, age, gender)) <= stage, nil
}

// CheckChronologicalOrder verifies that the series is ordered
// newest-first by effective date, walking pairwise. It returns an
// OrderError identifying the offending reading; call sites that need
// sorted input sort explicitly before evaluating.
func CheckChronologicalOrder(series []*domain.LabReading) error {
	var prev *domain.LabReading
	for i, r := range series {
		d, err := r.EffectiveDate()
		if err != nil {
			return domain.NewOrderError(i, "%s", err.Error())
		}
		if prev != nil {
			pd, _ := prev.EffectiveDate()
			if d.After(pd) {
				return domain.NewOrderError(i,
					"readings are not in chronological order: reading %s at index %d is newer than its predecessor", r.ID, i)
			}
		}
		prev = r
	}
	return nil
}

// ValidateBaselineCreatinine enforces the plausibility ceiling on a
// baseline creatinine value.
func ValidateBaselineCreatinine(value decimal.Decimal) error {
	if value.GreaterThan(domain.BaselineCreatinineMaxValue) {
		return fmt.Errorf("%s", domain.BaselineCreatinineMaxValueMessage)
	}
	return nil
}
