package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gouthelper-server/internal/domain"
)

// Hyperuricemic discrepancy messages, surfaced verbatim under the urate
// error key when the asserted flag disagrees with the latest urate.
const (
	HyperuricemicNotReportedMessage = "Clarify hyperuricemic status. " +
		"At least one uric acid was reported but hyperuricemic was not."
	HyperuricemicReportedFalseMessage = "Clarify hyperuricemic status. " +
		"Last Urate was above goal, but hyperuricemic reported False."
	HyperuricemicReportedTrueMessage = "Clarify hyperuricemic status. " +
		"Last Urate was at goal, but hyperuricemic reported True."
)

// Windowing constants for the prophylaxis evaluation.
const (
	// atGoalMonths is the continuous at-goal span that counts as
	// long-term control: six months at goal means prophylaxis can
	// usually stop.
	atGoalMonths = 6
	// recentUrateDays bounds how old the newest urate may be for the
	// lab trend to count as current.
	recentUrateDays = 90
	// flagRefreshDays bounds how old the newest urate may be for the
	// lab trend to override clinician-entered gout detail flags.
	flagRefreshDays = 30
)

// PpxService computes the gout flare prophylaxis indication from the
// gout history flags and the urate series.
type PpxService struct {
	audit  domain.DecisionLogger
	logger *logrus.Logger
}

// NewPpxService creates a prophylaxis decision service.
func NewPpxService(audit domain.DecisionLogger, logger *logrus.Logger) *PpxService {
	return &PpxService{audit: audit, logger: logger}
}

// Evaluate runs one prophylaxis evaluation over the patient snapshot.
// It returns the decision, including any hyperuricemic-status
// discrepancy, plus the gout detail flag changes the lab trend
// justifies. A snapshot without a gout history or gout detail is a
// caller error.
func (s *PpxService) Evaluate(ctx context.Context, snapshot *domain.PatientSnapshot, now time.Time) (*domain.PpxDecision, *domain.GoutDetailChanges, error) {
	if !snapshot.HasGoutHistory {
		return nil, nil, domain.NewConfigurationError(
			"prophylaxis evaluation requires a gout medical history for subject %s", snapshot.SubjectID)
	}
	if snapshot.GoutDetail == nil {
		return nil, nil, domain.NewConfigurationError(
			"prophylaxis evaluation requires a gout detail for subject %s", snapshot.SubjectID)
	}

	goal := snapshot.GoalUrate
	if !goal.IsValid() {
		goal = domain.GoalUrateSix
	}
	urates := make([]*domain.LabReading, len(snapshot.Urates))
	copy(urates, snapshot.Urates)
	if err := domain.SortReadingsByDateDesc(urates); err != nil {
		return nil, nil, err
	}

	hyperuricemic := false
	if newest := MostRecent(urates); newest != nil {
		hyperuricemic = newest.Value.GreaterThan(goal.Value())
	}
	atGoalNow := len(urates) > 0 && !hyperuricemic
	atGoalLongTerm, err := AtGoalForMonths(urates, goal, atGoalMonths)
	if err != nil {
		return nil, nil, err
	}
	atGoal := !hyperuricemic && atGoalLongTerm
	recentUrate, err := WithinDays(urates, now, recentUrateDays)
	if err != nil {
		return nil, nil, err
	}

	detail := snapshot.GoutDetail
	decision := &domain.PpxDecision{
		SubjectID:     snapshot.SubjectID,
		Indication:    s.indication(detail, atGoal, recentUrate, hyperuricemic),
		Hyperuricemic: hyperuricemic,
		AtGoal:        atGoal,
		RecentUrate:   recentUrate,
		Discrepancy:   s.discrepancy(urates, detail, goal),
		EvaluatedAt:   now,
	}

	changes, err := s.flagChanges(urates, detail, now, atGoalNow, atGoal, hyperuricemic)
	if err != nil {
		return nil, nil, err
	}

	if s.audit != nil {
		if err := s.audit.LogPpxDecision(ctx, decision); err != nil {
			s.logger.WithError(err).Warn("Failed to record prophylaxis decision in decision log")
		}
	}
	s.logger.WithFields(logrus.Fields{
		"subject_id":    snapshot.SubjectID,
		"hyperuricemic": hyperuricemic,
		"at_goal":       atGoal,
		"recent_urate":  recentUrate,
	}).WithFields(logrus.Fields(decision.Indication.LogFields())).Info("Prophylaxis evaluated")

	return decision, changes, nil
}

// indication applies the prophylaxis decision table. Patients not on
// and not starting urate-lowering therapy never have an indication.
// Starting therapy indicates prophylaxis unless the urate is already at
// goal and current. On established therapy, flaring or a urate above
// goal carries a conditional indication while the dose is titrated.
func (s *PpxService) indication(detail *domain.GoutDetail, atGoal, recentUrate, hyperuricemic bool) domain.Indication {
	if !detail.OnUlt && !detail.StartingUlt {
		return domain.NOTINDICATED
	}
	atGoalAndRecent := atGoal && recentUrate
	if detail.StartingUlt {
		if atGoalAndRecent {
			return domain.NOTINDICATED
		}
		return domain.INDICATED
	}
	flaring := detail.Flaring != nil && *detail.Flaring
	if (flaring || hyperuricemic) && !atGoalAndRecent {
		return domain.CONDITIONAL
	}
	return domain.NOTINDICATED
}

// discrepancy compares the asserted hyperuricemic flag against what the
// most recent urate implies. The never-assessed case is reported before
// either direction of disagreement.
func (s *PpxService) discrepancy(urates []*domain.LabReading, detail *domain.GoutDetail, goal domain.GoalUrate) string {
	newest := MostRecent(urates)
	if newest == nil {
		return ""
	}
	aboveGoal := newest.Value.GreaterThan(goal.Value())
	switch {
	case detail.Hyperuricemic == nil:
		return HyperuricemicNotReportedMessage
	case aboveGoal && !*detail.Hyperuricemic:
		return HyperuricemicReportedFalseMessage
	case !aboveGoal && *detail.Hyperuricemic:
		return HyperuricemicReportedTrueMessage
	default:
		return ""
	}
}

// flagChanges builds the gout detail refresh plan. Flags are only
// overridden when the newest urate is recent enough that the lab trend
// should supersede clinician-entered state.
func (s *PpxService) flagChanges(urates []*domain.LabReading, detail *domain.GoutDetail, now time.Time, atGoalNow, atGoalLongTerm, hyperuricemic bool) (*domain.GoutDetailChanges, error) {
	withinMonth, err := WithinDays(urates, now, flagRefreshDays)
	if err != nil {
		return nil, err
	}
	changes := &domain.GoutDetailChanges{}
	if !withinMonth {
		return changes, nil
	}
	if detail.AtGoal == nil || *detail.AtGoal != atGoalNow {
		v := atGoalNow
		changes.AtGoal = &v
	}
	if detail.AtGoalLongTerm != atGoalLongTerm {
		v := atGoalLongTerm
		changes.AtGoalLongTerm = &v
	}
	if detail.Hyperuricemic == nil || *detail.Hyperuricemic != hyperuricemic {
		v := hyperuricemic
		changes.Hyperuricemic = &v
	}
	return changes, nil
}
