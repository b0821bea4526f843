package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gouthelper-server/internal/domain"
)

func newPpxService() *PpxService {
	return NewPpxService(nil, testLogger())
}

func goutSnapshot(detail *domain.GoutDetail, urates ...*domain.LabReading) *domain.PatientSnapshot {
	return &domain.PatientSnapshot{
		SubjectID:      uuid.New(),
		HasGoutHistory: true,
		GoutDetail:     detail,
		GoalUrate:      domain.GoalUrateSix,
		Urates:         urates,
	}
}

func TestPpxEvaluatePreconditions(t *testing.T) {
	svc := newPpxService()

	t.Run("no gout history is a caller error", func(t *testing.T) {
		snapshot := &domain.PatientSnapshot{SubjectID: uuid.New(), GoutDetail: &domain.GoutDetail{}}
		_, _, err := svc.Evaluate(context.Background(), snapshot, seriesNow)
		require.Error(t, err)
		var cerr *domain.ConfigurationError
		assert.ErrorAs(t, err, &cerr)
	})

	t.Run("no gout detail is a caller error", func(t *testing.T) {
		snapshot := &domain.PatientSnapshot{SubjectID: uuid.New(), HasGoutHistory: true}
		_, _, err := svc.Evaluate(context.Background(), snapshot, seriesNow)
		require.Error(t, err)
		var cerr *domain.ConfigurationError
		assert.ErrorAs(t, err, &cerr)
	})
}

func TestPpxIndication(t *testing.T) {
	svc := newPpxService()

	// At-goal-and-recent series: at goal six months, newest within 90 days.
	atGoalRecent := []*domain.LabReading{urate("5.5", 10), urate("5.0", 200)}
	// Hyperuricemic recent series.
	aboveGoal := []*domain.LabReading{urate("7.0", 10), urate("8.0", 200)}
	// At goal but stale: newest older than 90 days.
	atGoalStale := []*domain.LabReading{urate("5.5", 100), urate("5.0", 300)}

	tests := []struct {
		name   string
		detail *domain.GoutDetail
		urates []*domain.LabReading
		want   domain.Indication
	}{
		{
			name:   "not on and not starting ult",
			detail: &domain.GoutDetail{},
			urates: aboveGoal,
			want:   domain.NOTINDICATED,
		},
		{
			name:   "starting ult at goal and recent",
			detail: &domain.GoutDetail{OnUlt: true, StartingUlt: true},
			urates: atGoalRecent,
			want:   domain.NOTINDICATED,
		},
		{
			name:   "starting ult not at goal",
			detail: &domain.GoutDetail{OnUlt: true, StartingUlt: true},
			urates: aboveGoal,
			want:   domain.INDICATED,
		},
		{
			name:   "starting ult at goal but stale",
			detail: &domain.GoutDetail{OnUlt: true, StartingUlt: true},
			urates: atGoalStale,
			want:   domain.INDICATED,
		},
		{
			name:   "starting ult with no urates",
			detail: &domain.GoutDetail{StartingUlt: true},
			urates: nil,
			want:   domain.INDICATED,
		},
		{
			name:   "on ult flaring not at goal",
			detail: &domain.GoutDetail{OnUlt: true, Flaring: boolPtr(true)},
			urates: atGoalStale,
			want:   domain.CONDITIONAL,
		},
		{
			name:   "on ult hyperuricemic",
			detail: &domain.GoutDetail{OnUlt: true, Hyperuricemic: boolPtr(true)},
			urates: aboveGoal,
			want:   domain.CONDITIONAL,
		},
		{
			name:   "on ult quiescent",
			detail: &domain.GoutDetail{OnUlt: true, Hyperuricemic: boolPtr(false)},
			urates: atGoalRecent,
			want:   domain.NOTINDICATED,
		},
		{
			name:   "on ult flaring but at goal and recent",
			detail: &domain.GoutDetail{OnUlt: true, Flaring: boolPtr(true)},
			urates: atGoalRecent,
			want:   domain.NOTINDICATED,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, _, err := svc.Evaluate(context.Background(), goutSnapshot(tt.detail, tt.urates...), seriesNow)
			require.NoError(t, err)
			assert.Equal(t, tt.want, decision.Indication)
		})
	}
}

func TestPpxDerivedInputs(t *testing.T) {
	svc := newPpxService()

	t.Run("hyperuricemic is strict above goal", func(t *testing.T) {
		decision, _, err := svc.Evaluate(context.Background(),
			goutSnapshot(&domain.GoutDetail{}, urate("6.0", 10)), seriesNow)
		require.NoError(t, err)
		assert.False(t, decision.Hyperuricemic, "a urate exactly at goal is not hyperuricemic")

		decision, _, err = svc.Evaluate(context.Background(),
			goutSnapshot(&domain.GoutDetail{}, urate("6.1", 10)), seriesNow)
		require.NoError(t, err)
		assert.True(t, decision.Hyperuricemic)
	})

	t.Run("recent urate window", func(t *testing.T) {
		decision, _, err := svc.Evaluate(context.Background(),
			goutSnapshot(&domain.GoutDetail{}, urate("5.0", 89)), seriesNow)
		require.NoError(t, err)
		assert.True(t, decision.RecentUrate)

		decision, _, err = svc.Evaluate(context.Background(),
			goutSnapshot(&domain.GoutDetail{}, urate("5.0", 91)), seriesNow)
		require.NoError(t, err)
		assert.False(t, decision.RecentUrate)
	})

	t.Run("no urates", func(t *testing.T) {
		decision, changes, err := svc.Evaluate(context.Background(),
			goutSnapshot(&domain.GoutDetail{}), seriesNow)
		require.NoError(t, err)
		assert.False(t, decision.Hyperuricemic)
		assert.False(t, decision.AtGoal)
		assert.False(t, decision.RecentUrate)
		assert.Empty(t, decision.Discrepancy)
		assert.True(t, changes.IsEmpty())
	})
}

func TestPpxDiscrepancy(t *testing.T) {
	svc := newPpxService()

	tests := []struct {
		name   string
		detail *domain.GoutDetail
		urates []*domain.LabReading
		want   string
	}{
		{
			name:   "flag never assessed",
			detail: &domain.GoutDetail{},
			urates: []*domain.LabReading{urate("7.0", 10)},
			want:   HyperuricemicNotReportedMessage,
		},
		{
			name:   "null check comes before value comparison",
			detail: &domain.GoutDetail{},
			urates: []*domain.LabReading{urate("5.0", 10)},
			want:   HyperuricemicNotReportedMessage,
		},
		{
			name:   "above goal but reported false",
			detail: &domain.GoutDetail{Hyperuricemic: boolPtr(false)},
			urates: []*domain.LabReading{urate("7.0", 10)},
			want:   HyperuricemicReportedFalseMessage,
		},
		{
			name:   "at goal but reported true",
			detail: &domain.GoutDetail{Hyperuricemic: boolPtr(true)},
			urates: []*domain.LabReading{urate("6.0", 10)},
			want:   HyperuricemicReportedTrueMessage,
		},
		{
			name:   "flag agrees with labs",
			detail: &domain.GoutDetail{Hyperuricemic: boolPtr(true)},
			urates: []*domain.LabReading{urate("7.0", 10)},
			want:   "",
		},
		{
			name:   "no urates no discrepancy",
			detail: &domain.GoutDetail{},
			urates: nil,
			want:   "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, _, err := svc.Evaluate(context.Background(), goutSnapshot(tt.detail, tt.urates...), seriesNow)
			require.NoError(t, err)
			assert.Equal(t, tt.want, decision.Discrepancy)
		})
	}
}

func TestPpxFlagChanges(t *testing.T) {
	svc := newPpxService()

	t.Run("recent urate refreshes flags", func(t *testing.T) {
		detail := &domain.GoutDetail{Hyperuricemic: boolPtr(false), AtGoal: boolPtr(true), AtGoalLongTerm: true}
		_, changes, err := svc.Evaluate(context.Background(),
			goutSnapshot(detail, urate("7.0", 10), urate("6.5", 200)), seriesNow)
		require.NoError(t, err)
		require.NotNil(t, changes.Hyperuricemic)
		assert.True(t, *changes.Hyperuricemic)
		require.NotNil(t, changes.AtGoal)
		assert.False(t, *changes.AtGoal)
		require.NotNil(t, changes.AtGoalLongTerm)
		assert.False(t, *changes.AtGoalLongTerm)
	})

	t.Run("stale urate never overrides flags", func(t *testing.T) {
		detail := &domain.GoutDetail{Hyperuricemic: boolPtr(false)}
		_, changes, err := svc.Evaluate(context.Background(),
			goutSnapshot(detail, urate("7.0", 45)), seriesNow)
		require.NoError(t, err)
		assert.True(t, changes.IsEmpty(),
			"a urate outside the refresh window leaves clinician-entered flags alone")
	})

	t.Run("agreeing flags produce no changes", func(t *testing.T) {
		detail := &domain.GoutDetail{Hyperuricemic: boolPtr(true), AtGoal: boolPtr(false)}
		_, changes, err := svc.Evaluate(context.Background(),
			goutSnapshot(detail, urate("7.0", 10)), seriesNow)
		require.NoError(t, err)
		assert.True(t, changes.IsEmpty())
	})

	t.Run("long term goal attainment is recorded", func(t *testing.T) {
		detail := &domain.GoutDetail{Hyperuricemic: boolPtr(false), AtGoal: boolPtr(true)}
		_, changes, err := svc.Evaluate(context.Background(),
			goutSnapshot(detail, urate("5.5", 10), urate("5.0", 200)), seriesNow)
		require.NoError(t, err)
		require.NotNil(t, changes.AtGoalLongTerm)
		assert.True(t, *changes.AtGoalLongTerm)
		assert.Nil(t, changes.AtGoal, "at goal flag already agrees")
		assert.Nil(t, changes.Hyperuricemic)
	})
}
