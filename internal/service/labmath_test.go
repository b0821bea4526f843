package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gouthelper-server/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestEGFR(t *testing.T) {
	tests := []struct {
		name       string
		creatinine string
		age        int
		gender     domain.Gender
		want       int64
	}{
		{"male normal creatinine", "1.0", 45, domain.MALE, 95},
		{"female normal creatinine", "1.0", 45, domain.FEMALE, 71},
		{"male elevated creatinine", "2.0", 50, domain.MALE, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EGFR(dec(tt.creatinine), tt.age, tt.gender)
			assert.True(t, got.Equal(decimal.NewFromInt(tt.want)),
				"EGFR = %s, want %d", got, tt.want)
		})
	}
}

func TestStageFromEGFR(t *testing.T) {
	tests := []struct {
		egfr string
		want domain.Stage
	}{
		{"120", domain.StageI},
		{"90", domain.StageI},
		{"89", domain.StageII},
		{"60", domain.StageII},
		{"59", domain.StageIII},
		{"30", domain.StageIII},
		{"29", domain.StageIV},
		{"15", domain.StageIV},
		{"14", domain.StageV},
		{"5", domain.StageV},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StageFromEGFR(dec(tt.egfr)), "eGFR %s", tt.egfr)
	}
}

func TestWithinNormalLimits(t *testing.T) {
	assert.True(t, WithinNormalLimits(dec("1.35"), domain.CreatinineUpperLimit))
	assert.True(t, WithinNormalLimits(dec("1.0"), domain.CreatinineUpperLimit))
	assert.False(t, WithinNormalLimits(dec("1.36"), domain.CreatinineUpperLimit))
}

func TestAtBaseline(t *testing.T) {
	t.Run("within tolerance", func(t *testing.T) {
		got, err := AtBaseline(dec("1.1"), decPtr("1.0"), false)
		require.NoError(t, err)
		assert.True(t, got)
	})
	t.Run("above tolerance", func(t *testing.T) {
		got, err := AtBaseline(dec("1.2"), decPtr("1.0"), false)
		require.NoError(t, err)
		assert.False(t, got)
	})
	t.Run("absent baseline raises", func(t *testing.T) {
		_, err := AtBaseline(dec("1.2"), nil, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "absent baseline")
	})
	t.Run("dialysis raises", func(t *testing.T) {
		_, err := AtBaseline(dec("1.2"), decPtr("1.0"), true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dialysis")
	})
}

func TestWithinRangeForStage(t *testing.T) {
	// Creatinine 2.0 at age 50 male computes to stage III.
	got, err := WithinRangeForStage(dec("2.0"), domain.StageIII, 50, domain.MALE)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = WithinRangeForStage(dec("2.0"), domain.StageIV, 50, domain.MALE)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = WithinRangeForStage(dec("2.0"), domain.StageII, 50, domain.MALE)
	require.NoError(t, err)
	assert.False(t, got)

	_, err = WithinRangeForStage(dec("2.0"), domain.StageNone, 50, domain.MALE)
	require.Error(t, err)
}

func TestCheckChronologicalOrder(t *testing.T) {
	day := func(d int) time.Time {
		return time.Date(2026, 5, d, 0, 0, 0, 0, time.UTC)
	}
	reading := func(value string, at time.Time) *domain.LabReading {
		return &domain.LabReading{Kind: domain.CREATININE, Value: dec(value), DateDrawn: at}
	}

	t.Run("ordered", func(t *testing.T) {
		series := []*domain.LabReading{reading("1.0", day(10)), reading("2.0", day(5)), reading("3.0", day(1))}
		assert.NoError(t, CheckChronologicalOrder(series))
	})
	t.Run("equal dates allowed", func(t *testing.T) {
		series := []*domain.LabReading{reading("1.0", day(5)), reading("2.0", day(5))}
		assert.NoError(t, CheckChronologicalOrder(series))
	})
	t.Run("out of order identifies offender", func(t *testing.T) {
		series := []*domain.LabReading{reading("1.0", day(5)), reading("2.0", day(10))}
		err := CheckChronologicalOrder(series)
		require.Error(t, err)
		var oerr *domain.OrderError
		require.ErrorAs(t, err, &oerr)
		assert.Equal(t, 1, oerr.Index)
	})
	t.Run("dateless reading", func(t *testing.T) {
		series := []*domain.LabReading{reading("1.0", day(5)), {Kind: domain.CREATININE, Value: dec("2.0")}}
		require.Error(t, CheckChronologicalOrder(series))
	})
	t.Run("empty series", func(t *testing.T) {
		assert.NoError(t, CheckChronologicalOrder(nil))
	})
}

func TestValidateBaselineCreatinine(t *testing.T) {
	assert.NoError(t, ValidateBaselineCreatinine(dec("10")))
	err := ValidateBaselineCreatinine(dec("10.1"))
	require.Error(t, err)
	assert.Equal(t, domain.BaselineCreatinineMaxValueMessage, err.Error())
}
