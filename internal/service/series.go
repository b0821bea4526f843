package service

import (
	"time"

	"github.com/gouthelper-server/internal/domain"
)

// daysPerMonth is the windowing approximation used when converting a
// month count into an elapsed-days requirement.
const daysPerMonth = 30

// MostRecent returns the newest reading of a newest-first series, or
// nil when the series is empty.
func MostRecent(series []*domain.LabReading) *domain.LabReading {
	if len(series) == 0 {
		return nil
	}
	return series[0]
}

// WithinDays reports whether the newest reading of a newest-first
// series was drawn strictly more recently than now minus the given
// number of days. An empty series is never recent.
func WithinDays(series []*domain.LabReading, now time.Time, days int) (bool, error) {
	if len(series) == 0 {
		return false, nil
	}
	if err := CheckChronologicalOrder(series); err != nil {
		return false, err
	}
	d, err := series[0].EffectiveDate()
	if err != nil {
		return false, err
	}
	return d.After(now.AddDate(0, 0, -days)), nil
}

// AtGoalForMonths reports whether a newest-first urate series shows the
// value at or below goal continuously for at least the given number of
// months. It scans index by index from the newest reading: any scanned
// value above goal fails closed immediately, and success requires a
// reading at or below goal lying at least months*30 days behind the
// newest one. A single reading can never span the window.
func AtGoalForMonths(series []*domain.LabReading, goal domain.GoalUrate, months int) (bool, error) {
	if len(series) == 0 {
		return false, nil
	}
	if err := CheckChronologicalOrder(series); err != nil {
		return false, err
	}
	newest, err := series[0].EffectiveDate()
	if err != nil {
		return false, err
	}
	window := time.Duration(months*daysPerMonth) * 24 * time.Hour
	goalValue := goal.Value()
	for r := 0; r < len(series); r++ {
		if series[r].Value.GreaterThan(goalValue) {
			return false, nil
		}
		d, err := series[r].EffectiveDate()
		if err != nil {
			return false, err
		}
		if newest.Sub(d) >= window {
			return true, nil
		}
	}
	return false, nil
}

// SeriesImproving reports whether a newest-first creatinine series
// shows a non-increasing trend walking from newest to oldest, i.e. each
// successive older reading is at or above the prior one. Fewer than two
// readings cannot establish a trend.
func SeriesImproving(series []*domain.LabReading) (bool, error) {
	if len(series) < 2 {
		return false, nil
	}
	if err := CheckChronologicalOrder(series); err != nil {
		return false, err
	}
	for i := 0; i < len(series)-1; i++ {
		if series[i].Value.GreaterThan(series[i+1].Value) {
			return false, nil
		}
	}
	return true, nil
}
