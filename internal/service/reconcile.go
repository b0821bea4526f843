package service

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/gouthelper-server/internal/domain"
)

// ReconcileReadings diffs a caller-supplied target list of readings
// against the existing persisted list. Incoming readings without an ID
// are created, incoming readings whose ID matches an existing reading
// are updated when any field differs, and existing readings no incoming
// reading references are deleted. An incoming ID that matches nothing
// in existing is a caller error, not a recoverable condition.
//
// The returned target list is the post-reconciliation set, re-sorted
// newest-first by effective date.
func ReconcileReadings(existing, incoming []*domain.LabReading) (*domain.ReadingChanges, []*domain.LabReading, error) {
	byID := make(map[uuid.UUID]*domain.LabReading, len(existing))
	for _, r := range existing {
		byID[r.ID] = r
	}

	changes := &domain.ReadingChanges{}
	referenced := make(map[uuid.UUID]bool, len(incoming))
	target := make([]*domain.LabReading, 0, len(incoming))

	for _, in := range incoming {
		if in.ID == uuid.Nil {
			created := *in
			created.ID = uuid.New()
			changes.Create = append(changes.Create, &created)
			target = append(target, &created)
			continue
		}
		current, ok := byID[in.ID]
		if !ok {
			return nil, nil, domain.NewConfigurationError(
				"reading %s does not exist and cannot be updated", in.ID)
		}
		referenced[in.ID] = true
		if readingChanged(current, in) {
			changes.Update = append(changes.Update, in)
		}
		target = append(target, in)
	}

	for _, r := range existing {
		if !referenced[r.ID] {
			changes.Delete = append(changes.Delete, r.ID)
		}
	}

	if err := domain.SortReadingsByDateDesc(target); err != nil {
		return nil, nil, fmt.Errorf("reconcile readings: %w", err)
	}
	return changes, target, nil
}

func readingChanged(current, in *domain.LabReading) bool {
	return !current.Value.Equal(in.Value) ||
		!current.DateDrawn.Equal(in.DateDrawn) ||
		!current.FallbackDate.Equal(in.FallbackDate)
}
