package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PatientRepository is the read contract: it materializes everything an
// evaluation needs in one call so the decision services never perform
// I/O mid-computation.
type PatientRepository interface {
	// GetSnapshot returns the subject's demographics, chronic-condition
	// details, gout history flags, and lab series. Series are returned
	// orderable; callers sort before evaluating.
	GetSnapshot(ctx context.Context, subjectID uuid.UUID) (*PatientSnapshot, error)

	// GetReading hydrates a lab reading referenced by ID.
	GetReading(ctx context.Context, id uuid.UUID) (*LabReading, error)

	// ApplyReadingChanges applies a reconciled create/update/delete set
	// atomically. Partial application is never reported as success.
	ApplyReadingChanges(ctx context.Context, subjectID uuid.UUID, changes *ReadingChanges) error

	// SaveAkiEpisode persists a created or updated episode.
	SaveAkiEpisode(ctx context.Context, episode *AkiEpisode) error

	// DeleteAkiEpisode removes an episode and cascades its readings.
	DeleteAkiEpisode(ctx context.Context, id uuid.UUID) error

	// SaveCkdDetail persists the chronic kidney detail and reconciles
	// the baseline creatinine to the target state in one transaction.
	// A nil baseline removes any stored one.
	SaveCkdDetail(ctx context.Context, subjectID uuid.UUID, detail *CkdDetail, baseline *LabReading) error

	// DeleteCkdDetail removes the detail record and its baseline.
	DeleteCkdDetail(ctx context.Context, subjectID uuid.UUID) error

	// SaveGoutDetail persists refreshed gout history flags.
	SaveGoutDetail(ctx context.Context, subjectID uuid.UUID, detail *GoutDetail) error
}

// ReadingChanges is the write-side form of a reconciliation: the
// repository applies all three sets inside a single transaction.
type ReadingChanges struct {
	Create []*LabReading
	Update []*LabReading
	Delete []uuid.UUID
}

// IsEmpty reports whether applying the changes would be a no-op.
func (c *ReadingChanges) IsEmpty() bool {
	return c == nil || (len(c.Create) == 0 && len(c.Update) == 0 && len(c.Delete) == 0)
}

// DecisionLogger records every completed evaluation for audit.
// Logging failures must not fail the evaluation that produced them.
type DecisionLogger interface {
	LogAkiClassification(ctx context.Context, subjectID uuid.UUID, status AkiStatus, evaluatedAt time.Time) error
	LogPpxDecision(ctx context.Context, decision *PpxDecision) error
	Close() error
}

// SnapshotCache caches materialized patient snapshots keyed by subject.
// Invalidate is called after any write touching the subject's records.
type SnapshotCache interface {
	Get(ctx context.Context, subjectID uuid.UUID) (*PatientSnapshot, bool)
	Set(ctx context.Context, snapshot *PatientSnapshot) error
	Invalidate(ctx context.Context, subjectID uuid.UUID) error
}
