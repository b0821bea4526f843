// Package repository implements the patient read and write contracts
// against PostgreSQL.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/gouthelper-server/internal/database"
	"github.com/gouthelper-server/internal/domain"
)

// PatientRepository materializes patient snapshots and applies
// reconciled writes. It implements domain.PatientRepository.
type PatientRepository struct {
	db          *database.DB
	defaultGoal domain.GoalUrate
	log         *logrus.Logger
}

// NewPatientRepository creates a PostgreSQL-backed patient repository.
// Snapshots for subjects without an explicit goal urate carry
// defaultGoal.
func NewPatientRepository(db *database.DB, defaultGoal domain.GoalUrate, logger *logrus.Logger) *PatientRepository {
	if !defaultGoal.IsValid() {
		defaultGoal = domain.GoalUrateSix
	}
	return &PatientRepository{db: db, defaultGoal: defaultGoal, log: logger}
}

// GetSnapshot loads everything one evaluation needs in a single pass:
// demographics, chronic-condition details, gout history flags, the lab
// series, and any open AKI episode.
func (r *PatientRepository) GetSnapshot(ctx context.Context, subjectID uuid.UUID) (*domain.PatientSnapshot, error) {
	snapshot := &domain.PatientSnapshot{SubjectID: subjectID, GoalUrate: r.defaultGoal}

	var dateOfBirth *time.Time
	var gender *string
	var goalUrate int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT date_of_birth, gender, goal_urate, has_gout_history
		FROM subjects WHERE id = $1`, subjectID,
	).Scan(&dateOfBirth, &gender, &goalUrate, &snapshot.HasGoutHistory)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("subject %s: %w", subjectID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("querying subject: %w", err)
	}
	if dateOfBirth != nil {
		age := domain.AgeAt(*dateOfBirth, time.Now().UTC())
		snapshot.Age = &age
	}
	if gender != nil {
		g := domain.Gender(*gender)
		snapshot.Gender = &g
	}
	if g := domain.GoalUrate(goalUrate); g.IsValid() {
		snapshot.GoalUrate = g
	}

	if err := r.loadCkdDetail(ctx, subjectID, snapshot); err != nil {
		return nil, err
	}
	if err := r.loadGoutDetail(ctx, subjectID, snapshot); err != nil {
		return nil, err
	}
	if err := r.loadReadings(ctx, subjectID, snapshot); err != nil {
		return nil, err
	}
	if err := r.loadAkiEpisode(ctx, subjectID, snapshot); err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{
		"subject_id":  subjectID,
		"urates":      len(snapshot.Urates),
		"creatinines": len(snapshot.Creatinines),
		"has_aki":     snapshot.Aki != nil,
	}).Debug("Patient snapshot materialized")
	return snapshot, nil
}

func (r *PatientRepository) loadCkdDetail(ctx context.Context, subjectID uuid.UUID, snapshot *domain.PatientSnapshot) error {
	detail := &domain.CkdDetail{}
	var dialysisType, dialysisDuration *string
	var stage int16
	err := r.db.Pool.QueryRow(ctx, `
		SELECT dialysis, dialysis_type, dialysis_duration, stage
		FROM ckd_details WHERE subject_id = $1`, subjectID,
	).Scan(&detail.Dialysis, &dialysisType, &dialysisDuration, &stage)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return fmt.Errorf("querying ckd detail: %w", err)
	default:
		detail.Stage = domain.Stage(stage)
		if dialysisType != nil {
			detail.DialysisType = domain.DialysisType(*dialysisType)
		}
		if dialysisDuration != nil {
			detail.DialysisDuration = domain.DialysisDuration(*dialysisDuration)
		}
		snapshot.CkdDetail = detail
	}

	var baseline decimal.Decimal
	err = r.db.Pool.QueryRow(ctx, `
		SELECT value FROM baseline_creatinines WHERE subject_id = $1`, subjectID,
	).Scan(&baseline)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return fmt.Errorf("querying baseline creatinine: %w", err)
	default:
		snapshot.BaselineCreatinine = &baseline
	}
	return nil
}

func (r *PatientRepository) loadGoutDetail(ctx context.Context, subjectID uuid.UUID, snapshot *domain.PatientSnapshot) error {
	detail := &domain.GoutDetail{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT flaring, at_goal, at_goal_long_term, hyperuricemic, on_ppx, on_ult, starting_ult
		FROM gout_details WHERE subject_id = $1`, subjectID,
	).Scan(&detail.Flaring, &detail.AtGoal, &detail.AtGoalLongTerm,
		&detail.Hyperuricemic, &detail.OnPpx, &detail.OnUlt, &detail.StartingUlt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("querying gout detail: %w", err)
	}
	snapshot.GoutDetail = detail
	return nil
}

func (r *PatientRepository) loadReadings(ctx context.Context, subjectID uuid.UUID, snapshot *domain.PatientSnapshot) error {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, kind, value, date_drawn, fallback_date, subject_id, episode_id
		FROM lab_readings
		WHERE subject_id = $1
		ORDER BY COALESCE(date_drawn, fallback_date) DESC`, subjectID)
	if err != nil {
		return fmt.Errorf("querying lab readings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return fmt.Errorf("scanning lab reading: %w", err)
		}
		switch reading.Kind {
		case domain.URATE:
			snapshot.Urates = append(snapshot.Urates, reading)
		case domain.CREATININE:
			snapshot.Creatinines = append(snapshot.Creatinines, reading)
		}
	}
	return rows.Err()
}

func (r *PatientRepository) loadAkiEpisode(ctx context.Context, subjectID uuid.UUID, snapshot *domain.PatientSnapshot) error {
	episode := &domain.AkiEpisode{}
	var status string
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, subject_id, status, created_at, updated_at
		FROM aki_episodes
		WHERE subject_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, subjectID,
	).Scan(&episode.ID, &episode.SubjectID, &status, &episode.CreatedAt, &episode.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("querying aki episode: %w", err)
	}
	episode.Status = domain.AkiStatus(status)

	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, kind, value, date_drawn, fallback_date, subject_id, episode_id
		FROM lab_readings
		WHERE episode_id = $1
		ORDER BY COALESCE(date_drawn, fallback_date) DESC`, episode.ID)
	if err != nil {
		return fmt.Errorf("querying episode readings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return fmt.Errorf("scanning episode reading: %w", err)
		}
		episode.Creatinines = append(episode.Creatinines, reading)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	snapshot.Aki = episode
	return nil
}

func scanReading(row pgx.Row) (*domain.LabReading, error) {
	reading := &domain.LabReading{}
	var kind string
	var dateDrawn, fallbackDate *time.Time
	var subjectID, episodeID *uuid.UUID
	if err := row.Scan(&reading.ID, &kind, &reading.Value, &dateDrawn, &fallbackDate, &subjectID, &episodeID); err != nil {
		return nil, err
	}
	reading.Kind = domain.LabKind(kind)
	if dateDrawn != nil {
		reading.DateDrawn = *dateDrawn
	}
	if fallbackDate != nil {
		reading.FallbackDate = *fallbackDate
	}
	if subjectID != nil {
		reading.SubjectID = *subjectID
	}
	if episodeID != nil {
		reading.EpisodeID = *episodeID
	}
	return reading, nil
}

// GetReading hydrates a lab reading referenced by ID.
func (r *PatientRepository) GetReading(ctx context.Context, id uuid.UUID) (*domain.LabReading, error) {
	reading, err := scanReading(r.db.Pool.QueryRow(ctx, `
		SELECT id, kind, value, date_drawn, fallback_date, subject_id, episode_id
		FROM lab_readings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("lab reading %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("querying lab reading: %w", err)
	}
	return reading, nil
}

// ApplyReadingChanges applies a reconciled create/update/delete set in
// one transaction. Either every change lands or none do.
func (r *PatientRepository) ApplyReadingChanges(ctx context.Context, subjectID uuid.UUID, changes *domain.ReadingChanges) error {
	if changes.IsEmpty() {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, reading := range changes.Create {
		if err := insertReading(ctx, tx, reading); err != nil {
			return err
		}
	}
	for _, reading := range changes.Update {
		_, err := tx.Exec(ctx, `
			UPDATE lab_readings SET value = $2, date_drawn = $3, fallback_date = $4
			WHERE id = $1`,
			reading.ID, reading.Value, nullableTime(reading.DateDrawn), nullableTime(reading.FallbackDate))
		if err != nil {
			return fmt.Errorf("updating lab reading %s: %w", reading.ID, err)
		}
	}
	for _, id := range changes.Delete {
		if _, err := tx.Exec(ctx, `DELETE FROM lab_readings WHERE id = $1`, id); err != nil {
			return fmt.Errorf("deleting lab reading %s: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing reading changes: %w", err)
	}
	r.log.WithFields(logrus.Fields{
		"subject_id": subjectID,
		"created":    len(changes.Create),
		"updated":    len(changes.Update),
		"deleted":    len(changes.Delete),
	}).Info("Lab reading changes applied")
	return nil
}

func insertReading(ctx context.Context, tx pgx.Tx, reading *domain.LabReading) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO lab_readings (id, kind, value, date_drawn, fallback_date, subject_id, episode_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			value = EXCLUDED.value,
			date_drawn = EXCLUDED.date_drawn,
			fallback_date = EXCLUDED.fallback_date`,
		reading.ID, string(reading.Kind), reading.Value,
		nullableTime(reading.DateDrawn), nullableTime(reading.FallbackDate),
		nullableUUID(reading.SubjectID), nullableUUID(reading.EpisodeID))
	if err != nil {
		return fmt.Errorf("inserting lab reading %s: %w", reading.ID, err)
	}
	return nil
}

// SaveAkiEpisode upserts the episode row and its creatinine readings.
func (r *PatientRepository) SaveAkiEpisode(ctx context.Context, episode *domain.AkiEpisode) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO aki_episodes (id, subject_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		episode.ID, episode.SubjectID, string(episode.Status), episode.CreatedAt, episode.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting aki episode %s: %w", episode.ID, err)
	}
	for _, reading := range episode.Creatinines {
		if err := insertReading(ctx, tx, reading); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing aki episode: %w", err)
	}
	return nil
}

// DeleteAkiEpisode removes an episode; its readings cascade.
func (r *PatientRepository) DeleteAkiEpisode(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM aki_episodes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting aki episode %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("aki episode %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// SaveCkdDetail upserts the chronic kidney detail and reconciles the
// baseline creatinine to the target state in one transaction. A nil
// baseline removes any stored one.
func (r *PatientRepository) SaveCkdDetail(ctx context.Context, subjectID uuid.UUID, detail *domain.CkdDetail, baseline *domain.LabReading) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		INSERT INTO ckd_details (subject_id, dialysis, dialysis_type, dialysis_duration, stage, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (subject_id) DO UPDATE SET
			dialysis = EXCLUDED.dialysis,
			dialysis_type = EXCLUDED.dialysis_type,
			dialysis_duration = EXCLUDED.dialysis_duration,
			stage = EXCLUDED.stage,
			updated_at = EXCLUDED.updated_at`,
		subjectID, detail.Dialysis,
		nullableString(string(detail.DialysisType)), nullableString(string(detail.DialysisDuration)),
		int16(detail.Stage), now)
	if err != nil {
		return fmt.Errorf("upserting ckd detail: %w", err)
	}

	if baseline != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO baseline_creatinines (subject_id, value, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (subject_id) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
			subjectID, baseline.Value, now)
		if err != nil {
			return fmt.Errorf("upserting baseline creatinine: %w", err)
		}
	} else {
		if _, err := tx.Exec(ctx, `DELETE FROM baseline_creatinines WHERE subject_id = $1`, subjectID); err != nil {
			return fmt.Errorf("deleting baseline creatinine: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// DeleteCkdDetail removes the detail record and its baseline.
func (r *PatientRepository) DeleteCkdDetail(ctx context.Context, subjectID uuid.UUID) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM baseline_creatinines WHERE subject_id = $1`, subjectID); err != nil {
		return fmt.Errorf("deleting baseline creatinine: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM ckd_details WHERE subject_id = $1`, subjectID); err != nil {
		return fmt.Errorf("deleting ckd detail: %w", err)
	}
	return tx.Commit(ctx)
}

// SaveGoutDetail upserts the gout history flags.
func (r *PatientRepository) SaveGoutDetail(ctx context.Context, subjectID uuid.UUID, detail *domain.GoutDetail) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO gout_details (subject_id, flaring, at_goal, at_goal_long_term, hyperuricemic, on_ppx, on_ult, starting_ult, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (subject_id) DO UPDATE SET
			flaring = EXCLUDED.flaring,
			at_goal = EXCLUDED.at_goal,
			at_goal_long_term = EXCLUDED.at_goal_long_term,
			hyperuricemic = EXCLUDED.hyperuricemic,
			on_ppx = EXCLUDED.on_ppx,
			on_ult = EXCLUDED.on_ult,
			starting_ult = EXCLUDED.starting_ult,
			updated_at = EXCLUDED.updated_at`,
		subjectID, detail.Flaring, detail.AtGoal, detail.AtGoalLongTerm,
		detail.Hyperuricemic, detail.OnPpx, detail.OnUlt, detail.StartingUlt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upserting gout detail: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
