package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/gouthelper-server/internal/domain"
)

// Asserted-vs-computed AKI status mismatch messages. These are surfaced
// to callers verbatim under the creatinine error key.
const (
	AkiResolvedButImprovingMessage = "AKI marked as resolved, but the creatinines suggest it is still improving."
	AkiResolvedButNotMessage       = "AKI marked as resolved, but the creatinines suggest it is not."
	AkiImprovingButResolvedMessage = "AKI marked as improving, but the creatinines suggest it is resolved."
	AkiImprovingButNotMessage      = "AKI marked as improving, but the creatinines suggest it is not."
	AkiOngoingButResolvedMessage   = "The AKI is marked as ongoing, but the creatinines suggest it is resolved."
	AkiOngoingButImprovingMessage  = "The AKI is marked as ongoing, but the creatinines suggest it is still improving."
)

// AkiContext carries the patient facts the trajectory computation needs
// beyond the creatinine series itself.
type AkiContext struct {
	Baseline   *decimal.Decimal
	OnDialysis bool
	Stage      domain.Stage
	Age        *int
	Gender     *domain.Gender
}

// AkiService classifies acute kidney injury trajectories from
// creatinine trends and orchestrates episode create, update, and
// vacuum-delete flows.
type AkiService struct {
	repo   domain.PatientRepository
	cache  domain.SnapshotCache
	audit  domain.DecisionLogger
	logger *logrus.Logger
}

// NewAkiService creates an AKI trajectory service.
func NewAkiService(repo domain.PatientRepository, cache domain.SnapshotCache, audit domain.DecisionLogger, logger *logrus.Logger) *AkiService {
	return &AkiService{repo: repo, cache: cache, audit: audit, logger: logger}
}

// Classify computes the AKI status from a newest-first creatinine
// series. An empty series defaults to ongoing. The series must be
// pre-sorted; classification never re-sorts.
func (s *AkiService) Classify(series []*domain.LabReading, akiCtx AkiContext) (domain.AkiStatus, error) {
	if len(series) == 0 {
		return domain.ONGOING, nil
	}
	resolved, err := s.isResolved(series, akiCtx)
	if err != nil {
		return "", err
	}
	if resolved {
		return domain.RESOLVED, nil
	}
	improving, err := SeriesImproving(series)
	if err != nil {
		return "", err
	}
	if improving {
		return domain.IMPROVING, nil
	}
	return domain.ONGOING, nil
}

// isResolved checks the newest creatinine against, in order of
// preference: the normal upper limit, the patient's baseline, and the
// range implied by an asserted CKD stage.
func (s *AkiService) isResolved(series []*domain.LabReading, akiCtx AkiContext) (bool, error) {
	if err := CheckChronologicalOrder(series); err != nil {
		return false, err
	}
	newest := series[0]
	if WithinNormalLimits(newest.Value, domain.CreatinineUpperLimit) {
		return true, nil
	}
	if akiCtx.Baseline != nil {
		return AtBaseline(newest.Value, akiCtx.Baseline, akiCtx.OnDialysis)
	}
	if akiCtx.Stage.IsSet() && akiCtx.Age != nil && akiCtx.Gender != nil {
		return WithinRangeForStage(newest.Value, akiCtx.Stage, *akiCtx.Age, *akiCtx.Gender)
	}
	return false, nil
}

// CheckStatusConsistency cross-validates a caller-asserted status
// against the creatinine trend, collecting one of six mismatch messages
// when they disagree. An empty series validates any asserted status.
func (s *AkiService) CheckStatusConsistency(asserted domain.AkiStatus, series []*domain.LabReading, akiCtx AkiContext) (domain.ValidationErrors, error) {
	errs := domain.NewValidationErrors()
	if len(series) == 0 {
		return errs, nil
	}
	resolved, err := s.isResolved(series, akiCtx)
	if err != nil {
		return nil, err
	}
	improving := false
	if !resolved {
		if improving, err = SeriesImproving(series); err != nil {
			return nil, err
		}
	}

	switch asserted {
	case domain.RESOLVED:
		if !resolved {
			if improving {
				errs.Add(domain.FieldCreatinine, AkiResolvedButImprovingMessage)
			} else {
				errs.Add(domain.FieldCreatinine, AkiResolvedButNotMessage)
			}
		}
	case domain.IMPROVING:
		if resolved {
			errs.Add(domain.FieldCreatinine, AkiImprovingButResolvedMessage)
		} else if !improving {
			errs.Add(domain.FieldCreatinine, AkiImprovingButNotMessage)
		}
	case domain.ONGOING:
		if resolved {
			errs.Add(domain.FieldCreatinine, AkiOngoingButResolvedMessage)
		} else if improving {
			errs.Add(domain.FieldCreatinine, AkiOngoingButImprovingMessage)
		}
	}
	return errs, nil
}

// AkiWriteRequest is the caller's target state for an episode: an
// optional asserted status and the full list of creatinine readings the
// episode should end up with. Readings may arrive in any order.
type AkiWriteRequest struct {
	SubjectID   uuid.UUID
	Status      domain.AkiStatus
	Creatinines []*domain.LabReading
}

// Create records a new AKI episode. A request with neither a status nor
// readings still creates the episode with status ongoing. When a status
// is asserted it is cross-checked against the trend; any mismatch
// aborts the write.
func (s *AkiService) Create(ctx context.Context, req *AkiWriteRequest) (*domain.AkiEpisode, error) {
	snapshot, err := s.snapshot(ctx, req.SubjectID)
	if err != nil {
		return nil, err
	}
	series, akiCtx, err := s.prepare(req, snapshot)
	if err != nil {
		return nil, err
	}

	status := req.Status
	if status != "" {
		errs, err := s.CheckStatusConsistency(status, series, akiCtx)
		if err != nil {
			return nil, err
		}
		if err := errs.Err(); err != nil {
			return nil, err
		}
	} else {
		if status, err = s.Classify(series, akiCtx); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	episode := &domain.AkiEpisode{
		ID:          uuid.New(),
		SubjectID:   req.SubjectID,
		Status:      status,
		Creatinines: series,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, c := range episode.Creatinines {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.EpisodeID = episode.ID
	}
	if err := episode.Validate(now); err != nil {
		return nil, err
	}
	if err := s.repo.SaveAkiEpisode(ctx, episode); err != nil {
		return nil, fmt.Errorf("save aki episode: %w", err)
	}
	s.afterWrite(ctx, req.SubjectID, status, now)
	return episode, nil
}

// Update reconciles an existing episode against the caller's target
// state. An update that vacuums both the status and every reading
// deletes the episode; the returned episode is nil in that case.
func (s *AkiService) Update(ctx context.Context, episode *domain.AkiEpisode, req *AkiWriteRequest) (*domain.AkiEpisode, error) {
	if episode == nil {
		return nil, fmt.Errorf("update aki episode: %w", domain.ErrNotFound)
	}
	if req.Status == "" && len(req.Creatinines) == 0 {
		if err := s.repo.DeleteAkiEpisode(ctx, episode.ID); err != nil {
			return nil, fmt.Errorf("delete aki episode: %w", err)
		}
		s.logger.WithFields(logrus.Fields{
			"episode_id": episode.ID,
			"subject_id": episode.SubjectID,
		}).Info("AKI episode deleted after all fields were cleared")
		if s.cache != nil {
			_ = s.cache.Invalidate(ctx, episode.SubjectID)
		}
		return nil, nil
	}

	snapshot, err := s.snapshot(ctx, episode.SubjectID)
	if err != nil {
		return nil, err
	}
	changes, target, err := ReconcileReadings(episode.Creatinines, req.Creatinines)
	if err != nil {
		return nil, err
	}
	akiCtx := contextFromSnapshot(snapshot)

	status := req.Status
	if status != "" {
		errs, err := s.CheckStatusConsistency(status, target, akiCtx)
		if err != nil {
			return nil, err
		}
		if err := errs.Err(); err != nil {
			return nil, err
		}
	} else {
		if status, err = s.Classify(target, akiCtx); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	for _, c := range target {
		c.EpisodeID = episode.ID
		c.SubjectID = uuid.Nil
	}
	episode.Status = status
	episode.Creatinines = target
	episode.UpdatedAt = now
	if err := episode.Validate(now); err != nil {
		return nil, err
	}
	if !changes.IsEmpty() {
		if err := s.repo.ApplyReadingChanges(ctx, episode.SubjectID, changes); err != nil {
			return nil, fmt.Errorf("apply reading changes: %w", err)
		}
	}
	if err := s.repo.SaveAkiEpisode(ctx, episode); err != nil {
		return nil, fmt.Errorf("save aki episode: %w", err)
	}
	s.afterWrite(ctx, episode.SubjectID, status, now)
	return episode, nil
}

func (s *AkiService) snapshot(ctx context.Context, subjectID uuid.UUID) (*domain.PatientSnapshot, error) {
	if s.cache != nil {
		if snap, ok := s.cache.Get(ctx, subjectID); ok {
			return snap, nil
		}
	}
	snap, err := s.repo.GetSnapshot(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("load patient snapshot: %w", err)
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, snap)
	}
	return snap, nil
}

// prepare validates and sorts the incoming readings and assembles the
// classification context from the patient snapshot.
func (s *AkiService) prepare(req *AkiWriteRequest, snapshot *domain.PatientSnapshot) ([]*domain.LabReading, AkiContext, error) {
	now := time.Now().UTC()
	for _, c := range req.Creatinines {
		c.Kind = domain.CREATININE
		if err := c.Validate(now); err != nil {
			return nil, AkiContext{}, err
		}
	}
	series := make([]*domain.LabReading, len(req.Creatinines))
	copy(series, req.Creatinines)
	if err := domain.SortReadingsByDateDesc(series); err != nil {
		return nil, AkiContext{}, err
	}
	return series, contextFromSnapshot(snapshot), nil
}

func contextFromSnapshot(snapshot *domain.PatientSnapshot) AkiContext {
	akiCtx := AkiContext{
		Baseline: snapshot.BaselineCreatinine,
		Age:      snapshot.Age,
		Gender:   snapshot.Gender,
	}
	if snapshot.CkdDetail != nil {
		akiCtx.OnDialysis = snapshot.CkdDetail.Dialysis
		akiCtx.Stage = snapshot.CkdDetail.Stage
	}
	return akiCtx
}

func (s *AkiService) afterWrite(ctx context.Context, subjectID uuid.UUID, status domain.AkiStatus, at time.Time) {
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, subjectID)
	}
	if s.audit != nil {
		if err := s.audit.LogAkiClassification(ctx, subjectID, status, at); err != nil {
			s.logger.WithError(err).Warn("Failed to record AKI classification in decision log")
		}
	}
	s.logger.WithFields(logrus.Fields{
		"subject_id": subjectID,
		"status":     status.String(),
	}).Info("AKI episode evaluated")
}
