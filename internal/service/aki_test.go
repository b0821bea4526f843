package service

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gouthelper-server/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeRepo is an in-memory PatientRepository for orchestration tests.
type fakeRepo struct {
	snapshot        *domain.PatientSnapshot
	savedEpisode    *domain.AkiEpisode
	deletedEpisode  uuid.UUID
	appliedChanges  *domain.ReadingChanges
	savedCkd        *domain.CkdDetail
	savedGoutDetail *domain.GoutDetail
}

func (f *fakeRepo) GetSnapshot(_ context.Context, _ uuid.UUID) (*domain.PatientSnapshot, error) {
	return f.snapshot, nil
}

func (f *fakeRepo) GetReading(_ context.Context, _ uuid.UUID) (*domain.LabReading, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeRepo) ApplyReadingChanges(_ context.Context, _ uuid.UUID, changes *domain.ReadingChanges) error {
	f.appliedChanges = changes
	return nil
}

func (f *fakeRepo) SaveAkiEpisode(_ context.Context, episode *domain.AkiEpisode) error {
	f.savedEpisode = episode
	return nil
}

func (f *fakeRepo) DeleteAkiEpisode(_ context.Context, id uuid.UUID) error {
	f.deletedEpisode = id
	return nil
}

func (f *fakeRepo) SaveCkdDetail(_ context.Context, _ uuid.UUID, detail *domain.CkdDetail, _ *domain.LabReading) error {
	f.savedCkd = detail
	return nil
}

func (f *fakeRepo) DeleteCkdDetail(_ context.Context, _ uuid.UUID) error {
	return nil
}

func (f *fakeRepo) SaveGoutDetail(_ context.Context, _ uuid.UUID, detail *domain.GoutDetail) error {
	f.savedGoutDetail = detail
	return nil
}

func newAkiService(repo *fakeRepo) *AkiService {
	return NewAkiService(repo, nil, nil, testLogger())
}

func intPtr(i int) *int { return &i }

func genderPtr(g domain.Gender) *domain.Gender { return &g }

func TestClassifyAki(t *testing.T) {
	svc := newAkiService(&fakeRepo{})

	tests := []struct {
		name   string
		series []*domain.LabReading
		ctx    AkiContext
		want   domain.AkiStatus
	}{
		{
			name:   "empty series defaults to ongoing",
			series: nil,
			want:   domain.ONGOING,
		},
		{
			name:   "newest below normal limit resolves",
			series: []*domain.LabReading{creat("1.0", 1), creat("2.0", 2), creat("3.0", 3)},
			want:   domain.RESOLVED,
		},
		{
			name:   "decreasing but still elevated improves",
			series: []*domain.LabReading{creat("2.0", 1), creat("2.5", 2), creat("3.0", 3)},
			want:   domain.IMPROVING,
		},
		{
			name:   "increase mid-series stays ongoing",
			series: []*domain.LabReading{creat("2.5", 1), creat("2.0", 2), creat("3.0", 3)},
			want:   domain.ONGOING,
		},
		{
			name:   "elevated but at baseline resolves",
			series: []*domain.LabReading{creat("2.1", 1), creat("3.0", 2)},
			ctx:    AkiContext{Baseline: decPtr("2.0")},
			want:   domain.RESOLVED,
		},
		{
			name:   "elevated above baseline tolerance improves",
			series: []*domain.LabReading{creat("2.5", 1), creat("3.0", 2)},
			ctx:    AkiContext{Baseline: decPtr("2.0")},
			want:   domain.IMPROVING,
		},
		{
			name:   "within range for asserted stage resolves",
			series: []*domain.LabReading{creat("2.0", 1), creat("3.0", 2)},
			ctx:    AkiContext{Stage: domain.StageIII, Age: intPtr(50), Gender: genderPtr(domain.MALE)},
			want:   domain.RESOLVED,
		},
		{
			name:   "worse than asserted stage improves",
			series: []*domain.LabReading{creat("2.0", 1), creat("3.0", 2)},
			ctx:    AkiContext{Stage: domain.StageII, Age: intPtr(50), Gender: genderPtr(domain.MALE)},
			want:   domain.IMPROVING,
		},
		{
			name:   "single elevated reading stays ongoing",
			series: []*domain.LabReading{creat("2.0", 1)},
			want:   domain.ONGOING,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Classify(tt.series, tt.ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyAkiUnorderedSeriesRaises(t *testing.T) {
	svc := newAkiService(&fakeRepo{})
	series := []*domain.LabReading{creat("2.0", 5), creat("3.0", 1)}
	_, err := svc.Classify(series, AkiContext{})
	require.Error(t, err)
	var oerr *domain.OrderError
	assert.ErrorAs(t, err, &oerr)
}

func TestCheckStatusConsistency(t *testing.T) {
	svc := newAkiService(&fakeRepo{})

	resolvedSeries := []*domain.LabReading{creat("1.0", 1), creat("2.0", 2)}
	improvingSeries := []*domain.LabReading{creat("2.0", 1), creat("3.0", 2)}
	ongoingSeries := []*domain.LabReading{creat("2.5", 1), creat("2.0", 2), creat("3.0", 3)}

	tests := []struct {
		name     string
		asserted domain.AkiStatus
		series   []*domain.LabReading
		want     string
	}{
		{"resolved but improving", domain.RESOLVED, improvingSeries, AkiResolvedButImprovingMessage},
		{"resolved but ongoing", domain.RESOLVED, ongoingSeries, AkiResolvedButNotMessage},
		{"improving but resolved", domain.IMPROVING, resolvedSeries, AkiImprovingButResolvedMessage},
		{"improving but ongoing", domain.IMPROVING, ongoingSeries, AkiImprovingButNotMessage},
		{"ongoing but resolved", domain.ONGOING, resolvedSeries, AkiOngoingButResolvedMessage},
		{"ongoing but improving", domain.ONGOING, improvingSeries, AkiOngoingButImprovingMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs, err := svc.CheckStatusConsistency(tt.asserted, tt.series, AkiContext{})
			require.NoError(t, err)
			require.True(t, errs.HasErrors())
			require.Len(t, errs[domain.FieldCreatinine], 1)
			assert.Equal(t, tt.want, errs[domain.FieldCreatinine][0])
		})
	}

	t.Run("matching status collects nothing", func(t *testing.T) {
		errs, err := svc.CheckStatusConsistency(domain.RESOLVED, resolvedSeries, AkiContext{})
		require.NoError(t, err)
		assert.False(t, errs.HasErrors())
	})
	t.Run("empty series validates any status", func(t *testing.T) {
		errs, err := svc.CheckStatusConsistency(domain.RESOLVED, nil, AkiContext{})
		require.NoError(t, err)
		assert.False(t, errs.HasErrors())
	})
}

func TestAkiCreate(t *testing.T) {
	subjectID := uuid.New()
	snapshot := &domain.PatientSnapshot{SubjectID: subjectID}

	t.Run("empty request still creates ongoing episode", func(t *testing.T) {
		repo := &fakeRepo{snapshot: snapshot}
		svc := newAkiService(repo)

		episode, err := svc.Create(context.Background(), &AkiWriteRequest{SubjectID: subjectID})
		require.NoError(t, err)
		require.NotNil(t, episode)
		assert.Equal(t, domain.ONGOING, episode.Status)
		assert.Equal(t, repo.savedEpisode, episode)
	})

	t.Run("status computed from readings", func(t *testing.T) {
		repo := &fakeRepo{snapshot: snapshot}
		svc := newAkiService(repo)

		episode, err := svc.Create(context.Background(), &AkiWriteRequest{
			SubjectID:   subjectID,
			Creatinines: []*domain.LabReading{creat("2.0", 2), creat("1.0", 1)},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.RESOLVED, episode.Status)
		// Readings were sorted newest-first and attached to the episode.
		require.Len(t, episode.Creatinines, 2)
		assert.True(t, episode.Creatinines[0].Value.Equal(dec("1.0")))
		assert.Equal(t, episode.ID, episode.Creatinines[0].EpisodeID)
	})

	t.Run("asserted status mismatch aborts the write", func(t *testing.T) {
		repo := &fakeRepo{snapshot: snapshot}
		svc := newAkiService(repo)

		_, err := svc.Create(context.Background(), &AkiWriteRequest{
			SubjectID:   subjectID,
			Status:      domain.RESOLVED,
			Creatinines: []*domain.LabReading{creat("2.0", 1), creat("3.0", 2)},
		})
		require.Error(t, err)
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, AkiResolvedButImprovingMessage, verr.Errors[domain.FieldCreatinine][0])
		assert.Nil(t, repo.savedEpisode, "no write after validation failure")
	})
}

func TestAkiUpdate(t *testing.T) {
	subjectID := uuid.New()
	snapshot := &domain.PatientSnapshot{SubjectID: subjectID}

	t.Run("vacuuming all fields deletes the episode", func(t *testing.T) {
		repo := &fakeRepo{snapshot: snapshot}
		svc := newAkiService(repo)
		episode := &domain.AkiEpisode{ID: uuid.New(), SubjectID: subjectID, Status: domain.ONGOING}

		got, err := svc.Update(context.Background(), episode, &AkiWriteRequest{SubjectID: subjectID})
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Equal(t, episode.ID, repo.deletedEpisode)
	})

	t.Run("reconciled readings reclassify the episode", func(t *testing.T) {
		repo := &fakeRepo{snapshot: snapshot}
		svc := newAkiService(repo)

		existing := creat("3.0", 3)
		existing.ID = uuid.New()
		episode := &domain.AkiEpisode{
			ID:          uuid.New(),
			SubjectID:   subjectID,
			Status:      domain.ONGOING,
			Creatinines: []*domain.LabReading{existing},
		}

		got, err := svc.Update(context.Background(), episode, &AkiWriteRequest{
			SubjectID:   subjectID,
			Creatinines: []*domain.LabReading{existing, creat("1.0", 1)},
		})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, domain.RESOLVED, got.Status)
		require.NotNil(t, repo.appliedChanges)
		assert.Len(t, repo.appliedChanges.Create, 1)
		assert.Empty(t, repo.appliedChanges.Delete)
	})

	t.Run("updating a missing episode fails", func(t *testing.T) {
		svc := newAkiService(&fakeRepo{snapshot: snapshot})
		_, err := svc.Update(context.Background(), nil, &AkiWriteRequest{SubjectID: subjectID, Status: domain.ONGOING})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
