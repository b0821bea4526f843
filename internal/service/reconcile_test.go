package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gouthelper-server/internal/domain"
)

func identified(value string, daysAgo int) *domain.LabReading {
	r := urate(value, daysAgo)
	r.ID = uuid.New()
	return r
}

func TestReconcileReadingsDiff(t *testing.T) {
	a := identified("5.0", 10)
	b := identified("6.0", 20)

	updatedA := &domain.LabReading{ID: a.ID, Kind: domain.URATE, Value: dec("5.5"), DateDrawn: a.DateDrawn}
	newReading := urate("4.5", 5)

	changes, target, err := ReconcileReadings(
		[]*domain.LabReading{a, b},
		[]*domain.LabReading{updatedA, newReading},
	)
	require.NoError(t, err)

	require.Len(t, changes.Update, 1)
	assert.Equal(t, a.ID, changes.Update[0].ID)
	assert.True(t, changes.Update[0].Value.Equal(dec("5.5")))

	require.Len(t, changes.Create, 1)
	assert.NotEqual(t, uuid.Nil, changes.Create[0].ID, "created reading gets an identity")
	assert.True(t, changes.Create[0].Value.Equal(dec("4.5")))

	require.Len(t, changes.Delete, 1)
	assert.Equal(t, b.ID, changes.Delete[0])

	// Target list is re-sorted newest-first.
	require.Len(t, target, 2)
	assert.True(t, target[0].Value.Equal(dec("4.5")))
	assert.True(t, target[1].Value.Equal(dec("5.5")))
}

func TestReconcileReadingsRoundTrip(t *testing.T) {
	a := identified("5.0", 10)
	b := identified("6.0", 20)
	existing := []*domain.LabReading{a, b}

	changes, target, err := ReconcileReadings(existing, []*domain.LabReading{a, b})
	require.NoError(t, err)
	assert.Empty(t, changes.Create)
	assert.Empty(t, changes.Update)
	assert.Empty(t, changes.Delete)
	assert.True(t, changes.IsEmpty())
	assert.Len(t, target, 2)
}

func TestReconcileReadingsUnknownID(t *testing.T) {
	existing := []*domain.LabReading{identified("5.0", 10)}
	phantom := &domain.LabReading{ID: uuid.New(), Kind: domain.URATE, Value: dec("6.0"), DateDrawn: time.Now().AddDate(0, 0, -1)}

	_, _, err := ReconcileReadings(existing, []*domain.LabReading{phantom})
	require.Error(t, err)
	var cerr *domain.ConfigurationError
	assert.ErrorAs(t, err, &cerr)
}

func TestReconcileReadingsEmptyIncomingDeletesAll(t *testing.T) {
	a := identified("5.0", 10)
	b := identified("6.0", 20)

	changes, target, err := ReconcileReadings([]*domain.LabReading{a, b}, nil)
	require.NoError(t, err)
	assert.Empty(t, changes.Create)
	assert.Empty(t, changes.Update)
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, changes.Delete)
	assert.Empty(t, target)
}
