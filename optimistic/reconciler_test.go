package optimistic

import (
	"testing"
	"time"

	"github.com/mmdatafocus/pos_engine/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReconciler() *Reconciler {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewReconciler(logger, NewCache())
}

func existingSale() models.SaleRecord {
	return models.SaleRecord{
		ID:            "s1",
		ScopeId:       "c1",
		DayKey:        "2026-08-29",
		CurrentStatus: models.SaleStatusOpen,
		TotalAmount:   decimal.NewFromInt(10),
		Items: []models.SaleItem{
			{SaleRecordId: "s1", ItemId: "i1", Name: "Tea", Quantity: decimal.NewFromInt(2)},
		},
		StatusChangedAt: time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC),
	}
}

func TestApplyInstallsMutationImmediately(t *testing.T) {
	r := newTestReconciler()
	r.Cache().Put(existingSale())

	handle, err := r.Apply("s1", func(s *models.SaleRecord) {
		s.CurrentStatus = models.SaleStatusKitchen
	})
	require.NoError(t, err)

	got, ok := r.Cache().Get("s1")
	require.True(t, ok)
	assert.Equal(t, models.SaleStatusKitchen, got.CurrentStatus)
	handle.Commit()
}

func TestRollbackRestoresExactPriorState(t *testing.T) {
	r := newTestReconciler()
	prior := existingSale()
	r.Cache().Put(prior)

	handle, err := r.Apply("s1", func(s *models.SaleRecord) {
		s.CurrentStatus = models.SaleStatusVoid
		s.Items = nil
		s.TotalAmount = decimal.Zero
	})
	require.NoError(t, err)

	err = handle.Rollback()
	require.ErrorIs(t, err, ErrRolledBack)

	got, ok := r.Cache().Get("s1")
	require.True(t, ok)
	assert.Equal(t, prior.CurrentStatus, got.CurrentStatus)
	assert.True(t, prior.TotalAmount.Equal(got.TotalAmount))
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Tea", got.Items[0].Name)
}

func TestRollbackOnNewEntityDeletesIt(t *testing.T) {
	r := newTestReconciler()

	handle, err := r.Apply("s2", func(s *models.SaleRecord) {
		s.CurrentStatus = models.SaleStatusOpen
	})
	require.NoError(t, err)

	_, ok := r.Cache().Get("s2")
	require.True(t, ok)

	require.ErrorIs(t, handle.Rollback(), ErrRolledBack)
	_, ok = r.Cache().Get("s2")
	assert.False(t, ok)
}

func TestSecondApplyOnHeldEntityIsRejected(t *testing.T) {
	r := newTestReconciler()
	r.Cache().Put(existingSale())

	handle, err := r.Apply("s1", func(s *models.SaleRecord) { s.CurrentStatus = models.SaleStatusKitchen })
	require.NoError(t, err)
	assert.True(t, r.Holds("s1"))

	_, err = r.Apply("s1", func(s *models.SaleRecord) { s.CurrentStatus = models.SaleStatusServed })
	assert.ErrorIs(t, err, ErrSnapshotHeld)

	handle.Commit()
	assert.False(t, r.Holds("s1"))

	_, err = r.Apply("s1", func(s *models.SaleRecord) { s.CurrentStatus = models.SaleStatusServed })
	assert.NoError(t, err)
}

func TestCommitIsIdempotentAndBlocksLateRollback(t *testing.T) {
	r := newTestReconciler()
	r.Cache().Put(existingSale())

	handle, err := r.Apply("s1", func(s *models.SaleRecord) { s.CurrentStatus = models.SaleStatusPaid })
	require.NoError(t, err)

	handle.Commit()
	handle.Commit()
	require.NoError(t, handle.Rollback())

	got, _ := r.Cache().Get("s1")
	assert.Equal(t, models.SaleStatusPaid, got.CurrentStatus)
}

func TestReplaceAllKeepsHeldEntries(t *testing.T) {
	r := newTestReconciler()

	handle, err := r.Apply("s-local", func(s *models.SaleRecord) { s.CurrentStatus = models.SaleStatusOpen })
	require.NoError(t, err)
	defer handle.Commit()

	authoritative := []models.SaleRecord{{ID: "s-remote", CurrentStatus: models.SaleStatusPaid}}
	r.Cache().ReplaceAll(authoritative, r.Holds)

	_, ok := r.Cache().Get("s-remote")
	assert.True(t, ok)
	_, ok = r.Cache().Get("s-local")
	assert.True(t, ok, "in-flight optimistic entry must survive refetch replacement")
}

func TestSnapshotDoesNotShareItemBacking(t *testing.T) {
	r := newTestReconciler()
	r.Cache().Put(existingSale())

	handle, err := r.Apply("s1", func(s *models.SaleRecord) {
		s.Items[0].Name = "Coffee"
	})
	require.NoError(t, err)

	require.ErrorIs(t, handle.Rollback(), ErrRolledBack)
	got, _ := r.Cache().Get("s1")
	assert.Equal(t, "Tea", got.Items[0].Name)
}
