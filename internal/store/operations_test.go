// internal/store/operations_test.go
package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"workspace-sync-service/pkg/models"
)

func pendingOperation(t *testing.T, s *Store, opType string, targets ...string) *models.Operation {
	t.Helper()
	op := &models.Operation{
		Kind:      models.KindIssue,
		Type:      opType,
		CreatedBy: "tester",
	}
	op.SetTargets(targets)
	require.NoError(t, s.CreateOperation(context.Background(), op))
	return op
}

func TestCreateOperationDefaultsToPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	op := pendingOperation(t, s, models.OpUpdateField, "PROJ-1")

	got, err := s.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OperationPending, got.Status)
	assert.Equal(t, []string{"PROJ-1"}, got.Targets())

	_, err = s.GetOperation(ctx, uuid.New())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestTransitionOperationGuardsAllowedStates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	op := pendingOperation(t, s, models.OpUpdateField, "PROJ-1")

	approved, err := s.TransitionOperation(ctx, op.ID,
		[]models.OperationStatus{models.OperationPending}, models.OperationApproved,
		func(o *models.Operation) { o.ApprovedBy = "lead" })
	require.NoError(t, err)
	assert.Equal(t, models.OperationApproved, approved.Status)
	assert.Equal(t, "lead", approved.ApprovedBy)

	_, err = s.TransitionOperation(ctx, op.ID,
		[]models.OperationStatus{models.OperationPending}, models.OperationApproved, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)

	// The rejected attempt must not move the row.
	got, err := s.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OperationApproved, got.Status)
}

func TestTransitionOperationAcceptsAnyAllowedFrom(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	op := pendingOperation(t, s, models.OpTransition, "PROJ-2")

	cancelled, err := s.TransitionOperation(ctx, op.ID,
		[]models.OperationStatus{models.OperationPending, models.OperationApproved},
		models.OperationCancelled,
		func(o *models.Operation) {
			now := time.Now().UTC()
			o.CancelledAt = &now
		})
	require.NoError(t, err)
	assert.Equal(t, models.OperationCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
}

func TestListOperationsStatusFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := pendingOperation(t, s, models.OpUpdateField, "PROJ-1")
	_ = pendingOperation(t, s, models.OpTransition, "PROJ-2")

	_, err := s.TransitionOperation(ctx, a.ID,
		[]models.OperationStatus{models.OperationPending}, models.OperationApproved, nil)
	require.NoError(t, err)

	pending, err := s.ListOperations(ctx, models.OperationPending, 50, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.OpTransition, pending[0].Type)

	all, err := s.ListOperations(ctx, "", 50, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestHistoryOrderingPerOperationAndEntity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	op := pendingOperation(t, s, models.OpUpdateField, "PROJ-1", "PROJ-2")

	first := &models.HistorySnapshot{
		OperationID: op.ID,
		Kind:        models.KindIssue,
		RemoteID:    "PROJ-1",
		BeforeData:  models.EncodeFieldValues(models.FieldValues{"title": "old"}),
		AfterData:   models.EncodeFieldValues(models.FieldValues{"title": "new"}),
	}
	first.SetChangedFields([]string{"title"})
	require.NoError(t, s.CreateHistory(ctx, first))

	time.Sleep(2 * time.Millisecond) // distinct created_at for ordering

	second := &models.HistorySnapshot{
		OperationID: op.ID,
		Kind:        models.KindIssue,
		RemoteID:    "PROJ-2",
		BeforeData:  models.EncodeFieldValues(models.FieldValues{"title": "old 2"}),
		AfterData:   models.EncodeFieldValues(models.FieldValues{"title": "new 2"}),
	}
	second.SetChangedFields([]string{"title"})
	require.NoError(t, s.CreateHistory(ctx, second))

	inOrder, err := s.HistoryForOperation(ctx, op.ID)
	require.NoError(t, err)
	require.Len(t, inOrder, 2)
	assert.Equal(t, "PROJ-1", inOrder[0].RemoteID)
	assert.Equal(t, "PROJ-2", inOrder[1].RemoteID)

	forEntity, err := s.HistoryForEntity(ctx, models.KindIssue, "PROJ-1", 10)
	require.NoError(t, err)
	require.Len(t, forEntity, 1)
	assert.Equal(t, op.ID, forEntity[0].OperationID)
	assert.Equal(t, "old", forEntity[0].BeforeValues()["title"])
	assert.Equal(t, []string{"title"}, forEntity[0].ChangedFieldList())
}

func TestMarkRolledBackOnlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	op := pendingOperation(t, s, models.OpUpdateField, "PROJ-1")

	h := &models.HistorySnapshot{OperationID: op.ID, Kind: models.KindIssue, RemoteID: "PROJ-1"}
	h.SetChangedFields([]string{"title"})
	require.NoError(t, s.CreateHistory(ctx, h))

	rolled, err := s.MarkRolledBack(ctx, h.ID)
	require.NoError(t, err)
	assert.True(t, rolled.RolledBack)
	require.NotNil(t, rolled.RolledBackAt)

	_, err = s.MarkRolledBack(ctx, h.ID)
	require.ErrorIs(t, err, ErrAlreadyRolledBack)
}
