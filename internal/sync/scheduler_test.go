// internal/sync/scheduler_test.go
package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workspace-sync-service/pkg/models"
)

func TestSchedulerRunsPassesUntilStopped(t *testing.T) {
	st := newTestStore(t)
	svc := newFakeService(models.KindIssue)
	engine := issueEngine(st, svc, 0, nil)

	sched := NewScheduler(engine, 10*time.Millisecond)
	sched.Start()
	require.Eventually(t, func() bool { return svc.listCount() > 0 }, time.Second, 5*time.Millisecond)
	sched.Stop()

	after := svc.listCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, svc.listCount(), "no passes after Stop")
}

func TestSchedulerDisabledWithZeroInterval(t *testing.T) {
	st := newTestStore(t)
	svc := newFakeService(models.KindIssue)
	engine := issueEngine(st, svc, 0, nil)

	sched := NewScheduler(engine, 0)
	sched.Start()
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, svc.listCount())
	sched.Stop() // must be a no-op, not a panic
}
