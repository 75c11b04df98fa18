package provisioning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novafi/novafi/internal/custody"
	"github.com/novafi/novafi/internal/domain"
	"github.com/novafi/novafi/internal/logging"
	"github.com/novafi/novafi/internal/repository"
)

func approveWithMarker(t *testing.T, store repository.Store, userID string) {
	t.Helper()
	ev := domain.VerificationEvent{EventID: "evt-" + userID, UserID: userID, Type: "applicantReviewed", ReceivedAt: time.Now().UTC()}
	_, err := store.ProcessEvent(context.Background(), ev, func(user domain.User) (domain.StatusUpdate, domain.EventOutcome, error) {
		return domain.StatusUpdate{To: domain.StatusApproved, Changed: true, RequestProvisioning: true}, domain.OutcomeProcessed, nil
	})
	require.NoError(t, err)
}

func TestRunPendingConsumesMarkers(t *testing.T) {
	f := newFixture(t, domain.StatusPending)
	approveWithMarker(t, f.store, "NF-032025001")

	pending, err := f.store.PendingProvisioning(context.Background(), time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Equal(t, []string{"NF-032025001"}, pending)

	d := NewDispatcher(f.orch, f.store, logging.Discard(), DispatcherConfig{})
	outcomes, err := d.RunPending(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.StatusProvisioned, outcomes[0].Status)

	pending, err = f.store.PendingProvisioning(context.Background(), time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunPendingDropsIneligibleMarker(t *testing.T) {
	f := newFixture(t, domain.StatusPending)
	approveWithMarker(t, f.store, "NF-032025001")

	// A later event moved the user out of approval before any worker ran.
	_, err := f.store.ProcessEvent(context.Background(), domain.VerificationEvent{EventID: "evt-reset", UserID: "NF-032025001", ReceivedAt: time.Now().UTC()},
		func(user domain.User) (domain.StatusUpdate, domain.EventOutcome, error) {
			return domain.StatusUpdate{To: domain.StatusPending, Changed: true}, domain.OutcomeProcessed, nil
		})
	require.NoError(t, err)

	d := NewDispatcher(f.orch, f.store, logging.Discard(), DispatcherConfig{})
	outcomes, err := d.RunPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, outcomes)

	pending, _ := f.store.PendingProvisioning(context.Background(), time.Now().UTC(), 10)
	assert.Empty(t, pending)
	assert.Zero(t, f.customers.Calls)
}

func TestDispatcherWorkersProvisionEnqueuedUsers(t *testing.T) {
	f := newFixture(t, domain.StatusPending)
	approveWithMarker(t, f.store, "NF-032025001")

	d := NewDispatcher(f.orch, f.store, logging.Discard(), DispatcherConfig{Workers: 2, Schedule: "@every 1h"})
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background()) // nolint:errcheck

	assert.True(t, d.Enqueue("NF-032025001"))

	require.Eventually(t, func() bool {
		user, err := f.store.FindUser(context.Background(), "NF-032025001")
		return err == nil && user.Status == domain.StatusProvisioned
	}, 2*time.Second, 10*time.Millisecond)

	queued, err := d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, queued)
}

func TestEnqueueAfterStopIsRefused(t *testing.T) {
	f := newFixture(t, domain.StatusApproved)
	d := NewDispatcher(f.orch, f.store, logging.Discard(), DispatcherConfig{Workers: 1})
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Stop(context.Background()))
	assert.False(t, d.Enqueue("NF-032025001"))
}

func TestStartRejectsBadSchedule(t *testing.T) {
	f := newFixture(t, domain.StatusApproved)
	d := NewDispatcher(f.orch, f.store, logging.Discard(), DispatcherConfig{Schedule: "not a schedule"})
	assert.Error(t, d.Start(context.Background()))
}

func TestShutdownMidRunLeavesUserPending(t *testing.T) {
	f := newFixture(t, domain.StatusPending)
	approveWithMarker(t, f.store, "NF-032025001")
	stalling := newStallingWallets()
	orch := NewOrchestrator(f.store, f.customers, stalling, nil, logging.Discard(), Config{Targets: testTargets, Retry: fastRetry, LeaseTTL: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(orch, f.store, logging.Discard(), DispatcherConfig{Workers: 1, Schedule: "@every 1h"})
	require.NoError(t, d.Start(ctx))
	require.True(t, d.Enqueue("NF-032025001"))
	<-stalling.entered

	// The signal context goes first, as it does on SIGTERM.
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer stopCancel()
	assert.ErrorIs(t, d.Stop(stopCtx), context.DeadlineExceeded)

	user, err := f.store.FindUser(context.Background(), "NF-032025001")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, user.Status)

	rec, err := f.store.ProvisioningRecord(context.Background(), "NF-032025001")
	require.NoError(t, err)
	assert.NotNil(t, rec.PendingSince)
	assert.Empty(t, rec.LastError)

	pending, err := f.store.PendingProvisioning(context.Background(), time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"NF-032025001"}, pending)
}

func TestWorkersFinishRunsAfterSignal(t *testing.T) {
	f := newFixture(t, domain.StatusPending)
	approveWithMarker(t, f.store, "NF-032025001")
	blocking := &blockingWallets{entered: make(chan struct{}), release: make(chan struct{}), inner: custody.NewStaticClient()}
	orch := NewOrchestrator(f.store, f.customers, blocking, nil, logging.Discard(), Config{Targets: testTargets, Retry: fastRetry, LeaseTTL: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(orch, f.store, logging.Discard(), DispatcherConfig{Workers: 1, Schedule: "@every 1h"})
	require.NoError(t, d.Start(ctx))
	require.True(t, d.Enqueue("NF-032025001"))
	<-blocking.entered

	cancel()
	close(blocking.release)
	require.NoError(t, d.Stop(context.Background()))

	user, err := f.store.FindUser(context.Background(), "NF-032025001")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProvisioned, user.Status)
}
