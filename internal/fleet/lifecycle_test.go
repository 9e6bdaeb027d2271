package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/keyfleet/internal/model"
)

func TestRenewKey_ExtendsFromFutureExpiry(t *testing.T) {
	alpha := &fakeAdapter{name: "alpha"}
	store := newFakeStore()
	seedClient(store, "u-1", "k-one", "alpha")
	future := time.Now().Add(10 * 24 * time.Hour)
	store.clients["u-1"].ExpireAt = &future

	o := newOrchestrator(store, newFakeSource(alpha))

	result, err := o.RenewKey(context.Background(), "u-1", 30, "ops")
	require.NoError(t, err)
	assert.Equal(t, StatusFullSuccess, result.Status)

	newExpire := store.expiryUpdates["u-1"]
	require.NotNil(t, newExpire)
	assert.WithinDuration(t, future.Add(30*24*time.Hour), *newExpire, time.Second)

	require.Len(t, store.events, 1)
	assert.Equal(t, model.ActionExtended, store.events[0].Action)
}

func TestRenewKey_ExpiredKeyExtendsFromNow(t *testing.T) {
	alpha := &fakeAdapter{name: "alpha"}
	store := newFakeStore()
	seedClient(store, "u-1", "k-one", "alpha")
	past := time.Now().Add(-5 * 24 * time.Hour)
	store.clients["u-1"].ExpireAt = &past
	store.clients["u-1"].Status = model.StatusExpired

	o := newOrchestrator(store, newFakeSource(alpha))

	result, err := o.RenewKey(context.Background(), "u-1", 30, "ops")
	require.NoError(t, err)
	assert.Equal(t, StatusFullSuccess, result.Status)

	newExpire := store.expiryUpdates["u-1"]
	require.NotNil(t, newExpire)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), *newExpire, time.Second)
	assert.Equal(t, model.StatusActive, store.statusUpdates["u-1"])
}

func TestRenewKey_PartialLeavesStoreUntouched(t *testing.T) {
	alpha := &fakeAdapter{name: "alpha"}
	bravo := &fakeAdapter{name: "bravo", extendFn: func(string, int) error {
		return unreachable("bravo")
	}}
	store := newFakeStore()
	seedClient(store, "u-1", "k-one", "alpha", "bravo")

	o := newOrchestrator(store, newFakeSource(alpha, bravo))

	result, err := o.RenewKey(context.Background(), "u-1", 30, "ops")
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, result.Status)
	assert.Empty(t, store.expiryUpdates)
	assert.Empty(t, store.events)
}

func TestRenewKey_RejectsNonPositiveDays(t *testing.T) {
	store := newFakeStore()
	o := newOrchestrator(store, newFakeSource())

	_, err := o.RenewKey(context.Background(), "u-1", 0, "ops")
	require.Error(t, err)
}

func TestSuspendAndReactivateKey(t *testing.T) {
	var lastEnabled *bool
	alpha := &fakeAdapter{name: "alpha", toggleFn: func(_ string, enabled bool) error {
		lastEnabled = &enabled
		return nil
	}}
	store := newFakeStore()
	seedClient(store, "u-1", "k-one", "alpha")

	o := newOrchestrator(store, newFakeSource(alpha))

	result, err := o.SuspendKey(context.Background(), "u-1", "ops")
	require.NoError(t, err)
	assert.Equal(t, StatusFullSuccess, result.Status)
	require.NotNil(t, lastEnabled)
	assert.False(t, *lastEnabled)
	assert.Equal(t, model.StatusSuspended, store.statusUpdates["u-1"])

	result, err = o.ReactivateKey(context.Background(), "u-1", "ops")
	require.NoError(t, err)
	assert.Equal(t, StatusFullSuccess, result.Status)
	assert.True(t, *lastEnabled)
	assert.Equal(t, model.StatusActive, store.statusUpdates["u-1"])

	require.Len(t, store.events, 2)
	assert.Equal(t, model.ActionSuspended, store.events[0].Action)
	assert.Equal(t, model.ActionReactivated, store.events[1].Action)
}

func TestSuspendKey_PartialLeavesStatus(t *testing.T) {
	alpha := &fakeAdapter{name: "alpha", toggleFn: func(string, bool) error {
		return unreachable("alpha")
	}}
	store := newFakeStore()
	seedClient(store, "u-1", "k-one", "alpha")

	o := newOrchestrator(store, newFakeSource(alpha))

	result, err := o.SuspendKey(context.Background(), "u-1", "ops")
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, result.Status)
	assert.Empty(t, store.statusUpdates)
}
