package fleet

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/keyfleet/internal/model"
	"github.com/edvin/keyfleet/internal/panel"
)

func createOp(servers ...string) *model.PendingOperation {
	payload, _ := json.Marshal(model.CreatePayload{Email: "k-one", Actor: "retry"})
	return &model.PendingOperation{
		ID:          "op-1",
		Kind:        model.OperationCreate,
		ClientUUID:  "u-1",
		Servers:     servers,
		Payload:     payload,
		MaxAttempts: 8,
	}
}

func TestRetry_Create_Converges(t *testing.T) {
	// alpha already has the client from a previous attempt, bravo takes
	// it now: the operation converges and commits the rows
	alpha := &fakeAdapter{name: "alpha", addFn: func(panel.ClientSpec) error {
		return panel.ErrAlreadyExists
	}}
	bravo := &fakeAdapter{name: "bravo"}
	store := newFakeStore()
	o := newOrchestrator(store, newFakeSource(alpha, bravo))

	err := o.Retry(context.Background(), createOp("alpha", "bravo"))
	require.NoError(t, err)

	require.Len(t, store.creates, 1)
	assert.Equal(t, "u-1", store.creates[0].client.UUID)
	assert.Equal(t, "k-one", store.creates[0].client.Email)
	assert.Equal(t, []string{"alpha", "bravo"}, store.creates[0].servers)
	assert.Equal(t, "retry", store.creates[0].actor)
}

func TestRetry_Create_TransientFailureIsRetryable(t *testing.T) {
	alpha := &fakeAdapter{name: "alpha"}
	bravo := &fakeAdapter{name: "bravo", addFn: func(panel.ClientSpec) error {
		return unreachable("bravo")
	}}
	store := newFakeStore()
	o := newOrchestrator(store, newFakeSource(alpha, bravo))

	err := o.Retry(context.Background(), createOp("alpha", "bravo"))
	require.Error(t, err)
	assert.False(t, IsTerminal(err))
	// what landed stays in place; the next attempt converges on it
	assert.EqualValues(t, 0, alpha.delCalls)
	assert.Empty(t, store.creates)
}

func TestRetry_Create_RejectionIsTerminal(t *testing.T) {
	alpha := &fakeAdapter{name: "alpha"}
	bravo := &fakeAdapter{name: "bravo", addFn: func(panel.ClientSpec) error {
		return rejected("bravo", "inbound is disabled")
	}}
	store := newFakeStore()
	o := newOrchestrator(store, newFakeSource(alpha, bravo))

	err := o.Retry(context.Background(), createOp("alpha", "bravo"))
	require.Error(t, err)
	assert.True(t, IsTerminal(err))
	// the confirmed server is compensated before parking
	assert.EqualValues(t, 1, alpha.delCalls)
	assert.Empty(t, store.creates)
}

func TestRetry_Create_MalformedPayloadIsTerminal(t *testing.T) {
	store := newFakeStore()
	o := newOrchestrator(store, newFakeSource(&fakeAdapter{name: "alpha"}))

	op := createOp("alpha")
	op.Payload = json.RawMessage(`{not json`)
	err := o.Retry(context.Background(), op)
	require.Error(t, err)
	assert.True(t, IsTerminal(err))
}

func TestRetry_Create_AllTargetsGoneIsTerminal(t *testing.T) {
	store := newFakeStore()
	o := newOrchestrator(store, newFakeSource())

	err := o.Retry(context.Background(), createOp("ghost"))
	require.Error(t, err)
	assert.True(t, IsTerminal(err))
}

func TestRetry_Delete_Converges(t *testing.T) {
	alpha := &fakeAdapter{name: "alpha", delFn: func(string) error {
		return panel.ErrNotFound
	}}
	store := newFakeStore()
	o := newOrchestrator(store, newFakeSource(alpha))

	payload, _ := json.Marshal(model.DeletePayload{Actor: "ops"})
	op := &model.PendingOperation{
		ID: "op-2", Kind: model.OperationDelete, ClientUUID: "u-1",
		Servers: []string{"alpha"}, Payload: payload,
	}
	err := o.Retry(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, model.MembershipDeleted, store.membershipStatus["u-1/alpha"])
	assert.Equal(t, []string{"u-1"}, store.deletes)
}

func TestRetry_Delete_PartialIsRetryable(t *testing.T) {
	alpha := &fakeAdapter{name: "alpha"}
	bravo := &fakeAdapter{name: "bravo", delFn: func(string) error {
		return unreachable("bravo")
	}}
	store := newFakeStore()
	o := newOrchestrator(store, newFakeSource(alpha, bravo))

	payload, _ := json.Marshal(model.DeletePayload{})
	op := &model.PendingOperation{
		ID: "op-3", Kind: model.OperationDelete, ClientUUID: "u-1",
		Servers: []string{"alpha", "bravo"}, Payload: payload,
	}
	err := o.Retry(context.Background(), op)
	require.Error(t, err)
	assert.False(t, IsTerminal(err))
	// alpha's membership is settled even though the operation continues
	assert.Equal(t, model.MembershipDeleted, store.membershipStatus["u-1/alpha"])
	assert.Empty(t, store.deletes)
}

func TestRetry_DeleteSerializesWithKeyLock(t *testing.T) {
	// a queued delete must queue behind whoever holds the key's lock, the
	// same way synchronous operations do
	alpha := &fakeAdapter{name: "alpha"}
	store := newFakeStore()
	seedClient(store, "u-1", "k-one", "alpha")
	o := newOrchestrator(store, newFakeSource(alpha))

	payload, _ := json.Marshal(model.DeletePayload{Actor: "ops"})
	op := &model.PendingOperation{
		ID: "op-5", Kind: model.OperationDelete, ClientUUID: "u-1",
		Servers: []string{"alpha"}, Payload: payload,
	}

	o.locks.lock("k-one")
	done := make(chan error, 1)
	go func() { done <- o.Retry(context.Background(), op) }()

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 0, alpha.delCalls)

	o.locks.unlock("k-one")
	require.NoError(t, <-done)
	assert.EqualValues(t, 1, alpha.delCalls)
}

func TestRetry_UnknownKindIsTerminal(t *testing.T) {
	store := newFakeStore()
	o := newOrchestrator(store, newFakeSource())

	err := o.Retry(context.Background(), &model.PendingOperation{ID: "op-4", Kind: "compact"})
	require.Error(t, err)
	assert.True(t, IsTerminal(err))
}
