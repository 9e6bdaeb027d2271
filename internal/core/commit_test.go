package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/keyfleet/internal/model"
)

func TestServices_CommitCreate_Success(t *testing.T) {
	db := &mockTxDB{}
	tx := &mockTx{}
	svc := NewServices(db)
	ctx := context.Background()

	db.On("Begin", ctx).Return(tx, nil)
	// client insert + two memberships + lifecycle event
	tx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil).Times(4)
	tx.On("Commit", ctx).Return(nil)

	expire := time.Now().Add(30 * 24 * time.Hour)
	client := &model.Client{UUID: "u-1", Email: "k-one", ExpireAt: &expire}

	err := svc.CommitCreate(ctx, client, []string{"alpha", "bravo"}, "ops@example.com")
	require.NoError(t, err)
	db.AssertExpectations(t)
	tx.AssertExpectations(t)
}

func TestServices_CommitCreate_MembershipError_NoCommit(t *testing.T) {
	db := &mockTxDB{}
	tx := &mockTx{}
	svc := NewServices(db)
	ctx := context.Background()

	db.On("Begin", ctx).Return(tx, nil)
	tx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil).Once()
	tx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, errors.New("fk violation")).Once()

	err := svc.CommitCreate(ctx, &model.Client{UUID: "u-1", Email: "k-one"}, []string{"alpha"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert membership")
	tx.AssertNotCalled(t, "Commit", ctx)
	db.AssertExpectations(t)
	tx.AssertExpectations(t)
}

func TestServices_CommitCreate_BeginError(t *testing.T) {
	db := &mockTxDB{}
	svc := NewServices(db)
	ctx := context.Background()

	db.On("Begin", ctx).Return(nil, errors.New("pool exhausted"))

	err := svc.CommitCreate(ctx, &model.Client{UUID: "u-1"}, nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin create commit")
	db.AssertExpectations(t)
}

func TestServices_CommitDelete_Success(t *testing.T) {
	db := &mockTxDB{}
	tx := &mockTx{}
	svc := NewServices(db)
	ctx := context.Background()

	db.On("Begin", ctx).Return(tx, nil)
	// client update + memberships update + lifecycle event
	tx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil).Times(3)
	tx.On("Commit", ctx).Return(nil)

	err := svc.CommitDelete(ctx, "u-1", "ops@example.com", "customer churn")
	require.NoError(t, err)
	db.AssertExpectations(t)
	tx.AssertExpectations(t)
}
