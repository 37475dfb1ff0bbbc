package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mintra/marketscan/events"
	"github.com/mintra/marketscan/ledger"
)

func TestApprovalRevokeForceDelists(t *testing.T) {
	store := newTestStore(t)
	seedToken(t, store,
		&ledger.Token{CollectionAddress: testCollection, InternalID: "1", TotalSupply: 1, Status: ledger.TokenCommitted},
		&ledger.Ownership{CollectionAddress: testCollection, InternalID: "1", Owner: alice, Quantity: 1, Selling: 1},
	)
	seedToken(t, store,
		&ledger.Token{CollectionAddress: testCollection, InternalID: "2", TotalSupply: 3, Status: ledger.TokenCommitted},
		&ledger.Ownership{CollectionAddress: testCollection, InternalID: "2", Owner: alice, Quantity: 3, Selling: 2},
		&ledger.Ownership{CollectionAddress: testCollection, InternalID: "2", Owner: bob, Quantity: 1, Selling: 1},
	)

	h := NewApprovalHandler(store, testExchange, testCollection, zap.NewNop())
	require.NoError(t, h.Apply(context.Background(), events.Approval{
		Account:    alice,
		Operator:   testExchange,
		IsApproved: false,
	}))

	assert.Equal(t, uint64(0), getOwnership(t, store, "1", alice).Selling)
	assert.Equal(t, uint64(0), getOwnership(t, store, "2", alice).Selling)
	assert.Equal(t, uint64(1), getOwnership(t, store, "2", bob).Selling,
		"other accounts keep their listings")
	assert.Equal(t, uint64(3), getOwnership(t, store, "2", alice).Quantity,
		"delisting never touches quantities")
}

func TestApprovalGrantIgnored(t *testing.T) {
	store := newTestStore(t)
	seedToken(t, store,
		&ledger.Token{CollectionAddress: testCollection, InternalID: "1", TotalSupply: 1, Status: ledger.TokenCommitted},
		&ledger.Ownership{CollectionAddress: testCollection, InternalID: "1", Owner: alice, Quantity: 1, Selling: 1},
	)

	h := NewApprovalHandler(store, testExchange, testCollection, zap.NewNop())
	require.NoError(t, h.Apply(context.Background(), events.Approval{
		Account: alice, Operator: testExchange, IsApproved: true,
	}))

	assert.Equal(t, uint64(1), getOwnership(t, store, "1", alice).Selling)
}

func TestApprovalForOtherOperatorIgnored(t *testing.T) {
	store := newTestStore(t)
	seedToken(t, store,
		&ledger.Token{CollectionAddress: testCollection, InternalID: "1", TotalSupply: 1, Status: ledger.TokenCommitted},
		&ledger.Ownership{CollectionAddress: testCollection, InternalID: "1", Owner: alice, Quantity: 1, Selling: 1},
	)

	h := NewApprovalHandler(store, testExchange, testCollection, zap.NewNop())
	require.NoError(t, h.Apply(context.Background(), events.Approval{
		Account: alice, Operator: bob, IsApproved: false,
	}))

	assert.Equal(t, uint64(1), getOwnership(t, store, "1", alice).Selling)
}
