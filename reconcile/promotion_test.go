package reconcile

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mintra/marketscan/events"
	"github.com/mintra/marketscan/ledger"
)

type recordingActivator struct {
	activated []*ledger.Promotion
}

func (a *recordingActivator) Activate(ctx context.Context, p *ledger.Promotion) error {
	a.activated = append(a.activated, p)
	return nil
}

func promotionFixture(t *testing.T) ledger.Store {
	t.Helper()
	store := newTestStore(t)
	seedToken(t, store,
		&ledger.Token{CollectionAddress: testCollection, InternalID: "7", TotalSupply: 1, Status: ledger.TokenCommitted},
		&ledger.Ownership{CollectionAddress: testCollection, InternalID: "7", Owner: alice, Quantity: 1},
	)
	return store
}

func promotionEvent() events.Promotion {
	return events.Promotion{
		Package:           2,
		CollectionAddress: testCollection,
		TokenID:           big.NewInt(7),
		Buyer:             alice,
		ChainID:           137,
	}
}

func TestPromotionOnEmptyQueueActivates(t *testing.T) {
	store := promotionFixture(t)
	activator := &recordingActivator{}
	h := NewPromotionHandler(store, []uint64{1, 2, 3}, activator, zap.NewNop(), nil)

	require.NoError(t, h.Apply(context.Background(), promotionEvent()))

	require.Len(t, activator.activated, 1, "first entry on an empty queue activates")
	assert.Equal(t, uint64(2), activator.activated[0].Package)

	require.NoError(t, store.View(context.Background(), func(tx ledger.Tx) error {
		waiting, err := tx.WaitingPromotions()
		require.NoError(t, err)
		require.Len(t, waiting, 1)
		assert.Equal(t, ledger.PromotionWaiting, waiting[0].Status)
		return nil
	}))
}

func TestPromotionOnBusyQueueJustQueues(t *testing.T) {
	store := promotionFixture(t)
	require.NoError(t, store.Update(context.Background(), func(tx ledger.Tx) error {
		return tx.CreatePromotion(&ledger.Promotion{
			CollectionAddress: testCollection,
			InternalID:        "7",
			Buyer:             bob,
			Package:           1,
			Status:            ledger.PromotionWaiting,
		})
	}))

	activator := &recordingActivator{}
	h := NewPromotionHandler(store, []uint64{1, 2, 3}, activator, zap.NewNop(), nil)

	require.NoError(t, h.Apply(context.Background(), promotionEvent()))

	assert.Empty(t, activator.activated, "the running chain pulls the next entry itself")
	require.NoError(t, store.View(context.Background(), func(tx ledger.Tx) error {
		waiting, err := tx.WaitingPromotions()
		require.NoError(t, err)
		assert.Len(t, waiting, 2)
		return nil
	}))
}

func TestPromotionReplayNotRequeued(t *testing.T) {
	store := promotionFixture(t)
	activator := &recordingActivator{}
	h := NewPromotionHandler(store, []uint64{2}, activator, zap.NewNop(), nil)

	require.NoError(t, h.Apply(context.Background(), promotionEvent()))
	require.NoError(t, h.Apply(context.Background(), promotionEvent()))

	require.NoError(t, store.View(context.Background(), func(tx ledger.Tx) error {
		waiting, err := tx.WaitingPromotions()
		require.NoError(t, err)
		assert.Len(t, waiting, 1)
		return nil
	}))
	assert.Len(t, activator.activated, 1)
}

func TestPromotionRejectsUnknownPackageAndNonOwner(t *testing.T) {
	store := promotionFixture(t)
	activator := &recordingActivator{}
	h := NewPromotionHandler(store, []uint64{2}, activator, zap.NewNop(), nil)

	unknown := promotionEvent()
	unknown.Package = 99
	require.NoError(t, h.Apply(context.Background(), unknown))

	notOwner := promotionEvent()
	notOwner.Buyer = bob
	require.NoError(t, h.Apply(context.Background(), notOwner))

	require.NoError(t, store.View(context.Background(), func(tx ledger.Tx) error {
		waiting, err := tx.WaitingPromotions()
		require.NoError(t, err)
		assert.Empty(t, waiting)
		return nil
	}))
	assert.Empty(t, activator.activated)
}

func TestRegistryDispatch(t *testing.T) {
	store := promotionFixture(t)
	reg := NewRegistry()
	reg.Register(events.CategoryPromotion, NewPromotionHandler(store, []uint64{2}, &recordingActivator{}, zap.NewNop(), nil))

	require.NoError(t, reg.Apply(context.Background(), promotionEvent()))

	err := reg.Apply(context.Background(), events.Deploy{})
	assert.Error(t, err, "unregistered categories are rejected")
}
