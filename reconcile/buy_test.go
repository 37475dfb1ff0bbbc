package reconcile

import (
	"context"
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mintra/marketscan/events"
	"github.com/mintra/marketscan/ledger"
	"github.com/mintra/marketscan/metrics"
)

const testCurrency = "0xcccc000000000000000000000000000000000003"

func buyFixture(t *testing.T) ledger.Store {
	t.Helper()
	store := newTestStore(t)
	seedCollection(t, store, &ledger.Collection{Address: testCollection, Status: ledger.CollectionCommitted})
	seedToken(t, store,
		&ledger.Token{CollectionAddress: testCollection, InternalID: "7", TotalSupply: 5, Status: ledger.TokenCommitted},
		&ledger.Ownership{CollectionAddress: testCollection, InternalID: "7", Owner: alice, Quantity: 5, Selling: 5},
	)
	require.NoError(t, store.Update(context.Background(), func(tx ledger.Tx) error {
		return tx.PutCurrency(&ledger.Currency{Address: testCurrency, Symbol: "WETH", Decimals: 18})
	}))
	return store
}

func buyEvent(amount uint64, price *big.Int) events.Buy {
	return events.Buy{
		Buyer:             bob,
		Seller:            alice,
		Price:             price,
		Amount:            amount,
		TokenID:           big.NewInt(7),
		TxHash:            "0x555",
		CurrencyAddress:   testCurrency,
		CollectionAddress: testCollection,
	}
}

func TestBuyMovesOwnershipAndPricesHistory(t *testing.T) {
	store := buyFixture(t)
	h := NewBuyHandler(store, zap.NewNop(), nil)

	// 1.5 WETH at 18 decimals
	price, _ := new(big.Int).SetString("1500000000000000000", 10)
	ev := buyEvent(2, price)

	require.NoError(t, h.Apply(context.Background(), ev))
	require.NoError(t, h.Apply(context.Background(), ev), "replay must be a no-op")

	assert.Equal(t, uint64(3), getOwnership(t, store, "7", alice).Quantity)
	assert.Equal(t, uint64(3), getOwnership(t, store, "7", alice).Selling)
	assert.Equal(t, uint64(2), getOwnership(t, store, "7", bob).Quantity)

	require.NoError(t, store.View(context.Background(), func(tx ledger.Tx) error {
		applied, err := tx.HistoryExists("0x555", ledger.MethodBuy)
		require.NoError(t, err)
		assert.True(t, applied)
		return nil
	}))
}

func TestBuyZeroAmountIsSingleEdition(t *testing.T) {
	store := buyFixture(t)
	h := NewBuyHandler(store, zap.NewNop(), nil)

	require.NoError(t, h.Apply(context.Background(), buyEvent(0, big.NewInt(100))))

	assert.Equal(t, uint64(4), getOwnership(t, store, "7", alice).Quantity)
	assert.Equal(t, uint64(1), getOwnership(t, store, "7", bob).Quantity)
}

func TestBuyWithAuctionTrackerIsAuctionWin(t *testing.T) {
	store := buyFixture(t)
	require.NoError(t, store.Update(context.Background(), func(tx ledger.Tx) error {
		if err := tx.PutTracker(&ledger.TransactionTracker{
			TxHash:            "0xpending",
			CollectionAddress: testCollection,
			InternalID:        "7",
			Bidder:            bob,
			Auction:           true,
		}); err != nil {
			return err
		}
		return tx.PutBid(&ledger.Bid{
			CollectionAddress: testCollection, InternalID: "7", Bidder: bob, Amount: "100", Quantity: 2,
		})
	}))

	h := NewBuyHandler(store, zap.NewNop(), nil)
	require.NoError(t, h.Apply(context.Background(), buyEvent(2, big.NewInt(100))))

	require.NoError(t, store.View(context.Background(), func(tx ledger.Tx) error {
		applied, err := tx.HistoryExists("0x555", ledger.MethodAuctionWin)
		require.NoError(t, err)
		assert.True(t, applied, "auction tracker selects the AuctionWin method")

		_, err = tx.GetBid(testCollection, "7", bob)
		assert.ErrorIs(t, err, ledger.ErrNotFound, "fully consumed bid is deleted")

		trackers, err := tx.TrackersForToken(testCollection, "7")
		require.NoError(t, err)
		assert.Empty(t, trackers)
		return nil
	}))
}

func TestBuyPartiallyConsumesBid(t *testing.T) {
	store := buyFixture(t)
	require.NoError(t, store.Update(context.Background(), func(tx ledger.Tx) error {
		return tx.PutBid(&ledger.Bid{
			CollectionAddress: testCollection, InternalID: "7", Bidder: bob, Amount: "100", Quantity: 5,
		})
	}))

	h := NewBuyHandler(store, zap.NewNop(), nil)
	require.NoError(t, h.Apply(context.Background(), buyEvent(2, big.NewInt(100))))

	require.NoError(t, store.View(context.Background(), func(tx ledger.Tx) error {
		bid, err := tx.GetBid(testCollection, "7", bob)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), bid.Quantity)
		return nil
	}))
}

func TestFormatPrice(t *testing.T) {
	store := buyFixture(t)
	h := NewBuyHandler(store, zap.NewNop(), nil)

	tests := []struct {
		raw  string
		want string
	}{
		{"1500000000000000000", "1.5"},
		{"2000000000000000000", "2"},
		{"1", "0.000000000000000001"},
		{"0", "0"},
	}

	require.NoError(t, store.View(context.Background(), func(tx ledger.Tx) error {
		for _, tt := range tests {
			raw, ok := new(big.Int).SetString(tt.raw, 10)
			require.True(t, ok)
			got, err := h.formatPrice(tx, testCurrency, raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		}
		return nil
	}))
}

func TestBuyUnknownTokenIsSoftMiss(t *testing.T) {
	store := newTestStore(t)
	met := metrics.New("buyhandlertest")
	h := NewBuyHandler(store, zap.NewNop(), met)

	assert.NoError(t, h.Apply(context.Background(), buyEvent(1, big.NewInt(1))))
	assert.Equal(t, 1.0,
		testutil.ToFloat64(met.SoftMissesTotal.WithLabelValues("buy")),
		"a skipped event shows up in the soft-miss counter")
}
