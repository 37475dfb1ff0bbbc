package reconcile

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mintra/marketscan/events"
	"github.com/mintra/marketscan/ledger"
	"github.com/mintra/marketscan/metrics"
)

// BuyHandler reconciles exchange trade settlements. One handler covers the
// whole exchange; the collection comes from the event itself.
type BuyHandler struct {
	store  ledger.Store
	logger *zap.Logger
	met    *metrics.Metrics
}

// NewBuyHandler creates a buy handler for one exchange contract
func NewBuyHandler(store ledger.Store, logger *zap.Logger, met *metrics.Metrics) *BuyHandler {
	return &BuyHandler{store: store, logger: logger, met: met}
}

// Apply moves ownership, consumes the matching bid and records the priced
// history row
func (h *BuyHandler) Apply(ctx context.Context, rec events.Record) error {
	ev, ok := rec.(events.Buy)
	if !ok {
		return fmt.Errorf("buy handler got %T", rec)
	}

	amount := ev.Amount
	if amount == 0 {
		// Single-edition trades report a zero amount
		amount = 1
	}
	internalID := ev.TokenID.String()

	return h.store.Update(ctx, func(tx ledger.Tx) error {
		for _, m := range []ledger.HistoryMethod{ledger.MethodBuy, ledger.MethodAuctionWin} {
			applied, err := tx.HistoryExists(ev.TxHash, m)
			if err != nil {
				return err
			}
			if applied {
				return nil
			}
		}

		tok, err := tx.GetToken(ev.CollectionAddress, internalID)
		if err == ledger.ErrNotFound {
			h.logger.Warn("trade for unknown token",
				zap.String("collection", ev.CollectionAddress),
				zap.String("internal_id", internalID),
				zap.String("tx_hash", ev.TxHash))
			countSoftMiss(h.met, events.CategoryBuy)
			return nil
		}
		if err != nil {
			return err
		}
		if tok.Status != ledger.TokenCommitted {
			h.logger.Warn("trade for uncommitted token",
				zap.String("collection", ev.CollectionAddress),
				zap.String("internal_id", internalID),
				zap.String("status", string(tok.Status)))
			countSoftMiss(h.met, events.CategoryBuy)
			return nil
		}

		// An auction tracker on the token means this settlement is a
		// won auction, not a direct buy
		trackers, err := tx.TrackersForToken(ev.CollectionAddress, internalID)
		if err != nil {
			return err
		}
		method := ledger.MethodBuy
		for _, tr := range trackers {
			if tr.Auction {
				method = ledger.MethodAuctionWin
				break
			}
		}

		if err := h.debitSeller(tx, ev, internalID, amount); err != nil {
			return err
		}
		if err := h.creditBuyer(tx, ev, internalID, amount); err != nil {
			return err
		}
		if err := h.consumeBid(tx, ev, internalID, amount); err != nil {
			return err
		}
		for _, tr := range trackers {
			if err := tx.DeleteTracker(tr.TxHash); err != nil {
				return err
			}
		}

		price, err := h.formatPrice(tx, ev.CurrencyAddress, ev.Price)
		if err != nil {
			return err
		}

		h.logger.Info("trade settled",
			zap.String("collection", ev.CollectionAddress),
			zap.String("internal_id", internalID),
			zap.String("method", string(method)),
			zap.String("price", price),
			zap.Uint64("amount", amount))

		return tx.PutHistory(&ledger.TokenHistory{
			TxHash:            ev.TxHash,
			Method:            method,
			CollectionAddress: ev.CollectionAddress,
			InternalID:        internalID,
			OldOwner:          ev.Seller,
			NewOwner:          ev.Buyer,
			Price:             price,
			CurrencyAddress:   ev.CurrencyAddress,
			Amount:            amount,
			CreatedAt:         time.Now().UTC(),
		})
	})
}

func (h *BuyHandler) debitSeller(tx ledger.Tx, ev events.Buy, internalID string, amount uint64) error {
	own, err := tx.GetOwnership(ev.CollectionAddress, internalID, ev.Seller)
	if err == ledger.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if own.Quantity <= amount {
		own.Quantity = 0
	} else {
		own.Quantity -= amount
	}
	if own.Selling > own.Quantity {
		own.Selling = own.Quantity
	}
	return tx.PutOwnership(own)
}

func (h *BuyHandler) creditBuyer(tx ledger.Tx, ev events.Buy, internalID string, amount uint64) error {
	own, err := tx.GetOwnership(ev.CollectionAddress, internalID, ev.Buyer)
	if err == ledger.ErrNotFound {
		own = &ledger.Ownership{
			CollectionAddress: ev.CollectionAddress,
			InternalID:        internalID,
			Owner:             ev.Buyer,
		}
	} else if err != nil {
		return err
	}
	own.Quantity += amount
	return tx.PutOwnership(own)
}

// consumeBid retires the buyer's standing offer: fully consumed bids are
// deleted, partially consumed ones keep their remainder
func (h *BuyHandler) consumeBid(tx ledger.Tx, ev events.Buy, internalID string, amount uint64) error {
	bid, err := tx.GetBid(ev.CollectionAddress, internalID, ev.Buyer)
	if err == ledger.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if bid.Quantity <= amount {
		return tx.DeleteBid(ev.CollectionAddress, internalID, ev.Buyer)
	}
	bid.Quantity -= amount
	return tx.PutBid(bid)
}

// formatPrice scales the raw on-chain price by the currency's decimals. An
// unknown currency falls back to the common 18.
func (h *BuyHandler) formatPrice(tx ledger.Tx, currency string, raw *big.Int) (string, error) {
	decimals := uint8(18)
	cur, err := tx.GetCurrency(currency)
	if err == nil {
		decimals = cur.Decimals
	} else if err != ledger.ErrNotFound {
		return "", err
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	s := new(big.Rat).SetFrac(raw, scale).FloatString(int(decimals))
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" {
		s = "0"
	}
	return s, nil
}
