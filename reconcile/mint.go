package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mintra/marketscan/events"
	"github.com/mintra/marketscan/ledger"
	"github.com/mintra/marketscan/metrics"
)

// MintHandler commits native mints on a marketplace-deployed collection.
// The marketplace stages a Pending token (keyed by mint sequence) before the
// mint transaction; this handler attaches the on-chain token id to it.
// Imported collections never reach this handler: their mints arrive as
// transfers from the zero address.
type MintHandler struct {
	store      ledger.Store
	collection string
	logger     *zap.Logger
	met        *metrics.Metrics
}

// NewMintHandler creates a mint handler for one collection contract
func NewMintHandler(store ledger.Store, collection string, logger *zap.Logger, met *metrics.Metrics) *MintHandler {
	return &MintHandler{store: store, collection: collection, logger: logger, met: met}
}

// Apply commits the staged token and credits the minter's ownership
func (h *MintHandler) Apply(ctx context.Context, rec events.Record) error {
	ev, ok := rec.(events.Mint)
	if !ok {
		return fmt.Errorf("mint handler got %T", rec)
	}

	return h.store.Update(ctx, func(tx ledger.Tx) error {
		applied, err := tx.HistoryExists(ev.TxHash, ledger.MethodMint)
		if err != nil {
			return err
		}
		if applied {
			return nil
		}

		col, err := tx.GetCollection(h.collection)
		if err == ledger.ErrNotFound {
			h.logger.Warn("mint for unknown collection",
				zap.String("collection", h.collection),
				zap.String("tx_hash", ev.TxHash))
			countSoftMiss(h.met, events.CategoryMint)
			return nil
		}
		if err != nil {
			return err
		}
		if col.Imported {
			h.logger.Warn("mint event on imported collection ignored",
				zap.String("collection", h.collection),
				zap.String("tx_hash", ev.TxHash))
			countSoftMiss(h.met, events.CategoryMint)
			return nil
		}

		tok, err := tx.GetPendingToken(h.collection, ev.MintID)
		if err == ledger.ErrNotFound {
			h.logger.Warn("mint for unknown token",
				zap.String("collection", h.collection),
				zap.Uint64("mint_id", ev.MintID),
				zap.String("tx_hash", ev.TxHash))
			countSoftMiss(h.met, events.CategoryMint)
			return nil
		}
		if err != nil {
			return err
		}

		internalID := ev.InternalID.String()
		tok.InternalID = internalID
		tok.Status = ledger.TokenCommitted
		tok.TotalSupply = ev.Amount
		if err := tx.PutToken(tok); err != nil {
			return err
		}
		if err := tx.DeletePendingToken(h.collection, ev.MintID); err != nil {
			return err
		}

		// The minter may have pre-listed the token; keep the staged
		// selling quantity and record the listing alongside the mint
		own, err := tx.GetOwnership(h.collection, internalID, ev.Owner)
		if err != nil && err != ledger.ErrNotFound {
			return err
		}
		listed := err == nil && own.Selling > 0
		if err == ledger.ErrNotFound {
			own = &ledger.Ownership{
				CollectionAddress: h.collection,
				InternalID:        internalID,
				Owner:             ev.Owner,
			}
		}
		own.Quantity = ev.Amount
		if own.Selling > own.Quantity {
			own.Selling = own.Quantity
		}
		if err := tx.PutOwnership(own); err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := tx.PutHistory(&ledger.TokenHistory{
			TxHash:            ev.TxHash,
			Method:            ledger.MethodMint,
			CollectionAddress: h.collection,
			InternalID:        internalID,
			NewOwner:          ev.Owner,
			Amount:            ev.Amount,
			CreatedAt:         now,
		}); err != nil {
			return err
		}
		if listed {
			if err := tx.PutHistory(&ledger.TokenHistory{
				TxHash:            ev.TxHash,
				Method:            ledger.MethodListing,
				CollectionAddress: h.collection,
				InternalID:        internalID,
				NewOwner:          ev.Owner,
				Amount:            own.Selling,
				CreatedAt:         now,
			}); err != nil {
				return err
			}
		}

		h.logger.Info("token minted",
			zap.String("collection", h.collection),
			zap.String("internal_id", internalID),
			zap.Uint64("mint_id", ev.MintID),
			zap.String("owner", ev.Owner))

		return nil
	})
}
