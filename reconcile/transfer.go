package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mintra/marketscan/events"
	"github.com/mintra/marketscan/internal/constants"
	"github.com/mintra/marketscan/ledger"
	"github.com/mintra/marketscan/metrics"
)

// TxToResolver resolves the destination address of a transaction. Transfers
// settling through the exchange are discarded here since the trade event
// already covers them.
type TxToResolver interface {
	TransactionTo(ctx context.Context, txHash string) (string, error)
}

// TransferHandler reconciles transfer-shaped events on one collection. A
// single log shape carries three distinct signals which the handler
// disambiguates by the zero address: mints on imported collections come in
// as transfers from zero, burns go to zero, and everything else moves
// ownership between accounts.
type TransferHandler struct {
	store      ledger.Store
	resolver   TxToResolver
	exchange   string
	collection string
	logger     *zap.Logger
	met        *metrics.Metrics
}

// NewTransferHandler creates a transfer handler for one collection contract
func NewTransferHandler(store ledger.Store, resolver TxToResolver, exchange, collection string, logger *zap.Logger, met *metrics.Metrics) *TransferHandler {
	return &TransferHandler{
		store:      store,
		resolver:   resolver,
		exchange:   strings.ToLower(exchange),
		collection: collection,
		logger:     logger,
		met:        met,
	}
}

// Apply reconciles one transfer, burn or imported mint
func (h *TransferHandler) Apply(ctx context.Context, rec events.Record) error {
	ev, ok := rec.(events.Transfer)
	if !ok {
		return fmt.Errorf("transfer handler got %T", rec)
	}

	dest, err := h.resolver.TransactionTo(ctx, ev.TxHash)
	if err != nil {
		return fmt.Errorf("failed to resolve transaction destination: %w", err)
	}
	if dest == h.exchange {
		// Settles through the exchange; the trade event owns it
		return nil
	}

	internalID := ev.TokenID.String()

	return h.store.Update(ctx, func(tx ledger.Tx) error {
		col, err := tx.GetCollection(h.collection)
		if err == ledger.ErrNotFound {
			h.logger.Warn("transfer for unknown collection",
				zap.String("collection", h.collection),
				zap.String("tx_hash", ev.TxHash))
			countSoftMiss(h.met, events.CategoryTransfer)
			return nil
		}
		if err != nil {
			return err
		}

		switch {
		case ev.OldOwner == constants.ZeroAddress:
			if !col.Imported {
				// Native mints are handled by the mint event
				return nil
			}
			return h.applyImportedMint(tx, ev, internalID)
		case ev.NewOwner == constants.ZeroAddress:
			return h.applyBurn(tx, ev, internalID)
		default:
			return h.applyTransfer(tx, ev, internalID)
		}
	})
}

// applyImportedMint creates the token and ownership a foreign mint implies.
// One transaction may mint several distinct tokens, so the idempotency key
// includes the token id.
func (h *TransferHandler) applyImportedMint(tx ledger.Tx, ev events.Transfer, internalID string) error {
	applied, err := tx.HistoryExistsForToken(ev.TxHash, ledger.MethodMint, internalID)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	tok, err := tx.GetToken(h.collection, internalID)
	if err == ledger.ErrNotFound {
		tok = &ledger.Token{
			CollectionAddress: h.collection,
			InternalID:        internalID,
			Status:            ledger.TokenCommitted,
		}
	} else if err != nil {
		return err
	}
	tok.TotalSupply += ev.Amount
	if err := tx.PutToken(tok); err != nil {
		return err
	}

	if err := h.creditOwner(tx, internalID, ev.NewOwner, ev.Amount); err != nil {
		return err
	}

	h.logger.Info("imported token minted",
		zap.String("collection", h.collection),
		zap.String("internal_id", internalID),
		zap.String("owner", ev.NewOwner))

	return tx.PutHistoryForToken(&ledger.TokenHistory{
		TxHash:            ev.TxHash,
		Method:            ledger.MethodMint,
		CollectionAddress: h.collection,
		InternalID:        internalID,
		NewOwner:          ev.NewOwner,
		Amount:            ev.Amount,
		CreatedAt:         time.Now().UTC(),
	})
}

func (h *TransferHandler) applyBurn(tx ledger.Tx, ev events.Transfer, internalID string) error {
	applied, err := tx.HistoryExists(ev.TxHash, ledger.MethodBurn)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	tok, err := tx.GetToken(h.collection, internalID)
	if err == ledger.ErrNotFound {
		h.logger.Warn("burn for unknown token",
			zap.String("collection", h.collection),
			zap.String("internal_id", internalID),
			zap.String("tx_hash", ev.TxHash))
		countSoftMiss(h.met, events.CategoryTransfer)
		return nil
	}
	if err != nil {
		return err
	}

	if tok.TotalSupply <= ev.Amount {
		tok.TotalSupply = 0
		tok.Status = ledger.TokenBurned
		bids, err := tx.Bids(h.collection, internalID)
		if err != nil {
			return err
		}
		for _, b := range bids {
			if err := tx.DeleteBid(h.collection, internalID, b.Bidder); err != nil {
				return err
			}
		}
	} else {
		tok.TotalSupply -= ev.Amount
	}
	if err := tx.PutToken(tok); err != nil {
		return err
	}

	if err := h.debitOwner(tx, internalID, ev.OldOwner, ev.Amount); err != nil {
		return err
	}
	if err := tx.DeleteTracker(ev.TxHash); err != nil {
		return err
	}

	h.logger.Info("token burned",
		zap.String("collection", h.collection),
		zap.String("internal_id", internalID),
		zap.Uint64("amount", ev.Amount))

	return tx.PutHistory(&ledger.TokenHistory{
		TxHash:            ev.TxHash,
		Method:            ledger.MethodBurn,
		CollectionAddress: h.collection,
		InternalID:        internalID,
		OldOwner:          ev.OldOwner,
		Amount:            ev.Amount,
		CreatedAt:         time.Now().UTC(),
	})
}

func (h *TransferHandler) applyTransfer(tx ledger.Tx, ev events.Transfer, internalID string) error {
	applied, err := tx.HistoryExists(ev.TxHash, ledger.MethodTransfer)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	if _, err := tx.GetToken(h.collection, internalID); err == ledger.ErrNotFound {
		h.logger.Warn("transfer for unknown token",
			zap.String("collection", h.collection),
			zap.String("internal_id", internalID),
			zap.String("tx_hash", ev.TxHash))
		countSoftMiss(h.met, events.CategoryTransfer)
		return nil
	} else if err != nil {
		return err
	}

	if err := tx.DeleteTracker(ev.TxHash); err != nil {
		return err
	}
	if err := h.debitOwner(tx, internalID, ev.OldOwner, ev.Amount); err != nil {
		return err
	}
	if err := h.creditOwner(tx, internalID, ev.NewOwner, ev.Amount); err != nil {
		return err
	}

	return tx.PutHistory(&ledger.TokenHistory{
		TxHash:            ev.TxHash,
		Method:            ledger.MethodTransfer,
		CollectionAddress: h.collection,
		InternalID:        internalID,
		OldOwner:          ev.OldOwner,
		NewOwner:          ev.NewOwner,
		Amount:            ev.Amount,
		CreatedAt:         time.Now().UTC(),
	})
}

func (h *TransferHandler) creditOwner(tx ledger.Tx, internalID, owner string, amount uint64) error {
	own, err := tx.GetOwnership(h.collection, internalID, owner)
	if err == ledger.ErrNotFound {
		own = &ledger.Ownership{
			CollectionAddress: h.collection,
			InternalID:        internalID,
			Owner:             owner,
		}
	} else if err != nil {
		return err
	}
	own.Quantity += amount
	return tx.PutOwnership(own)
}

// debitOwner decrements an owner's stake, clamping at zero. The selling
// quantity never exceeds what remains.
func (h *TransferHandler) debitOwner(tx ledger.Tx, internalID, owner string, amount uint64) error {
	own, err := tx.GetOwnership(h.collection, internalID, owner)
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
