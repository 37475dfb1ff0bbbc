package reconcile

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mintra/marketscan/events"
	"github.com/mintra/marketscan/ledger"
)

// ApprovalHandler watches blanket operator approvals on a collection. The
// only change it acts on is the exchange losing its approval: every listing
// the account holds in the collection is forcibly taken off sale, since the
// exchange can no longer settle them.
type ApprovalHandler struct {
	store      ledger.Store
	exchange   string
	collection string
	logger     *zap.Logger
}

// NewApprovalHandler creates an approval handler for one collection contract
func NewApprovalHandler(store ledger.Store, exchange, collection string, logger *zap.Logger) *ApprovalHandler {
	return &ApprovalHandler{
		store:      store,
		exchange:   strings.ToLower(exchange),
		collection: collection,
		logger:     logger,
	}
}

// Apply force-delists the account's tokens when exchange approval is revoked
func (h *ApprovalHandler) Apply(ctx context.Context, rec events.Record) error {
	ev, ok := rec.(events.Approval)
	if !ok {
		return fmt.Errorf("approval handler got %T", rec)
	}

	if ev.IsApproved || ev.Operator != h.exchange {
		return nil
	}

	return h.store.Update(ctx, func(tx ledger.Tx) error {
		owns, err := tx.OwnershipsByOwner(h.collection, ev.Account)
		if err != nil {
			return err
		}

		delisted := 0
		for _, own := range owns {
			if own.Selling == 0 {
				continue
			}
			own.Selling = 0
			if err := tx.PutOwnership(own); err != nil {
				return err
			}
			delisted++
		}

		if delisted > 0 {
			h.logger.Info("exchange approval revoked, listings cleared",
				zap.String("collection", h.collection),
				zap.String("account", ev.Account),
				zap.Int("delisted", delisted))
		}
		return nil
	})
}
