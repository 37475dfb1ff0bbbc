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

// PromotionActivator starts the external activation process for a promotion
// that reached the front of the queue.
type PromotionActivator interface {
	Activate(ctx context.Context, p *ledger.Promotion) error
}

// PromotionHandler records paid promotion purchases. Promotions queue up in
// Waiting state; when a purchase lands on an empty queue the external
// activation process is kicked off, after which each activation pulls the
// next waiting entry.
type PromotionHandler struct {
	store     ledger.Store
	packages  map[uint64]struct{}
	activator PromotionActivator
	logger    *zap.Logger
	met       *metrics.Metrics
}

// NewPromotionHandler creates a promotion handler. packages lists the
// purchasable plan ids.
func NewPromotionHandler(store ledger.Store, packages []uint64, activator PromotionActivator, logger *zap.Logger, met *metrics.Metrics) *PromotionHandler {
	set := make(map[uint64]struct{}, len(packages))
	for _, p := range packages {
		set[p] = struct{}{}
	}
	return &PromotionHandler{store: store, packages: set, activator: activator, logger: logger, met: met}
}

// Apply queues the promotion, triggering activation when the queue was empty
func (h *PromotionHandler) Apply(ctx context.Context, rec events.Record) error {
	ev, ok := rec.(events.Promotion)
	if !ok {
		return fmt.Errorf("promotion handler got %T", rec)
	}

	if _, known := h.packages[ev.Package]; !known {
		h.logger.Warn("promotion for unknown package",
			zap.Uint64("package", ev.Package),
			zap.String("collection", ev.CollectionAddress))
		countSoftMiss(h.met, events.CategoryPromotion)
		return nil
	}

	internalID := ev.TokenID.String()
	var created *ledger.Promotion
	var trigger bool

	err := h.store.Update(ctx, func(tx ledger.Tx) error {
		created, trigger = nil, false

		if _, err := tx.GetToken(ev.CollectionAddress, internalID); err == ledger.ErrNotFound {
			h.logger.Warn("promotion for unknown token",
				zap.String("collection", ev.CollectionAddress),
				zap.String("internal_id", internalID))
			countSoftMiss(h.met, events.CategoryPromotion)
			return nil
		} else if err != nil {
			return err
		}

		if _, err := tx.GetOwnership(ev.CollectionAddress, internalID, ev.Buyer); err == ledger.ErrNotFound {
			h.logger.Warn("promotion by non-owner",
				zap.String("collection", ev.CollectionAddress),
				zap.String("internal_id", internalID),
				zap.String("buyer", ev.Buyer))
			countSoftMiss(h.met, events.CategoryPromotion)
			return nil
		} else if err != nil {
			return err
		}

		waiting, err := tx.WaitingPromotions()
		if err != nil {
			return err
		}
		for _, p := range waiting {
			if p.CollectionAddress == ev.CollectionAddress &&
				p.InternalID == internalID &&
				p.Buyer == ev.Buyer &&
				p.Package == ev.Package {
				// Replayed purchase, already queued
				return nil
			}
		}

		created = &ledger.Promotion{
			CollectionAddress: ev.CollectionAddress,
			InternalID:        internalID,
			Buyer:             ev.Buyer,
			Package:           ev.Package,
			ChainID:           ev.ChainID,
			Status:            ledger.PromotionWaiting,
			CreatedAt:         time.Now().UTC(),
		}
		if err := tx.CreatePromotion(created); err != nil {
			return err
		}

		// A purchase landing on an empty queue starts the activation
		// chain; otherwise each finished promotion pulls the next
		trigger = len(waiting) == 0
		return nil
	})
	if err != nil {
		return err
	}

	if created != nil {
		h.logger.Info("promotion queued",
			zap.Uint64("id", created.ID),
			zap.String("collection", created.CollectionAddress),
			zap.String("internal_id", created.InternalID),
			zap.Uint64("package", created.Package))
	}
	if trigger && created != nil {
		if err := h.activator.Activate(ctx, created); err != nil {
			// The queue entry is durable; activation retries are the
			// activator's concern
			h.logger.Error("promotion activation failed",
				zap.Uint64("id", created.ID),
				zap.Error(err))
		}
	}
	return nil
}
