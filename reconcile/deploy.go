package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mintra/marketscan/events"
	"github.com/mintra/marketscan/ledger"
	"github.com/mintra/marketscan/metrics"
)

// DeployHandler commits factory deployments. The marketplace creates a
// Pending collection row before submitting the deploy transaction; this
// handler matches the on-chain event back to it by name within its own
// network, so same-named collections on other networks stay untouched.
type DeployHandler struct {
	store    ledger.Store
	network  string
	standard events.Standard
	logger   *zap.Logger
	met      *metrics.Metrics
}

// NewDeployHandler creates a deploy handler for one network and standard
func NewDeployHandler(store ledger.Store, network string, standard events.Standard, logger *zap.Logger, met *metrics.Metrics) *DeployHandler {
	return &DeployHandler{store: store, network: network, standard: standard, logger: logger, met: met}
}

// Apply commits the Pending collection matching the deployed name
func (h *DeployHandler) Apply(ctx context.Context, rec events.Record) error {
	ev, ok := rec.(events.Deploy)
	if !ok {
		return fmt.Errorf("deploy handler got %T", rec)
	}

	return h.store.Update(ctx, func(tx ledger.Tx) error {
		col, err := tx.GetCollectionByName(h.network, ev.CollectionName)
		if err == ledger.ErrNotFound {
			h.logger.Warn("deploy for unknown collection",
				zap.String("name", ev.CollectionName),
				zap.String("network", h.network),
				zap.String("tx_hash", ev.TxHash))
			countSoftMiss(h.met, events.CategoryDeploy)
			return nil
		}
		if err != nil {
			return err
		}
		if col.Status != ledger.CollectionPending {
			// Already committed; replays land here
			return nil
		}

		col.Status = ledger.CollectionCommitted
		col.Address = ev.Address
		col.DeployBlock = ev.DeployBlock
		col.TxHash = ev.TxHash
		col.Standard = string(h.standard)

		h.logger.Info("collection committed",
			zap.String("name", col.Name),
			zap.String("address", col.Address),
			zap.Uint64("deploy_block", col.DeployBlock))

		return tx.PutCollection(col)
	})
}
