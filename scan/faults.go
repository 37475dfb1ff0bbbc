package scan

import (
	"context"
	"fmt"

	"github.com/mintra/marketscan/internal/constants"
	"github.com/mintra/marketscan/kv"
)

// FaultCounter deduplicates alerts for recurring worker faults. Each
// (network, fault kind) pair keeps a rolling occurrence counter with a
// 30-minute expiry; an alert fires only when the count sits inside a narrow
// band, so a persistent fault alerts once per episode and a one-off fault
// never alerts at all.
type FaultCounter struct {
	store kv.Store
}

// NewFaultCounter creates a fault counter over the shared store
func NewFaultCounter(store kv.Store) *FaultCounter {
	return &FaultCounter{store: store}
}

func faultKey(network, kind string) string {
	return fmt.Sprintf("fault__%s__%s", network, kind)
}

// Record counts one fault occurrence and reports whether it should alert
func (f *FaultCounter) Record(ctx context.Context, network, kind string) (bool, error) {
	n, err := f.store.Incr(ctx, faultKey(network, kind))
	if err != nil {
		return false, err
	}
	if n == 1 {
		if err := f.store.Expire(ctx, faultKey(network, kind), constants.FaultCounterTTL); err != nil {
			return false, err
		}
	}
	return n > constants.AlertBandLow && n < constants.AlertBandHigh, nil
}
