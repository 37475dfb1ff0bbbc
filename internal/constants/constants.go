package constants

import "time"

// Scanner defaults
const (
	// DefaultBlockWindow is the widest block range requested in a single
	// getLogs query. Providers commonly reject anything larger.
	DefaultBlockWindow = 5000

	// DefaultFinalityMargin is the number of blocks withheld from the chain
	// head before scanning. Overridable per network.
	DefaultFinalityMargin = 5

	// DefaultScannerSleep is the pause between poll iterations.
	DefaultScannerSleep = 10 * time.Second

	// HeightCacheTTL bounds how often concurrently polling workers refresh
	// the chain head for a shared network.
	HeightCacheTTL = 10 * time.Second
)

// Supervisor defaults
const (
	// SupervisorBackoff is the fixed pause before a faulted worker is
	// restarted.
	SupervisorBackoff = 60 * time.Second

	// FaultCounterTTL is the rolling window for per-fault occurrence
	// counters used to deduplicate alerts.
	FaultCounterTTL = 30 * time.Minute

	// AlertBandLow and AlertBandHigh bound (exclusively) the occurrence
	// count at which a fault episode produces its single alert.
	AlertBandLow  = 4
	AlertBandHigh = 6
)

// EventBus defaults
const (
	// DefaultConsumerGroup is the shared consumer group name.
	DefaultConsumerGroup = "GROUP1"

	// DefaultConsumerName identifies this consumer within the group.
	DefaultConsumerName = "MARKETPLACE"

	// DefaultBusSleep is the pause between full recovery+live passes.
	DefaultBusSleep = 10 * time.Second
)

// ZeroAddress is the empty EVM address; transfers from it are mints and
// transfers to it are burns.
const ZeroAddress = "0x0000000000000000000000000000000000000000"
