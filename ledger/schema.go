package ledger

import (
	"fmt"
	"strings"
)

// Key prefixes for different data types
const (
	prefixCollection  = "/data/collection/"
	prefixToken       = "/data/token/"
	prefixOwnership   = "/data/ownership/"
	prefixHistory     = "/data/history/"
	prefixBid         = "/data/bid/"
	prefixTracker     = "/data/tracker/"
	prefixPromotion   = "/data/promotion/"
	prefixCurrency    = "/data/currency/"
	prefixCheckpoint  = "/data/checkpoint/"
	prefixMetaPromoID = "/meta/promotion/nextid"

	// Pending native tokens, keyed by mint sequence until the mint lands
	prefixTokenPending = "/data/token/pending/"

	// Index prefixes
	prefixIdxCollectionName   = "/index/collection/name/"
	prefixIdxTokenMint        = "/index/token/mint/"
	prefixIdxOwnershipOwner   = "/index/ownership/owner/"
	prefixIdxTrackerToken     = "/index/tracker/token/"
	prefixIdxPromotionWaiting = "/index/promotion/waiting/"
)

func norm(s string) string { return strings.ToLower(s) }

// CollectionKey returns the key for a collection record
func CollectionKey(address string) []byte {
	return []byte(prefixCollection + norm(address))
}

// CollectionNameKey indexes a collection by display name within a network.
// Names match case-insensitively.
func CollectionNameKey(network, name string) []byte {
	return []byte(prefixIdxCollectionName + norm(network) + "/" + norm(name))
}

// TokenKey returns the key for a token record
func TokenKey(collection, internalID string) []byte {
	return []byte(prefixToken + norm(collection) + "/" + internalID)
}

// TokenMintKey indexes a native token by its marketplace mint sequence
func TokenMintKey(collection string, mintID uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", prefixIdxTokenMint, norm(collection), mintID))
}

// PendingTokenKey returns the key for a native token awaiting its mint
func PendingTokenKey(collection string, mintID uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", prefixTokenPending, norm(collection), mintID))
}

// OwnershipKey returns the key for one owner's stake in a token
func OwnershipKey(collection, internalID, owner string) []byte {
	return []byte(prefixOwnership + norm(collection) + "/" + internalID + "/" + norm(owner))
}

// OwnershipPrefix bounds a scan over all owners of a token
func OwnershipPrefix(collection, internalID string) []byte {
	return []byte(prefixOwnership + norm(collection) + "/" + internalID + "/")
}

// OwnershipOwnerKey indexes one owner's stake for per-account scans
func OwnershipOwnerKey(collection, owner, internalID string) []byte {
	return []byte(prefixIdxOwnershipOwner + norm(collection) + "/" + norm(owner) + "/" + internalID)
}

// OwnershipOwnerPrefix bounds a scan over one account's stakes in a
// collection
func OwnershipOwnerPrefix(collection, owner string) []byte {
	return []byte(prefixIdxOwnershipOwner + norm(collection) + "/" + norm(owner) + "/")
}

// HistoryKey returns the idempotency key for an applied event
func HistoryKey(txHash string, method HistoryMethod) []byte {
	return []byte(prefixHistory + norm(txHash) + "/" + string(method))
}

// HistoryTokenKey returns the per-token idempotency key used for synthetic
// mints, where one transaction may mint several distinct tokens
func HistoryTokenKey(txHash string, method HistoryMethod, internalID string) []byte {
	return []byte(prefixHistory + norm(txHash) + "/" + string(method) + "/" + internalID)
}

// BidKey returns the key for one bidder's standing offer on a token
func BidKey(collection, internalID, bidder string) []byte {
	return []byte(prefixBid + norm(collection) + "/" + internalID + "/" + norm(bidder))
}

// BidPrefix bounds a scan over all bids on a token
func BidPrefix(collection, internalID string) []byte {
	return []byte(prefixBid + norm(collection) + "/" + internalID + "/")
}

// TrackerKey returns the key for a pending-transaction tracker
func TrackerKey(txHash string) []byte {
	return []byte(prefixTracker + norm(txHash))
}

// TrackerTokenKey indexes a tracker by the token its transaction settles
func TrackerTokenKey(collection, internalID, txHash string) []byte {
	return []byte(prefixIdxTrackerToken + norm(collection) + "/" + internalID + "/" + norm(txHash))
}

// TrackerTokenPrefix bounds a scan over all trackers for a token
func TrackerTokenPrefix(collection, internalID string) []byte {
	return []byte(prefixIdxTrackerToken + norm(collection) + "/" + internalID + "/")
}

// PromotionKey returns the key for a promotion record
func PromotionKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixPromotion, id))
}

// PromotionWaitingKey indexes a waiting promotion for queue-advance checks
func PromotionWaitingKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixIdxPromotionWaiting, id))
}

// PromotionWaitingPrefix bounds a scan over all waiting promotions
func PromotionWaitingPrefix() []byte {
	return []byte(prefixIdxPromotionWaiting)
}

// PromotionNextIDKey holds the next promotion sequence number
func PromotionNextIDKey() []byte {
	return []byte(prefixMetaPromoID)
}

// CurrencyKey returns the key for a payment currency record
func CurrencyKey(address string) []byte {
	return []byte(prefixCurrency + norm(address))
}

// CheckpointKey returns the key for one scanner scope's resume position
func CheckpointKey(network, category, contract string) []byte {
	return []byte(prefixCheckpoint + network + "/" + category + "/" + norm(contract))
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix, for use as an iterator upper bound
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
