package ledger

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("ledger: not found")

// Tx exposes the marketplace state to one reconciliation step. Reads observe
// writes made earlier in the same transaction; nothing is visible outside
// until the enclosing Update commits.
type Tx interface {
	// HistoryExists reports whether an event with this idempotency key was
	// already applied
	HistoryExists(txHash string, method HistoryMethod) (bool, error)

	// PutHistory records an applied event
	PutHistory(h *TokenHistory) error

	// HistoryExistsForToken is the per-token variant used for synthetic
	// mints, where one transaction may mint several distinct tokens
	HistoryExistsForToken(txHash string, method HistoryMethod, internalID string) (bool, error)

	// PutHistoryForToken records an applied event under the per-token key
	PutHistoryForToken(h *TokenHistory) error

	// GetCollection fetches a collection by contract address
	GetCollection(address string) (*Collection, error)

	// GetCollectionByName fetches a collection by display name within a
	// network; the name matches case-insensitively
	GetCollectionByName(network, name string) (*Collection, error)

	// PutCollection writes a collection and its name index
	PutCollection(c *Collection) error

	// GetToken fetches a token by its on-chain id
	GetToken(collection, internalID string) (*Token, error)

	// GetTokenByMintID fetches a native token by mint sequence
	GetTokenByMintID(collection string, mintID uint64) (*Token, error)

	// PutToken writes a token and, for native tokens, its mint index
	PutToken(t *Token) error

	// GetPendingToken fetches a native token awaiting its mint;
	// ErrNotFound if none
	GetPendingToken(collection string, mintID uint64) (*Token, error)

	// PutPendingToken stages a native token ahead of its mint transaction
	PutPendingToken(t *Token) error

	// DeletePendingToken removes a staged token once its mint has landed
	DeletePendingToken(collection string, mintID uint64) error

	// GetOwnership fetches one owner's stake; ErrNotFound if none
	GetOwnership(collection, internalID, owner string) (*Ownership, error)

	// PutOwnership writes an owner's stake; a zero quantity deletes the row
	PutOwnership(o *Ownership) error

	// Ownerships lists all owners of a token
	Ownerships(collection, internalID string) ([]*Ownership, error)

	// OwnershipsByOwner lists one account's stakes across a collection
	OwnershipsByOwner(collection, owner string) ([]*Ownership, error)

	// GetBid fetches one bidder's standing offer; ErrNotFound if none
	GetBid(collection, internalID, bidder string) (*Bid, error)

	// PutBid writes a standing offer
	PutBid(b *Bid) error

	// DeleteBid removes a consumed or cancelled offer
	DeleteBid(collection, internalID, bidder string) error

	// Bids lists all standing offers on a token
	Bids(collection, internalID string) ([]*Bid, error)

	// GetTracker fetches the tracker for a pending transaction;
	// ErrNotFound if none
	GetTracker(txHash string) (*TransactionTracker, error)

	// TrackersForToken lists all in-flight trackers against a token
	TrackersForToken(collection, internalID string) ([]*TransactionTracker, error)

	// PutTracker writes a pending-transaction tracker and its token index
	PutTracker(t *TransactionTracker) error

	// DeleteTracker removes a settled tracker
	DeleteTracker(txHash string) error

	// CreatePromotion assigns the next sequence id and writes the promotion
	CreatePromotion(p *Promotion) error

	// UpdatePromotion rewrites an existing promotion, maintaining the
	// waiting index
	UpdatePromotion(p *Promotion) error

	// WaitingPromotions lists waiting promotions in creation order
	WaitingPromotions() ([]*Promotion, error)

	// GetCurrency fetches a payment currency by address
	GetCurrency(address string) (*Currency, error)

	// PutCurrency writes a payment currency
	PutCurrency(c *Currency) error

	// GetCheckpoint fetches a scanner scope's resume block;
	// ErrNotFound if never persisted
	GetCheckpoint(network, category, contract string) (uint64, error)

	// PutCheckpoint writes a scanner scope's resume block
	PutCheckpoint(network, category, contract string, block uint64) error
}

// Store is the marketplace ledger. All mutation happens inside Update so
// that every chain event lands atomically or not at all.
type Store interface {
	// View runs fn against a read-only snapshot
	View(ctx context.Context, fn func(tx Tx) error) error

	// Update runs fn and commits its writes atomically. If fn returns an
	// error nothing is persisted.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// Close releases the underlying database
	Close() error
}
