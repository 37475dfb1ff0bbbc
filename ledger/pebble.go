package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// Config holds ledger database configuration
type Config struct {
	Path string
	// Cache is the block cache size in MB; 0 uses a small default
	Cache  int
	Logger *zap.Logger
}

// PebbleStore implements Store using PebbleDB. A store-level mutex
// serializes transactions; every Update commits through a synced batch so a
// chain event is either fully applied or absent.
type PebbleStore struct {
	db     *pebble.DB
	mu     sync.Mutex
	logger *zap.Logger
}

var _ Store = (*PebbleStore)(nil)

// NewPebbleStore opens the ledger database
func NewPebbleStore(cfg *Config) (*PebbleStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}

	cache := cfg.Cache
	if cache <= 0 {
		cache = 64
	}

	opts := &pebble.Options{
		Cache: pebble.NewCache(int64(cache) << 20),
	}

	db, err := pebble.Open(cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PebbleStore{db: db, logger: logger}, nil
}

// Close releases the underlying database
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// View runs fn against the current state; writes are discarded
func (s *PebbleStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newPebbleTx(s.db)
	return fn(tx)
}

// Update runs fn and commits its writes atomically
func (s *PebbleStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newPebbleTx(s.db)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// pebbleTx buffers writes on top of the database. Reads consult the buffer
// first so a transaction observes its own writes.
type pebbleTx struct {
	db      *pebble.DB
	pending map[string][]byte
	deleted map[string]struct{}
}

var _ Tx = (*pebbleTx)(nil)

func newPebbleTx(db *pebble.DB) *pebbleTx {
	return &pebbleTx{
		db:      db,
		pending: make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

func (t *pebbleTx) commit() error {
	if len(t.pending) == 0 && len(t.deleted) == 0 {
		return nil
	}
	batch := t.db.NewBatch()
	defer batch.Close()

	for k, v := range t.pending {
		if err := batch.Set([]byte(k), v, nil); err != nil {
			return fmt.Errorf("failed to stage write: %w", err)
		}
	}
	for k := range t.deleted {
		if err := batch.Delete([]byte(k), nil); err != nil {
			return fmt.Errorf("failed to stage delete: %w", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (t *pebbleTx) set(key, value []byte) {
	k := string(key)
	delete(t.deleted, k)
	t.pending[k] = value
}

func (t *pebbleTx) del(key []byte) {
	k := string(key)
	delete(t.pending, k)
	t.deleted[k] = struct{}{}
}

func (t *pebbleTx) get(key []byte) ([]byte, error) {
	k := string(key)
	if _, ok := t.deleted[k]; ok {
		return nil, ErrNotFound
	}
	if v, ok := t.pending[k]; ok {
		return v, nil
	}
	value, closer, err := t.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	defer closer.Close()

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// scanPrefix returns all live key/value pairs under prefix in key order,
// merging buffered writes over the database view
func (t *pebbleTx) scanPrefix(prefix []byte) ([]string, [][]byte, error) {
	iter, err := t.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	seen := make(map[string]struct{})
	var keys []string
	var values [][]byte

	for iter.First(); iter.Valid(); iter.Next() {
		k := string(iter.Key())
		seen[k] = struct{}{}
		if _, ok := t.deleted[k]; ok {
			continue
		}
		v, ok := t.pending[k]
		if !ok {
			v = make([]byte, len(iter.Value()))
			copy(v, iter.Value())
		}
		keys = append(keys, k)
		values = append(values, v)
	}
	if err := iter.Error(); err != nil {
		return nil, nil, fmt.Errorf("iterator failed: %w", err)
	}

	p := string(prefix)
	for k, v := range t.pending {
		if _, ok := seen[k]; ok {
			continue
		}
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
			values = append(values, v)
		}
	}

	sort.Sort(&keyedValues{keys, values})
	return keys, values, nil
}

type keyedValues struct {
	keys   []string
	values [][]byte
}

func (kv *keyedValues) Len() int           { return len(kv.keys) }
func (kv *keyedValues) Less(i, j int) bool { return kv.keys[i] < kv.keys[j] }
func (kv *keyedValues) Swap(i, j int) {
	kv.keys[i], kv.keys[j] = kv.keys[j], kv.keys[i]
	kv.values[i], kv.values[j] = kv.values[j], kv.values[i]
}

func (t *pebbleTx) putJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	t.set(key, data)
	return nil
}

func (t *pebbleTx) getJSON(key []byte, out any) error {
	data, err := t.get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	return nil
}

// HistoryExists reports whether an event with this idempotency key was
// already applied
func (t *pebbleTx) HistoryExists(txHash string, method HistoryMethod) (bool, error) {
	_, err := t.get(HistoryKey(txHash, method))
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PutHistory records an applied event
func (t *pebbleTx) PutHistory(h *TokenHistory) error {
	return t.putJSON(HistoryKey(h.TxHash, h.Method), h)
}

// HistoryExistsForToken is the per-token variant used for synthetic mints
func (t *pebbleTx) HistoryExistsForToken(txHash string, method HistoryMethod, internalID string) (bool, error) {
	_, err := t.get(HistoryTokenKey(txHash, method, internalID))
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PutHistoryForToken records an applied event under the per-token key
func (t *pebbleTx) PutHistoryForToken(h *TokenHistory) error {
	return t.putJSON(HistoryTokenKey(h.TxHash, h.Method, h.InternalID), h)
}

// GetCollection fetches a collection by contract address
func (t *pebbleTx) GetCollection(address string) (*Collection, error) {
	var c Collection
	if err := t.getJSON(CollectionKey(address), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCollectionByName fetches a collection by display name within a network
func (t *pebbleTx) GetCollectionByName(network, name string) (*Collection, error) {
	addr, err := t.get(CollectionNameKey(network, name))
	if err != nil {
		return nil, err
	}
	return t.GetCollection(string(addr))
}

// PutCollection writes a collection and its name index
func (t *pebbleTx) PutCollection(c *Collection) error {
	if err := t.putJSON(CollectionKey(c.Address), c); err != nil {
		return err
	}
	t.set(CollectionNameKey(c.Network, c.Name), []byte(norm(c.Address)))
	return nil
}

// GetToken fetches a token by its on-chain id
func (t *pebbleTx) GetToken(collection, internalID string) (*Token, error) {
	var tok Token
	if err := t.getJSON(TokenKey(collection, internalID), &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// GetTokenByMintID fetches a native token by mint sequence
func (t *pebbleTx) GetTokenByMintID(collection string, mintID uint64) (*Token, error) {
	internalID, err := t.get(TokenMintKey(collection, mintID))
	if err != nil {
		return nil, err
	}
	return t.GetToken(collection, string(internalID))
}

// PutToken writes a token and, for native tokens, its mint index
func (t *pebbleTx) PutToken(tok *Token) error {
	if err := t.putJSON(TokenKey(tok.CollectionAddress, tok.InternalID), tok); err != nil {
		return err
	}
	if tok.MintID > 0 {
		t.set(TokenMintKey(tok.CollectionAddress, tok.MintID), []byte(tok.InternalID))
	}
	return nil
}

// GetPendingToken fetches a native token awaiting its mint
func (t *pebbleTx) GetPendingToken(collection string, mintID uint64) (*Token, error) {
	var tok Token
	if err := t.getJSON(PendingTokenKey(collection, mintID), &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// PutPendingToken stages a native token ahead of its mint transaction
func (t *pebbleTx) PutPendingToken(tok *Token) error {
	return t.putJSON(PendingTokenKey(tok.CollectionAddress, tok.MintID), tok)
}

// DeletePendingToken removes a staged token once its mint has landed
func (t *pebbleTx) DeletePendingToken(collection string, mintID uint64) error {
	t.del(PendingTokenKey(collection, mintID))
	return nil
}

// GetOwnership fetches one owner's stake
func (t *pebbleTx) GetOwnership(collection, internalID, owner string) (*Ownership, error) {
	var o Ownership
	if err := t.getJSON(OwnershipKey(collection, internalID, owner), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// PutOwnership writes an owner's stake and its per-account index; a zero
// quantity deletes the row
func (t *pebbleTx) PutOwnership(o *Ownership) error {
	key := OwnershipKey(o.CollectionAddress, o.InternalID, o.Owner)
	idx := OwnershipOwnerKey(o.CollectionAddress, o.Owner, o.InternalID)
	if o.Quantity == 0 {
		t.del(key)
		t.del(idx)
		return nil
	}
	t.set(idx, []byte{1})
	return t.putJSON(key, o)
}

// Ownerships lists all owners of a token
func (t *pebbleTx) Ownerships(collection, internalID string) ([]*Ownership, error) {
	_, values, err := t.scanPrefix(OwnershipPrefix(collection, internalID))
	if err != nil {
		return nil, err
	}
	out := make([]*Ownership, 0, len(values))
	for _, v := range values {
		var o Ownership
		if err := json.Unmarshal(v, &o); err != nil {
			return nil, fmt.Errorf("failed to decode ownership: %w", err)
		}
		out = append(out, &o)
	}
	return out, nil
}

// OwnershipsByOwner lists one account's stakes across a collection
func (t *pebbleTx) OwnershipsByOwner(collection, owner string) ([]*Ownership, error) {
	prefix := string(OwnershipOwnerPrefix(collection, owner))
	keys, _, err := t.scanPrefix([]byte(prefix))
	if err != nil {
		return nil, err
	}
	out := make([]*Ownership, 0, len(keys))
	for _, k := range keys {
		internalID := strings.TrimPrefix(k, prefix)
		o, err := t.GetOwnership(collection, internalID, owner)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// GetBid fetches one bidder's standing offer
func (t *pebbleTx) GetBid(collection, internalID, bidder string) (*Bid, error) {
	var b Bid
	if err := t.getJSON(BidKey(collection, internalID, bidder), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// PutBid writes a standing offer
func (t *pebbleTx) PutBid(b *Bid) error {
	return t.putJSON(BidKey(b.CollectionAddress, b.InternalID, b.Bidder), b)
}

// DeleteBid removes a consumed or cancelled offer
func (t *pebbleTx) DeleteBid(collection, internalID, bidder string) error {
	t.del(BidKey(collection, internalID, bidder))
	return nil
}

// Bids lists all standing offers on a token
func (t *pebbleTx) Bids(collection, internalID string) ([]*Bid, error) {
	_, values, err := t.scanPrefix(BidPrefix(collection, internalID))
	if err != nil {
		return nil, err
	}
	out := make([]*Bid, 0, len(values))
	for _, v := range values {
		var b Bid
		if err := json.Unmarshal(v, &b); err != nil {
			return nil, fmt.Errorf("failed to decode bid: %w", err)
		}
		out = append(out, &b)
	}
	return out, nil
}

// GetTracker fetches the tracker for a pending transaction
func (t *pebbleTx) GetTracker(txHash string) (*TransactionTracker, error) {
	var tr TransactionTracker
	if err := t.getJSON(TrackerKey(txHash), &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

// TrackersForToken lists all in-flight trackers against a token
func (t *pebbleTx) TrackersForToken(collection, internalID string) ([]*TransactionTracker, error) {
	prefix := string(TrackerTokenPrefix(collection, internalID))
	keys, _, err := t.scanPrefix([]byte(prefix))
	if err != nil {
		return nil, err
	}
	out := make([]*TransactionTracker, 0, len(keys))
	for _, k := range keys {
		txHash := strings.TrimPrefix(k, prefix)
		tr, err := t.GetTracker(txHash)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, nil
}

// PutTracker writes a pending-transaction tracker and its token index
func (t *pebbleTx) PutTracker(tr *TransactionTracker) error {
	if err := t.putJSON(TrackerKey(tr.TxHash), tr); err != nil {
		return err
	}
	t.set(TrackerTokenKey(tr.CollectionAddress, tr.InternalID, tr.TxHash), []byte{1})
	return nil
}

// DeleteTracker removes a settled tracker and its token index
func (t *pebbleTx) DeleteTracker(txHash string) error {
	tr, err := t.GetTracker(txHash)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	t.del(TrackerKey(txHash))
	t.del(TrackerTokenKey(tr.CollectionAddress, tr.InternalID, tr.TxHash))
	return nil
}

// CreatePromotion assigns the next sequence id and writes the promotion
func (t *pebbleTx) CreatePromotion(p *Promotion) error {
	next := uint64(1)
	if data, err := t.get(PromotionNextIDKey()); err == nil {
		next = binary.BigEndian.Uint64(data)
	} else if err != ErrNotFound {
		return err
	}

	p.ID = next

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next+1)
	t.set(PromotionNextIDKey(), buf[:])

	return t.writePromotion(p)
}

// UpdatePromotion rewrites an existing promotion, maintaining the waiting
// index
func (t *pebbleTx) UpdatePromotion(p *Promotion) error {
	if p.ID == 0 {
		return fmt.Errorf("promotion has no id")
	}
	return t.writePromotion(p)
}

func (t *pebbleTx) writePromotion(p *Promotion) error {
	if err := t.putJSON(PromotionKey(p.ID), p); err != nil {
		return err
	}
	if p.Status == PromotionWaiting {
		t.set(PromotionWaitingKey(p.ID), []byte{1})
	} else {
		t.del(PromotionWaitingKey(p.ID))
	}
	return nil
}

// WaitingPromotions lists waiting promotions in creation order
func (t *pebbleTx) WaitingPromotions() ([]*Promotion, error) {
	keys, _, err := t.scanPrefix(PromotionWaitingPrefix())
	if err != nil {
		return nil, err
	}
	out := make([]*Promotion, 0, len(keys))
	for _, k := range keys {
		id, err := strconv.ParseUint(strings.TrimPrefix(k, prefixIdxPromotionWaiting), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed waiting index key %q: %w", k, err)
		}
		var p Promotion
		if err := t.getJSON(PromotionKey(id), &p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, nil
}

// GetCurrency fetches a payment currency by address
func (t *pebbleTx) GetCurrency(address string) (*Currency, error) {
	var c Currency
	if err := t.getJSON(CurrencyKey(address), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// PutCurrency writes a payment currency
func (t *pebbleTx) PutCurrency(c *Currency) error {
	return t.putJSON(CurrencyKey(c.Address), c)
}

// GetCheckpoint fetches a scanner scope's resume block
func (t *pebbleTx) GetCheckpoint(network, category, contract string) (uint64, error) {
	data, err := t.get(CheckpointKey(network, category, contract))
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("malformed checkpoint value")
	}
	return binary.BigEndian.Uint64(data), nil
}

// PutCheckpoint writes a scanner scope's resume block
func (t *pebbleTx) PutCheckpoint(network, category, contract string, block uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], block)
	t.set(CheckpointKey(network, category, contract), buf[:])
	return nil
}
