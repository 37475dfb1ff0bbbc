package ledger

import "time"

// HistoryMethod names the action a history row records. Together with the
// transaction hash it forms the idempotency key for event reconciliation.
type HistoryMethod string

const (
	MethodMint       HistoryMethod = "Mint"
	MethodTransfer   HistoryMethod = "Transfer"
	MethodBuy        HistoryMethod = "Buy"
	MethodAuctionWin HistoryMethod = "AuctionWin"
	MethodBurn       HistoryMethod = "Burn"
	MethodListing    HistoryMethod = "Listing"
)

// CollectionStatus tracks a collection along the scanner-driven path.
// Status only advances forward: Pending -> Importing -> Committed, or to a
// terminal Failed/Burned/Expired.
type CollectionStatus string

const (
	CollectionPending   CollectionStatus = "pending"
	CollectionImporting CollectionStatus = "importing"
	CollectionCommitted CollectionStatus = "committed"
	CollectionFailed    CollectionStatus = "failed"
	CollectionBurned    CollectionStatus = "burned"
	CollectionExpired   CollectionStatus = "expired"
)

// TokenStatus tracks a token's lifecycle
type TokenStatus string

const (
	TokenPending   TokenStatus = "pending"
	TokenCommitted TokenStatus = "committed"
	TokenBurned    TokenStatus = "burned"
)

// PromotionStatus tracks a promotion through its lifecycle
type PromotionStatus string

const (
	PromotionWaiting    PromotionStatus = "waiting"
	PromotionInProgress PromotionStatus = "in_progress"
	PromotionFinished   PromotionStatus = "finished"
)

// Collection is an NFT contract tracked by the marketplace. Native
// collections were deployed through the marketplace factory; imported ones
// were brought in from outside and minted elsewhere.
type Collection struct {
	Name        string           `json:"name"`
	Address     string           `json:"address"`
	Network     string           `json:"network"`
	Standard    string           `json:"standard"`
	Status      CollectionStatus `json:"status"`
	DeployBlock uint64           `json:"deployBlock"`
	TxHash      string           `json:"txHash"`
	Imported    bool             `json:"imported"`
}

// Token is one NFT within a collection. InternalID is the on-chain token id
// kept as a decimal string since imported collections may use ids beyond
// uint64; MintID is the marketplace-assigned sequence for native mints.
// Native tokens are created Pending ahead of the mint transaction and gain
// their InternalID when the mint lands on chain.
type Token struct {
	CollectionAddress string      `json:"collectionAddress"`
	InternalID        string      `json:"internalId"`
	MintID            uint64      `json:"mintId"`
	TotalSupply       uint64      `json:"totalSupply"`
	Status            TokenStatus `json:"status"`
}

// Ownership is one owner's stake in a token. ERC721 tokens have at most one
// row with quantity 1; ERC1155 tokens may have many. Selling is the portion
// of Quantity currently listed for sale.
type Ownership struct {
	CollectionAddress string `json:"collectionAddress"`
	InternalID        string `json:"internalId"`
	Owner             string `json:"owner"`
	Quantity          uint64 `json:"quantity"`
	Selling           uint64 `json:"selling"`
}

// TokenHistory records one applied chain event. At most one row exists per
// (TxHash, Method) pair; reapplying the same event is a no-op.
type TokenHistory struct {
	TxHash            string        `json:"txHash"`
	Method            HistoryMethod `json:"method"`
	CollectionAddress string        `json:"collectionAddress"`
	InternalID        string        `json:"internalId"`
	OldOwner          string        `json:"oldOwner,omitempty"`
	NewOwner          string        `json:"newOwner,omitempty"`
	Price             string        `json:"price,omitempty"`
	CurrencyAddress   string        `json:"currencyAddress,omitempty"`
	Amount            uint64        `json:"amount"`
	CreatedAt         time.Time     `json:"createdAt"`
}

// Bid is an offer standing against a token. Consumed, fully or partially,
// when the matching trade settles on chain.
type Bid struct {
	CollectionAddress string `json:"collectionAddress"`
	InternalID        string `json:"internalId"`
	Bidder            string `json:"bidder"`
	Amount            string `json:"amount"`
	Quantity          uint64 `json:"quantity"`
}

// TransactionTracker links a pending on-chain transaction to the token it
// settles. The presence of an auction tracker for a trade distinguishes an
// auction win from a direct buy.
type TransactionTracker struct {
	TxHash            string `json:"txHash"`
	CollectionAddress string `json:"collectionAddress"`
	InternalID        string `json:"internalId"`
	Bidder            string `json:"bidder,omitempty"`
	Auction           bool   `json:"auction"`
}

// Promotion is a paid placement for a token
type Promotion struct {
	ID                uint64          `json:"id"`
	CollectionAddress string          `json:"collectionAddress"`
	InternalID        string          `json:"internalId"`
	Buyer             string          `json:"buyer"`
	Package           uint64          `json:"package"`
	ChainID           uint64          `json:"chainId"`
	Status            PromotionStatus `json:"status"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// Currency is a payment token accepted by the exchange
type Currency struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}
