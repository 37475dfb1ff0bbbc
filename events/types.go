package events

import (
	"context"
	"fmt"
	"math/big"
)

// Category identifies one scanned event family. Each scanner worker is bound
// to exactly one category.
type Category string

const (
	CategoryDeploy    Category = "deploy"
	CategoryMint      Category = "mint"
	CategoryTransfer  Category = "transfer"
	CategoryBuy       Category = "buy"
	CategoryApproval  Category = "approval"
	CategoryPromotion Category = "promotion"
)

// Categories lists every scanned category
var Categories = []Category{
	CategoryDeploy,
	CategoryMint,
	CategoryTransfer,
	CategoryBuy,
	CategoryApproval,
	CategoryPromotion,
}

// Valid reports whether c names a known category
func (c Category) Valid() bool {
	switch c {
	case CategoryDeploy, CategoryMint, CategoryTransfer,
		CategoryBuy, CategoryApproval, CategoryPromotion:
		return true
	}
	return false
}

// Standard identifies a token contract family. The two standards emit
// differently shaped logs for the same logical events.
type Standard string

const (
	StandardERC721  Standard = "ERC721"
	StandardERC1155 Standard = "ERC1155"
)

// Record is one parsed chain event. Concrete types are the per-category
// variants below; handlers switch on the concrete type.
type Record interface {
	Category() Category
}

// Deploy is a collection factory deployment event
type Deploy struct {
	CollectionName string
	Address        string
	DeployBlock    uint64
	TxHash         string
}

func (Deploy) Category() Category { return CategoryDeploy }

// Mint is a native mint on a marketplace-deployed collection
type Mint struct {
	InternalID *big.Int
	MintID     uint64
	Owner      string
	TxHash     string
	Amount     uint64
}

func (Mint) Category() Category { return CategoryMint }

// Transfer covers ordinary transfers, imported mints (from the zero address)
// and burns (to the zero address); the handler disambiguates.
type Transfer struct {
	TokenID  *big.Int
	NewOwner string
	OldOwner string
	TxHash   string
	Amount   uint64
}

func (Transfer) Category() Category { return CategoryTransfer }

// Buy is an exchange trade settlement
type Buy struct {
	Buyer             string
	Seller            string
	Price             *big.Int
	Amount            uint64
	TokenID           *big.Int
	TxHash            string
	CurrencyAddress   string
	CollectionAddress string
}

func (Buy) Category() Category { return CategoryBuy }

// Approval is an operator approval change on a collection contract
type Approval struct {
	Account    string
	Operator   string
	IsApproved bool
}

func (Approval) Category() Category { return CategoryApproval }

// Promotion is a paid promotion purchase on the promotion contract
type Promotion struct {
	Package           uint64
	CollectionAddress string
	TokenID           *big.Int
	Buyer             string
	ChainID           uint64
}

func (Promotion) Category() Category { return CategoryPromotion }

// Source provides chain access for one scanner scope. A scope fixes the
// network, category and (where relevant) the contract and standard at
// construction time; one implementation exists per chain family.
type Source interface {
	// Height returns the current chain head
	Height(ctx context.Context) (uint64, error)

	// Logs fetches and parses all events for the scope within
	// [from, to], in log order
	Logs(ctx context.Context, from, to uint64) ([]Record, error)
}

// String implements fmt.Stringer for log output
func (c Category) String() string { return string(c) }

var _ fmt.Stringer = CategoryDeploy
