package events

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Parsers normalize raw chain logs into Records. The two token standards
// name and place the same logical fields differently; everything below
// hides that from the handlers. All addresses are lower-cased so ledger
// lookups never depend on checksum casing.

// ParseDeploy parses a factory NewInstance log
func ParseDeploy(log types.Log) (Deploy, error) {
	vals, err := FactoryABI.Events["NewInstance"].Inputs.Unpack(log.Data)
	if err != nil {
		return Deploy{}, fmt.Errorf("failed to unpack NewInstance: %w", err)
	}

	name, ok := vals[0].(string)
	if !ok {
		return Deploy{}, fmt.Errorf("unexpected NewInstance name type %T", vals[0])
	}
	instance, ok := vals[1].(common.Address)
	if !ok {
		return Deploy{}, fmt.Errorf("unexpected NewInstance instance type %T", vals[1])
	}

	return Deploy{
		CollectionName: name,
		Address:        lowerAddr(instance),
		DeployBlock:    log.BlockNumber,
		TxHash:         log.TxHash.Hex(),
	}, nil
}

// ParseMint parses a collection Mint log. The 721 contract reports the
// token id directly; the 1155 contract reports it as the running total
// supply and carries an explicit amount.
func ParseMint(log types.Log, standard Standard) (Mint, error) {
	switch standard {
	case StandardERC721:
		vals, err := ERC721ABI.Events["Mint"].Inputs.Unpack(log.Data)
		if err != nil {
			return Mint{}, fmt.Errorf("failed to unpack 721 Mint: %w", err)
		}
		return Mint{
			InternalID: vals[0].(*big.Int),
			MintID:     vals[1].(*big.Int).Uint64(),
			Owner:      lowerAddr(vals[2].(common.Address)),
			TxHash:     log.TxHash.Hex(),
			Amount:     1,
		}, nil

	case StandardERC1155:
		vals, err := ERC1155ABI.Events["Mint"].Inputs.Unpack(log.Data)
		if err != nil {
			return Mint{}, fmt.Errorf("failed to unpack 1155 Mint: %w", err)
		}
		return Mint{
			InternalID: vals[0].(*big.Int),
			MintID:     vals[1].(*big.Int).Uint64(),
			Amount:     vals[2].(*big.Int).Uint64(),
			Owner:      lowerAddr(vals[3].(common.Address)),
			TxHash:     log.TxHash.Hex(),
		}, nil
	}

	return Mint{}, fmt.Errorf("unknown standard %q", standard)
}

// ParseTransfer parses a 721 Transfer or 1155 TransferSingle log. A 721
// transfer always moves exactly one edition; the contract reports no
// amount (and some report zero), so the amount is coerced to 1.
func ParseTransfer(log types.Log, standard Standard) (Transfer, error) {
	switch standard {
	case StandardERC721:
		if len(log.Topics) < 4 {
			return Transfer{}, fmt.Errorf("721 Transfer log has %d topics, want 4", len(log.Topics))
		}
		return Transfer{
			OldOwner: lowerAddr(common.BytesToAddress(log.Topics[1].Bytes())),
			NewOwner: lowerAddr(common.BytesToAddress(log.Topics[2].Bytes())),
			TokenID:  new(big.Int).SetBytes(log.Topics[3].Bytes()),
			TxHash:   log.TxHash.Hex(),
			Amount:   1,
		}, nil

	case StandardERC1155:
		if len(log.Topics) < 4 {
			return Transfer{}, fmt.Errorf("TransferSingle log has %d topics, want 4", len(log.Topics))
		}
		vals, err := ERC1155ABI.Events["TransferSingle"].Inputs.NonIndexed().Unpack(log.Data)
		if err != nil {
			return Transfer{}, fmt.Errorf("failed to unpack TransferSingle: %w", err)
		}
		amount := vals[1].(*big.Int).Uint64()
		if amount == 0 {
			amount = 1
		}
		return Transfer{
			OldOwner: lowerAddr(common.BytesToAddress(log.Topics[2].Bytes())),
			NewOwner: lowerAddr(common.BytesToAddress(log.Topics[3].Bytes())),
			TokenID:  vals[0].(*big.Int),
			TxHash:   log.TxHash.Hex(),
			Amount:   amount,
		}, nil
	}

	return Transfer{}, fmt.Errorf("unknown standard %q", standard)
}

// ParseBuy parses an exchange Trade log. The trade price is the sum of all
// settlement legs (sale price plus fees paid by the buyer).
func ParseBuy(log types.Log) (Buy, error) {
	vals, err := ExchangeABI.Events["Trade"].Inputs.Unpack(log.Data)
	if err != nil {
		return Buy{}, fmt.Errorf("failed to unpack Trade: %w", err)
	}

	fromTo := vals[0].([2]common.Address)
	nftAndToken := vals[1].([2]common.Address)
	allAmounts := vals[2].([]*big.Int)
	idAndAmount := vals[3].([2]*big.Int)

	price := new(big.Int)
	for _, a := range allAmounts {
		price.Add(price, a)
	}

	return Buy{
		Seller:            lowerAddr(fromTo[0]),
		Buyer:             lowerAddr(fromTo[1]),
		CollectionAddress: lowerAddr(nftAndToken[0]),
		CurrencyAddress:   lowerAddr(nftAndToken[1]),
		Price:             price,
		TokenID:           idAndAmount[0],
		Amount:            idAndAmount[1].Uint64(),
		TxHash:            log.TxHash.Hex(),
	}, nil
}

// ParseApproval parses an ApprovalForAll log (identical shape on both
// standards)
func ParseApproval(log types.Log) (Approval, error) {
	if len(log.Topics) < 3 {
		return Approval{}, fmt.Errorf("ApprovalForAll log has %d topics, want 3", len(log.Topics))
	}
	vals, err := ERC721ABI.Events["ApprovalForAll"].Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return Approval{}, fmt.Errorf("failed to unpack ApprovalForAll: %w", err)
	}

	return Approval{
		Account:    lowerAddr(common.BytesToAddress(log.Topics[1].Bytes())),
		Operator:   lowerAddr(common.BytesToAddress(log.Topics[2].Bytes())),
		IsApproved: vals[0].(bool),
	}, nil
}

// ParsePromotion parses a PromotionSuccess log
func ParsePromotion(log types.Log) (Promotion, error) {
	vals, err := PromotionABI.Events["PromotionSuccess"].Inputs.Unpack(log.Data)
	if err != nil {
		return Promotion{}, fmt.Errorf("failed to unpack PromotionSuccess: %w", err)
	}

	return Promotion{
		Package:           vals[0].(*big.Int).Uint64(),
		CollectionAddress: lowerAddr(vals[1].(common.Address)),
		TokenID:           vals[2].(*big.Int),
		Buyer:             lowerAddr(vals[3].(common.Address)),
		ChainID:           vals[4].(*big.Int).Uint64(),
	}, nil
}

// Parse dispatches to the category's parser
func Parse(category Category, standard Standard, log types.Log) (Record, error) {
	switch category {
	case CategoryDeploy:
		return ParseDeploy(log)
	case CategoryMint:
		return ParseMint(log, standard)
	case CategoryTransfer:
		return ParseTransfer(log, standard)
	case CategoryBuy:
		return ParseBuy(log)
	case CategoryApproval:
		return ParseApproval(log)
	case CategoryPromotion:
		return ParsePromotion(log)
	}
	return nil, fmt.Errorf("unknown category %q", category)
}

func lowerAddr(a common.Address) string {
	return strings.ToLower(a.Hex())
}
