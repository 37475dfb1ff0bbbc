package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	addrAlice    = common.HexToAddress("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B")
	addrBob      = common.HexToAddress("0x00000000219ab540356cBB839Cbe05303d7705Fa")
	addrContract = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	testTxHash   = common.HexToHash("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
)

func addrTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

func TestParseTransfer721(t *testing.T) {
	log := types.Log{
		Topics: []common.Hash{
			TopicTransfer721,
			addrTopic(addrAlice),
			addrTopic(addrBob),
			common.BigToHash(big.NewInt(42)),
		},
		TxHash:      testTxHash,
		BlockNumber: 100,
	}

	rec, err := ParseTransfer(log, StandardERC721)
	require.NoError(t, err)

	assert.Equal(t, "0xab5801a7d398351b8be11c439e05c5b3259aec9b", rec.OldOwner)
	assert.Equal(t, "0x00000000219ab540356cbb839cbe05303d7705fa", rec.NewOwner)
	assert.Equal(t, int64(42), rec.TokenID.Int64())
	assert.Equal(t, uint64(1), rec.Amount, "721 transfers always move one edition")
}

func TestParseTransfer1155CoercesZeroAmount(t *testing.T) {
	data, err := ERC1155ABI.Events["TransferSingle"].Inputs.NonIndexed().Pack(
		big.NewInt(7), big.NewInt(0),
	)
	require.NoError(t, err)

	log := types.Log{
		Topics: []common.Hash{
			TopicTransferSingle,
			addrTopic(addrContract), // operator
			addrTopic(addrAlice),
			addrTopic(addrBob),
		},
		Data:   data,
		TxHash: testTxHash,
	}

	rec, err := ParseTransfer(log, StandardERC1155)
	require.NoError(t, err)

	assert.Equal(t, int64(7), rec.TokenID.Int64())
	assert.Equal(t, uint64(1), rec.Amount, "zero amount must be coerced to 1")
	assert.Equal(t, "0xab5801a7d398351b8be11c439e05c5b3259aec9b", rec.OldOwner)
}

func TestParseTransfer1155KeepsAmount(t *testing.T) {
	data, err := ERC1155ABI.Events["TransferSingle"].Inputs.NonIndexed().Pack(
		big.NewInt(7), big.NewInt(5),
	)
	require.NoError(t, err)

	log := types.Log{
		Topics: []common.Hash{
			TopicTransferSingle,
			addrTopic(addrContract),
			addrTopic(addrAlice),
			addrTopic(addrBob),
		},
		Data:   data,
		TxHash: testTxHash,
	}

	rec, err := ParseTransfer(log, StandardERC1155)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), rec.Amount)
}

func TestParseDeploy(t *testing.T) {
	data, err := FactoryABI.Events["NewInstance"].Inputs.Pack("Foo Collection", addrContract)
	require.NoError(t, err)

	log := types.Log{
		Topics:      []common.Hash{TopicNewInstance},
		Data:        data,
		TxHash:      testTxHash,
		BlockNumber: 1000,
	}

	rec, err := ParseDeploy(log)
	require.NoError(t, err)

	assert.Equal(t, "Foo Collection", rec.CollectionName)
	assert.Equal(t, "0xdac17f958d2ee523a2206206994597c13d831ec7", rec.Address)
	assert.Equal(t, uint64(1000), rec.DeployBlock)
	assert.Equal(t, testTxHash.Hex(), rec.TxHash)
}

func TestParseMint(t *testing.T) {
	t.Run("erc721", func(t *testing.T) {
		data, err := ERC721ABI.Events["Mint"].Inputs.Pack(
			big.NewInt(11), big.NewInt(3), addrAlice,
		)
		require.NoError(t, err)

		rec, err := ParseMint(types.Log{Data: data, TxHash: testTxHash}, StandardERC721)
		require.NoError(t, err)

		assert.Equal(t, int64(11), rec.InternalID.Int64())
		assert.Equal(t, uint64(3), rec.MintID)
		assert.Equal(t, uint64(1), rec.Amount)
		assert.Equal(t, "0xab5801a7d398351b8be11c439e05c5b3259aec9b", rec.Owner)
	})

	t.Run("erc1155", func(t *testing.T) {
		data, err := ERC1155ABI.Events["Mint"].Inputs.Pack(
			big.NewInt(11), big.NewInt(3), big.NewInt(20), addrAlice,
		)
		require.NoError(t, err)

		rec, err := ParseMint(types.Log{Data: data, TxHash: testTxHash}, StandardERC1155)
		require.NoError(t, err)

		assert.Equal(t, int64(11), rec.InternalID.Int64())
		assert.Equal(t, uint64(3), rec.MintID)
		assert.Equal(t, uint64(20), rec.Amount)
	})
}

func TestParseBuySumsSettlementLegs(t *testing.T) {
	data, err := ExchangeABI.Events["Trade"].Inputs.Pack(
		[2]common.Address{addrAlice, addrBob},        // seller, buyer
		[2]common.Address{addrContract, addrAlice},   // nft, currency
		[]*big.Int{big.NewInt(90), big.NewInt(10)},   // price legs
		[2]*big.Int{big.NewInt(42), big.NewInt(2)},   // token id, amount
	)
	require.NoError(t, err)

	rec, err := ParseBuy(types.Log{Data: data, TxHash: testTxHash})
	require.NoError(t, err)

	assert.Equal(t, "0xab5801a7d398351b8be11c439e05c5b3259aec9b", rec.Seller)
	assert.Equal(t, "0x00000000219ab540356cbb839cbe05303d7705fa", rec.Buyer)
	assert.Equal(t, int64(100), rec.Price.Int64())
	assert.Equal(t, int64(42), rec.TokenID.Int64())
	assert.Equal(t, uint64(2), rec.Amount)
}

func TestParseApproval(t *testing.T) {
	data, err := ERC721ABI.Events["ApprovalForAll"].Inputs.NonIndexed().Pack(false)
	require.NoError(t, err)

	log := types.Log{
		Topics: []common.Hash{
			TopicApprovalForAll,
			addrTopic(addrAlice),
			addrTopic(addrContract),
		},
		Data: data,
	}

	rec, err := ParseApproval(log)
	require.NoError(t, err)

	assert.Equal(t, "0xab5801a7d398351b8be11c439e05c5b3259aec9b", rec.Account)
	assert.Equal(t, "0xdac17f958d2ee523a2206206994597c13d831ec7", rec.Operator)
	assert.False(t, rec.IsApproved)
}

func TestParsePromotion(t *testing.T) {
	data, err := PromotionABI.Events["PromotionSuccess"].Inputs.Pack(
		big.NewInt(2), addrContract, big.NewInt(42), addrAlice, big.NewInt(137),
	)
	require.NoError(t, err)

	rec, err := ParsePromotion(types.Log{Data: data, TxHash: testTxHash})
	require.NoError(t, err)

	assert.Equal(t, uint64(2), rec.Package)
	assert.Equal(t, "0xdac17f958d2ee523a2206206994597c13d831ec7", rec.CollectionAddress)
	assert.Equal(t, int64(42), rec.TokenID.Int64())
	assert.Equal(t, uint64(137), rec.ChainID)
}

func TestParseUnknownCategory(t *testing.T) {
	_, err := Parse(Category("bogus"), StandardERC721, types.Log{})
	assert.Error(t, err)
}
