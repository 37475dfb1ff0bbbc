package events

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ABI fragments for the event shapes the scanner understands. Only events
// are listed; the scanner never calls contract methods.
const (
	erc721ABIJSON = `[
		{"type":"event","name":"Transfer","inputs":[
			{"name":"from","type":"address","indexed":true},
			{"name":"to","type":"address","indexed":true},
			{"name":"tokenId","type":"uint256","indexed":true}]},
		{"type":"event","name":"Mint","inputs":[
			{"name":"tokenID","type":"uint256","indexed":false},
			{"name":"mintID","type":"uint256","indexed":false},
			{"name":"sender","type":"address","indexed":false}]},
		{"type":"event","name":"ApprovalForAll","inputs":[
			{"name":"owner","type":"address","indexed":true},
			{"name":"operator","type":"address","indexed":true},
			{"name":"approved","type":"bool","indexed":false}]}
	]`

	erc1155ABIJSON = `[
		{"type":"event","name":"TransferSingle","inputs":[
			{"name":"operator","type":"address","indexed":true},
			{"name":"from","type":"address","indexed":true},
			{"name":"to","type":"address","indexed":true},
			{"name":"id","type":"uint256","indexed":false},
			{"name":"value","type":"uint256","indexed":false}]},
		{"type":"event","name":"Mint","inputs":[
			{"name":"totalSupply","type":"uint256","indexed":false},
			{"name":"mintID","type":"uint256","indexed":false},
			{"name":"amount","type":"uint256","indexed":false},
			{"name":"sender","type":"address","indexed":false}]},
		{"type":"event","name":"ApprovalForAll","inputs":[
			{"name":"owner","type":"address","indexed":true},
			{"name":"operator","type":"address","indexed":true},
			{"name":"approved","type":"bool","indexed":false}]}
	]`

	factoryABIJSON = `[
		{"type":"event","name":"NewInstance","inputs":[
			{"name":"name","type":"string","indexed":false},
			{"name":"instance","type":"address","indexed":false}]}
	]`

	exchangeABIJSON = `[
		{"type":"event","name":"Trade","inputs":[
			{"name":"fromTo","type":"address[2]","indexed":false},
			{"name":"nftAndToken","type":"address[2]","indexed":false},
			{"name":"allAmounts","type":"uint256[]","indexed":false},
			{"name":"idAndAmount","type":"uint256[2]","indexed":false}]}
	]`

	promotionABIJSON = `[
		{"type":"event","name":"PromotionSuccess","inputs":[
			{"name":"package","type":"uint256","indexed":false},
			{"name":"promotionToken","type":"address","indexed":false},
			{"name":"promotionId","type":"uint256","indexed":false},
			{"name":"sender","type":"address","indexed":false},
			{"name":"promotionChainId","type":"uint256","indexed":false}]}
	]`
)

var (
	// Parsed ABIs, one per contract family
	ERC721ABI    = mustParseABI(erc721ABIJSON)
	ERC1155ABI   = mustParseABI(erc1155ABIJSON)
	FactoryABI   = mustParseABI(factoryABIJSON)
	ExchangeABI  = mustParseABI(exchangeABIJSON)
	PromotionABI = mustParseABI(promotionABIJSON)
)

// Topic hashes (topic0) for every scanned event
var (
	TopicTransfer721      = eventTopic("Transfer(address,address,uint256)")
	TopicTransferSingle   = eventTopic("TransferSingle(address,address,address,uint256,uint256)")
	TopicMint721          = eventTopic("Mint(uint256,uint256,address)")
	TopicMint1155         = eventTopic("Mint(uint256,uint256,uint256,address)")
	TopicApprovalForAll   = eventTopic("ApprovalForAll(address,address,bool)")
	TopicNewInstance      = eventTopic("NewInstance(string,address)")
	TopicTrade            = eventTopic("Trade(address[2],address[2],uint256[],uint256[2])")
	TopicPromotionSuccess = eventTopic("PromotionSuccess(uint256,address,uint256,address,uint256)")
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

func eventTopic(signature string) common.Hash {
	return crypto.Keccak256Hash([]byte(signature))
}
