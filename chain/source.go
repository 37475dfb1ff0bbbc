package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/mintra/marketscan/events"
)

// SourceConfig fixes one scanner scope: the event category plus every
// contract address the category can target on this network.
type SourceConfig struct {
	Category events.Category
	Standard events.Standard

	// Contract is the collection contract; required for mint, transfer
	// and approval scopes
	Contract string

	// FactoryAddress is the collection factory for the scope's standard;
	// required for deploy scopes
	FactoryAddress string

	// ExchangeAddress is the marketplace exchange; required for buy scopes
	ExchangeAddress string

	// PromotionAddress is the promotion contract; required for promotion
	// scopes
	PromotionAddress string
}

// EVMSource implements events.Source for EVM-family networks. Other chain
// families would implement the same interface against their own clients;
// selection happens at construction time.
type EVMSource struct {
	client *Client
	cfg    SourceConfig
	logger *zap.Logger
}

var _ events.Source = (*EVMSource)(nil)

// NewEVMSource creates a source for one scanner scope
func NewEVMSource(client *Client, cfg SourceConfig, logger *zap.Logger) (*EVMSource, error) {
	if !cfg.Category.Valid() {
		return nil, fmt.Errorf("unknown category %q", cfg.Category)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &EVMSource{client: client, cfg: cfg, logger: logger}
	if _, _, err := s.target(); err != nil {
		return nil, err
	}
	return s, nil
}

// Height returns the current chain head
func (s *EVMSource) Height(ctx context.Context) (uint64, error) {
	return s.client.CurrentHeight(ctx)
}

// Logs fetches and parses the scope's events within [from, to], ordered by
// block and log index
func (s *EVMSource) Logs(ctx context.Context, from, to uint64) ([]events.Record, error) {
	address, topic, err := s.target()
	if err != nil {
		return nil, err
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{address},
		Topics:    [][]common.Hash{{topic}},
	}

	logs, err := s.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, err
	}

	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	records := make([]events.Record, 0, len(logs))
	for _, l := range logs {
		rec, err := events.Parse(s.cfg.Category, s.cfg.Standard, l)
		if err != nil {
			// A log matching the topic but failing to decode is a
			// provider or contract quirk, not a scanner fault
			s.logger.Warn("skipping undecodable log",
				zap.String("category", string(s.cfg.Category)),
				zap.String("tx_hash", l.TxHash.Hex()),
				zap.Error(err))
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// target resolves the contract address and topic for the scope
func (s *EVMSource) target() (common.Address, common.Hash, error) {
	switch s.cfg.Category {
	case events.CategoryDeploy:
		if s.cfg.FactoryAddress == "" {
			return common.Address{}, common.Hash{}, fmt.Errorf("deploy scope requires a factory address")
		}
		return common.HexToAddress(s.cfg.FactoryAddress), events.TopicNewInstance, nil

	case events.CategoryMint:
		if s.cfg.Contract == "" {
			return common.Address{}, common.Hash{}, fmt.Errorf("mint scope requires a collection contract")
		}
		topic := events.TopicMint721
		if s.cfg.Standard == events.StandardERC1155 {
			topic = events.TopicMint1155
		}
		return common.HexToAddress(s.cfg.Contract), topic, nil

	case events.CategoryTransfer:
		if s.cfg.Contract == "" {
			return common.Address{}, common.Hash{}, fmt.Errorf("transfer scope requires a collection contract")
		}
		topic := events.TopicTransfer721
		if s.cfg.Standard == events.StandardERC1155 {
			topic = events.TopicTransferSingle
		}
		return common.HexToAddress(s.cfg.Contract), topic, nil

	case events.CategoryBuy:
		if s.cfg.ExchangeAddress == "" {
			return common.Address{}, common.Hash{}, fmt.Errorf("buy scope requires an exchange address")
		}
		return common.HexToAddress(s.cfg.ExchangeAddress), events.TopicTrade, nil

	case events.CategoryApproval:
		if s.cfg.Contract == "" {
			return common.Address{}, common.Hash{}, fmt.Errorf("approval scope requires a collection contract")
		}
		return common.HexToAddress(s.cfg.Contract), events.TopicApprovalForAll, nil

	case events.CategoryPromotion:
		if s.cfg.PromotionAddress == "" {
			return common.Address{}, common.Hash{}, fmt.Errorf("promotion scope requires a promotion contract")
		}
		return common.HexToAddress(s.cfg.PromotionAddress), events.TopicPromotionSuccess, nil
	}

	return common.Address{}, common.Hash{}, fmt.Errorf("unknown category %q", s.cfg.Category)
}
