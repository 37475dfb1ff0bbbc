package chain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client wraps an Ethereum JSON-RPC client with rate limiting. Many scanner
// workers share one client per network, so the limiter bounds the total
// request rate against the provider.
type Client struct {
	ethClient *ethclient.Client
	rpcClient *rpc.Client
	limiter   *rate.Limiter
	endpoint  string
	logger    *zap.Logger
}

// Config holds client configuration
type Config struct {
	Endpoint string
	Timeout  time.Duration
	// RequestsPerSecond bounds outgoing RPC calls; 0 disables the limiter
	RequestsPerSecond float64
	Logger            *zap.Logger
}

// NewClient creates a new Ethereum client
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx := context.Background()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	rpcClient, err := rpc.DialContext(ctx, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1)
	}

	c := &Client{
		ethClient: ethclient.NewClient(rpcClient),
		rpcClient: rpcClient,
		limiter:   limiter,
		endpoint:  cfg.Endpoint,
		logger:    logger,
	}

	logger.Info("connected to RPC endpoint", zap.String("endpoint", cfg.Endpoint))

	return c, nil
}

// Close closes the client connection
func (c *Client) Close() {
	if c.ethClient != nil {
		c.ethClient.Close()
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// CurrentHeight returns the latest block number
func (c *Client) CurrentHeight(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	height, err := c.ethClient.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}
	return height, nil
}

// FilterLogs fetches logs matching the query
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.ethClient.FilterLogs(ctx, q)
}

// TransactionTo returns the lower-cased destination address of a
// transaction, or an empty string for contract creations
func (c *Client) TransactionTo(ctx context.Context, txHash string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	tx, _, err := c.ethClient.TransactionByHash(ctx, common.HexToHash(txHash))
	if err != nil {
		return "", fmt.Errorf("failed to get transaction %s: %w", txHash, err)
	}
	to := tx.To()
	if to == nil {
		return "", nil
	}
	return strings.ToLower(to.Hex()), nil
}
