package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"buywatch/internal/domain"
	"buywatch/internal/observability"
)

// Client is the subset of ethclient.Client used by the connector.
type Client interface {
	SubscribeFilterLogs(ctx context.Context, q geth.FilterQuery, ch chan<- types.Log) (geth.Subscription, error)
	CallContract(ctx context.Context, msg geth.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// ConnectorConfig holds connector settings.
type ConnectorConfig struct {
	ResubscribeDelay    time.Duration
	MaxResubscribeDelay time.Duration
	CallTimeout         time.Duration
	Logger              *zap.Logger
}

// DefaultConnectorConfig returns default settings.
func DefaultConnectorConfig() *ConnectorConfig {
	return &ConnectorConfig{
		ResubscribeDelay:    1 * time.Second,
		MaxResubscribeDelay: 30 * time.Second,
		CallTimeout:         10 * time.Second,
	}
}

// Connector wraps an EVM node connection.
type Connector struct {
	client Client
	config *ConnectorConfig
	logger *zap.Logger

	decimalsMu sync.RWMutex
	decimals   map[common.Address]uint8
}

// Dial connects to an EVM node over WebSocket (required for log subscriptions).
func Dial(ctx context.Context, url string, config *ConnectorConfig) (*Connector, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum node: %w", err)
	}
	return NewConnector(client, config), nil
}

// NewConnector creates a connector over an existing client.
func NewConnector(client Client, config *ConnectorConfig) *Connector {
	def := DefaultConnectorConfig()
	if config == nil {
		config = def
	}
	if config.ResubscribeDelay <= 0 {
		config.ResubscribeDelay = def.ResubscribeDelay
	}
	if config.MaxResubscribeDelay <= 0 {
		config.MaxResubscribeDelay = def.MaxResubscribeDelay
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = def.CallTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{
		client:   client,
		config:   config,
		logger:   logger,
		decimals: make(map[common.Address]uint8),
	}
}

// Close closes the underlying client.
func (c *Connector) Close() {
	c.client.Close()
}

// SwapSubscription is a live Swap log subscription on one pair.
type SwapSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Unsubscribe stops the subscription and waits for the delivery loop to exit.
func (s *SwapSubscription) Unsubscribe(ctx context.Context) error {
	s.once.Do(s.cancel)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubscribeSwaps delivers every Swap log emitted by pair to handler. The
// initial subscribe error is returned; later subscription errors are
// retried with backoff until Unsubscribe. Reorged (removed) logs are dropped.
func (c *Connector) SubscribeSwaps(ctx context.Context, pair common.Address, handler func(*Swap)) (*SwapSubscription, error) {
	query := geth.FilterQuery{
		Addresses: []common.Address{pair},
		Topics:    [][]common.Hash{{SwapEventID}},
	}

	logs := make(chan types.Log, 64)
	sub, err := c.client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, fmt.Errorf("subscribe swaps %s: %w", pair.Hex(), err)
	}

	// The loop outlives the caller's ctx; only Unsubscribe stops it.
	loopCtx, cancel := context.WithCancel(context.Background())
	s := &SwapSubscription{cancel: cancel, done: make(chan struct{})}
	go c.swapLoop(loopCtx, query, sub, logs, handler, s.done)
	return s, nil
}

func (c *Connector) swapLoop(ctx context.Context, query geth.FilterQuery, sub geth.Subscription, logs chan types.Log, handler func(*Swap), done chan struct{}) {
	defer close(done)
	pair := query.Addresses[0].Hex()
	logger := c.logger.With(zap.String("pair", pair))

	for {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
			return

		case err := <-sub.Err():
			sub.Unsubscribe()
			if err != nil {
				logger.Warn("swap subscription error", zap.Error(err))
			}
			sub = c.resubscribe(ctx, query, logs, logger)
			if sub == nil {
				return
			}

		case l := <-logs:
			if l.Removed {
				continue
			}
			swap, err := DecodeSwap(l)
			if err != nil {
				logger.Debug("undecodable log", zap.String("tx", l.TxHash.Hex()), zap.Error(err))
				continue
			}
			handler(swap)
		}
	}
}

// resubscribe retries SubscribeFilterLogs with exponential backoff. Returns
// nil when ctx is cancelled.
func (c *Connector) resubscribe(ctx context.Context, query geth.FilterQuery, logs chan types.Log, logger *zap.Logger) geth.Subscription {
	delay := c.config.ResubscribeDelay
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		sub, err := c.client.SubscribeFilterLogs(ctx, query, logs)
		if err == nil {
			logger.Info("swap subscription restored")
			return sub
		}
		logger.Warn("resubscribe failed", zap.Duration("retry_in", delay), zap.Error(err))
		delay *= 2
		if delay > c.config.MaxResubscribeDelay {
			delay = c.config.MaxResubscribeDelay
		}
	}
}

// PairTokens reads token0 and token1 of a V2 pair.
func (c *Connector) PairTokens(ctx context.Context, pair common.Address) (common.Address, common.Address, error) {
	token0, err := c.callAddress(ctx, pair, "token0")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	token1, err := c.callAddress(ctx, pair, "token1")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return token0, token1, nil
}

func (c *Connector) callAddress(ctx context.Context, contract common.Address, method string) (common.Address, error) {
	out, err := c.call(ctx, contract, PairABI.Methods[method].ID, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s.%s: %w", contract.Hex(), method, err)
	}
	values, err := PairABI.Unpack(method, out)
	if err != nil || len(values) != 1 {
		return common.Address{}, fmt.Errorf("%s.%s: unpack: %v", contract.Hex(), method, err)
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s.%s: unexpected %T", contract.Hex(), method, values[0])
	}
	return addr, nil
}

// TokenDecimals returns the ERC20 decimals of token, cached per token.
// Lookup failures return 18 and are not cached.
func (c *Connector) TokenDecimals(ctx context.Context, token common.Address) uint8 {
	c.decimalsMu.RLock()
	d, ok := c.decimals[token]
	c.decimalsMu.RUnlock()
	if ok {
		return d
	}

	out, err := c.call(ctx, token, ERC20ABI.Methods["decimals"].ID, nil)
	if err == nil {
		var values []interface{}
		values, err = ERC20ABI.Unpack("decimals", out)
		if err == nil && len(values) == 1 {
			if v, ok := values[0].(uint8); ok {
				c.decimalsMu.Lock()
				c.decimals[token] = v
				c.decimalsMu.Unlock()
				return v
			}
		}
	}
	c.logger.Debug("decimals lookup failed, using default",
		zap.String("token", token.Hex()), zap.Error(err))
	observability.RecordEnrichmentFailure(string(domain.ChainEthereum), "decimals")
	return domain.DefaultTokenDecimals
}

// BalanceAt returns the ERC20 balance of holder at block (nil for latest).
func (c *Connector) BalanceAt(ctx context.Context, token, holder common.Address, block *big.Int) (*big.Int, error) {
	data, err := ERC20ABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	out, err := c.call(ctx, token, data, block)
	if err != nil {
		return nil, fmt.Errorf("%s.balanceOf: %w", token.Hex(), err)
	}
	values, err := ERC20ABI.Unpack("balanceOf", out)
	if err != nil || len(values) != 1 {
		return nil, fmt.Errorf("%s.balanceOf: unpack: %v", token.Hex(), err)
	}
	bal, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s.balanceOf: unexpected %T", token.Hex(), values[0])
	}
	return bal, nil
}

var errEmptyReturn = errors.New("empty return data")

func (c *Connector) call(ctx context.Context, to common.Address, data []byte, block *big.Int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	start := time.Now()
	out, err := c.client.CallContract(ctx, geth.CallMsg{To: &to, Data: data}, block)
	observability.RecordRPCLatency("eth_call", time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errEmptyReturn
	}
	return out, nil
}
