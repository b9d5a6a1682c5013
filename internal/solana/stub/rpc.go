package stub

import (
	"context"
	"sync"

	"buywatch/internal/solana"
)

// RPCClient implements solana.RPCClient for testing. Safe for concurrent use.
type RPCClient struct {
	mu           sync.Mutex
	Transactions map[string]*solana.Transaction
	Signatures   map[string][]solana.SignatureInfo
	Accounts     map[string]*solana.AccountInfo

	// TxErrors makes GetTransaction fail for a signature.
	TxErrors map[string]error
	// SignaturesErr makes every GetSignaturesForAddress call fail.
	SignaturesErr error

	txCalls map[string]int
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Transactions: make(map[string]*solana.Transaction),
		Signatures:   make(map[string][]solana.SignatureInfo),
		Accounts:     make(map[string]*solana.AccountInfo),
		TxErrors:     make(map[string]error),
		txCalls:      make(map[string]int),
	}
}

// GetTransaction retrieves a transaction by signature from the stub store.
// Returns nil, nil for unknown signatures, like the HTTP client.
func (c *RPCClient) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.txCalls[signature]++
	if err, ok := c.TxErrors[signature]; ok {
		return nil, err
	}
	return c.Transactions[signature], nil
}

// GetSignaturesForAddress retrieves signatures for an address from the stub store.
func (c *RPCClient) GetSignaturesForAddress(_ context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SignaturesErr != nil {
		return nil, c.SignaturesErr
	}
	sigs, ok := c.Signatures[address]
	if !ok {
		return nil, nil
	}

	// Apply limit if specified
	if opts != nil && opts.Limit > 0 && opts.Limit < len(sigs) {
		sigs = sigs[:opts.Limit]
	}

	return append([]solana.SignatureInfo(nil), sigs...), nil
}

// GetAccountInfo retrieves account info from the stub store. Returns nil, nil if absent.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.Accounts[pubkey], nil
}

// AddTransaction adds a transaction to the stub store.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transactions[tx.Signature] = tx
}

// AddSignatures sets signatures for an address. Order is newest first, as the RPC returns them.
func (c *RPCClient) AddSignatures(address string, sigs []solana.SignatureInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Signatures[address] = sigs
}

// AddAccount adds an account to the stub store.
func (c *RPCClient) AddAccount(pubkey string, info *solana.AccountInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts[pubkey] = info
}

// FailTransaction makes GetTransaction return err for signature.
func (c *RPCClient) FailTransaction(signature string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TxErrors[signature] = err
}

// ClearFailure removes an injected GetTransaction failure.
func (c *RPCClient) ClearFailure(signature string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.TxErrors, signature)
}

// TransactionCalls returns how many times GetTransaction was called for signature.
func (c *RPCClient) TransactionCalls(signature string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txCalls[signature]
}

// Compile-time interface check.
var _ solana.RPCClient = (*RPCClient)(nil)
