package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mr-tron/base58"
)

// Chain identifies a supported blockchain.
type Chain string

// Supported chains.
const (
	ChainEthereum Chain = "eth"
	ChainSolana   Chain = "solana"
)

// NativeSymbol returns the ticker of the chain's native asset.
func (c Chain) NativeSymbol() string {
	switch c {
	case ChainEthereum:
		return "ETH"
	case ChainSolana:
		return "SOL"
	default:
		return ""
	}
}

// IsValid reports whether c is a supported chain.
func (c Chain) IsValid() bool {
	return c == ChainEthereum || c == ChainSolana
}

// ParseChain parses a chain tag. Accepts "eth", "ethereum", "sol", "solana".
func ParseChain(s string) (Chain, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "eth", "ethereum":
		return ChainEthereum, nil
	case "sol", "solana":
		return ChainSolana, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownChain, s)
	}
}

// Address validation errors.
var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrUnknownChain   = errors.New("unknown chain")
)

var (
	evmAddressRe    = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	solanaAddressRe = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

// IdentifyChain infers the chain of an address from its format.
// Addresses matching neither format are rejected.
func IdentifyChain(address string) (Chain, error) {
	address = strings.TrimSpace(address)
	if evmAddressRe.MatchString(address) {
		return ChainEthereum, nil
	}
	if isSolanaAddress(address) {
		return ChainSolana, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
}

// NormalizeAddress validates address against the chain's rule and returns
// its canonical form. EVM addresses are lowercased; Solana addresses are
// case-sensitive and returned as-is.
func NormalizeAddress(chain Chain, address string) (string, error) {
	address = strings.TrimSpace(address)
	switch chain {
	case ChainEthereum:
		if !evmAddressRe.MatchString(address) {
			return "", fmt.Errorf("%w: %q is not an EVM address", ErrInvalidAddress, address)
		}
		return strings.ToLower(address), nil
	case ChainSolana:
		if !isSolanaAddress(address) {
			return "", fmt.Errorf("%w: %q is not a Solana address", ErrInvalidAddress, address)
		}
		return address, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownChain, chain)
	}
}

// isSolanaAddress checks the base58 alphabet and that the key decodes to 32 bytes.
func isSolanaAddress(address string) bool {
	if !solanaAddressRe.MatchString(address) {
		return false
	}
	raw, err := base58.Decode(address)
	return err == nil && len(raw) == 32
}

// WatchTarget is a (chain, token address) pair the core monitors.
type WatchTarget struct {
	Chain   Chain
	Address string // normalized
}

// NewWatchTarget validates and normalizes a watch target.
func NewWatchTarget(chain Chain, address string) (WatchTarget, error) {
	normalized, err := NormalizeAddress(chain, address)
	if err != nil {
		return WatchTarget{}, err
	}
	return WatchTarget{Chain: chain, Address: normalized}, nil
}

// ParseWatchTarget parses "chain:address" or a bare address whose chain is
// inferred by IdentifyChain.
func ParseWatchTarget(s string) (WatchTarget, error) {
	s = strings.TrimSpace(s)
	if prefix, addr, ok := strings.Cut(s, ":"); ok {
		chain, err := ParseChain(prefix)
		if err != nil {
			return WatchTarget{}, err
		}
		return NewWatchTarget(chain, addr)
	}
	chain, err := IdentifyChain(s)
	if err != nil {
		return WatchTarget{}, err
	}
	return NewWatchTarget(chain, s)
}

// Key returns the unique key of the target.
func (t WatchTarget) Key() string {
	return string(t.Chain) + ":" + t.Address
}

func (t WatchTarget) String() string {
	return t.Key()
}
