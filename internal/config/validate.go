package config

import (
	"errors"
	"fmt"
	"strings"

	"buywatch/internal/domain"
)

// Validate checks the configuration for values the core cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Ethereum.DustFloor < 0 {
		errs = append(errs, fmt.Errorf("ethereum.dust_floor must not be negative, got %v", c.Ethereum.DustFloor))
	}
	if c.Solana.DustFloor < 0 {
		errs = append(errs, fmt.Errorf("solana.dust_floor must not be negative, got %v", c.Solana.DustFloor))
	}
	if c.Solana.SignatureWindow < 0 {
		errs = append(errs, fmt.Errorf("solana.signature_window must not be negative, got %d", c.Solana.SignatureWindow))
	}
	if c.Dedup.HighWater < 0 || c.Dedup.Evict < 0 {
		errs = append(errs, errors.New("dedup bounds must not be negative"))
	}
	if c.Dedup.HighWater > 0 && c.Dedup.Evict > c.Dedup.HighWater {
		errs = append(errs, fmt.Errorf("dedup.evict (%d) exceeds dedup.high_water (%d)", c.Dedup.Evict, c.Dedup.HighWater))
	}

	switch strings.ToLower(c.Trending.Model) {
	case "", "window", "decay":
	default:
		errs = append(errs, fmt.Errorf("trending.model %q is not window or decay", c.Trending.Model))
	}
	if f := c.Trending.DecayFactor; f != 0 && (f <= 0 || f >= 1) {
		errs = append(errs, fmt.Errorf("trending.decay_factor must be in (0, 1), got %v", f))
	}

	if c.Solana.RPCURL != "" && c.Solana.WSURL == "" {
		errs = append(errs, errors.New("solana.ws_url is required when solana.rpc_url is set"))
	}

	if _, err := c.Targets(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Targets parses the configured watch list, dropping duplicates.
func (c *Config) Targets() ([]domain.WatchTarget, error) {
	seen := make(map[string]struct{}, len(c.Watch.Tokens))
	targets := make([]domain.WatchTarget, 0, len(c.Watch.Tokens))
	for _, raw := range c.Watch.Tokens {
		t, err := domain.ParseWatchTarget(raw)
		if err != nil {
			return nil, fmt.Errorf("watch.tokens: %w", err)
		}
		if _, dup := seen[t.Key()]; dup {
			continue
		}
		seen[t.Key()] = struct{}{}
		targets = append(targets, t)
	}
	return targets, nil
}
