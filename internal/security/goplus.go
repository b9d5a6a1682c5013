package security

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"buywatch/internal/domain"
)

const maxTax = 0.1

func renounced(owner string) bool {
	switch strings.ToLower(owner) {
	case "", "0x0000000000000000000000000000000000000000", "0x000000000000000000000000000000000000dead":
		return true
	}
	return false
}

type authorityFlag struct {
	Status string `json:"status"`
}

// goPlusToken holds the flags GoPlus reports as "0"/"1" strings.
type goPlusToken struct {
	OwnerAddress string `json:"owner_address"`

	IsHoneypot           string `json:"is_honeypot"`
	CanTakeBackOwnership string `json:"can_take_back_ownership"`
	HiddenOwner          string `json:"hidden_owner"`
	SelfDestruct         string `json:"selfdestruct"`
	CannotSellAll        string `json:"cannot_sell_all"`
	CannotBuy            string `json:"cannot_buy"`
	OwnerChangeBalance   string `json:"owner_change_balance"`
	IsProxy              string `json:"is_proxy"`

	IsMintable                 string `json:"is_mintable"`
	IsBlacklisted              string `json:"is_blacklisted"`
	TransferPausable           string `json:"transfer_pausable"`
	SlippageModifiable         string `json:"slippage_modifiable"`
	PersonalSlippageModifiable string `json:"personal_slippage_modifiable"`
	IsWhitelisted              string `json:"is_whitelisted"`
	ExternalCall               string `json:"external_call"`
	TradingCooldown            string `json:"trading_cooldown"`

	BuyTax  string `json:"buy_tax"`
	SellTax string `json:"sell_tax"`

	Mintable                   *authorityFlag `json:"mintable"`
	Freezable                  *authorityFlag `json:"freezable"`
	IsMutable                  string         `json:"is_mutable"`
	DefaultAccountStateEnabled string         `json:"default_account_state_enabled"`
}

type goPlusResponse struct {
	Code    int                     `json:"code"`
	Message string                  `json:"message"`
	Result  map[string]*goPlusToken `json:"result"`
}

func goPlusChainID(chain domain.Chain) string {
	if chain == domain.ChainSolana {
		return "solana"
	}
	return "1"
}

func (s *Scanner) scanGoPlus(ctx context.Context, chain domain.Chain, address string) (Result, error) {
	var resp goPlusResponse
	path := "/api/v1/token_security/" + goPlusChainID(chain)
	q := url.Values{"contract_addresses": {address}}
	if err := s.goplus.GetJSON(ctx, path, q, &resp); err != nil {
		return Result{}, fmt.Errorf("goplus token security %s: %w", address, err)
	}

	var token *goPlusToken
	for _, t := range resp.Result {
		if t != nil {
			token = t
			break
		}
	}
	if resp.Code != 1 || token == nil {
		r := judge("goplus", nil)
		r.Summary = "No data available (new token?)"
		return r, nil
	}

	if chain == domain.ChainSolana {
		return judge("goplus", solanaRisks(token)), nil
	}
	return judge("goplus", evmRisks(token)), nil
}

func evmRisks(t *goPlusToken) []Risk {
	var risks []Risk
	flag := func(v, name string, critical bool) {
		if v == "1" {
			risks = append(risks, Risk{Name: name, Critical: critical})
		}
	}

	flag(t.IsHoneypot, "Honeypot (cannot sell)", true)
	flag(t.CanTakeBackOwnership, "Ownership can be reclaimed", true)
	flag(t.HiddenOwner, "Hidden owner", false)
	flag(t.SelfDestruct, "Contract can self-destruct", true)
	flag(t.CannotSellAll, "Cannot sell all tokens", false)
	flag(t.CannotBuy, "Cannot buy this token", true)
	flag(t.OwnerChangeBalance, "Owner can change balances", true)
	flag(t.IsProxy, "Upgradeable proxy contract", false)

	// Owner-dependent switches are inert once ownership is renounced.
	if !renounced(t.OwnerAddress) {
		flag(t.IsMintable, "Mintable", false)
		flag(t.IsBlacklisted, "Has blacklist function", false)
		flag(t.TransferPausable, "Transfers can be paused", false)
		flag(t.SlippageModifiable, "Slippage can be modified", false)
		flag(t.PersonalSlippageModifiable, "Per-user slippage control", false)
		flag(t.IsWhitelisted, "Has whitelist function", false)
		flag(t.ExternalCall, "External contract calls", false)
		flag(t.TradingCooldown, "Trading cooldown enabled", false)
	}

	if tax := parseTax(t.BuyTax); tax > maxTax {
		risks = append(risks, Risk{Name: fmt.Sprintf("High buy tax: %.1f%%", tax*100)})
	}
	if tax := parseTax(t.SellTax); tax > maxTax {
		risks = append(risks, Risk{Name: fmt.Sprintf("High sell tax: %.1f%%", tax*100)})
	}
	return risks
}

func solanaRisks(t *goPlusToken) []Risk {
	var risks []Risk
	if t.IsHoneypot == "1" {
		risks = append(risks, Risk{Name: "Honeypot (cannot sell)", Critical: true})
	}
	if t.Mintable != nil && t.Mintable.Status == "1" {
		risks = append(risks, Risk{Name: "Mint authority active"})
	}
	if t.Freezable != nil && t.Freezable.Status == "1" {
		risks = append(risks, Risk{Name: "Freeze authority active"})
	}
	if t.IsMutable == "1" {
		risks = append(risks, Risk{Name: "Metadata is mutable"})
	}
	if t.DefaultAccountStateEnabled == "1" {
		risks = append(risks, Risk{Name: "Default account state enabled"})
	}
	return risks
}

func parseTax(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
