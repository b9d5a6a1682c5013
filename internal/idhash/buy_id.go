package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"buywatch/internal/domain"
)

// ComputeBuyID computes a deterministic buy_id using SHA256.
// Formula: SHA256(chain|tx_id|token_address|log_index)
// Returns hex-encoded hash (64 characters).
func ComputeBuyID(
	chain domain.Chain,
	txID string,
	tokenAddress string,
	logIndex int,
) string {
	data := fmt.Sprintf("%s|%s|%s|%d",
		string(chain),
		txID,
		tokenAddress,
		logIndex,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// BuyID returns the deterministic ID of a buy event.
func BuyID(e *domain.BuyEvent) string {
	return ComputeBuyID(e.Chain, e.TxID, e.TokenAddress, e.LogIndex)
}
