package replay

import (
	"cmp"
	"sort"

	"buywatch/internal/domain"
)

// SortBuys orders buys by (timestamp ASC, chain ASC, tx_id ASC, log_index ASC).
func SortBuys(buys []*domain.BuyEvent) {
	sort.SliceStable(buys, func(i, j int) bool {
		return compareBuys(buys[i], buys[j]) < 0
	})
}

// CheckOrder returns ErrInvalidOrdering if buys are not sorted as SortBuys
// leaves them.
func CheckOrder(buys []*domain.BuyEvent) error {
	for i := 1; i < len(buys); i++ {
		if compareBuys(buys[i-1], buys[i]) > 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

func compareBuys(a, b *domain.BuyEvent) int {
	if c := cmp.Compare(a.Timestamp, b.Timestamp); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Chain, b.Chain); c != 0 {
		return c
	}
	if c := cmp.Compare(a.TxID, b.TxID); c != 0 {
		return c
	}
	return cmp.Compare(a.LogIndex, b.LogIndex)
}
