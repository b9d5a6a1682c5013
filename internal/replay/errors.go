package replay

import "errors"

// ErrInvalidOrdering is returned when buys are not in archive order.
var ErrInvalidOrdering = errors.New("buys are not in deterministic order")

// ErrInvalidRange is returned when from is not before to.
var ErrInvalidRange = errors.New("replay range is empty")
