package aggregator

import "errors"

// ErrInvalidDimension is returned for unknown grouping dimensions.
var ErrInvalidDimension = errors.New("invalid dimension: must be command, dir, date, or outcome")
