package util

import "golang.org/x/exp/constraints"

// RoundUpDiv returns x/y rounded towards positive infinity
func RoundUpDiv[T constraints.Integer](x, y T) T {
	if x%y == 0 {
		return x / y
	}
	return x/y + 1
}
