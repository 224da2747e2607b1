package router

import (
	"math/big"

	"grinder/pkg/types"
)

var big10000 = big.NewInt(10000)

// bpsOf returns diff/base * 10000 truncated to an int64, rescaling diff to
// base's scale first so the division compares like-scaled integers.
func bpsOf(diff, base types.Amount) int64 {
	if base.Sign() == 0 {
		return 0
	}
	d := rescale(diff, base.Scale)
	num := new(big.Int).Mul(d, big10000)
	num.Quo(num, base.Value)
	if num.Sign() < 0 {
		num.Neg(num)
	}
	return num.Int64()
}

func rescale(a types.Amount, toScale int32) *big.Int {
	if a.Scale == toScale {
		return new(big.Int).Set(a.Value)
	}
	if toScale > a.Scale {
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(toScale-a.Scale)), nil)
		return new(big.Int).Mul(a.Value, factor)
	}
	factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(a.Scale-toScale)), nil)
	return new(big.Int).Quo(a.Value, factor)
}
