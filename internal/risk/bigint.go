package risk

import (
	"math/big"

	"grinder/pkg/types"
)

var big10000 = big.NewInt(10000)

// rescaleForDiv returns highWater's Value rescaled to toScale, so the bps
// division in ddBps compares like-scaled integers.
func rescaleForDiv(highWater types.Amount, toScale int32) *big.Int {
	if highWater.Scale == toScale {
		return new(big.Int).Set(highWater.Value)
	}
	if toScale > highWater.Scale {
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(toScale-highWater.Scale)), nil)
		return new(big.Int).Mul(highWater.Value, factor)
	}
	factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(highWater.Scale-toScale)), nil)
	return new(big.Int).Quo(highWater.Value, factor)
}
