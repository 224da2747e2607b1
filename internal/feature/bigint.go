package feature

import "math/big"

// bigInt is a local alias so the arithmetic in engine.go reads tersely;
// this package does a lot of scaled-integer bps math.
type bigInt = big.Int

var big10000 = big.NewInt(10000)
var big1 = big.NewInt(1)
