// internal/chains/ethereum/units.go
package ethereum

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const NativeDecimals int32 = 18

var gwei = big.NewInt(1e9)

// ToDecimal converts a base-unit integer to the native decimal unit
func ToDecimal(wei *big.Int, decimals int32) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -decimals)
}

// ToWei converts a native decimal amount to base units, truncating dust below 1 wei
func ToWei(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).BigInt()
}

func GweiToWei(g int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(g), gwei)
}

// CapGasPrice bounds the suggested price by the configured ceiling
func CapGasPrice(suggested, ceiling *big.Int) *big.Int {
	if ceiling != nil && ceiling.Sign() > 0 && suggested.Cmp(ceiling) > 0 {
		return new(big.Int).Set(ceiling)
	}
	return new(big.Int).Set(suggested)
}

// MaxFee is the most a transfer can cost in gas at the ceiling price
func MaxFee(gasLimit uint64, ceiling *big.Int) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), ceiling)
}
