package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// ChargedAmount returns the amount to charge in major units. With fee
// coverage it grosses up the base so the net after fees equals amount:
// (amount + fixed) / (1 - percentage). Precision is kept until the final
// step, which rounds half up to the cent.
func ChargedAmount(amount decimal.Decimal, coverFee bool, fixedFee, percentageFee float64) decimal.Decimal {
	if !coverFee {
		return amount.Truncate(2)
	}
	divisor := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(percentageFee))
	if !divisor.IsPositive() {
		return amount.Truncate(2)
	}
	gross := amount.Add(decimal.NewFromFloat(fixedFee)).DivRound(divisor, 8)
	return gross.Round(2)
}

// MinorUnits converts a major-unit amount to cents.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Truncate(0).IntPart()
}
