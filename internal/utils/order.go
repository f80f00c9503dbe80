package utils

import "math"

// CalculateMaxQuantity calculates the maximum quantity that can be bought
// with the given cash at the given price.
func CalculateMaxQuantity(cash float64, price float64) float64 {
	// Handle edge cases
	if price <= 0 || cash <= 0 {
		return 0
	}

	return cash / price
}

// RoundToDecimalPrecision rounds the quantity down to the specified decimal
// precision. Rounding down keeps the cost of the rounded quantity within the
// cash the caller budgeted.
func RoundToDecimalPrecision(quantity float64, decimalPrecision int) float64 {
	multiplier := math.Pow10(decimalPrecision)

	return math.Floor(quantity*multiplier) / multiplier
}

// CalculateOrderQuantityByPercentage calculates the quantity affordable with
// the given percentage of the cash balance.
func CalculateOrderQuantityByPercentage(cash float64, price float64, percentage float64) float64 {
	budget := cash * percentage

	return CalculateMaxQuantity(budget, price)
}
