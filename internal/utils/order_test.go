package utils

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type UtilsTestSuite struct {
	suite.Suite
}

func TestUtilsTestSuite(t *testing.T) {
	suite.Run(t, new(UtilsTestSuite))
}

func (suite *UtilsTestSuite) TestCalculateMaxQuantity() {
	tests := []struct {
		name        string
		cash        float64
		price       float64
		expectedQty float64
	}{
		{
			name:        "Simple case",
			cash:        1000.0,
			price:       100.0,
			expectedQty: 10,
		},
		{
			name:        "Zero cash",
			cash:        0.0,
			price:       100.0,
			expectedQty: 0,
		},
		{
			name:        "Zero price",
			cash:        1000.0,
			price:       0.0,
			expectedQty: 0,
		},
		{
			name:        "Cash less than price",
			cash:        50.0,
			price:       100.0,
			expectedQty: 0.5,
		},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			qty := CalculateMaxQuantity(tc.cash, tc.price)
			suite.Assert().Equal(tc.expectedQty, qty, "Quantity mismatch")
		})
	}
}

func (suite *UtilsTestSuite) TestRoundToDecimalPrecision() {
	tests := []struct {
		name      string
		quantity  float64
		precision int
		expected  float64
	}{
		{
			name:      "Rounds down",
			quantity:  1.23456789,
			precision: 4,
			expected:  1.2345,
		},
		{
			name:      "Whole number unchanged",
			quantity:  3.0,
			precision: 8,
			expected:  3.0,
		},
		{
			name:      "Zero precision truncates",
			quantity:  9.99,
			precision: 0,
			expected:  9.0,
		},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			suite.Assert().Equal(tc.expected, RoundToDecimalPrecision(tc.quantity, tc.precision))
		})
	}
}

func (suite *UtilsTestSuite) TestCalculateOrderQuantityByPercentage() {
	tests := []struct {
		name        string
		cash        float64
		price       float64
		percentage  float64
		expectedQty float64
	}{
		{
			name:        "Half the balance",
			cash:        1000.0,
			price:       100.0,
			percentage:  0.5,
			expectedQty: 5,
		},
		{
			name:        "Full balance",
			cash:        1000.0,
			price:       100.0,
			percentage:  1.0,
			expectedQty: 10,
		},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			qty := CalculateOrderQuantityByPercentage(tc.cash, tc.price, tc.percentage)
			suite.Assert().Equal(tc.expectedQty, qty, "Quantity mismatch")
		})
	}
}
