package testutil

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// AssertDecimalEqual compares decimals by value, ignoring exponent differences
// such as 5.0 versus 5.
func AssertDecimalEqual(t *testing.T, expected string, actual decimal.Decimal, msgAndArgs ...interface{}) bool {
	t.Helper()
	want := decimal.RequireFromString(expected)
	if want.Equal(actual) {
		return true
	}
	return assert.Fail(t, fmt.Sprintf("decimals differ\nexpected: %s\nactual:   %s", want, actual), msgAndArgs...)
}
