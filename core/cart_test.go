package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func price(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestAddToCartMergesLines(t *testing.T) {
	d := NewDialog("+15550001111")

	d.AddToCart("p1", "Espresso Beans", 2, price("12.50"))
	line := d.AddToCart("p1", "Espresso Beans", 3, price("99.99"))

	require.Len(t, d.Cart, 1)
	assert.Equal(t, 5, line.Quantity)
	// The unit price snapshot belongs to the first addition.
	assert.True(t, line.UnitPrice.Equal(price("12.50")))
}

func TestCartTotalExactArithmetic(t *testing.T) {
	d := NewDialog("+15550001111")

	d.AddToCart("p1", "Espresso Beans", 3, price("0.10"))
	d.AddToCart("p2", "Filter Papers", 1, price("0.20"))

	// 3*0.10 + 0.20 must be exactly 0.50, not a float approximation.
	assert.True(t, d.CartTotal().Equal(price("0.50")), "got %s", d.CartTotal())
}

func TestRemoveFromCartPartialAndFull(t *testing.T) {
	d := NewDialog("+15550001111")
	d.AddToCart("p1", "Espresso Beans", 5, price("12.50"))

	require.True(t, d.RemoveFromCart("p1", 2))
	assert.Equal(t, 3, d.Cart["p1"].Quantity)

	// Removing at least the remaining quantity deletes the line.
	require.True(t, d.RemoveFromCart("p1", 3))
	assert.Empty(t, d.Cart)

	assert.False(t, d.RemoveFromCart("p1", 1))
}

func TestRemoveFromCartZeroQuantityRemovesLine(t *testing.T) {
	d := NewDialog("+15550001111")
	d.AddToCart("p1", "Espresso Beans", 5, price("12.50"))

	require.True(t, d.RemoveFromCart("p1", 0))
	assert.Empty(t, d.Cart)
}

func TestCartLinesDeterministicOrder(t *testing.T) {
	d := NewDialog("+15550001111")
	d.AddToCart("p2", "Filter Papers", 1, price("3.00"))
	d.AddToCart("p1", "Espresso Beans", 1, price("12.50"))

	lines := d.CartLines()
	require.Len(t, lines, 2)
	assert.Equal(t, "p1", lines[0].ProductID)
	assert.Equal(t, "p2", lines[1].ProductID)
}

func TestNewOrderFromCartSnapshotsLines(t *testing.T) {
	d := NewDialog("+15550001111")
	d.AddToCart("p1", "Espresso Beans", 2, price("12.50"))

	order := NewOrderFromCart(d)

	require.Len(t, order.Lines, 1)
	assert.Equal(t, OrderStatusPending, order.Status)
	assert.True(t, order.Total.Equal(price("25.00")))
	assert.Equal(t, d.ID, order.DialogID)

	// Mutating the cart afterwards must not affect the snapshot.
	d.AddToCart("p1", "Espresso Beans", 10, price("12.50"))
	assert.Equal(t, 2, order.Lines[0].Quantity)
	assert.True(t, order.Total.Equal(price("25.00")))
}
