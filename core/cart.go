package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// CartLine is one product entry of a dialog's cart. UnitPrice is snapshotted
// at the time of addition; later catalog price changes do not affect it.
// A product appears at most once per cart; re-adding merges into the
// existing line.
type CartLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"` // always >= 1
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Subtotal returns quantity × unit price.
func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// AddToCart merges qty units of a product into the cart, incrementing the
// existing line's quantity rather than duplicating it. The unit price of an
// existing line is kept; the snapshot belongs to the first addition.
// It returns the resulting line.
func (d *Dialog) AddToCart(productID, name string, qty int, unitPrice decimal.Decimal) CartLine {
	line, ok := d.Cart[productID]
	if ok {
		line.Quantity += qty
	} else {
		line = CartLine{ProductID: productID, Name: name, Quantity: qty, UnitPrice: unitPrice}
	}
	d.Cart[productID] = line
	d.Touch()
	return line
}

// RemoveFromCart decrements a line by qty units, removing it entirely when
// qty <= 0 or the decrement would leave a non-positive quantity. It reports
// whether the product was present.
func (d *Dialog) RemoveFromCart(productID string, qty int) bool {
	line, ok := d.Cart[productID]
	if !ok {
		return false
	}
	if qty <= 0 || qty >= line.Quantity {
		delete(d.Cart, productID)
	} else {
		line.Quantity -= qty
		d.Cart[productID] = line
	}
	d.Touch()
	return true
}

// CartLines returns the cart lines ordered by product id for deterministic
// display and snapshotting.
func (d *Dialog) CartLines() []CartLine {
	lines := make([]CartLine, 0, len(d.Cart))
	for _, l := range d.Cart {
		lines = append(lines, l)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines
}

// CartTotal returns the exact sum of quantity × unit price over all lines.
func (d *Dialog) CartTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range d.Cart {
		total = total.Add(l.Subtotal())
	}
	return total
}

// ClearCart empties the cart. Called after an order snapshot has been taken.
func (d *Dialog) ClearCart() {
	d.Cart = map[string]CartLine{}
	d.Touch()
}
