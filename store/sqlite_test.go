package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/commercemesh/core"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func seedProducts(t *testing.T, s *SQLiteStore) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.PutProduct(ctx, Product{
		ID:          "p1",
		Name:        "Espresso Beans",
		Description: "Dark roast arabica",
		Category:    "coffee",
		Price:       decimal.RequireFromString("12.50"),
		Stock:       25,
	}))
	require.NoError(t, s.PutProduct(ctx, Product{
		ID:          "p2",
		Name:        "Filter Papers",
		Description: "Pack of 100",
		Category:    "accessories",
		Price:       decimal.RequireFromString("3.00"),
		Stock:       100,
	}))
}

func TestDialogRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	d := core.NewDialog("+15550001111")
	d.AddMessage("user", "hello")
	d.AddMessage("assistant", "hi there")
	d.AddToCart("p1", "Espresso Beans", 2, decimal.RequireFromString("12.50"))

	require.NoError(t, s.SaveDialog(ctx, d))

	loaded, err := s.GetDialog(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, d.SenderID, loaded.SenderID)
	require.Len(t, loaded.History, 2)
	assert.Equal(t, "hello", loaded.History[0].Text)
	require.Contains(t, loaded.Cart, "p1")
	assert.Equal(t, 2, loaded.Cart["p1"].Quantity)
	assert.True(t, loaded.Cart["p1"].UnitPrice.Equal(decimal.RequireFromString("12.50")))
}

func TestGetDialogMissingReturnsNil(t *testing.T) {
	s := testStore(t)

	d, err := s.GetDialog(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestSaveDialogUpserts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	d := core.NewDialog("+15550001111")
	require.NoError(t, s.SaveDialog(ctx, d))

	d.AddMessage("user", "second write")
	require.NoError(t, s.SaveDialog(ctx, d))

	loaded, err := s.GetDialog(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, loaded.History, 1)
}

func TestSearchProducts(t *testing.T) {
	s := testStore(t)
	seedProducts(t, s)
	ctx := context.Background()

	results, err := s.SearchProducts(ctx, "espresso", "", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0].ID)

	// Category filter.
	results, err = s.SearchProducts(ctx, "", "accessories", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p2", results[0].ID)

	// No match is an empty slice, not an error.
	results, err = s.SearchProducts(ctx, "nonexistent", "", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestGetProductNotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetProduct(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))
}

func TestOrderRoundTripAndUpdate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	d := core.NewDialog("+15550001111")
	d.AddToCart("p1", "Espresso Beans", 2, decimal.RequireFromString("12.50"))
	order := core.NewOrderFromCart(d)

	require.NoError(t, s.CreateOrder(ctx, order))

	loaded, err := s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusPending, loaded.Status)
	assert.True(t, loaded.Total.Equal(decimal.RequireFromString("25.00")))
	require.Len(t, loaded.Lines, 1)

	loaded.Status = core.OrderStatusPaid
	loaded.PaymentRef = "https://pay.example.com/checkout/x"
	loaded.Updated = time.Now().UTC()
	require.NoError(t, s.UpdateOrder(ctx, loaded))

	updated, err := s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusPaid, updated.Status)
	assert.Equal(t, loaded.PaymentRef, updated.PaymentRef)
	// The line snapshot is untouched by the update.
	assert.True(t, updated.Total.Equal(decimal.RequireFromString("25.00")))
}

func TestUpdateOrderUnknownID(t *testing.T) {
	s := testStore(t)

	err := s.UpdateOrder(context.Background(), &core.Order{ID: "missing", Status: core.OrderStatusPaid})
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))
}

func TestGetOrderNotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetOrder(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))
}

func TestSaveDeadLetter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	dl := core.DeadLetter{
		Envelope: core.QueueEnvelope{
			SenderID:          "+15550001111",
			PlatformMessageID: "msg-1",
			Text:              "doomed",
			EnqueuedAt:        time.Now().UTC(),
			Attempt:           3,
		},
		Reason:   "delivery attempts exhausted",
		FailedAt: time.Now().UTC(),
	}

	require.NoError(t, s.SaveDeadLetter(ctx, dl))
	// Upsert by message id keeps the record unique.
	require.NoError(t, s.SaveDeadLetter(ctx, dl))
}
