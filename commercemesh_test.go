package commercemesh

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/commercemesh/commerce"
	"github.com/hupe1980/commercemesh/core"
	"github.com/hupe1980/commercemesh/messaging"
	"github.com/hupe1980/commercemesh/model"
	"github.com/hupe1980/commercemesh/store"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPipelinePlainConversation(t *testing.T) {
	engine := model.NewMockModel().EnqueueText("Welcome to the shop!")
	sender := messaging.NewMock()

	p := NewPipeline(engine, func(o *PipelineOptions) {
		o.Sender = sender
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))
	defer p.Stop()

	require.NoError(t, p.Submit(ctx, "+15550001111", "msg-1", "hi"))

	waitFor(t, func() bool { return len(sender.Sent()) == 1 })
	assert.Equal(t, "Welcome to the shop!", sender.Sent()[0].Text)
}

func TestPipelineToolDrivenPurchase(t *testing.T) {
	catalog := commerce.NewInMemoryCatalog()
	catalog.Put(store.Product{
		ID:    "p1",
		Name:  "Espresso Beans",
		Price: decimal.RequireFromString("12.50"),
		Stock: 10,
	})
	orders := commerce.NewInMemoryOrders()
	sender := messaging.NewMock()

	engine := model.NewMockModel().
		EnqueueToolCall("fc_1", "add_to_cart", `{"product_id":"p1","quantity":2}`).
		EnqueueToolCall("fc_2", "create_order", `{}`).
		EnqueueText("Order placed! Your total is $25.00.")

	p := NewPipeline(engine, func(o *PipelineOptions) {
		o.Catalog = catalog
		o.Orders = orders
		o.Sender = sender
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))
	defer p.Stop()

	require.NoError(t, p.Submit(ctx, "+15550001111", "msg-1", "two bags of espresso beans please"))

	waitFor(t, func() bool { return len(sender.Sent()) == 1 })
	assert.Equal(t, "Order placed! Your total is $25.00.", sender.Sent()[0].Text)
	assert.Equal(t, 1, orders.Len())
}

func TestPipelineRedeliveredPurchaseCreatesOneOrder(t *testing.T) {
	catalog := commerce.NewInMemoryCatalog()
	catalog.Put(store.Product{
		ID:    "p1",
		Name:  "Espresso Beans",
		Price: decimal.RequireFromString("12.50"),
		Stock: 10,
	})
	orders := commerce.NewInMemoryOrders()
	sender := messaging.NewMock()

	// The first delivery places the order and then hits a transient engine
	// failure; the redelivery replays the whole tool loop against a dialog
	// whose cart was never durably cleared.
	engine := model.NewMockModel().
		EnqueueToolCall("fc_1", "add_to_cart", `{"product_id":"p1","quantity":2}`).
		EnqueueToolCall("fc_2", "create_order", `{}`).
		EnqueueError(core.Transient("engine", assert.AnError)).
		EnqueueToolCall("fc_3", "add_to_cart", `{"product_id":"p1","quantity":2}`).
		EnqueueToolCall("fc_4", "create_order", `{}`).
		EnqueueText("Order placed! Your total is $25.00.")

	p := NewPipeline(engine, func(o *PipelineOptions) {
		o.Catalog = catalog
		o.Orders = orders
		o.Sender = sender
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))
	defer p.Stop()

	require.NoError(t, p.Submit(ctx, "+15550001111", "msg-1", "two bags of espresso beans please"))

	waitFor(t, func() bool { return len(sender.Sent()) == 1 })
	assert.Equal(t, "Order placed! Your total is $25.00.", sender.Sent()[0].Text)
	assert.Equal(t, 1, orders.Len())
}

func TestPipelineDuplicateSubmissionProcessedOnce(t *testing.T) {
	engine := model.NewMockModel().EnqueueText("hello").EnqueueText("hello again")
	sender := messaging.NewMock()

	p := NewPipeline(engine, func(o *PipelineOptions) {
		o.Sender = sender
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))
	defer p.Stop()

	require.NoError(t, p.Submit(ctx, "+15550001111", "msg-1", "hi"))
	require.NoError(t, p.Submit(ctx, "+15550001111", "msg-1", "hi"))

	waitFor(t, func() bool { return len(sender.Sent()) >= 1 })
	time.Sleep(100 * time.Millisecond)

	assert.Len(t, sender.Sent(), 1)
}
