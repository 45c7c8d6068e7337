package commerce

import (
	"github.com/hupe1980/commercemesh/core"
	"github.com/hupe1980/commercemesh/tool"
)

// Tools exposes the facade operations as function tools for the reasoning
// engine. The dialog is taken from the tool context, never from arguments,
// so the engine cannot address another sender's cart.
func (f *Facade) Tools() []tool.Tool {
	return []tool.Tool{
		tool.NewFunctionTool(
			"search_products",
			"Search the product catalog",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Search query",
					},
					"category": map[string]any{
						"type":        "string",
						"description": "Optional category to filter by",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of results",
					},
				},
				"required": []string{"query"},
			},
			func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
				return f.SearchProducts(toolCtx.Context(), stringArg(args, "query"), stringArg(args, "category"), intArg(args, "limit"))
			},
		),
		tool.NewFunctionTool(
			"get_product_details",
			"Get detailed information about a product",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"product_id": map[string]any{
						"type":        "string",
						"description": "Product ID",
					},
				},
				"required": []string{"product_id"},
			},
			func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
				return f.GetProductDetails(toolCtx.Context(), stringArg(args, "product_id"))
			},
		),
		tool.NewFunctionTool(
			"add_to_cart",
			"Add a product to the cart",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"product_id": map[string]any{
						"type":        "string",
						"description": "Product ID",
					},
					"quantity": map[string]any{
						"type":        "integer",
						"description": "Quantity to add",
					},
				},
				"required": []string{"product_id"},
			},
			func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
				return f.AddToCart(toolCtx.Context(), toolCtx.Dialog(), stringArg(args, "product_id"), intArg(args, "quantity"))
			},
		),
		tool.NewFunctionTool(
			"view_cart",
			"View the current cart contents",
			map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			func(toolCtx *core.ToolContext, _ map[string]any) (any, error) {
				return f.ViewCart(toolCtx.Context(), toolCtx.Dialog()), nil
			},
		),
		tool.NewFunctionTool(
			"remove_from_cart",
			"Remove a product from the cart",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"product_id": map[string]any{
						"type":        "string",
						"description": "Product ID",
					},
					"quantity": map[string]any{
						"type":        "integer",
						"description": "Quantity to remove (leave empty to remove all)",
					},
				},
				"required": []string{"product_id"},
			},
			func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
				return f.RemoveFromCart(toolCtx.Context(), toolCtx.Dialog(), stringArg(args, "product_id"), intArg(args, "quantity"))
			},
		),
		tool.NewFunctionTool(
			"create_order",
			"Create an order from the current cart",
			map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			func(toolCtx *core.ToolContext, _ map[string]any) (any, error) {
				return f.CreateOrder(toolCtx.Context(), toolCtx.Dialog(), toolCtx.EventID())
			},
		),
		tool.NewFunctionTool(
			"get_payment_link",
			"Generate a payment link for an order",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"order_id": map[string]any{
						"type":        "string",
						"description": "Order ID",
					},
				},
				"required": []string{"order_id"},
			},
			func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
				return f.GetPaymentLink(toolCtx.Context(), stringArg(args, "order_id"))
			},
		),
		tool.NewFunctionTool(
			"check_order_status",
			"Check the status of an order",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"order_id": map[string]any{
						"type":        "string",
						"description": "Order ID",
					},
				},
				"required": []string{"order_id"},
			},
			func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
				return f.CheckOrderStatus(toolCtx.Context(), stringArg(args, "order_id"))
			},
		),
	}
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// intArg accepts both integers and JSON-decoded float64 values.
func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
