package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/cartbot/internal/catalog"
	"github.com/kalambet/cartbot/internal/filter"
	"github.com/kalambet/cartbot/internal/knowledge"
	"github.com/kalambet/cartbot/internal/pipeline"
	"github.com/kalambet/cartbot/internal/session"
)

const (
	defaultToolLimit = 10
	maxToolLimit     = 50
)

// ShopResolver maps free text to one of the given shops.
type ShopResolver interface {
	Resolve(message string, shops []catalog.Shop) (catalog.Shop, bool)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Catalog  CatalogReader
	Resolver ShopResolver
	Chat     ChatService
	Sessions SessionReader
}

// NewMCPServer creates an MCP server with the shopping tools and the
// policy resource registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"cartbot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("cartbot: StreamCart shopping assistant. Search products, shops and flash sales, or chat."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_products",
			mcp.WithDescription("Search the catalog. Price ranges (\"dưới 100k\") and stock words (\"còn hàng\") in the query filter the result."),
			mcp.WithString("query", mcp.Description("Free-text query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of products (default 10)")),
		),
		mcpSearchProducts(deps),
	)

	s.AddTool(
		mcp.NewTool("list_shops",
			mcp.WithDescription("List approved, active shops."),
		),
		mcpListShops(deps),
	)

	s.AddTool(
		mcp.NewTool("find_shop",
			mcp.WithDescription("Resolve a shop mentioned in free text, tolerating typos and missing diacritics."),
			mcp.WithString("text", mcp.Description("Text mentioning a shop"), mcp.Required()),
		),
		mcpFindShop(deps),
	)

	s.AddTool(
		mcp.NewTool("flash_sales",
			mcp.WithDescription("List the products in the currently running flash sale."),
		),
		mcpFlashSales(deps),
	)

	s.AddTool(
		mcp.NewTool("chat",
			mcp.WithDescription("Ask the shopping assistant a question."),
			mcp.WithString("message", mcp.Description("User message"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("Optional user id; keeps the conversation in the user's session")),
		),
		mcpChat(deps),
	)

	s.AddTool(
		mcp.NewTool("get_history",
			mcp.WithDescription("Return one page of a user's chat history."),
			mcp.WithString("user_id", mcp.Description("User id"), mcp.Required()),
			mcp.WithNumber("page", mcp.Description("Page number (default 1)")),
			mcp.WithNumber("page_size", mcp.Description("Messages per page (default 20, max 100)")),
		),
		mcpGetHistory(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"policy://all",
			"StreamCart policies",
			mcp.WithResourceDescription("Payment, shipping, returns and other platform policies"),
			mcp.WithMIMEType("text/plain"),
		),
		mcpResourcePolicy,
	)

	return s
}

func mcpSearchProducts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		limit := req.GetInt("limit", defaultToolLimit)
		if limit <= 0 {
			limit = defaultToolLimit
		}
		if limit > maxToolLimit {
			limit = maxToolLimit
		}

		products := filter.Apply(deps.Catalog.FetchProducts(ctx), filter.ParsePrice(query), filter.ParseStatus(query))
		products = narrowByName(products, query)
		if len(products) > limit {
			products = products[:limit]
		}
		return mcpJSON(products)
	}
}

// narrowByName keeps products whose name occurs in query or contains it.
// If none match, products is returned unchanged.
func narrowByName(products []catalog.Product, query string) []catalog.Product {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []catalog.Product
	for _, p := range products {
		name := strings.ToLower(p.Name)
		if name == "" {
			continue
		}
		if strings.Contains(q, name) || strings.Contains(name, q) {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return products
	}
	return out
}

func mcpListShops(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(deps.Catalog.FetchShops(ctx))
	}
}

func mcpFindShop(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		shop, ok := deps.Resolver.Resolve(text, deps.Catalog.FetchShops(ctx))
		if !ok {
			return mcpText("no matching shop"), nil
		}
		return mcpJSON(shop)
	}
}

func mcpFlashSales(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(deps.Catalog.FetchCurrentFlashSales(ctx))
	}
}

func mcpChat(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil || strings.TrimSpace(message) == "" {
			return mcpError("message is required"), nil
		}
		resp := deps.Chat.Chat(ctx, pipeline.Request{
			Message: message,
			UserID:  req.GetString("user_id", ""),
		})
		if resp.Status == pipeline.StatusError {
			return mcpError(pipeline.ErrorMessage), nil
		}
		return mcpJSON(ChatResponse{
			Response:  resp.Response,
			Status:    resp.Status,
			UserID:    resp.UserID,
			SessionID: resp.SessionID,
		})
	}
}

func mcpGetHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		page := req.GetInt("page", 1)
		pageSize := req.GetInt("page_size", session.DefaultPageSize)
		return mcpJSON(deps.Sessions.History(session.MainSessionID(userID), page, pageSize))
	}
}

func mcpResourcePolicy(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "text/plain",
			Text:     knowledge.FullText(),
		},
	}, nil
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	if string(b) == "null" {
		b = []byte("[]")
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
