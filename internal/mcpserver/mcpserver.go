// Package mcpserver exposes the router's ten data-type operations as
// MCP tools over the JSON-RPC 2.0 stdio transport. Argument validation
// happens here, before router.Execute is ever called; any uncaught
// error, from either stage, is sanitized and returned to the SDK as a
// genuine handler error so it surfaces as a top-level JSON-RPC
// error:{code:-32603} response rather than a successful tool result.
package mcpserver

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"finmux/internal/provider"
)

// Executor is the subset of Router this package depends on, kept
// narrow so tests can supply a fake.
type Executor interface {
	Execute(ctx context.Context, dt provider.DataType, args provider.Args) (string, error)
}

// New builds an MCP server exposing the tool surface documented in the
// external-interfaces section of the router's specification.
func New(name, version string, exec Executor, log zerolog.Logger) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil)

	registerTool(server, exec, log, "get_historical_stock_prices", provider.HistoricalPrices, historicalPricesToArgs)
	registerTool(server, exec, log, "get_stock_info", provider.StockInfo, stockInfoToArgs)
	registerTool(server, exec, log, "get_yahoo_finance_news", provider.News, newsToArgs)
	registerTool(server, exec, log, "get_market_news", provider.MarketNews, marketNewsToArgs)
	registerTool(server, exec, log, "get_stock_actions", provider.StockActions, stockActionsToArgs)
	registerTool(server, exec, log, "get_financial_statement", provider.FinancialStatement, financialStatementToArgs)
	registerTool(server, exec, log, "get_holder_info", provider.HolderInfo, holderInfoToArgs)
	registerTool(server, exec, log, "get_option_expiration_dates", provider.OptionExpirationDates, optionExpirationDatesToArgs)
	registerTool(server, exec, log, "get_option_chain", provider.OptionChain, optionChainToArgs)
	registerTool(server, exec, log, "get_recommendations", provider.Recommendations, recommendationsToArgs)

	return server
}

// registerTool wires one MCP tool: decode arguments via toArgs, invoke
// Execute, and return any failure as a sanitized handler error so the
// SDK maps it to the JSON-RPC -32603 error object.
func registerTool[T any](server *mcp.Server, exec Executor, log zerolog.Logger, name string, dt provider.DataType, toArgs func(T) (provider.Args, error)) {
	mcp.AddTool(server, &mcp.Tool{Name: name}, func(ctx context.Context, req *mcp.CallToolRequest, input T) (*mcp.CallToolResult, any, error) {
		result, err := handleTool(ctx, exec, log, name, dt, toArgs, input)
		return result, nil, err
	})
}

// handleTool holds registerTool's decision logic apart from the mcp
// package's call signature, so it can be exercised directly in tests
// without going through the SDK's transport plumbing.
func handleTool[T any](ctx context.Context, exec Executor, log zerolog.Logger, name string, dt provider.DataType, toArgs func(T) (provider.Args, error), input T) (*mcp.CallToolResult, error) {
	args, err := toArgs(input)
	if err != nil {
		log.Warn().Str("tool", name).Err(err).Msg("rejected invalid arguments")
		return nil, toolError(err)
	}

	result, err := exec.Execute(ctx, dt, args)
	if err != nil {
		log.Error().Str("tool", name).Str("ticker", args.Ticker).Err(err).Msg("router execution failed")
		return nil, toolError(err)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: result}}}, nil
}

// toolError sanitizes err's message before it leaves the process, since
// router/adapter error strings may echo upstream response bodies
// verbatim, and wraps it so the SDK reports it as a tool-call handler
// failure rather than a successful result.
func toolError(err error) error {
	return errors.New(sanitizeMessage(err.Error()))
}
