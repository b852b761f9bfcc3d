package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/prodqa/internal/apperr"
	"github.com/kalambet/prodqa/internal/chat"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Resources   Resources
	DefaultTopK int
	Version     string
}

// NewMCPServer creates an MCP server exposing product search and question
// answering as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.DefaultTopK <= 0 {
		deps.DefaultTopK = chat.DefaultTopK
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	s := server.NewMCPServer(
		"prodqa",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithInstructions("prodqa answers questions about the product catalogue and searches product descriptions."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_products",
			mcp.WithDescription("Search the product catalogue and return the most relevant product text snippets with their metadata."),
			mcp.WithString("query", mcp.Description("What to look for"), mcp.Required()),
			mcp.WithNumber("top_k", mcp.Description("Maximum number of results (default 4)")),
			mcp.WithBoolean("use_reranker", mcp.Description("Refine the ranking with the cross-encoder (default true)")),
		),
		mcpSearchProducts(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_products",
			mcp.WithDescription("Answer a question about the products, grounded in the catalogue. Pass the same session_id to continue a conversation."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Conversation to continue; a new one is started when omitted")),
			mcp.WithNumber("top_k", mcp.Description("Documents to retrieve (default 4)")),
		),
		mcpAskProducts(deps),
	)

	return s
}

func mcpSearchProducts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		k := req.GetInt("top_k", deps.DefaultTopK)
		rerank := req.GetBool("use_reranker", true)

		s, err := deps.Resources.Searcher(ctx)
		if err != nil {
			return mcpAppError(err), nil
		}
		results, err := s.Retrieve(ctx, query, k, rerank)
		if err != nil {
			return mcpAppError(err), nil
		}

		hits := make([]SearchHit, len(results))
		for i, r := range results {
			hits[i] = SearchHit{Metadata: r.Document.Metadata, Snippet: r.Document.Snippet(), Score: r.Score}
		}
		data, err := json.Marshal(hits)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(data)), nil
	}
}

type askResult struct {
	SessionID string           `json:"session_id"`
	Answer    string           `json:"answer"`
	Sources   []chat.Retrieved `json:"sources"`
}

func mcpAskProducts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		sessionID := req.GetString("session_id", "")
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		conv, err := deps.Resources.Conversation(ctx)
		if err != nil {
			return mcpAppError(err), nil
		}
		reply, err := conv.RunStateful(ctx, sessionID, question, chat.Options{TopK: req.GetInt("top_k", 0)})
		if err != nil {
			return mcpAppError(err), nil
		}

		data, err := json.Marshal(askResult{SessionID: sessionID, Answer: reply.Answer, Sources: reply.Retrieved})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(data)), nil
	}
}

func mcpAppError(err error) *mcp.CallToolResult {
	return mcpError(fmt.Sprintf("%s: %v", apperr.Type(err), err))
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
