package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/notebookd/internal/retrieval"
	"github.com/kalambet/notebookd/internal/storage"
)

// MCPRetriever abstracts semantic search for the MCP layer.
type MCPRetriever interface {
	Retrieve(ctx context.Context, notebookID, query string, allowedSources []string, topK int) ([]retrieval.ContextChunk, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Retriever MCPRetriever
}

// NewMCPServer creates an MCP server exposing notebook search and
// source listing to agent clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"notebookd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("notebookd: local notebooks of ingested documents and media, searchable by meaning."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_notebook",
			mcp.WithDescription("Semantically search a notebook's ingested sources and return the most relevant passages with provenance."),
			mcp.WithString("notebook_id", mcp.Description("Notebook to search"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithArray("sources", mcp.Description("Restrict to these source names (default: all ready sources)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of passages (default 5)")),
		),
		mcpSearchNotebook(deps),
	)

	s.AddTool(
		mcp.NewTool("list_sources",
			mcp.WithDescription("List a notebook's sources with their ingestion status."),
			mcp.WithString("notebook_id", mcp.Description("Notebook to inspect"), mcp.Required()),
		),
		mcpListSources(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"notebooks://list",
			"Notebooks",
			mcp.WithResourceDescription("All notebooks as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceNotebooks(deps),
	)

	return s
}

func mcpSearchNotebook(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		notebookID, err := req.RequireString("notebook_id")
		if err != nil {
			return mcpError("notebook_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > retrieval.MaxTopK {
			limit = retrieval.MaxTopK
		}

		allowed := req.GetStringSlice("sources", nil)
		if len(allowed) == 0 {
			sources, err := deps.Store.ListSources(notebookID)
			if err != nil {
				return mcpError(fmt.Sprintf("listing sources: %v", err)), nil
			}
			for _, src := range sources {
				if src.Status == storage.StatusReady {
					allowed = append(allowed, src.Name)
				}
			}
		}
		if len(allowed) == 0 {
			return mcpText("[]"), nil
		}

		chunks, err := deps.Retriever.Retrieve(ctx, notebookID, query, allowed, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(chunks) == 0 {
			return mcpText("[]"), nil
		}

		type hit struct {
			Source  string          `json:"source"`
			Seq     int             `json:"seq"`
			Text    string          `json:"text"`
			Locator json.RawMessage `json:"locator,omitempty"`
			Score   float32         `json:"score"`
		}
		hits := make([]hit, len(chunks))
		for i, c := range chunks {
			h := hit{
				Source: c.SourceName,
				Seq:    c.Seq,
				Text:   c.Text,
				Score:  c.Score,
			}
			if json.Valid([]byte(c.Locator)) {
				h.Locator = json.RawMessage(c.Locator)
			}
			hits[i] = h
		}

		b, err := json.Marshal(hits)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListSources(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		notebookID, err := req.RequireString("notebook_id")
		if err != nil {
			return mcpError("notebook_id is required"), nil
		}

		sources, err := deps.Store.ListSources(notebookID)
		if err != nil {
			return mcpError(fmt.Sprintf("listing sources: %v", err)), nil
		}

		type entry struct {
			Name     string `json:"name"`
			Kind     string `json:"kind"`
			Status   string `json:"status"`
			Error    string `json:"error,omitempty"`
			ByteSize int64  `json:"byte_size"`
		}
		entries := make([]entry, len(sources))
		for i, src := range sources {
			entries[i] = entry{
				Name:     src.Name,
				Kind:     src.Kind,
				Status:   src.Status,
				Error:    src.Error,
				ByteSize: src.ByteSize,
			}
		}

		b, err := json.Marshal(entries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal sources: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceNotebooks(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		notebooks, err := deps.Store.ListNotebooks()
		if err != nil {
			return nil, fmt.Errorf("failed to list notebooks: %w", err)
		}

		type entry struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			CreatedAt string `json:"created_at"`
		}
		entries := make([]entry, len(notebooks))
		for i, nb := range notebooks {
			entries[i] = entry{
				ID:        nb.ID,
				Title:     nb.Title,
				CreatedAt: nb.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(entries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal notebooks: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
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
