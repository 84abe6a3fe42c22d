package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/termmap/internal/retrieval"
	"github.com/kalambet/termmap/internal/review"
	"github.com/kalambet/termmap/internal/storage"
)

const maxSearchResults = 50

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store   *storage.Store
	Reviews *review.Service
}

// NewMCPServer creates an MCP server exposing column lookup and glossary
// search over the stored run.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"termmap",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("termmap: business-glossary suggestions for dataset columns."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("lookup_column",
			mcp.WithDescription("Return the profile card, top glossary matches, LLM suggestion and approved term for a column."),
			mcp.WithString("table", mcp.Description("Table name (dataset file name without extension)"), mcp.Required()),
			mcp.WithString("column", mcp.Description("Column name"), mcp.Required()),
		),
		mcpLookupColumn(deps),
	)

	s.AddTool(
		mcp.NewTool("search_glossary",
			mcp.WithDescription("Rank glossary terms against free text using the stored character n-gram feature space."),
			mcp.WithString("query", mcp.Description("Text to match, e.g. a column name with sample values"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 3)")),
		),
		mcpSearchGlossary(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"termmap://glossary",
			"Glossary",
			mcp.WithResourceDescription("Normalized glossary terms as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceGlossary(deps),
	)

	return s
}

func mcpLookupColumn(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := req.RequireString("table")
		if err != nil {
			return mcpError("table is required"), nil
		}
		column, err := req.RequireString("column")
		if err != nil {
			return mcpError("column is required"), nil
		}

		v, err := deps.Reviews.Column(table, column)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("no profile card for %s.%s", table, column)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("lookup failed: %v", err)), nil
		}

		b, err := json.Marshal(v)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal column: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

// SearchResult is one glossary hit returned by search_glossary.
type SearchResult struct {
	Term       string  `json:"term"`
	Definition string  `json:"definition"`
	Score      float64 `json:"score"`
}

func mcpSearchGlossary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", retrieval.DefaultTopK)
		if limit <= 0 {
			limit = retrieval.DefaultTopK
		}
		if limit > maxSearchResults {
			limit = maxSearchResults
		}

		results, err := SearchGlossary(deps.Store, query, limit)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError("no feature space stored; run embed first"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

// SearchGlossary projects query into the stored feature space and returns the
// limit closest glossary terms. Query n-grams outside the stored vocabulary
// are ignored.
func SearchGlossary(store *storage.Store, query string, limit int) ([]SearchResult, error) {
	fs, err := store.LoadFeatureSpace()
	if err != nil {
		return nil, err
	}
	tv, err := store.TermEmbeddings()
	if err != nil {
		return nil, err
	}
	terms, err := store.ListTerms()
	if err != nil {
		return nil, err
	}
	defs := make(map[string]string, len(terms))
	for _, t := range terms {
		defs[t.Term] = t.Definition
	}

	vecs := make([][]float64, len(tv))
	for i, v := range tv {
		vecs[i] = v.Vector
	}
	q := fs.Transform([]string{query})[0]

	hits := retrieval.TopK(retrieval.Cosine([][]float64{q}, vecs)[0], limit)
	out := make([]SearchResult, len(hits))
	for i, h := range hits {
		name := tv[h.Index].Term
		out[i] = SearchResult{Term: name, Definition: defs[name], Score: h.Score}
	}
	return out, nil
}

func mcpResourceGlossary(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		terms, err := deps.Store.ListTerms()
		if err != nil {
			return nil, fmt.Errorf("failed to list glossary: %w", err)
		}

		b, err := json.Marshal(terms)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal glossary: %w", err)
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
