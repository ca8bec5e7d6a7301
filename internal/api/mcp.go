package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/twin/internal/ingest"
	"github.com/kalambet/twin/internal/persona"
	"github.com/kalambet/twin/internal/pipeline"
	"github.com/kalambet/twin/internal/session"
)

// TurnProcessor runs one conversational turn. Implemented by pipeline.Processor.
type TurnProcessor interface {
	Process(ctx context.Context, req pipeline.Request) pipeline.Result
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Search    Searcher
	Turns     TurnProcessor
	Knowledge KnowledgeService
	Persona   PersonaManager
	Decisions DecisionLister
}

// NewMCPServer creates an MCP server with the twin's tools and resources registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"twin",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("twin: a digital twin that answers as its persona, backed by a curated knowledge base."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_knowledge",
			mcp.WithDescription("Semantically search the twin's knowledge base and return matching chunks."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_twin",
			mcp.WithDescription("Ask the twin a question and get the reply it would give a caller."),
			mcp.WithString("message", mcp.Description("What to ask"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Continue an existing conversation")),
		),
		mcpAskTwin(deps),
	)

	s.AddTool(
		mcp.NewTool("add_knowledge",
			mcp.WithDescription("Add a text or URL to the knowledge base. It becomes searchable once embedded."),
			mcp.WithString("content", mcp.Description("Text to store, or the URL when type is url"), mcp.Required()),
			mcp.WithString("type", mcp.Description("text (default) or url")),
			mcp.WithString("title", mcp.Description("Title for the entry")),
			mcp.WithString("language", mcp.Description("Language code; detected when omitted")),
			mcp.WithArray("tags", mcp.Description("Optional tags for categorization")),
		),
		mcpAddKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("set_persona",
			mcp.WithDescription("Update a persona field."),
			mcp.WithString("key", mcp.Description("Persona key (e.g. identity.role, style.tone)"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Value to set; JSON for list and map keys"), mcp.Required()),
		),
		mcpSetPersona(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"twin://persona",
			"Persona",
			mcp.WithResourceDescription("Current persona as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePersona(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"twin://decisions",
			"Recent Decisions",
			mcp.WithResourceDescription("Last 20 routing decisions"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceDecisions(deps),
	)

	return s
}

func mcpSearchKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		chunks, err := deps.Search.Search(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(chunks) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(chunks)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

type askResult struct {
	SessionID string `json:"sessionId"`
	Reply     string `json:"reply"`
	Language  string `json:"language"`
	Pattern   string `json:"ragPattern,omitempty"`
	Kind      string `json:"decision"`
}

func mcpAskTwin(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}
		sessionID := req.GetString("session_id", "")
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		res := deps.Turns.Process(ctx, pipeline.Request{
			SessionID: sessionID,
			Channel:   session.ChannelChat,
			Text:      message,
		})
		if res.Reply == "" {
			return mcpError(fmt.Sprintf("turn failed: %v", res.Failures)), nil
		}

		b, err := json.Marshal(askResult{
			SessionID: res.SessionID,
			Reply:     res.Reply,
			Language:  res.Language,
			Pattern:   string(res.Decision.Pattern),
			Kind:      string(res.Decision.Kind),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal reply: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		in := ingest.Input{
			Type:     req.GetString("type", "text"),
			Source:   "mcp",
			Title:    req.GetString("title", ""),
			Language: req.GetString("language", ""),
			Tags:     req.GetStringSlice("tags", nil),
		}
		if in.Type == "url" {
			in.URL = content
		} else {
			in.Content = content
		}

		doc, err := deps.Knowledge.Add(ctx, in)
		if errors.Is(err, ingest.ErrInvalidInput) {
			return mcpError(err.Error()), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to add knowledge: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored knowledge doc %s (language %q), queued for embedding", doc.ID, doc.Language)), nil
	}
}

func mcpSetPersona(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}
		if !persona.ValidKey(key) {
			return mcpError(fmt.Sprintf("unknown persona key %q", key)), nil
		}

		if err := deps.Persona.SetField(key, value); err != nil {
			return mcpError(fmt.Sprintf("failed to set persona: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Set %s = %s", key, value)), nil
	}
}

func mcpResourcePersona(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		p, err := deps.Persona.Get()
		if err != nil {
			return nil, fmt.Errorf("failed to get persona: %w", err)
		}
		return mcpJSON(req.Params.URI, p)
	}
}

func mcpResourceDecisions(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		recs, err := deps.Decisions.ListDecisions(ctx, "", 20)
		if err != nil {
			return nil, fmt.Errorf("failed to list decisions: %w", err)
		}
		return mcpJSON(req.Params.URI, decisionViews(recs))
	}
}

func mcpJSON(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
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
