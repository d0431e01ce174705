// Package mcp implements the Model Context Protocol server for the trace
// analyzer.
//
// It exposes decoding and export of raw trace streams as MCP tools, plus
// the session catalog as tools and a resource, so MCP-compatible agents
// can inspect firmware captures without shelling out to the CLI.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashiato-rt/ashiato"
	"github.com/ashiato-rt/ashiato/internal/store"
	"github.com/ashiato-rt/ashiato/internal/transport"
)

// Server wraps the MCP server with the analyzer's decode and catalog
// capabilities. The store is optional; without it the catalog tools
// report that no database is configured while decode and export still
// work.
type Server struct {
	mcpServer *mcpserver.MCPServer
	store     *store.Store
	clockHz   uint64
	logger    *slog.Logger
}

// New creates and configures an MCP server with all resources and tools.
func New(st *store.Store, clockHz uint64, version string, logger *slog.Logger) *Server {
	s := &Server{
		store:   st,
		clockHz: clockHz,
		logger:  logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"ashiato",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// ashiato://sessions: the stored session catalog.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"ashiato://sessions",
			"Trace Sessions",
			mcplib.WithResourceDescription("Analyzed trace sessions, newest first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleSessionsResource,
	)
}

func (s *Server) registerTools() {
	// decode_trace: decode a raw stream and report its headline numbers.
	s.mcpServer.AddTool(
		mcplib.NewTool("decode_trace",
			mcplib.WithDescription("Decode a raw RTT trace capture and return event totals, per-task runtime, ISR load, memory usage, and decode diagnostics"),
			mcplib.WithString("path", mcplib.Description("Path to the capture file"), mcplib.Required()),
		),
		s.handleDecodeTrace,
	)

	// export_trace: decode and render in an export format.
	s.mcpServer.AddTool(
		mcplib.NewTool("export_trace",
			mcplib.WithDescription("Decode a raw RTT trace capture and return it in an export format: json, chrome, or chrome-memory"),
			mcplib.WithString("path", mcplib.Description("Path to the capture file"), mcplib.Required()),
			mcplib.WithString("format", mcplib.Description("Export format, default json")),
		),
		s.handleExportTrace,
	)

	// task_stats: per-task breakdown of a stored session.
	s.mcpServer.AddTool(
		mcplib.NewTool("task_stats",
			mcplib.WithDescription("Return the per-task runtime breakdown of a stored session, busiest first"),
			mcplib.WithString("session_id", mcplib.Description("Session UUID"), mcplib.Required()),
		),
		s.handleTaskStats,
	)

	// list_sessions: the stored session catalog.
	s.mcpServer.AddTool(
		mcplib.NewTool("list_sessions",
			mcplib.WithDescription("List stored trace sessions, newest first"),
			mcplib.WithNumber("limit", mcplib.Description("Maximum sessions to return")),
		),
		s.handleListSessions,
	)
}

func (s *Server) handleSessionsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.store == nil {
		return nil, fmt.Errorf("mcp: session store not configured")
	}

	sessions, err := s.store.ListSessions(ctx, 50)
	if err != nil {
		return nil, fmt.Errorf("mcp: list sessions: %w", err)
	}

	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal sessions: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "ashiato://sessions",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleDecodeTrace(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	path := request.GetString("path", "")
	if path == "" {
		return errorResult("path is required"), nil
	}

	session, err := s.loadSession(path)
	if err != nil {
		return errorResult(fmt.Sprintf("decode failed: %v", err)), nil
	}
	timeline := ashiato.Reconstruct(session)

	resultData, _ := json.MarshalIndent(map[string]any{
		"session_id":   session.ID,
		"total_events": len(session.Events),
		"clock_hz":     session.ClockHz,
		"span_cycles":  session.Span(),
		"span_seconds": timeline.Stats.SpanSeconds,
		"idle_percent": timeline.Stats.IdlePercent,
		"diagnostics":  session.Diagnostics,
		"tasks":        timeline.Stats.Tasks,
		"isr":          timeline.Stats.ISR,
		"memory":       timeline.Stats.Memory,
	}, "", "  ")

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func (s *Server) handleExportTrace(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	path := request.GetString("path", "")
	if path == "" {
		return errorResult("path is required"), nil
	}

	format, err := ashiato.ParseFormat(request.GetString("format", string(ashiato.FormatJSON)))
	if err != nil {
		return errorResult(err.Error()), nil
	}

	session, err := s.loadSession(path)
	if err != nil {
		return errorResult(fmt.Sprintf("decode failed: %v", err)), nil
	}

	data, err := ashiato.Export(format, session)
	if err != nil {
		return errorResult(fmt.Sprintf("export failed: %v", err)), nil
	}

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func (s *Server) handleTaskStats(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.store == nil {
		return errorResult("session store not configured, set ASHIATO_DB"), nil
	}

	id, err := uuid.Parse(request.GetString("session_id", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("invalid session_id: %v", err)), nil
	}

	tasks, err := s.store.TaskStats(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return errorResult(fmt.Sprintf("session not found: %s", id)), nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("task stats failed: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"session_id": id,
		"tasks":      tasks,
	}, "", "  ")

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func (s *Server) handleListSessions(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.store == nil {
		return errorResult("session store not configured, set ASHIATO_DB"), nil
	}

	limit := request.GetInt("limit", 20)

	sessions, err := s.store.ListSessions(ctx, limit)
	if err != nil {
		return errorResult(fmt.Sprintf("list sessions failed: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	}, "", "  ")

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

// loadSession reads and decodes a capture file. Dirty streams decode
// with diagnostics rather than failing, so the log line here is the one
// place a partially corrupt capture announces itself.
func (s *Server) loadSession(path string) (*ashiato.TraceSession, error) {
	src, err := transport.Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	session, err := ashiato.Decode(src, ashiato.WithClockHz(s.clockHz))
	if err != nil {
		return nil, err
	}
	if session.Diagnostics.SkippedBytes > 0 || session.Diagnostics.Resyncs > 0 {
		s.logger.Warn("mcp: stream decoded with diagnostics",
			"path", path,
			"skipped_bytes", session.Diagnostics.SkippedBytes,
			"resyncs", session.Diagnostics.Resyncs)
	}
	return session, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
