// Package mcp implements a Model Context Protocol server exposing seed
// search control as MCP tools over stdio transport.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/seedfang/internal/invalidate"
	"github.com/Sumatoshi-tech/seedfang/internal/observability"
	"github.com/Sumatoshi-tech/seedfang/internal/session"
)

const (
	// serverName is the MCP server implementation name.
	serverName = "seedfang"
	// serverVersion is the MCP server implementation version.
	serverVersion = "1.0.0"

	// toolCount is the expected number of registered tools.
	toolCount = 5
)

// ServerDeps holds injectable dependencies for the MCP server.
// Zero-value fields use production defaults.
type ServerDeps struct {
	// Registry owns the search sessions the tools control.
	Registry *session.Registry

	// Coordinator runs criteria saves and fingerprint checks.
	Coordinator *invalidate.Coordinator

	// CriteriaDir is where named criteria documents live.
	CriteriaDir string

	// Logger is an optional structured logger. Nil uses slog default.
	Logger *slog.Logger

	// Metrics is an optional tool metrics recorder. Nil disables per-tool metrics.
	Metrics *observability.ToolMetrics

	// Tracer is an optional OTel tracer for per-tool-call spans. Nil disables tracing.
	Tracer trace.Tracer
}

// Server wraps the MCP SDK server with seedfang tool registrations.
type Server struct {
	inner       *mcpsdk.Server
	registry    *session.Registry
	coordinator *invalidate.Coordinator
	criteriaDir string
	metrics     *observability.ToolMetrics
	tracer      trace.Tracer

	mu    sync.RWMutex
	tools []string
}

// NewServer creates a new MCP server with all seedfang tools registered.
func NewServer(deps ServerDeps) *Server {
	opts := &mcpsdk.ServerOptions{}
	if deps.Logger != nil {
		opts.Logger = deps.Logger
	}

	inner := mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    serverName,
			Version: serverVersion,
		},
		opts,
	)

	srv := &Server{
		inner:       inner,
		registry:    deps.Registry,
		coordinator: deps.Coordinator,
		criteriaDir: deps.CriteriaDir,
		metrics:     deps.Metrics,
		tracer:      deps.Tracer,
		tools:       make([]string, 0, toolCount),
	}

	srv.registerTools()

	return srv
}

// ListToolNames returns the sorted names of all registered tools.
func (s *Server) ListToolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.tools))
	copy(names, s.tools)
	sort.Strings(names)

	return names
}

// Run starts the MCP server on stdio transport. It blocks until the context
// is canceled or the connection closes.
func (s *Server) Run(ctx context.Context) error {
	err := s.inner.Run(ctx, &mcpsdk.StdioTransport{})
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}

// RunWithTransport starts the MCP server on the given transport. It blocks
// until the context is canceled or the connection closes.
func (s *Server) RunWithTransport(ctx context.Context, transport mcpsdk.Transport) error {
	err := s.inner.Run(ctx, transport)
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}

// registerTools adds all seedfang MCP tools to the server.
func (s *Server) registerTools() {
	register(s, ToolNameSearchStart, searchStartDescription, s.handleSearchStart)
	register(s, ToolNameSearchStatus, searchStatusDescription, s.handleSearchStatus)
	register(s, ToolNameSearchStop, searchStopDescription, s.handleSearchStop)
	register(s, ToolNameCriteriaSave, criteriaSaveDescription, s.handleCriteriaSave)
	register(s, ToolNameCriteriaFingerprint, criteriaFingerprintDescription, s.handleCriteriaFingerprint)
}

func register[Input any](
	s *Server,
	name, description string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) {
	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        name,
		Description: description,
	}, withMetrics(s.metrics, name, withTracing(s.tracer, name, handler)))

	s.trackTool(name)
}

// mcpSpanPrefix is the prefix for MCP tool span names.
const mcpSpanPrefix = "mcp."

// traceIDMetaKey is the metadata key for trace_id in MCP tool responses.
const traceIDMetaKey = "trace_id"

// withTracing wraps an MCP tool handler to create an OTel span per invocation
// and include trace_id in the response content when sampled.
func withTracing[Input any](
	tracer trace.Tracer,
	toolName string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if tracer == nil {
		return handler
	}

	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		ctx, span := tracer.Start(ctx, mcpSpanPrefix+toolName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("mcp.tool", toolName)),
		)
		defer span.End()

		result, output, err := handler(ctx, req, input)

		// Include trace_id in response when span is sampled.
		sc := span.SpanContext()
		if sc.IsSampled() && result != nil {
			traceContent := &mcpsdk.TextContent{Text: fmt.Sprintf("%s=%s", traceIDMetaKey, sc.TraceID().String())}
			result.Content = append(result.Content, traceContent)
		}

		return result, output, err
	}
}

// withMetrics wraps an MCP tool handler to record request metrics per invocation.
func withMetrics[Input any](
	metrics *observability.ToolMetrics,
	toolName string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if metrics == nil {
		return handler
	}

	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		start := time.Now()

		decInflight := metrics.TrackInflight(ctx, mcpSpanPrefix+toolName)
		defer decInflight()

		result, output, err := handler(ctx, req, input)

		status := "ok"
		if err != nil || (result != nil && result.IsError) {
			status = "error"
		}

		metrics.RecordRequest(ctx, mcpSpanPrefix+toolName, status, time.Since(start))

		return result, output, err
	}
}

func (s *Server) trackTool(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tools = append(s.tools, name)
}

// Tool description constants.
const (
	searchStartDescription = "Start (or resume from checkpoint) a seed search for a named criteria " +
		"document against a deck and stake. Returns the session identity and initial state."

	searchStatusDescription = "Report progress for a search session: state, seeds searched, " +
		"results found, percent complete, throughput, and any matches found since the last call."

	searchStopDescription = "Stop search sessions. With deck and stake set, stops that one session; " +
		"otherwise stops every session for the criteria. Checkpoints and results are kept."

	criteriaSaveDescription = "Save a criteria document. When its semantics changed, affected " +
		"sessions are stopped, accumulated seeds are exported, and stale results are invalidated."

	criteriaFingerprintDescription = "Compute a criteria document's semantic fingerprint and report " +
		"whether it matches the accepted baseline (i.e. whether saving it would invalidate results)."
)
