// Package inbound implements the InboundTransport the coordination core
// consumes at the master: a session-oriented HTTP surface exposing
// POST/GET/DELETE /mcp and a GET /health diagnostic endpoint (§6). The
// session framing itself — tool discovery, JSON-RPC message shape — is
// handled by mcp-go; this package only wires coordination tool calls
// into it.
package inbound

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/athulya-anil/editorfed/pkg/coordination"
)

// ToolDispatcher is the narrow surface the inbound transport needs from
// MasterCore: route a single named tool call through the coordination
// plane and return its result.
type ToolDispatcher interface {
	HandleToolCall(ctx context.Context, tool string, params map[string]any) (coordination.ToolResult, error)
}

// Summary is the coordination state reported at GET /health.
type Summary struct {
	Status      string
	InstanceID  string
	Role        string
	WorkerCount int
	Uptime      time.Duration
}

// SummaryProvider supplies the current coordination summary.
type SummaryProvider func() Summary

// Transport is the concrete InboundTransport implementation: an
// mcp-go-backed MCP server exposed over loopback HTTP.
type Transport struct {
	dispatcher ToolDispatcher
	summary    SummaryProvider

	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer

	srv *http.Server
}

// New builds a Transport exposing one MCP tool per name in toolNames,
// each of which routes through dispatcher.HandleToolCall under that
// name. name/version identify the MCP server to connecting clients.
func New(name, version string, dispatcher ToolDispatcher, summary SummaryProvider, toolNames []string) *Transport {
	t := &Transport{dispatcher: dispatcher, summary: summary}

	t.mcpServer = server.NewMCPServer(name, version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	for _, toolName := range toolNames {
		t.mcpServer.AddTool(
			mcp.NewTool(toolName, mcp.WithDescription(fmt.Sprintf("editorfed coordination tool %q, routed to whichever instance owns the relevant workspace", toolName))),
			t.makeHandler(toolName),
		)
	}

	t.httpServer = server.NewStreamableHTTPServer(t.mcpServer)
	return t
}

// makeHandler closes over a fixed tool name so the generic MCP
// call-tool dispatch can be routed through the coordination plane
// without the plane needing to know anything about MCP's wire shape.
func (t *Transport) makeHandler(toolName string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := t.dispatcher.HandleToolCall(ctx, toolName, req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !result.Success {
			return mcp.NewToolResultError(result.Error), nil
		}

		payload, marshalErr := json.Marshal(result.Result)
		if marshalErr != nil {
			return mcp.NewToolResultError(marshalErr.Error()), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}

// Start binds the loopback HTTP listener hosting /mcp and /health.
func (t *Transport) Start(port int) error {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Any("/mcp", gin.WrapH(t.httpServer))
	engine.GET("/health", t.handleHealth)

	t.srv = &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: engine,
	}

	ln, err := net.Listen("tcp", t.srv.Addr)
	if err != nil {
		return fmt.Errorf("inbound: bind port %d: %w", port, err)
	}

	go func() {
		if err := t.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[INBOUND] server error: %v", err)
		}
	}()

	log.Printf("[INBOUND] mcp transport listening on %s", t.srv.Addr)
	return nil
}

// Stop shuts the HTTP server down within a 5s deadline.
func (t *Transport) Stop(ctx context.Context) error {
	if t.srv == nil {
		return nil
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.srv.Shutdown(stopCtx)
}

func (t *Transport) handleHealth(c *gin.Context) {
	s := t.summary()
	c.JSON(http.StatusOK, gin.H{
		"status":      s.Status,
		"instanceId":  s.InstanceID,
		"role":        s.Role,
		"workerCount": s.WorkerCount,
		"uptime":      s.Uptime.Milliseconds(),
	})
}
