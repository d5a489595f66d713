// Package mcpserver exposes the assistant as Model Context Protocol tools
// over stdio, so MCP clients can chat with it and reset its memory.
package mcpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/flemzord/parley/internal/assistant"
)

// Tool names.
const (
	ToolAsk         = "ask"
	ToolClearMemory = "clear_memory"
)

// DefaultUser is the session used when a call names no user.
const DefaultUser = "local"

// Replier is the part of the assistant the MCP tools need.
type Replier interface {
	Reply(ctx context.Context, req assistant.Request) (assistant.Response, error)
	ClearMemory(userID string)
	ClearReply() string
}

var _ Replier = (*assistant.Assistant)(nil)

// Server wraps an MCP server whose tools call into a Replier.
type Server struct {
	replier Replier
	mcp     *server.MCPServer
	logger  *slog.Logger
}

// Option configures optional Server behavior.
type Option func(*Server)

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a Server advertising name and version to clients.
func New(r Replier, name, version string, opts ...Option) *Server {
	s := &Server{replier: r}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	s.mcp = server.NewMCPServer(name, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.mcp.AddTool(mcp.NewTool(ToolAsk,
		mcp.WithDescription("Ask the assistant a question. The assistant remembers earlier questions from the same user."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The message to send")),
		mcp.WithString("user", mcp.Description("Conversation to continue; defaults to "+DefaultUser)),
		mcp.WithBoolean("image", mcp.Description("Generate an image from the query instead of answering it")),
	), s.handleAsk)
	s.mcp.AddTool(mcp.NewTool(ToolClearMemory,
		mcp.WithDescription("Forget the conversation history of a user."),
		mcp.WithString("user", mcp.Description("Conversation to forget; defaults to "+DefaultUser)),
	), s.handleClear)

	return s
}

// MCP returns the underlying server.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves JSON-RPC on in/out until ctx is cancelled or in is
// closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	s.logger.Info("mcp: serving on stdio")
	err := stdio.Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// UserID maps a tool-supplied user name to a store key.
func UserID(user string) string {
	if user == "" {
		user = DefaultUser
	}
	return "mcp:" + user
}

func (s *Server) handleAsk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	kind := assistant.KindText
	if req.GetBool("image", false) {
		kind = assistant.KindImageCreate
	}
	userID := UserID(req.GetString("user", ""))

	resp, err := s.replier.Reply(ctx, assistant.Request{Query: query, UserID: userID, Kind: kind})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		s.logger.Warn("mcp: ask failed", "user_id", userID, "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}

	if resp.Image != "" {
		return mcp.NewToolResultImage("generated image", resp.Image, "image/png"), nil
	}
	return mcp.NewToolResultText(resp.Text), nil
}

func (s *Server) handleClear(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := UserID(req.GetString("user", ""))
	s.replier.ClearMemory(userID)
	return mcp.NewToolResultText(s.replier.ClearReply()), nil
}
