// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the Ansuz conversation graph for LLM integration via
// stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ansuz/internal/chatservice"
	"github.com/starford/ansuz/internal/models"
)

// Server wraps the MCP server with Ansuz tools.
type Server struct {
	mcp *server.MCPServer
	svc *chatservice.Service
}

// New creates a new MCP server with all Ansuz tools registered.
func New(svc *chatservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Ansuz",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List all conversation sessions with their titles."),
	), s.listSessions)

	s.mcp.AddTool(mcp.NewTool("get_thread",
		mcp.WithDescription("Read the linear conversation thread of a session, from the root "+
			"to the current head. Pass head_id to read an alternate branch instead."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		mcp.WithString("head_id", mcp.Description("Optional leaf or node id to read a different branch")),
	), s.getThread)

	s.mcp.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Append a user message under the session's current head and return "+
			"the model response. Pass an empty session_id to start a new session. The new turn "+
			"becomes the current head; earlier branches are kept and can be revisited."),
		mcp.WithString("session_id", mcp.Description("Session id, empty to create a new session")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Message text")),
	), s.sendMessage)

	s.mcp.AddTool(mcp.NewTool("fork_from",
		mcp.WithDescription("Rewrite an existing turn as a new sibling branch, keeping the "+
			"original branch intact, and return the model response for the fork. Read the "+
			"graph contract first via get_graph_contract if branch semantics are unclear."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		mcp.WithString("message_id", mcp.Required(), mcp.Description("Id of either half of the turn to fork from")),
		mcp.WithString("text", mcp.Required(), mcp.Description("New user message text for the fork")),
	), s.forkFrom)

	s.mcp.AddTool(mcp.NewTool("connect_nodes",
		mcp.WithDescription("Create a memory link so the branch ending at source_id is injected "+
			"as context whenever the branch containing target_id is sent to the model. Links "+
			"along the same ancestry line are rejected as redundant or cyclic."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		mcp.WithString("source_id", mcp.Required(), mcp.Description("Node whose thread is injected")),
		mcp.WithString("target_id", mcp.Required(), mcp.Description("Node that receives the memory")),
	), s.connectNodes)

	s.mcp.AddTool(mcp.NewTool("get_graph_contract",
		mcp.WithDescription("Returns the conversation graph semantics contract. "+
			"Call this before forking or connecting nodes to understand branch behavior."),
	), s.getGraphContract)

	// Resource: graph semantics contract.
	s.mcp.AddResource(
		mcp.NewResource("ansuz://graph-semantics", "Conversation Graph Contract",
			mcp.WithResourceDescription("Branching, forking, and memory link semantics of the conversation graph."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGraphContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, _ := json.MarshalIndent(s.svc.ListSessions(), "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getThread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	headID := ""
	if h, err := req.RequireString("head_id"); err == nil {
		headID = h
	}

	msgs, err := s.svc.Thread(sessionID, headID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", sessionID)), nil
	}

	var b strings.Builder
	for _, m := range msgs {
		tag := "[User]"
		if m.Role == models.RoleModel {
			tag = "[AI]"
		}
		fmt.Fprintf(&b, "%s (%s):\n%s\n\n", tag, m.ID, m.Content)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) sendMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sessionID := ""
	if id, err := req.RequireString("session_id"); err == nil {
		sessionID = id
	}

	sess, ids, err := s.svc.SendMessage(ctx, sessionID, text, nil, nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.awaitResponse(sess.ID, ids.ModelID)
}

func (s *Server) forkFrom(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	messageID, err := req.RequireString("message_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	sess, ids, err := s.svc.EditMessage(ctx, sessionID, messageID, text, true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.awaitResponse(sess.ID, ids.ModelID)
}

func (s *Server) connectNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sourceID, err := req.RequireString("source_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	targetID, err := req.RequireString("target_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.svc.Connect(sessionID, sourceID, targetID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("connected: %s -> %s", sourceID, targetID)), nil
}

func (s *Server) getGraphContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(GraphContract), nil
}

func (s *Server) readGraphContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "ansuz://graph-semantics",
			MIMEType: "text/markdown",
			Text:     GraphContract,
		},
	}, nil
}

// awaitResponse blocks until the detached streaming task finishes, then
// returns the assembled model message text. Stdio MCP serves one caller, so
// waiting on all tasks is fine here.
func (s *Server) awaitResponse(sessionID, modelMsgID string) (*mcp.CallToolResult, error) {
	s.svc.Wait()

	sess, err := s.svc.Session(sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session gone: %s", sessionID)), nil
	}
	msg := sess.Message(modelMsgID)
	if msg == nil {
		return mcp.NewToolResultError("response message gone"), nil
	}

	out, _ := json.MarshalIndent(map[string]string{
		"sessionId": sessionID,
		"messageId": modelMsgID,
		"text":      msg.Content,
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
