/*
Package mcp implements the MCP server that exposes Dial-In Mode to AI
clients over stdio.

The server exposes 6 tools:
  - dialin_next: Start or continue a session, optionally reporting the last shot
  - dialin_report: Record the score of a pending trial
  - dialin_history: List a session's trials
  - dialin_best: Get the best parameters found so far
  - dialin_status: Summarize a session
  - shot_predict: Score a shot with the quality predictor

Stdout carries the protocol, so nothing else may write to it.
*/
package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/khanglvm/espresso-dialin/internal/dialin"
)

const serverName = "espresso-dialin"

// Server is the espresso-dialin MCP server.
type Server struct {
	mcp *server.MCPServer
}

// NewServer creates a server with every tool registered against svc.
func NewServer(svc *dialin.Service, version string) *Server {
	s := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	for _, t := range Tools(svc) {
		s.AddTool(t.Definition(), t.Handle)
	}
	return &Server{mcp: s}
}

// Run serves on stdin/stdout. It blocks until stdin is closed.
func (s *Server) Run() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

const instructions = `espresso-dialin finds the grind, dose, and target time that pull the best shot of a bean.

Workflow:
1. Call dialin_next with beanId and method to get trial 1.
2. Brew it, then call dialin_next again with lastShot (include trialNumber and a 0-10 score) to record it and get the next trial.
3. Stop when the response says converged, or call dialin_best at any time.

Use dialin_report to score a pending trial without asking for the next one.`
