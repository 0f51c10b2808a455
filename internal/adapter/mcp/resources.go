package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"reviewforge://actors",
			"Actor Roster",
			mcplib.WithResourceDescription("Registered actors with capabilities, status and stats"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleActorsResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			"reviewforge://task-types",
			"Task Types",
			mcplib.WithResourceDescription("Task types the dispatcher can route"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleTaskTypesResource,
	)
}

func (s *Server) handleActorsResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Actors == nil {
		return jsonContents(req.Params.URI, `{"error":"actor registry not configured"}`), nil
	}
	data, err := json.Marshal(s.deps.Actors.List())
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, string(data)), nil
}

func (s *Server) handleTaskTypesResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	types := s.deps.TaskTypes
	if types == nil {
		types = []string{}
	}
	data, err := json.Marshal(types)
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, string(data)), nil
}

func jsonContents(uri, text string) []mcplib.ResourceContents {
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     text,
		},
	}
}
