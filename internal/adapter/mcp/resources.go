package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const threadsURI = "overhearops://threads"

func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			threadsURI,
			"Thread List",
			mcplib.WithResourceDescription("Monitored threads with message counts"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleThreadsResource,
	)
}

func (s *Server) handleThreadsResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	text := `{"error":"thread source not configured"}`
	if s.deps.Threads != nil {
		threads, err := s.threadEntries(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(threads)
		if err != nil {
			return nil, err
		}
		text = string(data)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     text,
		},
	}, nil
}
