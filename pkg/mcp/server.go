// Package mcp exposes panelflow's document tooling to MCP clients: file
// validation, section discovery, and schema export.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/panelflow/panelflow/pkg/schema"
)

// NewServer creates an MCP server with panelflow tools registered. With a
// non-nil library the panelflow/documents tool lists its loaded documents.
func NewServer(version string, library *schema.Library) *server.MCPServer {
	s := server.NewMCPServer(
		"panelflow",
		version,
		server.WithToolCapabilities(true),
	)

	h := &handlers{library: library}

	s.AddTool(
		mcp.NewTool("panelflow/validate",
			mcp.WithDescription("Validate a panelflow document YAML file"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the document YAML file")),
		),
		h.HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("panelflow/sections",
			mcp.WithDescription("List the sections of a panelflow document"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the document YAML file")),
		),
		h.HandleSections,
	)

	s.AddTool(
		mcp.NewTool("panelflow/schema",
			mcp.WithDescription("Export the panelflow document JSON Schema"),
		),
		h.HandleSchema,
	)

	if library != nil {
		s.AddTool(
			mcp.NewTool("panelflow/documents",
				mcp.WithDescription("List the documents loaded by the server"),
			),
			h.HandleDocuments,
		)
	}

	return s
}
