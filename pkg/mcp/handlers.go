package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/panelflow/panelflow/pkg/schema"
)

type handlers struct {
	library *schema.Library
}

// HandleValidate implements the panelflow/validate MCP tool.
func (h *handlers) HandleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	doc, errs := schema.ValidateFile(path)
	if schema.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	return textResult(fmt.Sprintf("✓ %s is valid (%d sections)", doc.Meta.Name, len(doc.Sections))), nil
}

// HandleSections implements the panelflow/sections MCP tool.
func (h *handlers) HandleSections(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	doc, errs := schema.ValidateFile(path)
	if schema.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}

	type sectionInfo struct {
		Name  string `json:"name"`
		Items int    `json:"items"`
		Gates int    `json:"gates"`
	}
	sections := make([]sectionInfo, 0, len(doc.Sections))
	for name, sec := range doc.Sections {
		info := sectionInfo{Name: name, Items: len(sec.Items)}
		for i := range sec.Items {
			if sec.Items[i].IsGate() {
				info.Gates++
			}
		}
		sections = append(sections, info)
	}
	sort.Slice(sections, func(i, j int) bool { return sections[i].Name < sections[j].Name })

	data, _ := json.MarshalIndent(map[string]any{
		"document": doc.Meta.Name,
		"folder":   doc.Meta.Folder,
		"sections": sections,
	}, "", "  ")
	return textResult(string(data)), nil
}

// HandleSchema implements the panelflow/schema MCP tool.
func (h *handlers) HandleSchema(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := schema.GenerateJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// HandleDocuments implements the panelflow/documents MCP tool. Registered
// only when the server was built with a library.
func (h *handlers) HandleDocuments(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keys := h.library.List()
	if len(keys) == 0 {
		return textResult("no documents loaded"), nil
	}
	return textResult(strings.Join(keys, "\n")), nil
}

func formatErrors(errs []*schema.ValidationError) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity == "error" {
			msgs = append(msgs, fmt.Sprintf("[%s] %s", e.Phase, e.Message))
		}
	}
	return strings.Join(msgs, "; ")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
