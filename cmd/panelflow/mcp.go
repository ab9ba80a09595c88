package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	pfmcp "github.com/panelflow/panelflow/pkg/mcp"
	"github.com/panelflow/panelflow/pkg/schema"
)

var mcpDocsDir string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server on stdio",
	Long:  "Expose document validation, section discovery, and schema export as MCP tools for editor and agent integrations.",
	RunE: func(cmd *cobra.Command, args []string) error {
		var lib *schema.Library
		if mcpDocsDir != "" {
			lib = schema.NewLibrary(mcpDocsDir)
			for _, err := range lib.LoadAll() {
				fmt.Fprintf(os.Stderr, "skipping document: %v\n", err)
			}
		}
		s := pfmcp.NewServer(version, lib)
		return server.ServeStdio(s)
	},
}

func init() {
	mcpCmd.Flags().StringVar(&mcpDocsDir, "docs", "", "document directory to preload")
	rootCmd.AddCommand(mcpCmd)
}
