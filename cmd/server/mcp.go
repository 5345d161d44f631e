package main

import (
	"log"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/CeliaPro/ysm2-sub000/internal/mcptools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the comparison tools over MCP on stdio",
	Long: `Starts a Model Context Protocol server on stdin/stdout exposing
compare_documents and get_document_chunks. Logs go to stderr.`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// stdout carries the protocol.
	log.SetOutput(cmd.ErrOrStderr())

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	server := mcptools.NewServer(mcptools.New(a.comparisons), version)
	return server.Run(ctx, &mcp.StdioTransport{})
}
