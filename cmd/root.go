package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the mcpbridge application
var rootCmd = &cobra.Command{
	Use:   "mcpbridge",
	Short: "Authenticated MCP bridge with sessions, PKCE authorization and signed tokens",
	Long: `mcpbridge exposes MCP tools over HTTP streaming, SSE, WebSocket and plain
JSON-RPC transports. Clients authenticate through a PKCE authorization flow
backed by an upstream OAuth provider and present short-lived signed bearer
tokens bound to a server-side session.

Sessions, authorization codes and revoked tokens live in Redis so several
replicas can serve the same clients.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcpbridge version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSessionCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
}
