package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/policyrag/internal/cli"
	"github.com/cloo-solutions/policyrag/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "policyrag",
		Short: "PolicyRAG CLI - question answering over insurance policy documents",
		Long: `PolicyRAG CLI uploads policy documents to a policyragd server and queries them.

Environment variables:
  POLICYRAG_API_URL   API base URL (default: http://localhost:8080)`,
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env and config)")
	cli.AddHelpJSONFlag(rootCmd)
	cli.SetEnv(rootCmd, "POLICYRAG_API_URL")

	rootCmd.AddCommand(client.SearchCmd())
	rootCmd.AddCommand(client.AskCmd())
	rootCmd.AddCommand(client.UploadCmd())
	rootCmd.AddCommand(client.DocumentsCmd())
	rootCmd.AddCommand(client.HackRxCmd())
	rootCmd.AddCommand(client.AdminCmd())
	rootCmd.AddCommand(client.ConfigCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
