package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/policyrag/internal/cli"
	"github.com/cloo-solutions/policyrag/internal/cli/admin"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "policyragd",
		Short: "PolicyRAG daemon",
		Long:  "PolicyRAG daemon for serving the retrieval API and running one-shot ingests",
	}

	cli.AddHelpJSONFlag(rootCmd)
	cli.SetEnv(rootCmd,
		"POLICYRAG_EMBEDDING_PROVIDER",
		"POLICYRAG_EMBEDDING_DIMENSIONS",
		"POLICYRAG_OPENAI_API_KEY",
		"POLICYRAG_CHUNK_MAX_TOKENS",
		"POLICYRAG_CHUNK_OVERLAP_TOKENS",
		"POLICYRAG_TOP_K",
		"POLICYRAG_INDEX_BACKEND",
		"POLICYRAG_DATABASE_URL",
	)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.IngestCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
