package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cloo-solutions/policyrag/internal/config"
	"github.com/cloo-solutions/policyrag/internal/domain"
	"github.com/cloo-solutions/policyrag/internal/logging"
)

// IngestCmd returns the one-shot ingest command
func IngestCmd() *cobra.Command {
	var (
		queries []string
		k       int
		ask     bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "ingest <dir>",
		Short: "Ingest a directory and run queries against it",
		Long: "Loads every supported document in <dir> into a fresh corpus, prints a summary, " +
			"then runs each --query against it and exits. With --ask the retrieved passages are " +
			"sent to the generative model.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			// One-shot runs never touch a persistent index.
			cfg.IndexBackend = config.IndexBackendMemory

			logger, err := logging.New(logging.Config{Format: "console", Debug: cfg.Debug})
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			return runIngest(cmd.Context(), cmd.OutOrStdout(), cfg, logger, args[0], queries, k, ask, asJSON)
		},
	}

	cmd.Flags().StringArrayVarP(&queries, "query", "q", nil, "Query to run after ingestion (repeatable)")
	cmd.Flags().IntVar(&k, "k", 0, "Number of passages to retrieve (default POLICYRAG_TOP_K)")
	cmd.Flags().BoolVar(&ask, "ask", false, "Answer each query with the generative model")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output results as JSON")

	return cmd
}

type ingestReport struct {
	Documents []ingestedDocument `json:"documents"`
	Queries   []queryReport      `json:"queries,omitempty"`
}

type ingestedDocument struct {
	ID     string `json:"id"`
	Chunks int    `json:"chunks"`
}

type queryReport struct {
	Query   string                   `json:"query"`
	Answer  string                   `json:"answer,omitempty"`
	Found   bool                     `json:"found"`
	Results []domain.RetrievalResult `json:"results"`
}

func runIngest(ctx context.Context, out io.Writer, cfg *config.Config, logger *zap.Logger, dir string, queries []string, k int, ask, asJSON bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	eng, err := newEngine(ctx, cfg, logger, engineOptions{})
	if err != nil {
		return err
	}
	defer eng.Close()

	docs, err := eng.corpus.LoadDirectory(ctx, dir)
	if err != nil {
		return fmt.Errorf("failed to load documents from %s: %w", dir, err)
	}

	report := ingestReport{Documents: make([]ingestedDocument, len(docs))}
	for i, d := range docs {
		report.Documents[i] = ingestedDocument{ID: d.ID, Chunks: d.ChunkCount}
	}

	for _, q := range queries {
		qr := queryReport{Query: q}
		if ask {
			answer, err := eng.answers.Ask(ctx, q, k)
			if err != nil {
				return fmt.Errorf("ask %q: %w", q, err)
			}
			qr.Answer = answer.Answer
			qr.Found = answer.Found
			qr.Results = answer.Context
		} else {
			results, err := eng.retriever.Retrieve(ctx, q, k)
			if err != nil {
				return fmt.Errorf("search %q: %w", q, err)
			}
			qr.Found = len(results) > 0
			qr.Results = results
		}
		report.Queries = append(report.Queries, qr)
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(out, report)
	return nil
}

func printReport(out io.Writer, report ingestReport) {
	fmt.Fprintf(out, "Ingested %d documents:\n", len(report.Documents))
	for _, d := range report.Documents {
		fmt.Fprintf(out, "  %s (%d chunks)\n", d.ID, d.Chunks)
	}

	for _, q := range report.Queries {
		fmt.Fprintf(out, "\nQuery: %s\n", q.Query)
		if q.Answer != "" {
			fmt.Fprintf(out, "Answer: %s\n", q.Answer)
		}
		if len(q.Results) == 0 {
			fmt.Fprintln(out, "No results found.")
			continue
		}
		for i, r := range q.Results {
			fmt.Fprintf(out, "%d. %s (distance %.4f)\n", i+1, r.ChunkID, r.Distance)
			fmt.Fprintf(out, "   %s\n", preview(r.Text, 100))
		}
	}
}

func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n-3]) + "..."
}
