package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// CorpusStats summarizes the served corpus.
type CorpusStats struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
}

// QueryLog is one logged query.
type QueryLog struct {
	Query      string        `json:"query"`
	Mode       string        `json:"mode"`
	K          int           `json:"k"`
	DurationMs int           `json:"duration_ms"`
	Results    []QueryLogHit `json:"results"`
	Answer     string        `json:"answer,omitempty"`
	Found      bool          `json:"found"`
}

// QueryLogHit is one result recorded with a query.
type QueryLogHit struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Distance   float64 `json:"distance"`
}

// AdminCmd creates the admin command with subcommands.
func AdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Corpus administration",
		Long:  "Commands for inspecting and rebuilding the served corpus.",
	}

	cmd.AddCommand(statsCmd())
	cmd.AddCommand(reindexCmd())
	cmd.AddCommand(resetCmd())
	cmd.AddCommand(queriesCmd())

	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show document and chunk counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCorpusAction(cmd, "GET", "/admin/stats", "")
		},
	}
}

func reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Re-chunk and re-embed every document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCorpusAction(cmd, "POST", "/admin/reindex", "Reindexed")
		},
	}
}

func resetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Remove every document from the corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), "Remove all documents from the corpus?") {
				return fmt.Errorf("aborted")
			}
			return runCorpusAction(cmd, "POST", "/admin/reset", "Reset")
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")

	return cmd
}

func runCorpusAction(cmd *cobra.Command, method, path, verb string) error {
	outputJSON, _ := cmd.Flags().GetBool("output")
	api, err := NewAPIClient(cmd)
	if err != nil {
		return err
	}
	return runStats(api, cmd.OutOrStdout(), method, path, verb, outputJSON)
}

func runStats(api *APIClient, out io.Writer, method, path, verb string, outputJSON bool) error {
	var (
		resp *APIResponse
		err  error
	)
	if method == "POST" {
		resp, err = api.Post(path, nil)
	} else {
		resp, err = api.Get(path)
	}
	if err != nil {
		return fmt.Errorf("%s failed: %w", path, err)
	}

	var stats CorpusStats
	if err := json.Unmarshal(resp.Data, &stats); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		return writeJSON(out, stats)
	}
	if verb != "" {
		fmt.Fprintf(out, "%s. ", verb)
	}
	fmt.Fprintf(out, "%d documents, %d chunks\n", stats.Documents, stats.Chunks)
	return nil
}

func queriesCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "queries",
		Short: "Show recently logged queries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			return runQueries(api, cmd.OutOrStdout(), limit, outputJSON)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of queries")

	return cmd
}

func runQueries(api *APIClient, out io.Writer, limit int, outputJSON bool) error {
	resp, err := api.Get(fmt.Sprintf("/admin/queries?limit=%d", limit))
	if err != nil {
		return fmt.Errorf("list queries failed: %w", err)
	}

	var logs []QueryLog
	if err := json.Unmarshal(resp.Data, &logs); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		return writeJSON(out, logs)
	}

	if len(logs) == 0 {
		fmt.Fprintln(out, "No queries logged.")
		return nil
	}

	for _, l := range logs {
		fmt.Fprintf(out, "[%s k=%d %dms] %s\n", l.Mode, l.K, l.DurationMs, l.Query)
		for _, hit := range l.Results {
			fmt.Fprintf(out, "   %s (%.4f)\n", hit.ChunkID, hit.Distance)
		}
		if l.Answer != "" {
			fmt.Fprintf(out, "   answer: %s\n", truncate(l.Answer, 100))
		}
	}
	return nil
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
