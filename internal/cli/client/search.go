package client

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// SearchRequest represents the search API request.
type SearchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

// AskRequest represents the ask API request.
type AskRequest struct {
	Question string `json:"question"`
	K        int    `json:"k,omitempty"`
}

// SearchResult is one retrieved chunk.
type SearchResult struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Distance   float64 `json:"distance"`
}

// SearchResponse represents the search API response.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

// AskResponse represents the ask API response.
type AskResponse struct {
	Question string         `json:"question"`
	Answer   string         `json:"answer"`
	Found    bool           `json:"found"`
	Context  []SearchResult `json:"context"`
}

// SearchCmd creates the search command.
func SearchCmd() *cobra.Command {
	var k int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Retrieve policy passages",
		Long:  "Returns the policy chunks nearest to the query, nearest first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			return runSearch(api, cmd.OutOrStdout(), args[0], resolveK(k), outputJSON)
		},
	}

	cmd.Flags().IntVar(&k, "k", 0, "Number of passages to retrieve (default: server setting)")

	return cmd
}

// AskCmd creates the ask command.
func AskCmd() *cobra.Command {
	var (
		k           int
		showContext bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the policy documents",
		Long:  "Retrieves the passages nearest to the question and has the generative model answer from them.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			return runAsk(api, cmd.OutOrStdout(), args[0], resolveK(k), showContext, outputJSON)
		},
	}

	cmd.Flags().IntVar(&k, "k", 0, "Number of passages to retrieve (default: server setting)")
	cmd.Flags().BoolVar(&showContext, "context", false, "Print the passages the answer was generated from")

	return cmd
}

func resolveK(k int) int {
	if k > 0 {
		return k
	}
	return defaultTopK()
}

func runSearch(api *APIClient, out io.Writer, query string, k int, outputJSON bool) error {
	resp, err := api.Post("/search", SearchRequest{Query: query, K: k})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	var searchResp SearchResponse
	if err := json.Unmarshal(resp.Data, &searchResp); err != nil {
		return fmt.Errorf("failed to parse search results: %w", err)
	}

	if outputJSON {
		return writeJSON(out, searchResp)
	}

	if len(searchResp.Results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}

	fmt.Fprintf(out, "Found %d results:\n\n", len(searchResp.Results))
	printResults(out, searchResp.Results)
	return nil
}

func runAsk(api *APIClient, out io.Writer, question string, k int, showContext, outputJSON bool) error {
	resp, err := api.Post("/ask", AskRequest{Question: question, K: k})
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	var askResp AskResponse
	if err := json.Unmarshal(resp.Data, &askResp); err != nil {
		return fmt.Errorf("failed to parse answer: %w", err)
	}

	if outputJSON {
		return writeJSON(out, askResp)
	}

	if !askResp.Found {
		fmt.Fprintln(out, "No relevant policy passages found.")
		return nil
	}

	fmt.Fprintln(out, askResp.Answer)
	if showContext {
		fmt.Fprintf(out, "\n%s\nContext:\n\n", strings.Repeat("-", 40))
		printResults(out, askResp.Context)
	}
	return nil
}

func printResults(out io.Writer, results []SearchResult) {
	for i, result := range results {
		fmt.Fprintf(out, "%d. %s (distance %.4f)\n", i+1, result.ChunkID, result.Distance)
		fmt.Fprintf(out, "   %s\n", truncate(result.Text, 100))
		if i < len(results)-1 {
			fmt.Fprintln(out, strings.Repeat("-", 40))
		}
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}

func writeJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
