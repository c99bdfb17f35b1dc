package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// DocumentInfo describes an ingested document.
type DocumentInfo struct {
	ID         string `json:"id"`
	ChunkCount int    `json:"chunk_count"`
	Pages      int    `json:"pages,omitempty"`
	IngestedAt string `json:"ingested_at"`
	ArchiveKey string `json:"archive_key,omitempty"`
}

// ChunkInfo is one chunk of a document.
type ChunkInfo struct {
	ID     string `json:"id"`
	Index  int    `json:"index"`
	Text   string `json:"text"`
	Tokens int    `json:"tokens"`
}

// DocumentDetail is a document with its chunks.
type DocumentDetail struct {
	DocumentInfo
	Chunks []ChunkInfo `json:"chunks"`
}

// DocumentsCmd creates the documents command with subcommands.
func DocumentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "Manage policy documents",
		Long:    "Commands for uploading, listing and inspecting ingested policy documents.",
	}

	cmd.AddCommand(uploadCmd())
	cmd.AddCommand(listCmd())
	cmd.AddCommand(showCmd())

	return cmd
}

// UploadCmd creates the top-level upload command, an alias of documents upload.
func UploadCmd() *cobra.Command {
	return uploadCmd()
}

func uploadCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload and ingest documents",
		Long:  "Uploads PDF, text or markdown files. A file with the same name replaces the ingested document.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			var progress io.Writer
			if !quiet && !outputJSON {
				progress = cmd.ErrOrStderr()
			}
			return runUpload(api, cmd.OutOrStdout(), progress, args, outputJSON)
		},
	}

	cmd.Flags().BoolVar(&quiet, "quiet", false, "Do not report upload progress")

	return cmd
}

func runUpload(api *APIClient, out, progress io.Writer, files []string, outputJSON bool) error {
	uploaded := make([]DocumentInfo, 0, len(files))
	for _, path := range files {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("cannot upload %s: %w", path, err)
		}

		var onProgress ProgressFunc
		if progress != nil {
			name := filepath.Base(path)
			done := false
			onProgress = func(current, total int64) {
				if done {
					return
				}
				fmt.Fprintf(progress, "\r%s: %d/%d bytes", name, current, total)
				if current >= total {
					fmt.Fprintln(progress)
					done = true
				}
			}
		}

		resp, err := api.UploadFile("/documents", path, onProgress)
		if err != nil {
			return fmt.Errorf("upload %s failed: %w", path, err)
		}

		var doc DocumentInfo
		if err := json.Unmarshal(resp.Data, &doc); err != nil {
			return fmt.Errorf("failed to parse upload response: %w", err)
		}
		uploaded = append(uploaded, doc)

		if !outputJSON {
			fmt.Fprintf(out, "Ingested %s (%d chunks)\n", doc.ID, doc.ChunkCount)
		}
	}

	if outputJSON {
		return writeJSON(out, uploaded)
	}
	return nil
}

// DocumentPage is one page of the document list.
type DocumentPage struct {
	Items   []DocumentInfo `json:"items"`
	Cursor  string         `json:"cursor,omitempty"`
	HasMore bool           `json:"has_more"`
}

func listCmd() *cobra.Command {
	var (
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ingested documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			return runList(api, cmd.OutOrStdout(), limit, cursor, outputJSON)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of documents")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous response")

	return cmd
}

func runList(api *APIClient, out io.Writer, limit int, cursor string, outputJSON bool) error {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	path := "/documents"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	resp, err := api.Get(path)
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}

	var page DocumentPage
	if err := json.Unmarshal(resp.Data, &page); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		return writeJSON(out, page)
	}

	if len(page.Items) == 0 {
		fmt.Fprintln(out, "No documents ingested.")
		return nil
	}

	fmt.Fprintf(out, "%d documents:\n\n", len(page.Items))
	for _, doc := range page.Items {
		fmt.Fprintf(out, "%s\n", doc.ID)
		fmt.Fprintf(out, "   Chunks: %d", doc.ChunkCount)
		if doc.Pages > 0 {
			fmt.Fprintf(out, ", Pages: %d", doc.Pages)
		}
		fmt.Fprintln(out)
		if doc.IngestedAt != "" {
			fmt.Fprintf(out, "   Ingested: %s\n", doc.IngestedAt)
		}
	}

	if page.HasMore && page.Cursor != "" {
		fmt.Fprintf(out, "\n%s\n", strings.Repeat("-", 40))
		fmt.Fprintf(out, "More documents available. Use --cursor %s\n", page.Cursor)
	}
	return nil
}

func showCmd() *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a document and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			return runShow(api, cmd.OutOrStdout(), args[0], full, outputJSON)
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Print full chunk text")

	return cmd
}

func runShow(api *APIClient, out io.Writer, id string, full, outputJSON bool) error {
	resp, err := api.Get("/documents/" + url.PathEscape(id))
	if err != nil {
		return fmt.Errorf("get document failed: %w", err)
	}

	var doc DocumentDetail
	if err := json.Unmarshal(resp.Data, &doc); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		return writeJSON(out, doc)
	}

	fmt.Fprintf(out, "%s (%d chunks)\n", doc.ID, doc.ChunkCount)
	for _, chunk := range doc.Chunks {
		fmt.Fprintln(out, strings.Repeat("-", 40))
		fmt.Fprintf(out, "%s [%d tokens]\n", chunk.ID, chunk.Tokens)
		if full {
			fmt.Fprintln(out, chunk.Text)
		} else {
			fmt.Fprintln(out, truncate(chunk.Text, 100))
		}
	}
	return nil
}
