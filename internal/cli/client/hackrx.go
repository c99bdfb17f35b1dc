package client

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// HackRxRequest represents the hackrx run request.
type HackRxRequest struct {
	Documents string   `json:"documents"`
	Questions []string `json:"questions"`
}

// QuestionError explains why one question has no answer.
type QuestionError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HackRxResponse holds one answer per question, in question order.
type HackRxResponse struct {
	Answers []string         `json:"answers"`
	Errors  []*QuestionError `json:"errors,omitempty"`
}

// HackRxCmd creates the hackrx command.
func HackRxCmd() *cobra.Command {
	var questions []string

	cmd := &cobra.Command{
		Use:   "hackrx <document-url>",
		Short: "Answer questions about a remote policy document",
		Long: "Downloads the document at <document-url>, ingests it and answers each --question from it. " +
			"Answers are printed in question order.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(questions) == 0 {
				return fmt.Errorf("at least one --question is required")
			}
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			return runHackRx(api, cmd.OutOrStdout(), args[0], questions, outputJSON)
		},
	}

	cmd.Flags().StringArrayVarP(&questions, "question", "q", nil, "Question to answer (repeatable)")

	return cmd
}

func runHackRx(api *APIClient, out io.Writer, documentURL string, questions []string, outputJSON bool) error {
	var resp HackRxResponse
	if err := api.PostRaw("/hackrx/run", HackRxRequest{Documents: documentURL, Questions: questions}, &resp); err != nil {
		return fmt.Errorf("hackrx run failed: %w", err)
	}

	if outputJSON {
		return writeJSON(out, resp)
	}

	for i, question := range questions {
		fmt.Fprintf(out, "Q%d: %s\n", i+1, question)
		if i < len(resp.Errors) && resp.Errors[i] != nil {
			fmt.Fprintf(out, "   error [%s]: %s\n", resp.Errors[i].Code, resp.Errors[i].Message)
			continue
		}
		if i < len(resp.Answers) {
			fmt.Fprintf(out, "   %s\n", resp.Answers[i])
		}
	}
	return nil
}
