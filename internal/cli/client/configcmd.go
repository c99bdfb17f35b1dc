package client

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// ConfigCmd creates the config command with subcommands.
func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage client configuration",
		Long:  "Commands for managing the API URL and defaults stored in the user config directory.",
	}

	cmd.AddCommand(configSetCmd())
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configClearCmd())

	return cmd
}

func configSetCmd() *cobra.Command {
	var (
		apiURL    string
		topK      int
		skipCheck bool
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Save the API URL and defaults",
		Long:  "Saves the API URL (checked against /health unless --skip-check) and the default k.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSet(cmd.OutOrStdout(), apiURL, topK, skipCheck)
		},
	}

	cmd.Flags().StringVar(&apiURL, "url", "", "API base URL")
	cmd.Flags().IntVar(&topK, "k", 0, "Default number of passages for search and ask")
	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Do not check that the server is reachable")

	return cmd
}

func runConfigSet(out io.Writer, apiURL string, topK int, skipCheck bool) error {
	config, err := LoadGlobalConfig()
	if err != nil {
		return err
	}
	if config == nil {
		config = &GlobalConfig{}
	}

	if apiURL != "" {
		if !IsValidAPIURL(apiURL) {
			return fmt.Errorf("invalid API URL %q: expected http(s)://host[:port]", apiURL)
		}
		if !skipCheck {
			api, err := NewAPIClientWithConfig(apiURL)
			if err != nil {
				return err
			}
			if _, err := api.Get("/health"); err != nil {
				return fmt.Errorf("server at %s is not reachable: %w", apiURL, err)
			}
		}
		config.APIURL = apiURL
	}
	if topK < 0 {
		return fmt.Errorf("k must be non-negative")
	}
	if topK > 0 {
		config.TopK = topK
	}

	if err := SaveGlobalConfig(config); err != nil {
		return err
	}

	path, _ := GetConfigPath()
	fmt.Fprintf(out, "Configuration saved to %s\n", path)
	return nil
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flagURL, _ := cmd.Flags().GetString("api-url")
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runConfigShow(cmd.OutOrStdout(), flagURL, outputJSON)
		},
	}
}

func runConfigShow(out io.Writer, flagURL string, outputJSON bool) error {
	source, apiURL := ResolveAPIURL(flagURL)
	topK := defaultTopK()

	if outputJSON {
		return writeJSON(out, map[string]any{
			"api_url": apiURL,
			"source":  source,
			"top_k":   topK,
		})
	}

	fmt.Fprintf(out, "API URL: %s (from %s)\n", apiURL, source)
	if topK > 0 {
		fmt.Fprintf(out, "Default k: %d\n", topK)
	} else {
		fmt.Fprintln(out, "Default k: server setting")
	}
	return nil
}

func configClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the saved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := DeleteGlobalConfig(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration removed.")
			return nil
		},
	}
}
