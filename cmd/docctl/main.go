// Docctl is the command-line client for a docsearch server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docsearch/internal/client"
	"github.com/fyrsmithlabs/docsearch/internal/monitor"
	"github.com/fyrsmithlabs/docsearch/internal/tui"
)

const defaultServerURL = "http://localhost:8000"

var (
	// serverURL is the base URL for the docsearch HTTP server
	serverURL string
	apiKey    string
	envFile   string
	jsonOut   bool

	listOffset int
	listLimit  int

	monitorInterval time.Duration

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "docctl",
	Short: "CLI for docsearch server operations",
	Long: `docctl is a command-line interface for a docsearch server.
It uploads files, runs searches, lists stored documents and checks health.

The server URL and API key default to DOCSEARCH_URL and DOCSEARCH_API_KEY,
which may also come from a .env file.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadEnv,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "docsearch server URL (default $DOCSEARCH_URL or "+defaultServerURL+")")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key (default $DOCSEARCH_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print raw JSON")

	listCmd.Flags().IntVar(&listOffset, "offset", 0, "skip this many documents")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "return at most this many documents (0 for all)")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 2*time.Second, "refresh interval")

	rootCmd.AddCommand(ingestCmd, queryCmd, listCmd, healthCmd, searchCmd, monitorCmd)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Upload files as one batch",
	Long: `Upload one or more text files. The batch is stored only if every file
decodes as UTF-8 and embeds successfully.

Examples:
  docctl ingest notes.txt README.md
  docctl ingest --server http://search:8000 docs/*.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd.Context(), cmd.OutOrStdout(), newClient(), args)
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Search stored documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd.Context(), cmd.OutOrStdout(), newClient(), args[0])
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList(cmd.Context(), cmd.OutOrStdout(), newClient(), listOffset, listLimit)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check docsearch server health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHealth(cmd.Context(), cmd.OutOrStdout(), newClient())
	},
}

var searchCmd = &cobra.Command{
	Use:   "tui",
	Short: "Interactive search",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		summary := "Server: " + c.BaseURL()
		if h, err := c.Health(cmd.Context()); err == nil {
			summary = fmt.Sprintf("Server: %s  Documents: %d", c.BaseURL(), h.Documents)
		}
		_, err := tea.NewProgram(tui.New(c, summary), tea.WithAltScreen()).Run()
		return err
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live dashboard of server metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m := monitor.NewModel(resolvedServerURL(), resolvedAPIKey(), monitorInterval)
		_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
		return err
	},
}

func loadEnv(cmd *cobra.Command, args []string) error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", envFile, err)
	}
	return nil
}

func resolvedServerURL() string {
	if serverURL != "" {
		return serverURL
	}
	if v := os.Getenv("DOCSEARCH_URL"); v != "" {
		return v
	}
	return defaultServerURL
}

func resolvedAPIKey() string {
	if apiKey != "" {
		return apiKey
	}
	return os.Getenv("DOCSEARCH_API_KEY")
}

func newClient() *client.Client {
	return client.New(resolvedServerURL(), resolvedAPIKey())
}

func runIngest(ctx context.Context, out io.Writer, c *client.Client, paths []string) error {
	files := make([]client.File, 0, len(paths))
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", p, err)
		}
		files = append(files, client.File{Name: filepath.Base(p), Content: content})
	}

	resp, err := c.Ingest(ctx, files)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(out, resp)
	}
	fmt.Fprintf(out, "%s (%d files)\n", resp.Status, len(resp.IDs))
	for i, id := range resp.IDs {
		fmt.Fprintf(out, "  %s  %s\n", id, files[i].Name)
	}
	return nil
}

func runQuery(ctx context.Context, out io.Writer, c *client.Client, text string) error {
	results, err := c.Query(ctx, text)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(out, map[string]any{"results": results})
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "No results.")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(out, "%d. %s (distance %.4f)\n   %s\n", i+1, r.Filename, r.Score, preview(r.Text, 120))
	}
	return nil
}

func runList(ctx context.Context, out io.Writer, c *client.Client, offset, limit int) error {
	docs, err := c.List(ctx, offset, limit)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(out, map[string]any{"documents": docs})
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILENAME\tTEXT")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID, d.Filename, preview(d.Text, 60))
	}
	return tw.Flush()
}

func runHealth(ctx context.Context, out io.Writer, c *client.Client) error {
	h, err := c.Health(ctx)
	if h != nil {
		if jsonOut {
			if perr := printJSON(out, h); perr != nil {
				return perr
			}
		} else {
			fmt.Fprintf(out, "Status: %s\nDocuments: %d\n", h.Status, h.Documents)
			if h.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", h.Error)
			}
		}
	}
	return err
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// preview flattens text to one line of at most n runes.
func preview(text string, n int) string {
	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' || r == '\r' || r == '\t' {
			runes[i] = ' '
		}
	}
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n-3]) + "..."
}
