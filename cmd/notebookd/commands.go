package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/notebookd/internal/chat"
	"github.com/kalambet/notebookd/internal/config"
)

// --- notebook ---

var notebookCmd = &cobra.Command{
	Use:   "notebook",
	Short: "Manage notebooks",
}

var notebookCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a notebook",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/notebooks", map[string]string{
			"title": strings.Join(args, " "),
		})
		if err != nil {
			return err
		}

		var nb struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		}
		if err := decodeJSON(resp, &nb); err != nil {
			return err
		}

		printSuccess("Created notebook %s (%s)", nb.Title, nb.ID)
		return nil
	},
}

var notebookListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notebooks",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/notebooks")
		if err != nil {
			return err
		}

		var notebooks []struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			CreatedAt string `json:"created_at"`
		}
		if err := decodeJSON(resp, &notebooks); err != nil {
			return err
		}

		if len(notebooks) == 0 {
			fmt.Println("No notebooks yet. Create one with: notebookd notebook create <title>")
			return nil
		}
		for _, nb := range notebooks {
			fmt.Printf("%s  %s  %s\n", colorize(colorCyan, nb.ID[:8]), nb.CreatedAt, nb.Title)
		}
		return nil
	},
}

var notebookRenameCmd = &cobra.Command{
	Use:   "rename <id> <title>",
	Short: "Rename a notebook",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		title := strings.Join(args[1:], " ")
		resp, err := client.put(cmd.Context(), "/notebooks/"+args[0]+"/rename", map[string]string{"title": title})
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Renamed to %s", title)
		return nil
	},
}

var notebookDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a notebook and everything in it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/notebooks/"+args[0])
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted notebook %s", args[0])
		return nil
	},
}

func init() {
	notebookCmd.AddCommand(notebookCreateCmd, notebookListCmd, notebookRenameCmd, notebookDeleteCmd)
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <notebook-id> [file]",
	Short: "Upload a file or URL into a notebook",
	Long: `Upload a file or URL into a notebook.

Examples:
  notebookd upload 1a2b3c4d ./paper.pdf
  notebookd upload 1a2b3c4d ./meeting.mp3
  notebookd upload 1a2b3c4d --url https://example.com/article`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		notebookID := args[0]
		url, _ := cmd.Flags().GetString("url")

		if url == "" && len(args) < 2 {
			return fmt.Errorf("a file argument or --url is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var resp *http.Response
		if url != "" {
			resp, err = client.post(cmd.Context(), "/notebooks/"+notebookID+"/upload/url", map[string]string{"url": url})
		} else {
			var data []byte
			data, err = os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			resp, err = client.postFile(cmd.Context(), "/notebooks/"+notebookID+"/upload", args[1], data)
		}
		if err != nil {
			return err
		}

		var src struct {
			Name   string `json:"name"`
			Kind   string `json:"kind"`
			Status string `json:"status"`
		}
		if err := decodeJSON(resp, &src); err != nil {
			return err
		}

		printSuccess("Queued %s (%s)", src.Name, src.Kind)
		printStep("Poll with: notebookd sources %s", notebookID)
		return nil
	},
}

func init() {
	uploadCmd.Flags().String("url", "", "URL to fetch and ingest")
}

// --- sources ---

var sourcesCmd = &cobra.Command{
	Use:   "sources <notebook-id>",
	Short: "List a notebook's sources and their ingestion status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/notebooks/"+args[0]+"/sources")
		if err != nil {
			return err
		}

		var sources []struct {
			Name     string `json:"name"`
			Kind     string `json:"kind"`
			Status   string `json:"status"`
			Error    string `json:"error"`
			ByteSize int64  `json:"byte_size"`
		}
		if err := decodeJSON(resp, &sources); err != nil {
			return err
		}

		if len(sources) == 0 {
			fmt.Println("No sources yet. Add one with: notebookd upload " + args[0] + " <file>")
			return nil
		}
		for _, src := range sources {
			line := fmt.Sprintf("%-10s %-8s %s", statusLabel(src.Status), src.Kind, src.Name)
			if src.Error != "" {
				line += "  (" + src.Error + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}

func statusLabel(status string) string {
	switch status {
	case "ready":
		return colorize(colorGreen, status)
	case "error":
		return colorize(colorRed, status)
	default:
		return colorize(colorYellow, status)
	}
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <notebook-id> <question>",
	Short: "Ask a question grounded in a notebook's sources",
	Long: `Ask a question grounded in a notebook's sources.

The answer streams as it is generated, followed by the sources it cites.
By default all ready sources are consulted; restrict with --sources.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		notebookID := args[0]
		question := strings.Join(args[1:], " ")
		sourcesFlag, _ := cmd.Flags().GetString("sources")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		selected, err := resolveSelection(cmd.Context(), client, notebookID, sourcesFlag)
		if err != nil {
			return err
		}
		if len(selected) == 0 {
			return fmt.Errorf("no ready sources in notebook %s", notebookID)
		}

		body := map[string]any{
			"messages":         []map[string]string{{"role": "user", "content": question}},
			"selected_sources": selected,
		}
		resp, err := client.stream(cmd.Context(), "/notebooks/"+notebookID+"/chat", body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			raw, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, raw)
		}

		citations, err := renderStream(os.Stdout, resp.Body)
		if err != nil {
			return err
		}
		printCitations(os.Stdout, citations)
		return nil
	},
}

func init() {
	askCmd.Flags().String("sources", "", "comma-separated source names to consult (default: all ready)")
}

// resolveSelection expands the --sources flag, defaulting to every ready
// source in the notebook.
func resolveSelection(ctx context.Context, client *apiClient, notebookID, flag string) ([]string, error) {
	if flag != "" {
		parts := strings.Split(flag, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	}

	resp, err := client.get(ctx, "/notebooks/"+notebookID+"/sources")
	if err != nil {
		return nil, err
	}
	var sources []struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	if err := decodeJSON(resp, &sources); err != nil {
		return nil, err
	}
	var out []string
	for _, src := range sources {
		if src.Status == "ready" {
			out = append(out, src.Name)
		}
	}
	return out, nil
}

// renderStream copies answer text to w as it arrives, holding back the
// citation trailer, and returns the parsed citation map once the stream
// ends.
func renderStream(w io.Writer, body io.Reader) (chat.CitationMap, error) {
	var sp chat.Splitter
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			fmt.Fprint(w, sp.Feed(string(buf[:n])))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading stream: %w", err)
		}
	}
	tail, citations := sp.Finish()
	fmt.Fprintln(w, tail)
	return citations, nil
}

// printCitations renders the citation map in id order.
func printCitations(w io.Writer, citations chat.CitationMap) {
	if len(citations) == 0 {
		return
	}

	ids := make([]string, 0, len(citations))
	for id := range citations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA != nil || errB != nil {
			return ids[i] < ids[j]
		}
		return a < b
	})

	fmt.Fprintln(w, "\nSources:")
	for _, id := range ids {
		entry := citations[id]
		fmt.Fprintf(w, "  [%s] %s\n", id, entry.Name)
		for _, ex := range entry.Excerpts {
			if len(ex) > 120 {
				ex = ex[:120] + "..."
			}
			fmt.Fprintf(w, "      %s\n", ex)
		}
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, kv := range config.List(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, kv.Key), kv.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Set(config.DefaultPath(), args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Reset a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Unset(config.DefaultPath(), args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configUnsetCmd)
}
