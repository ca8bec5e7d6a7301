package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/twin/internal/config"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Add content to the twin's knowledge base",
	Long: `Add content to the twin's knowledge base.

Examples:
  twin ingest --text "I moved to Lisbon in 2019" --tags bio
  twin ingest --url https://example.com/interview --tags press
  twin ingest --file ./cv.pdf --title "CV" --language en`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		rawURL, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		tagsStr, _ := cmd.Flags().GetString("tags")
		language, _ := cmd.Flags().GetString("language")

		if text == "" && rawURL == "" && file == "" {
			return fmt.Errorf("one of --text, --url, or --file is required")
		}

		req, err := ingestRequest(text, rawURL, file, title, language, splitTags(tagsStr))
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/admin/knowledge", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued doc %s (language %q)", result["id"], result["language"])
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("text", "", "text content to ingest")
	ingestCmd.Flags().String("url", "", "URL to fetch and ingest")
	ingestCmd.Flags().String("file", "", "file path to ingest (text or PDF)")
	ingestCmd.Flags().String("title", "", "title for the document")
	ingestCmd.Flags().String("tags", "", "comma-separated tags")
	ingestCmd.Flags().String("language", "", "language code (detected when omitted)")
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// ingestRequest builds the knowledge add body. Files are sent base64
// encoded so the server can extract PDFs.
func ingestRequest(text, rawURL, file, title, language string, tags []string) (map[string]any, error) {
	req := map[string]any{"source": "cli"}
	if tags != nil {
		req["tags"] = tags
	}
	if title != "" {
		req["title"] = title
	}
	if language != "" {
		req["language"] = language
	}

	switch {
	case text != "":
		req["type"] = "text"
		req["content"] = text
	case rawURL != "":
		req["type"] = "url"
		req["url"] = rawURL
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading file: %w", err)
		}
		req["type"] = "file"
		req["content"] = base64.StdEncoding.EncodeToString(data)
		if title == "" {
			req["title"] = filepath.Base(file)
		}
	}
	return req, nil
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull new items from the content feed now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/admin/knowledge/sync", nil)
		if err != nil {
			return err
		}

		var result struct {
			Created int `json:"created"`
			Updated int `json:"updated"`
			Skipped int `json:"skipped"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Feed synced: %d created, %d updated, %d unchanged", result.Created, result.Updated, result.Skipped)
		return nil
	},
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Ask the twin a question over the chat channel",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{"message": strings.Join(args, " ")}
		if sessionID != "" {
			body["sessionId"] = sessionID
		}
		resp, err := client.post(cmd.Context(), "/chat", body)
		if err != nil {
			return err
		}

		var reply chatReply
		if err := decodeJSON(resp, &reply); err != nil {
			return err
		}

		fmt.Println(reply.ResponseText)
		printStatus("Session", "%s (turn %d)", reply.SessionID, reply.TurnIndex)
		printStatus("Language", "%s", reply.Language)
		if reply.RAGPattern != "" {
			printStatus("Pattern", "%s", reply.RAGPattern)
		}
		printStatus("Latency", "%dms", reply.LatencyMs)
		if len(reply.Failures) > 0 {
			printWarning("degraded: %s", strings.Join(reply.Failures, ", "))
		}
		return nil
	},
}

type chatReply struct {
	ResponseText string   `json:"responseText"`
	Language     string   `json:"language"`
	RAGPattern   string   `json:"ragPattern"`
	LatencyMs    int64    `json:"latencyMs"`
	SessionID    string   `json:"sessionId"`
	TurnIndex    int      `json:"turnIndex"`
	Failures     []string `json:"failures"`
}

func init() {
	askCmd.Flags().String("session", "", "continue an existing session")
}

// --- recall ---

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Semantic search over the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/admin/recall?q=%s&limit=%d", url.QueryEscape(query), limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var results []struct {
			ID       string  `json:"id"`
			SourceID string  `json:"sourceId"`
			Text     string  `json:"text"`
			Language string  `json:"language"`
			Score    float32 `json:"score"`
			Tags     string  `json:"tags"`
		}
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, r := range results {
			fmt.Printf("\n%s [score: %.3f, %s]\n", colorize(colorBold, fmt.Sprintf("Result %d", i+1)), r.Score, r.Language)
			if r.Tags != "" && r.Tags != "[]" {
				fmt.Printf("  Tags: %s\n", r.Tags)
			}
			fmt.Printf("  %s\n", truncate(r.Text, 500))
		}
		return nil
	},
}

func init() {
	recallCmd.Flags().Int("limit", 5, "maximum number of results")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// --- persona ---

var personaCmd = &cobra.Command{
	Use:   "persona",
	Short: "Manage the twin's persona",
}

var personaShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the persona as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/admin/persona")
		if err != nil {
			return err
		}

		var p any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		return printJSON(p)
	},
}

var personaSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a persona field (JSON for list and map keys)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/admin/persona", map[string]any{key: value})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var personaEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the persona JSON in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/admin/persona")
		if err != nil {
			return err
		}

		var p any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}

		data, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return err
		}

		tmpFile, err := os.CreateTemp("", "twin-persona-*.json")
		if err != nil {
			return fmt.Errorf("creating temp file: %w", err)
		}
		tmpPath := tmpFile.Name()
		defer os.Remove(tmpPath)

		if _, err := tmpFile.Write(data); err != nil {
			tmpFile.Close()
			return err
		}
		tmpFile.Close()

		editorCmd := exec.Command(editor, tmpPath)
		editorCmd.Stdin = os.Stdin
		editorCmd.Stdout = os.Stdout
		editorCmd.Stderr = os.Stderr
		if err := editorCmd.Run(); err != nil {
			return fmt.Errorf("editor exited with error: %w", err)
		}

		edited, err := os.ReadFile(tmpPath)
		if err != nil {
			return err
		}

		var doc map[string]any
		if err := json.Unmarshal(edited, &doc); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}

		patchResp, err := client.patch(cmd.Context(), "/admin/persona", flattenPersona(doc))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(patchResp, &result); err != nil {
			return err
		}

		printSuccess("Persona updated")
		return nil
	},
}

// flattenPersona turns the nested persona document into the dotted keys the
// persona endpoint accepts. identity and style are split into their fields;
// every other section is sent whole.
func flattenPersona(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for section, v := range doc {
		nested, ok := v.(map[string]any)
		if !ok || (section != "identity" && section != "style") {
			out[section] = v
			continue
		}
		for field, fv := range nested {
			out[section+"."+field] = fv
		}
	}
	return out
}

func init() {
	personaCmd.AddCommand(personaShowCmd)
	personaCmd.AddCommand(personaSetCmd)
	personaCmd.AddCommand(personaEditCmd)
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect or remove conversation sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recently active sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/admin/sessions?limit=%d", limit))
		if err != nil {
			return err
		}

		var list []struct {
			ID              string `json:"id"`
			Channel         string `json:"channel"`
			CurrentLanguage string `json:"currentLanguage"`
			TurnCount       int    `json:"turnCount"`
			UpdatedAt       string `json:"updatedAt"`
		}
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}
		for _, s := range list {
			fmt.Printf("%s  %-5s %-3s %3d turns  %s\n",
				colorize(colorCyan, s.ID),
				s.Channel,
				s.CurrentLanguage,
				s.TurnCount,
				s.UpdatedAt,
			)
		}
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session with its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/admin/sessions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var sess any
		if err := decodeJSON(resp, &sess); err != nil {
			return err
		}
		return printJSON(sess)
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/admin/sessions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted session %s", args[0])
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().Int("limit", 20, "maximum number of sessions to list")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

// --- decisions ---

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Inspect the routing decision log",
}

var decisionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent routing decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		sessionID, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/admin/decisions?limit=%d", limit)
		if sessionID != "" {
			path += "&session=" + url.QueryEscape(sessionID)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var decisions []decisionRow
		if err := decodeJSON(resp, &decisions); err != nil {
			return err
		}

		if len(decisions) == 0 {
			fmt.Println("No decisions found.")
			return nil
		}
		for _, d := range decisions {
			fmt.Println(formatDecision(d))
		}
		return nil
	},
}

type decisionRow struct {
	ID         string  `json:"id"`
	SessionID  string  `json:"sessionId"`
	Channel    string  `json:"channel"`
	Utterance  string  `json:"utterance"`
	Kind       string  `json:"kind"`
	Pattern    string  `json:"pattern"`
	Confidence float64 `json:"confidence"`
	Escalated  bool    `json:"escalated"`
	CreatedAt  string  `json:"createdAt"`
}

func formatDecision(d decisionRow) string {
	kind := d.Kind
	if d.Pattern != "" {
		kind += "/" + d.Pattern
	}
	if d.Escalated {
		kind += "*"
	}
	return fmt.Sprintf("%s  %-6s %-22s %.2f  %s",
		d.CreatedAt,
		d.Channel,
		colorize(decisionColor(kind), kind),
		d.Confidence,
		truncate(d.Utterance, 80),
	)
}

func init() {
	decisionsListCmd.Flags().Int("limit", 20, "maximum number of decisions to list")
	decisionsListCmd.Flags().String("session", "", "only decisions of this session")
	decisionsCmd.AddCommand(decisionsListCmd)
}

// --- data ---

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Export or purge stored knowledge",
}

var dataExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export knowledge docs and decisions as JSONL",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		writer := os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		}

		enc := json.NewEncoder(writer)

		offset := 0
		for {
			resp, err := client.get(cmd.Context(), fmt.Sprintf("/admin/knowledge?limit=100&offset=%d", offset))
			if err != nil {
				return err
			}
			var docs []any
			if err := decodeJSON(resp, &docs); err != nil {
				return err
			}
			if len(docs) == 0 {
				break
			}
			for _, doc := range docs {
				enc.Encode(map[string]any{"type": "knowledge_doc", "data": doc})
			}
			offset += len(docs)
		}

		resp, err := client.get(cmd.Context(), "/admin/decisions?limit=500")
		if err != nil {
			return err
		}
		var decisions []any
		if err := decodeJSON(resp, &decisions); err != nil {
			return err
		}
		for _, d := range decisions {
			enc.Encode(map[string]any{"type": "decision", "data": d})
		}

		if output != "" {
			printSuccess("Data exported to %s", output)
		}
		return nil
	},
}

var dataPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every knowledge doc",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL knowledge docs. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Deleting knowledge docs...")
		failures, err := purgeEndpoint(cmd.Context(), client, "/admin/knowledge")
		if err != nil {
			return err
		}
		if failures > 0 {
			printWarning("%d docs could not be deleted", failures)
			return fmt.Errorf("purge incomplete: %d failures", failures)
		}

		printSuccess("All knowledge purged")
		return nil
	},
}

// purgeEndpoint deletes every item listed at path. Items that fail to delete
// are counted and skipped; listing stops once only failed items remain.
func purgeEndpoint(ctx context.Context, client *apiClient, path string) (int, error) {
	failed := map[string]bool{}
	for {
		resp, err := client.get(ctx, path+"?limit=100")
		if err != nil {
			return len(failed), err
		}
		var items []struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &items); err != nil {
			return len(failed), err
		}

		progressed := false
		for _, it := range items {
			if failed[it.ID] {
				continue
			}
			progressed = true
			resp, err := client.delete(ctx, path+"/"+url.PathEscape(it.ID))
			if err == nil {
				var result map[string]string
				err = decodeJSON(resp, &result)
			}
			if err != nil {
				printError("Failed to delete %s: %v", it.ID, err)
				failed[it.ID] = true
			}
		}
		if !progressed {
			return len(failed), nil
		}
	}
}

func init() {
	dataExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	dataPurgeCmd.Flags().Bool("confirm", false, "confirm data purge")
	dataCmd.AddCommand(dataExportCmd)
	dataCmd.AddCommand(dataPurgeCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Valid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
