package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kalambet/missionctl/internal/config"
)

// --- send ---

var sendCmd = &cobra.Command{
	Use:   "send <type>",
	Short: "Post a webhook event to the running server",
	Long: `Post a webhook event to the running server, exactly as the agent gateway would.

Examples:
  missionctl send create_task --set title="Draft launch post" --set priority=high
  missionctl send update_task --set id=6f1c... --set status=review
  missionctl send agent_update --data '{"name":"Jarvis","status":"busy"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, _ := cmd.Flags().GetString("data")
		sets, _ := cmd.Flags().GetStringArray("set")

		payload, err := buildPayload(data, sets)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/webhook", map[string]any{
			"type":    args[0],
			"payload": payload,
		})
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("%s accepted%s", args[0], describeResult(result))
		return nil
	},
}

func init() {
	sendCmd.Flags().String("data", "", "payload as a JSON object")
	sendCmd.Flags().StringArray("set", nil, "payload field as key=value (repeatable, overrides --data)")
}

// buildPayload merges a JSON object with key=value assignments.
func buildPayload(data string, sets []string) (map[string]any, error) {
	payload := map[string]any{}
	if strings.TrimSpace(data) != "" {
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return nil, fmt.Errorf("--data must be a JSON object: %w", err)
		}
		if payload == nil {
			payload = map[string]any{}
		}
	}
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set %q, want key=value", s)
		}
		payload[k] = v
	}
	return payload, nil
}

func describeResult(result map[string]any) string {
	var parts []string
	for _, k := range []string{"action", "id", "name", "status"} {
		if v, ok := result[k].(string); ok && v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, " ") + ")"
}

// --- tasks ---

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect board tasks",
}

type taskRow struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Status        string  `json:"status"`
	Priority      string  `json:"priority"`
	AssignedAgent *string `json:"assignedAgent"`
	UpdatedAt     string  `json:"updatedAt"`
}

type taskList struct {
	Tasks []taskRow `json:"tasks"`
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tasks, most recently updated first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return fetchTasks(cmd, "/api/tasks")
	},
}

var tasksRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List tasks updated within the last N hours",
	RunE: func(cmd *cobra.Command, args []string) error {
		hours, _ := cmd.Flags().GetInt("hours")
		return fetchTasks(cmd, "/api/tasks/recent?hours="+strconv.Itoa(hours))
	},
}

func fetchTasks(cmd *cobra.Command, path string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.get(cmd.Context(), path)
	if err != nil {
		return err
	}

	var list taskList
	if err := decodeJSON(resp, &list); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(list.Tasks)
	}
	if len(list.Tasks) == 0 {
		fmt.Fprintln(out, "No tasks.")
		return nil
	}
	printTasks(out, list.Tasks)
	return nil
}

func printTasks(w io.Writer, tasks []taskRow) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tASSIGNEE\tTITLE")
	for _, t := range tasks {
		assignee := "-"
		if t.AssignedAgent != nil {
			assignee = *t.AssignedAgent
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", shortID(t.ID), t.Status, t.Priority, assignee, t.Title)
	}
	tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	tasksCmd.PersistentFlags().Bool("json", false, "print tasks as JSON")
	tasksRecentCmd.Flags().Int("hours", 24, "look-back window in hours (max 720)")
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksRecentCmd)
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Read or post squad chat",
}

type chatList struct {
	Messages []struct {
		AgentID   string `json:"agentId"`
		Message   string `json:"message"`
		Timestamp string `json:"timestamp"`
	} `json:"messages"`
}

var chatListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recent chat messages, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		q := url.Values{"limit": {strconv.Itoa(limit)}}
		resp, err := client.get(cmd.Context(), "/api/chat?"+q.Encode())
		if err != nil {
			return err
		}

		var list chatList
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		// The API returns newest first; print as a transcript.
		for i := len(list.Messages) - 1; i >= 0; i-- {
			m := list.Messages[i]
			fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp, colorize(colorBold, m.AgentID), m.Message)
		}
		return nil
	},
}

var chatPostCmd = &cobra.Command{
	Use:   "post <message>",
	Short: "Post a chat message and relay it to the agents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, _ := cmd.Flags().GetString("agent")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/chat", map[string]any{
			"agent":   agent,
			"content": args[0],
		})
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Posted as %s", agent)
		return nil
	},
}

func init() {
	chatListCmd.Flags().Int("limit", 20, "number of messages to show")
	chatPostCmd.Flags().String("agent", "Operator", "sender name")
	chatCmd.AddCommand(chatListCmd)
	chatCmd.AddCommand(chatPostCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value.

Plain keys are written to the config file. Secret keys (webhook.api_key,
gateway.token, storage.postgres_url) require --secret and are written to the
secrets file with 0600 permissions.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		secret, _ := cmd.Flags().GetBool("secret")

		if secret {
			if err := config.SetSecret(key, value); err != nil {
				return err
			}
			printSuccess("Stored secret %s in %s", key, config.SecretsFilePath())
			return nil
		}

		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config and secrets file locations",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.ConfigFilePath())
		fmt.Fprintln(cmd.OutOrStdout(), config.SecretsFilePath())
	},
}

func init() {
	configSetCmd.Flags().Bool("secret", false, "store the value in the secrets file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
}
