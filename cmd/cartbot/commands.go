package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/cartbot/internal/config"
)

// --- chat ---

type chatResult struct {
	Response  string `json:"response"`
	Status    string `json:"status"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Error     string `json:"error,omitempty"`
}

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a message to the running server",
	Long: `Send a message to the running server.

Examples:
  cartbot chat "tìm gạo dưới 100k"
  cartbot chat --user u42 "shop Gạo Sạch ABC có gì?"
  cartbot chat --token demo_token_123 "flash sale hôm nay"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		token, _ := cmd.Flags().GetString("token")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		client.token = token

		res, err := sendChat(cmd.Context(), client, strings.Join(args, " "), userID)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, res.Response)
		if res.Status != "success" {
			printWarning("status: %s", res.Status)
		}
		printStatus("Session", "%s (user %s)", res.SessionID, res.UserID)
		return nil
	},
}

func sendChat(ctx context.Context, c *apiClient, message, userID string) (chatResult, error) {
	body := map[string]any{"message": message}
	if userID != "" {
		body["user_id"] = userID
	}
	resp, err := c.post(ctxOrBackground(ctx), "/chat", body)
	if err != nil {
		return chatResult{}, err
	}
	var res chatResult
	if err := decodeJSON(resp, &res); err != nil {
		return chatResult{}, err
	}
	return res, nil
}

func init() {
	chatCmd.Flags().String("user", "", "user id (keeps the conversation in the user's main session)")
	chatCmd.Flags().String("token", "", "bearer token identifying the user")
}

// --- history ---

type historyPage struct {
	UserID     string `json:"user_id"`
	Total      int    `json:"total_messages"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
	TotalPages int    `json:"total_pages"`
	Messages   []struct {
		UserMessage string    `json:"user_message"`
		AIResponse  string    `json:"ai_response"`
		Timestamp   time.Time `json:"timestamp"`
	} `json:"messages"`
}

var historyCmd = &cobra.Command{
	Use:   "history <user-id>",
	Short: "Show or delete a user's chat history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID := args[0]
		page, _ := cmd.Flags().GetInt("page")
		pageSize, _ := cmd.Flags().GetInt("page-size")
		del, _ := cmd.Flags().GetBool("delete")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := ctxOrBackground(cmd.Context())

		if del {
			n, err := deleteHistory(ctx, client, userID)
			if err != nil {
				return err
			}
			printSuccess("Deleted %d session(s) for %s", n, userID)
			return nil
		}

		h, err := fetchHistory(ctx, client, userID, page, pageSize)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(h)
		}
		if h.Total == 0 {
			fmt.Fprintln(stdout, "No history found.")
			return nil
		}
		for _, m := range h.Messages {
			fmt.Fprintf(stdout, "%s  %s\n", colorize(colorCyan, m.Timestamp.Local().Format("2006-01-02 15:04:05")), clip(m.UserMessage, 80))
			fmt.Fprintf(stdout, "  %s\n", clip(m.AIResponse, 200))
		}
		printStatus("Page", "%d/%d (%d messages)", h.Page, h.TotalPages, h.Total)
		return nil
	},
}

func fetchHistory(ctx context.Context, c *apiClient, userID string, page, pageSize int) (historyPage, error) {
	path := fmt.Sprintf("/user/%s/history?page=%d&pageSize=%d", url.PathEscape(userID), page, pageSize)
	resp, err := c.get(ctx, path)
	if err != nil {
		return historyPage{}, err
	}
	var h historyPage
	err = decodeJSON(resp, &h)
	return h, err
}

func deleteHistory(ctx context.Context, c *apiClient, userID string) (int, error) {
	resp, err := c.delete(ctx, "/user/"+url.PathEscape(userID)+"/history")
	if err != nil {
		return 0, err
	}
	var res struct {
		Deleted int `json:"deleted_sessions"`
	}
	if err := decodeJSON(resp, &res); err != nil {
		return 0, err
	}
	return res.Deleted, nil
}

func init() {
	historyCmd.Flags().Int("page", 1, "page number")
	historyCmd.Flags().Int("page-size", 20, "messages per page (max 100)")
	historyCmd.Flags().Bool("delete", false, "delete every session of the user")
	historyCmd.Flags().Bool("json", false, "print the raw JSON page")
}

// --- sessions ---

type sessionList struct {
	UserID   string `json:"user_id"`
	Total    int    `json:"total_sessions"`
	Sessions []struct {
		SessionID    string    `json:"session_id"`
		CreatedAt    time.Time `json:"created_at"`
		MessageCount int       `json:"message_count"`
	} `json:"sessions"`
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions <user-id>",
	Short: "List a user's sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		list, err := fetchSessions(ctxOrBackground(cmd.Context()), client, args[0])
		if err != nil {
			return err
		}
		if list.Total == 0 {
			fmt.Fprintln(stdout, "No sessions found.")
			return nil
		}
		for _, s := range list.Sessions {
			fmt.Fprintf(stdout, "%s  %s  %d messages\n",
				colorize(colorCyan, s.SessionID),
				s.CreatedAt.Local().Format(time.RFC3339),
				s.MessageCount,
			)
		}
		return nil
	},
}

func fetchSessions(ctx context.Context, c *apiClient, userID string) (sessionList, error) {
	resp, err := c.get(ctx, "/user/"+url.PathEscape(userID)+"/sessions")
	if err != nil {
		return sessionList{}, err
	}
	var list sessionList
	err = decodeJSON(resp, &list)
	return list, err
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
			fmt.Fprintf(stdout, "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "("+k.EnvVar+")"))
		}
		if cfg.Completion.APIKey == "" {
			printWarning("completion API key not set (CARTBOT_COMPLETION_API_KEY)")
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value.\n\nValid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
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

func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
