// ABOUTME: Interactive console that talks to the bot through the JSON message API
// ABOUTME: Lets operators walk the login and attendance flow without WhatsApp

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/2389/rollcall-gateway/internal/gateway"
)

var (
	chatMuted  = lipgloss.Color("#a6adc8")
	chatAccent = lipgloss.Color("#74c7ec")
	chatWarn   = lipgloss.Color("#fab387")

	chatTitle  = lipgloss.NewStyle().Foreground(chatAccent).Bold(true)
	chatPrompt = lipgloss.NewStyle().Foreground(chatAccent)
	chatState  = lipgloss.NewStyle().Foreground(chatMuted).Italic(true)
	chatError  = lipgloss.NewStyle().Foreground(chatWarn).Bold(true)
	chatReply  = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(chatMuted).
			Padding(0, 1)
)

// chatClient posts console lines to POST /api/message as one user.
type chatClient struct {
	baseURL string
	token   string
	userID  string
	http    *http.Client
}

func (c *chatClient) send(ctx context.Context, text string) (*gateway.MessageResponse, error) {
	body, err := json.Marshal(gateway.MessageRequest{
		UserID:    c.userID,
		Text:      text,
		MessageID: uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/message", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out gateway.MessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &out, nil
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the bot from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			client := &chatClient{
				baseURL: opts.baseURL(cfg),
				token:   opts.bearerToken(),
				userID:  userID,
				http:    &http.Client{Timeout: cfg.Bot.MessageDeadline + 5*time.Second},
			}
			return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), client)
		},
	}
	cmd.Flags().StringVar(&userID, "as", "console:operator", "user ID to chat as")
	return cmd
}

func runChat(ctx context.Context, in io.Reader, out io.Writer, client *chatClient) error {
	fmt.Fprintln(out, chatTitle.Render("rollcall chat")+" "+chatState.Render("as "+client.userID+", /quit to leave"))

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, chatPrompt.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := scanner.Text()
		switch strings.TrimSpace(line) {
		case "/quit", "/exit":
			return nil
		case "":
			continue
		}

		reply, err := client.send(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(out, chatError.Render("error: "+err.Error()))
			continue
		}

		fmt.Fprintln(out, chatReply.Render(reply.ReplyText))
		if reply.State != "" {
			fmt.Fprintln(out, chatState.Render("state: "+reply.State))
		}
	}
}
