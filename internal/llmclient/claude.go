// Package llmclient wraps the Anthropic Messages API for tutoring turns:
// given the bounded prompt the session layer builds, it returns the
// assistant's reply text for the confidence monitor to score.
package llmclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/apresai/voicetutor/internal/fovcontext"
)

// modelAliases maps the platform's named model tiers to concrete
// Anthropic model IDs.
var modelAliases = map[string]string{
	"haiku":  "claude-haiku-4-5-20251001",
	"sonnet": "claude-sonnet-4-5-20250929",
	"opus":   "claude-opus-4-5-20251101",
}

const (
	defaultTemperature = 0.6
	defaultMaxTokens   = 2048
	maxRetries         = 3
	initialBackoff     = 1 * time.Second
	backoffMult        = 2
)

// Client generates tutoring turns from a bounded FOV prompt.
type Client struct {
	model  string
	apiKey string // optional per-request override; empty = env ANTHROPIC_API_KEY
}

// NewClient builds a Client for the named model alias ("haiku", "sonnet",
// "opus"). An unknown alias falls back to "haiku".
func NewClient(model, apiKey string) *Client {
	return &Client{model: model, apiKey: apiKey}
}

func (c *Client) resolveModel() string {
	if id, ok := modelAliases[c.model]; ok {
		return id
	}
	return modelAliases["haiku"]
}

// Reply sends messages (system message first, as fovcontext.Manager
// produces) to the model and returns the assistant's text, retrying
// transient failures with exponential backoff.
func (c *Client) Reply(ctx context.Context, messages []fovcontext.Message) (string, error) {
	var client anthropic.Client
	if c.apiKey != "" {
		client = anthropic.NewClient(option.WithAPIKey(c.apiKey))
	} else {
		client = anthropic.NewClient()
	}

	sysPrompt, turns := splitSystem(messages)

	var lastErr error
	backoff := initialBackoff

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:       anthropic.Model(c.resolveModel()),
			MaxTokens:   defaultMaxTokens,
			Temperature: anthropic.Float(defaultTemperature),
			System: []anthropic.TextBlockParam{
				{Text: sysPrompt},
			},
			Messages: turns,
		})
		if err != nil {
			lastErr = fmt.Errorf("claude API error (attempt %d/%d): %w", attempt, maxRetries, err)
			if !c.wait(ctx, attempt, &backoff) {
				return "", ctx.Err()
			}
			continue
		}

		text := extractText(resp)
		if text == "" {
			lastErr = fmt.Errorf("empty response from claude (attempt %d/%d)", attempt, maxRetries)
			if !c.wait(ctx, attempt, &backoff) {
				return "", ctx.Err()
			}
			continue
		}

		return text, nil
	}

	return "", lastErr
}

func (c *Client) wait(ctx context.Context, attempt int, backoff *time.Duration) bool {
	if attempt >= maxRetries {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(*backoff):
	}
	*backoff *= time.Duration(backoffMult)
	return true
}

// splitSystem pulls the leading system message (if any) out of messages
// and converts the remainder to Anthropic message params.
func splitSystem(messages []fovcontext.Message) (string, []anthropic.MessageParam) {
	var sysPrompt string
	start := 0
	if len(messages) > 0 && messages[0].Role == "system" {
		sysPrompt = messages[0].Content
		start = 1
	}

	turns := make([]anthropic.MessageParam, 0, len(messages)-start)
	for _, m := range messages[start:] {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			turns = append(turns, anthropic.NewAssistantMessage(block))
		} else {
			turns = append(turns, anthropic.NewUserMessage(block))
		}
	}
	return sysPrompt, turns
}

func extractText(msg *anthropic.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			parts = append(parts, tb.Text)
		}
	}
	return strings.Join(parts, "")
}
