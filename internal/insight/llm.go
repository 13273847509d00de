package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client calls a configured LLM provider to summarize a rendered prompt.
// A nil *Client (returned when no provider is configured) means every
// call short-circuits to the deterministic fallback insight.
type Client struct {
	provider string
	limiter  *rate.Limiter
	http     *http.Client
}

// NewClientFromEnv builds a Client from INSIGHT_PROVIDER, or returns nil
// when unset so callers always fall back to the payload-echo insight.
func NewClientFromEnv() *Client {
	provider := strings.TrimSpace(os.Getenv("INSIGHT_PROVIDER"))
	if provider == "" {
		return nil
	}
	return &Client{
		provider: strings.ToLower(provider),
		limiter:  rate.NewLimiter(rate.Limit(2), 4),
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Summarize renders the skill's template against params and calls the
// configured LLM, parsing its response into zero or more Insights.
func (c *Client) Summarize(ctx context.Context, skill Skill, params map[string]string) ([]Insight, error) {
	if c == nil {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	prompt := renderTemplate(skill, params)
	resp, err := c.call(ctx, skill, prompt)
	if err != nil || strings.TrimSpace(resp) == "" {
		return nil, err
	}
	return parseInsightJSON(resp, skill.MaxInsights)
}

func renderTemplate(skill Skill, params map[string]string) string {
	out := skill.Template
	for k, v := range params {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	if strings.Contains(out, "{{payload}}") {
		if b, err := json.MarshalIndent(params, "", "  "); err == nil {
			payload := string(b)
			if len(payload) > 2000 {
				payload = payload[:2000] + "... (truncated)"
			}
			out = strings.ReplaceAll(out, "{{payload}}", payload)
		}
	}
	return out
}

func (c *Client) call(ctx context.Context, skill Skill, prompt string) (string, error) {
	provider := c.provider
	if provider == "" {
		provider = strings.ToLower(skill.ModelProvider)
	}
	model := os.Getenv("INSIGHT_MODEL")
	if model == "" {
		model = skill.ModelName
	}
	switch provider {
	case "anthropic":
		return c.callAnthropic(ctx, model, prompt, skill.ModelTemp)
	case "openai", "":
		return c.callOpenAI(ctx, orDefault(model, "gpt-4o-mini"), prompt, skill.ModelTemp)
	default:
		return "", fmt.Errorf("unsupported insight provider: %s", provider)
	}
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

type openAIChatRequest struct {
	Model       string       `json:"model"`
	Messages    []openAIChat `json:"messages"`
	Temperature float64      `json:"temperature,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
}

type openAIChat struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) callOpenAI(ctx context.Context, model, prompt string, temp float64) (string, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return "", fmt.Errorf("OPENAI_API_KEY not set")
	}
	data, err := json.Marshal(openAIChatRequest{
		Model:       model,
		Messages:    []openAIChat{{Role: "user", Content: prompt}},
		Temperature: temp,
		MaxTokens:   1024,
	})
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai status %d: %s", resp.StatusCode, string(body))
	}
	var parsed openAIChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai returned empty content")
	}
	return parsed.Choices[0].Message.Content, nil
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Messages    []anthMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type anthMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *Client) callAnthropic(ctx context.Context, model, prompt string, temp float64) (string, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return "", fmt.Errorf("ANTHROPIC_API_KEY not set")
	}
	model = orDefault(model, "claude-3-haiku-20240307")
	data, err := json.Marshal(anthropicRequest{
		Model:       model,
		MaxTokens:   1024,
		Temperature: temp,
		Messages:    []anthMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("content-type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic status %d: %s", resp.StatusCode, string(body))
	}
	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Content) == 0 || parsed.Content[0].Text == "" {
		return "", fmt.Errorf("anthropic returned empty content")
	}
	return parsed.Content[0].Text, nil
}
