package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/canonica-labs/groundsql/internal/errors"
)

const systemPrompt = "You are a careful assistant for a Microsoft SQL Server analytics database. " +
	"Follow the rules in the user message exactly."

// OpenAIConfig configures an OpenAI-compatible chat completion client.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
}

// OpenAIClient calls POST {base}/chat/completions.
type OpenAIClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

// NewOpenAIClient validates cfg and creates a client.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("oracle: base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.NewMissingConfiguration([]string{"oracle.api_key"})
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &OpenAIClient{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		client:      client,
	}, nil
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete implements Oracle.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", errors.NewOracleFailure(errors.OracleMalformedResponse, errors.Wrap(err, "marshal chat payload"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", errors.NewOracleFailure(errors.OracleUnavailable, errors.Wrap(err, "build chat request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", classifyTransportError(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", errors.NewOracleFailure(errors.OracleUnavailable, errors.Wrap(err, "read chat response body"))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", errors.NewOracleFailure(errors.OracleRateLimited, statusError(resp.StatusCode, raw))
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return "", errors.NewOracleFailure(errors.OracleTimeout, statusError(resp.StatusCode, raw))
	case resp.StatusCode >= 500:
		return "", errors.NewOracleFailure(errors.OracleUnavailable, statusError(resp.StatusCode, raw))
	case resp.StatusCode >= 400:
		// Bad key, bad model or bad payload: retrying will not help.
		return "", errors.NewOracleFailure(errors.OracleMalformedResponse, statusError(resp.StatusCode, raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", errors.NewOracleFailure(errors.OracleMalformedResponse, errors.Wrap(err, "decode chat completion response"))
	}
	if len(parsed.Choices) == 0 {
		return "", errors.NewOracleFailure(errors.OracleMalformedResponse, errors.New("empty chat completion choices"))
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", errors.NewOracleFailure(errors.OracleMalformedResponse, errors.New("empty completion text"))
	}
	return content, nil
}

func statusError(status int, body []byte) error {
	text := strings.TrimSpace(string(body))
	if len(text) > 512 {
		text = text[:512] + "..."
	}
	return errors.Newf("chat completion failed status=%d body=%s", status, text)
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.NewOracleFailure(errors.OracleTimeout, errors.Mark(err, errors.ErrTimeout))
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.NewOracleFailure(errors.OracleTimeout, errors.Mark(err, errors.ErrTimeout))
	}
	return errors.NewOracleFailure(errors.OracleUnavailable, errors.Wrap(err, "request chat completion"))
}
