package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client calls an OpenAI-compatible chat completions endpoint. Reply
// generation and todo extraction are two independent single-shot calls.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// ReplyContext carries the optional knobs for reply generation. Missing
// fields fall back to defaults.
type ReplyContext struct {
	ClientName string
	Tone       string
	Template   string
	Signature  string
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
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateReply produces a structured reply draft for the given message
// body. It returns an error only when the completion call itself fails;
// an unparseable response degrades to a raw-text draft.
func (c *Client) GenerateReply(ctx context.Context, messageBody string, rc ReplyContext) (*Reply, error) {
	tone := rc.Tone
	if tone == "" {
		tone = "friendly and professional"
	}
	clientName := rc.ClientName
	if clientName == "" {
		clientName = "the client"
	}
	signature := rc.Signature
	if signature == "" {
		signature = "Best regards"
	}

	system := "You are an assistant that drafts email replies for a creative professional. " +
		"Respond with a single JSON object with the keys: subject, body, closing, signature, trigger_tag. " +
		"trigger_tag is one of \"client approved\", \"client left feedback\", \"client asked question\" or empty. " +
		"Do not include any text outside the JSON object."

	var sb strings.Builder
	fmt.Fprintf(&sb, "Draft a reply to this email from %s. Tone: %s. Sign off with: %s.\n", clientName, tone, signature)
	if rc.Template != "" {
		fmt.Fprintf(&sb, "Follow this template where sensible:\n%s\n", rc.Template)
	}
	fmt.Fprintf(&sb, "\nEmail:\n%s", messageBody)

	content, err := c.complete(ctx, system, sb.String())
	if err != nil {
		return nil, err
	}

	if reply, ok := parseReply(content); ok {
		if reply.Signature == "" {
			reply.Signature = signature
		}
		return reply, nil
	}

	// Unparseable response: keep whatever text came back as the draft
	// body rather than failing the message.
	return &Reply{
		Subject:   "Re: your email",
		Body:      strings.TrimSpace(content),
		Signature: signature,
	}, nil
}

// ExtractTodos mines action items from the raw message body. It is
// best-effort end to end: empty input and unparseable responses yield an
// empty list, and the caller is expected to treat even a transport error
// as soft.
func (c *Client) ExtractTodos(ctx context.Context, messageBody string) ([]TodoItem, error) {
	if strings.TrimSpace(messageBody) == "" {
		return nil, nil
	}

	system := "You extract action items from client emails. " +
		"Respond with a JSON array of objects with the keys: task (imperative, max 120 chars), " +
		"due_date (YYYY-MM-DD or empty), confidence (0 to 1). " +
		"Respond with [] if there are no action items. Do not include any text outside the JSON."

	content, err := c.complete(ctx, system, "Email:\n"+messageBody)
	if err != nil {
		return nil, err
	}
	return parseTodos(content), nil
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.7,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("completion request returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("completion error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("completion response contained no choices")
	}
	return out.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
