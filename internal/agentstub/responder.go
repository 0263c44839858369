package agentstub

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

// Exchange is one prior message in a connection's conversation.
type Exchange struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Responder produces the agent's reply to a user utterance.
type Responder interface {
	Reply(ctx context.Context, history []Exchange, text string) (string, error)
}

// EchoResponder answers without any model, for local development.
type EchoResponder struct{}

func (EchoResponder) Reply(_ context.Context, history []Exchange, text string) (string, error) {
	turn := len(history)/2 + 1
	return fmt.Sprintf("Turn %d. You said: %s", turn, strings.TrimSpace(text)), nil
}

const defaultCerebrasURL = "https://api.cerebras.ai/v1/chat/completions"

// CerebrasResponder calls an OpenAI-compatible chat completions endpoint.
type CerebrasResponder struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
	Endpoint   string
}

type chatCompletionsRequest struct {
	Model    string     `json:"model"`
	Messages []Exchange `json:"messages"`
}

type chatChoice struct {
	Index        int      `json:"index"`
	FinishReason string   `json:"finish_reason"`
	Message      Exchange `json:"message"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

func NewCerebrasResponder(apiKey, model string) *CerebrasResponder {
	if model == "" {
		model = "llama3.1-8b"
	}
	return &CerebrasResponder{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		APIKey:     apiKey,
		Model:      model,
		Endpoint:   defaultCerebrasURL,
	}
}

func (c *CerebrasResponder) Reply(ctx context.Context, history []Exchange, text string) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("cerebras api key missing")
	}
	messages := make([]Exchange, 0, len(history)+2)
	messages = append(messages, Exchange{Role: "system", Content: "You are a helpful, concise voice AI agent. Answer clearly and briefly."})
	messages = append(messages, history...)
	messages = append(messages, Exchange{Role: "user", Content: text})

	reqBody, _ := json.Marshal(chatCompletionsRequest{Model: c.Model, Messages: messages})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("cerebras error: status=%d body=%s", resp.StatusCode, string(b))
	}
	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", err
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("cerebras: empty choices")
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}
