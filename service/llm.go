package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// TextGenerator turns a prompt into text. Callers treat every error as recoverable.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, jsonOutput bool) (string, error)
}

// groqAPIURL is a var so tests can point it at an httptest server.
var groqAPIURL = "https://api.groq.com/openai/v1/chat/completions"

// SetGroqAPIURL overrides the Groq endpoint. Intended for tests only.
func SetGroqAPIURL(u string) { groqAPIURL = u }

// groqRetryWait is the pause before retry attempt n (0-based) after a 429.
var groqRetryWait = func(attempt int) time.Duration {
	return time.Duration(10*(attempt+1)) * time.Second // 10s, 20s
}

const groqMaxRetries = 3

// GroqGenerator calls the Groq chat-completions API.
type GroqGenerator struct {
	apiKey string
	model  string
	client *http.Client
	budget *callBudget
}

// NewGroqGenerator returns a generator limited to 50 calls per minute.
func NewGroqGenerator(apiKey, model string) *GroqGenerator {
	return &GroqGenerator{
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: 30 * time.Second},
		budget: newCallBudget(50, time.Minute),
	}
}

// NewTextGenerator returns a Groq generator, or DisabledGenerator when no key is set.
func NewTextGenerator(apiKey, model string) TextGenerator {
	if apiKey == "" {
		log.Println("[NewTextGenerator] GROQ_API_KEY not set, CAPA generation uses local templates")
		return DisabledGenerator{}
	}
	return NewGroqGenerator(apiKey, model)
}

type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type groqResponseFormat struct {
	Type string `json:"type"`
}

type groqRequest struct {
	Messages       []groqMessage       `json:"messages"`
	Model          string              `json:"model"`
	Temperature    float64             `json:"temperature"`
	MaxTokens      int                 `json:"max_tokens"`
	ResponseFormat *groqResponseFormat `json:"response_format,omitempty"`
}

type groqResponse struct {
	Choices []struct {
		Message groqMessage `json:"message"`
	} `json:"choices"`
}

// Generate sends prompt to Groq, retrying on 429 responses.
func (g *GroqGenerator) Generate(ctx context.Context, prompt string, jsonOutput bool) (string, error) {
	if !g.budget.take() {
		log.Println("[GroqGenerator.Generate] Rate limit exceeded for Groq API calls locally")
		return "", fmt.Errorf("local rate limit exceeded for groq")
	}

	body := groqRequest{
		Messages:    []groqMessage{{Role: "user", Content: prompt}},
		Model:       g.model,
		Temperature: 0.7,
		MaxTokens:   1500,
	}
	if jsonOutput {
		body.ResponseFormat = &groqResponseFormat{Type: "json_object"}
	}
	reqBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to create request body: %w", err)
	}

	var resp *http.Response
	for attempt := 0; attempt < groqMaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, groqAPIURL, bytes.NewReader(reqBody))
		if err != nil {
			return "", fmt.Errorf("failed to create Groq request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err = g.client.Do(req)
		if err != nil {
			return "", fmt.Errorf("groq request failed: %w", err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			break
		}
		log.Printf("[GroqGenerator.Generate] Rate limit hit (attempt %d), status: %s", attempt+1, resp.Status)
		resp.Body.Close()
		if attempt == groqMaxRetries-1 {
			return "", fmt.Errorf("groq rate limited after %d attempts", groqMaxRetries)
		}

		wait := groqRetryWait(attempt)
		log.Printf("[GroqGenerator.Generate] Retrying in %v...", wait)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read Groq response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("groq: HTTP %d: %s", resp.StatusCode, truncate(string(respBytes), 200))
	}

	var result groqResponse
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return "", fmt.Errorf("failed to parse Groq response structure: %w", err)
	}
	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("groq: empty choices in response")
	}
	return result.Choices[0].Message.Content, nil
}

// DisabledGenerator is used when no text-generation backend is configured.
type DisabledGenerator struct{}

func (DisabledGenerator) Generate(context.Context, string, bool) (string, error) {
	return "", ErrGenerationDisabled
}

// stripFences removes a surrounding markdown code fence (```json ... ```).
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
	}
	if strings.HasSuffix(s, "```") {
		if idx := strings.LastIndex(s, "\n```"); idx >= 0 {
			s = s[:idx]
		} else {
			s = strings.TrimSuffix(s, "```")
		}
	}
	return strings.TrimSpace(s)
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
