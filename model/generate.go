package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const DefaultGenerateTimeout = 120 * time.Second

var ErrNoJSON = errors.New("no valid json found")

// Generator produces a completion for a system/user prompt pair.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

type GenerateRequest struct {
	Model   string          `json:"model"`
	System  string          `json:"system,omitempty"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format,omitempty"`
	Options GenerateOptions `json:"options"`
}

type GenerateOptions struct {
	Temperature float32 `json:"temperature"`
	TopP        float32 `json:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
}

type GenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// OllamaGenerator calls the Ollama /api/generate endpoint.
type OllamaGenerator struct {
	URL    string
	Model  string
	client *http.Client
	logger *slog.Logger
}

func NewOllamaGenerator(url, model string) *OllamaGenerator {
	return &OllamaGenerator{
		URL:    url,
		Model:  model,
		client: &http.Client{Timeout: DefaultGenerateTimeout},
		logger: slog.Default(),
	}
}

func (g *OllamaGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	reqBody, err := json.Marshal(GenerateRequest{
		Model:   g.Model,
		System:  system,
		Prompt:  prompt,
		Stream:  false,
		Options: GenerateOptions{Temperature: 0, TopP: 0.9, TopK: 20},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	defer func() {
		g.logger.Debug("llm answer", "model", g.Model, "took", time.Since(start))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var genResp GenerateResponse
	if err := json.Unmarshal(body, &genResp); err == nil && genResp.Done {
		return genResp.Response, nil
	}

	// Потоковый ответ: соберём всё в строку
	var b strings.Builder
	decoder := json.NewDecoder(bytes.NewReader(body))
	for decoder.More() {
		var chunk GenerateResponse
		if err := decoder.Decode(&chunk); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		b.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	return b.String(), nil
}

// GenerateJSON asks for a JSON object and re-prompts with a repair instruction
// until the answer contains one or maxAttempts is reached.
func GenerateJSON(ctx context.Context, g Generator, system, prompt string, maxAttempts int) (string, error) {
	var lastErr error
	var raw string

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		var err error
		if attempt == 1 {
			raw, err = g.Generate(ctx, system, prompt)
		} else {
			raw, err = g.Generate(ctx, system, buildRepairPrompt(raw))
		}
		if err != nil {
			lastErr = err
			sleep(ctx, time.Duration(attempt)*300*time.Millisecond)
			continue
		}

		jsonStr, err := ExtractJSON(raw)
		if err == nil {
			return jsonStr, nil
		}
		lastErr = err
	}

	return "", fmt.Errorf("json generation failed after %d attempts: %w", maxAttempts, lastErr)
}

// ExtractJSON returns the outermost {...} span of s.
func ExtractJSON(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")

	if start == -1 || end == -1 || end <= start {
		return s, ErrNoJSON
	}
	return s[start : end+1], nil
}

func buildRepairPrompt(badOutput string) string {
	return fmt.Sprintf(`
You previously returned an invalid JSON.

Your task is to FIX the JSON.

RULES:
- Output ONLY valid JSON
- Output MUST start with '{' and end with '}'
- Do NOT add explanations or markdown

INVALID OUTPUT:
%s
`, badOutput)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
