package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider calls the Google Gemini generateContent REST API.
type GeminiProvider struct {
	Model   string
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewGeminiProvider creates a new Gemini provider.
func NewGeminiProvider(model, apiKeyEnv string) *GeminiProvider {
	return &GeminiProvider{
		Model:   model,
		APIKey:  os.Getenv(apiKeyEnv),
		BaseURL: defaultGeminiBaseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// IsConfigured checks if the API key is set.
func (g *GeminiProvider) IsConfigured() bool {
	return g.APIKey != ""
}

// Generate sends a prompt to Gemini and returns the concatenated text parts
// of the first candidate.
func (g *GeminiProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if g.APIKey == "" {
		return "", fmt.Errorf("Gemini API key not configured")
	}

	body := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]any{
			"maxOutputTokens": maxTokens,
			"temperature":     0.2,
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(g.BaseURL, "/"), url.PathEscape(g.Model), url.QueryEscape(g.APIKey))
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("Gemini API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	if len(result.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in Gemini response")
	}

	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response from Gemini")
	}
	return sb.String(), nil
}
