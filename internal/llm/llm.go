package llm

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

	"github.com/TobiSchelling/CompetitorWatch/internal/logging"
)

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	IsConfigured() bool
}

// OllamaProvider is a local Ollama LLM provider.
type OllamaProvider struct {
	Model   string
	BaseURL string
	client  *http.Client
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(model, baseURL string) *OllamaProvider {
	return &OllamaProvider{
		Model:   model,
		BaseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// IsConfigured checks if Ollama is running and the model is available.
func (o *OllamaProvider) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", o.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}

	modelBase := strings.SplitN(o.Model, ":", 2)[0]
	for _, m := range result.Models {
		if strings.Contains(m.Name, modelBase) {
			return true
		}
	}
	logging.Log.Warnf("Ollama model %q not found", o.Model)
	return false
}

// Generate sends a prompt to Ollama and returns the response.
func (o *OllamaProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body := map[string]any{
		"model": o.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"stream": false,
		"options": map[string]any{
			"num_predict":  maxTokens,
			"temperature": 0.3,
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.BaseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	return result.Message.Content, nil
}

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider talks to the OpenAI chat completions API or any server
// compatible with it.
type OpenAIProvider struct {
	Model   string
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewOpenAIProvider creates a new OpenAI provider. An empty baseURL selects
// the public OpenAI endpoint.
func NewOpenAIProvider(model, apiKeyEnv, baseURL string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIProvider{
		Model:   model,
		APIKey:  os.Getenv(apiKeyEnv),
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// IsConfigured checks if the API key is set.
func (o *OpenAIProvider) IsConfigured() bool {
	return o.APIKey != ""
}

// Generate sends a prompt to OpenAI and returns the response.
func (o *OpenAIProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if o.APIKey == "" {
		return "", fmt.Errorf("OpenAI API key not configured")
	}

	body := map[string]any{
		"model": o.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"max_tokens":  maxTokens,
		"temperature": 0.2,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("OpenAI API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in OpenAI response")
	}

	return result.Choices[0].Message.Content, nil
}

// Settings selects and configures a provider.
type Settings struct {
	Provider      string
	Model         string
	OllamaURL     string
	OpenAIModel   string
	OpenAIBaseURL string
	APIKeyEnv     string
	GeminiModel   string
	GeminiKeyEnv  string
}

// CreateProvider creates an LLM provider based on configuration. The
// configured provider is tried first; OpenAI is the fallback for all others.
// Returns nil when nothing is usable.
func CreateProvider(s Settings) Provider {
	switch strings.ToLower(s.Provider) {
	case "ollama":
		p := NewOllamaProvider(s.Model, s.OllamaURL)
		if p.IsConfigured() {
			logging.Log.Infof("Using Ollama with model: %s", s.Model)
			return p
		}
		logging.Log.Warn("Ollama not available, trying OpenAI fallback...")
	case "gemini":
		p := NewGeminiProvider(s.GeminiModel, s.GeminiKeyEnv)
		if p.IsConfigured() {
			logging.Log.Infof("Using Gemini with model: %s", s.GeminiModel)
			return p
		}
		logging.Log.Warn("Gemini API key not set, trying OpenAI fallback...")
	}

	p := NewOpenAIProvider(s.OpenAIModel, s.APIKeyEnv, s.OpenAIBaseURL)
	if p.IsConfigured() {
		logging.Log.Infof("Using OpenAI with model: %s", s.OpenAIModel)
		return p
	}

	logging.Log.Error("No LLM provider available. Check Ollama is running or set an API key.")
	return nil
}
