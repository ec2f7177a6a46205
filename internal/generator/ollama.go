package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/felixgeelhaar/courseforge/internal/domain"
)

// OllamaGenerator asks an Ollama chat model for JSON content trees.
type OllamaGenerator struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

// OllamaConfig holds configuration for the Ollama generator
type OllamaConfig struct {
	BaseURL string // default: http://localhost:11434
	Model   string // default: llama3.1
	APIKey  string // sent as a bearer token when set, for hosted gateways
	Timeout time.Duration
}

// NewOllamaGenerator creates a new Ollama-backed generator
func NewOllamaGenerator(cfg OllamaConfig) *OllamaGenerator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	return &OllamaGenerator{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		httpClient: newHTTPClient(cfg.Timeout),
	}
}

// newHTTPClient creates an HTTP client for slow generation calls
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   5,
		MaxConnsPerHost:       10,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

func (g *OllamaGenerator) Name() string {
	return "ollama"
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
}

type ollamaResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

const courseSystemPrompt = `You write self-study courses. Reply with JSON only, shaped as
{"title": string, "modules": [{"title": string, "lessons": [{"title": string, "body": string}]}]}.
Use 3 to 6 modules with 2 to 5 lessons each. Lesson bodies are markdown.`

const projectSystemPrompt = `You write hands-on practice projects. Reply with JSON only, shaped as
{"title": string, "steps": [{"title": string, "body": string}]}.
Use 4 to 10 steps. Step bodies are markdown.`

// GenerateCourse implements Generator.
func (g *OllamaGenerator) GenerateCourse(ctx context.Context, topic string, difficulty domain.Difficulty) (domain.CourseContent, error) {
	var c domain.CourseContent
	if err := g.chat(ctx, courseSystemPrompt, userPrompt("course", topic, difficulty), &c); err != nil {
		return domain.CourseContent{}, err
	}
	if err := ValidateCourse(c); err != nil {
		return domain.CourseContent{}, err
	}
	return c, nil
}

// GenerateProject implements Generator.
func (g *OllamaGenerator) GenerateProject(ctx context.Context, topic string, difficulty domain.Difficulty) (domain.ProjectContent, error) {
	var p domain.ProjectContent
	if err := g.chat(ctx, projectSystemPrompt, userPrompt("project", topic, difficulty), &p); err != nil {
		return domain.ProjectContent{}, err
	}
	if err := ValidateProject(p); err != nil {
		return domain.ProjectContent{}, err
	}
	return p, nil
}

func userPrompt(kind, topic string, difficulty domain.Difficulty) string {
	return fmt.Sprintf("Write a %s %s about: %s", difficulty, kind, topic)
}

// chat sends one non-streaming chat request and decodes the reply into out.
func (g *OllamaGenerator) chat(ctx context.Context, system, user string, out any) error {
	body, err := json.Marshal(ollamaRequest{
		Model: g.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Format:  "json",
		Options: &ollamaOptions{Temperature: 0.4},
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: string(bodyBytes)}
	}

	var chatResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrMalformed, err)
	}
	if err := json.Unmarshal([]byte(chatResp.Message.Content), out); err != nil {
		return fmt.Errorf("%w: decode content: %w", ErrMalformed, err)
	}
	return nil
}

var _ Generator = (*OllamaGenerator)(nil)
