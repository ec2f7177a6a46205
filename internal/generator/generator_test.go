package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/felixgeelhaar/courseforge/internal/domain"
)

func chatServer(t *testing.T, status int, content string, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q; want /api/chat", r.URL.Path)
		}
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Format != "json" || req.Stream {
			t.Errorf("request format=%q stream=%v; want json, false", req.Format, req.Stream)
		}
		if status != http.StatusOK {
			http.Error(w, "busy", status)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaResponse{Message: ollamaMessage{Role: "assistant", Content: content}, Done: true})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaGenerator_GenerateCourse(t *testing.T) {
	content := `{"title":"Go","modules":[{"title":"Basics","lessons":[{"title":"Vars","body":"x := 1"}]}]}`
	srv := chatServer(t, http.StatusOK, content, nil)

	g := NewOllamaGenerator(OllamaConfig{BaseURL: srv.URL + "/"})
	c, err := g.GenerateCourse(context.Background(), "go", domain.DifficultyBeginner)
	if err != nil {
		t.Fatalf("GenerateCourse() error = %v", err)
	}
	if c.Title != "Go" || len(c.Modules) != 1 || c.Modules[0].Lessons[0].Title != "Vars" {
		t.Errorf("GenerateCourse() = %+v", c)
	}
}

func TestOllamaGenerator_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		content string
		project bool
		want    error
	}{
		{"server busy", http.StatusServiceUnavailable, "", false, ErrUnavailable},
		{"not json", http.StatusOK, "sure! here is a course", false, ErrMalformed},
		{"no modules", http.StatusOK, `{"title":"x","modules":[]}`, false, ErrMalformed},
		{"empty module", http.StatusOK, `{"modules":[{"title":"m","lessons":[]}]}`, false, ErrMalformed},
		{"no steps", http.StatusOK, `{"title":"x","steps":[]}`, true, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := chatServer(t, tt.status, tt.content, nil)
			g := NewOllamaGenerator(OllamaConfig{BaseURL: srv.URL})

			var err error
			if tt.project {
				_, err = g.GenerateProject(context.Background(), "go", domain.DifficultyAdvanced)
			} else {
				_, err = g.GenerateCourse(context.Background(), "go", domain.DifficultyAdvanced)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v; want %v", err, tt.want)
			}
		})
	}
}

func TestOllamaGenerator_SendsAPIKey(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(ollamaResponse{Message: ollamaMessage{Content: `{"steps":[{"title":"one"}]}`}})
	}))
	defer srv.Close()

	g := NewOllamaGenerator(OllamaConfig{BaseURL: srv.URL, APIKey: "secret"})
	if _, err := g.GenerateProject(context.Background(), "go", domain.DifficultyBeginner); err != nil {
		t.Fatalf("GenerateProject() error = %v", err)
	}
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q; want %q", auth, "Bearer secret")
	}
}

func TestStatusError_Retryable(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		e := &StatusError{Code: tt.code}
		if got := e.Retryable(); got != tt.want {
			t.Errorf("StatusError{%d}.Retryable() = %v; want %v", tt.code, got, tt.want)
		}
		if !errors.Is(e, ErrUnavailable) {
			t.Errorf("StatusError{%d} should match ErrUnavailable", tt.code)
		}
	}
}

func TestStatic(t *testing.T) {
	g := NewStatic()
	c, err := g.GenerateCourse(context.Background(), "  rust ", domain.DifficultyIntermediate)
	if err != nil {
		t.Fatalf("GenerateCourse() error = %v", err)
	}
	if err := ValidateCourse(c); err != nil {
		t.Errorf("static course invalid: %v", err)
	}
	if len(c.Modules) != 3 || len(c.Modules[0].Lessons) != 3 {
		t.Errorf("course shape = %d modules, %d lessons; want 3, 3", len(c.Modules), len(c.Modules[0].Lessons))
	}
	if !strings.HasPrefix(c.Title, "rust") {
		t.Errorf("Title = %q; want rust prefix", c.Title)
	}

	p, err := g.GenerateProject(context.Background(), "rust", domain.DifficultyBeginner)
	if err != nil {
		t.Fatalf("GenerateProject() error = %v", err)
	}
	if len(p.Steps) != 5 {
		t.Errorf("steps = %d; want 5", len(p.Steps))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.GenerateCourse(ctx, "rust", domain.DifficultyBeginner); !errors.Is(err, context.Canceled) {
		t.Errorf("GenerateCourse(cancelled) error = %v; want context.Canceled", err)
	}
}

func fastRetryConfig() ResilientConfig {
	return ResilientConfig{
		EnableRetry:  true,
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
	}
}

func TestResilient_RetriesUnavailable(t *testing.T) {
	var calls int32
	srv := chatServer(t, http.StatusServiceUnavailable, "", &calls)

	r := NewResilient(NewOllamaGenerator(OllamaConfig{BaseURL: srv.URL}), fastRetryConfig())
	defer r.Close()

	_, err := r.GenerateCourse(context.Background(), "go", domain.DifficultyBeginner)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v; want ErrUnavailable", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d; want 3", got)
	}
}

func TestResilient_DoesNotRetryMalformed(t *testing.T) {
	var calls int32
	srv := chatServer(t, http.StatusOK, "not json", &calls)

	r := NewResilient(NewOllamaGenerator(OllamaConfig{BaseURL: srv.URL}), fastRetryConfig())
	defer r.Close()

	_, err := r.GenerateCourse(context.Background(), "go", domain.DifficultyBeginner)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("error = %v; want ErrMalformed", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d; want 1", got)
	}
}

func TestResilient_PassesThrough(t *testing.T) {
	r := NewResilient(NewStatic(), DefaultResilientConfig())
	defer r.Close()

	if r.Name() != "static" {
		t.Errorf("Name() = %q; want static", r.Name())
	}
	c, err := r.GenerateCourse(context.Background(), "go", domain.DifficultyBeginner)
	if err != nil {
		t.Fatalf("GenerateCourse() error = %v", err)
	}
	if len(c.Modules) == 0 {
		t.Error("GenerateCourse() returned no modules")
	}
	p, err := r.GenerateProject(context.Background(), "go", domain.DifficultyBeginner)
	if err != nil {
		t.Fatalf("GenerateProject() error = %v", err)
	}
	if len(p.Steps) == 0 {
		t.Error("GenerateProject() returned no steps")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		last error
		want error
	}{
		{"nil", nil, nil, nil},
		{"breaker open", errors.New("circuit breaker is open"), nil, ErrUnavailable},
		{"last malformed", errors.New("max attempts"), ErrMalformed, ErrMalformed},
		{"cancelled", context.Canceled, context.Canceled, context.Canceled},
	}
	for _, tt := range tests {
		got := classify(tt.err, tt.last)
		if tt.want == nil {
			if got != nil {
				t.Errorf("%s: classify() = %v; want nil", tt.name, got)
			}
			continue
		}
		if !errors.Is(got, tt.want) {
			t.Errorf("%s: classify() = %v; want %v", tt.name, got, tt.want)
		}
	}
}
