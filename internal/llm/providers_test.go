package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "secret" {
			t.Errorf("missing api key header")
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "claude-haiku-4" {
			t.Errorf("unexpected model %v", body["model"])
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"{\"ok\":"},{"type":"text","text":"true}"}]}`))
	}))
	defer srv.Close()

	t.Setenv("TEST_ANTHROPIC_KEY", "secret")
	p := NewAnthropicProvider("claude-haiku-4", "TEST_ANTHROPIC_KEY", srv.URL, 0)
	if !p.IsConfigured() {
		t.Fatal("expected provider to be configured")
	}

	out, err := p.Generate(context.Background(), "hi", 100)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != `{"ok":true}` {
		t.Errorf("unexpected output %q", out)
	}
}

func TestUnauthorizedIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	t.Setenv("TEST_KEY", "bad")
	providers := map[string]Provider{
		"anthropic": NewAnthropicProvider("m", "TEST_KEY", srv.URL, 0),
		"openai":    NewOpenAIProvider("m", "TEST_KEY", srv.URL, 0),
	}
	for name, p := range providers {
		t.Run(name, func(t *testing.T) {
			_, err := p.Generate(context.Background(), "hi", 10)
			if !errors.Is(err, ErrUnauthorized) {
				t.Errorf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing bearer token")
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"hello"}}]}`))
	}))
	defer srv.Close()

	t.Setenv("TEST_OPENAI_KEY", "k")
	out, err := NewOpenAIProvider("gpt", "TEST_OPENAI_KEY", srv.URL, 0).Generate(context.Background(), "hi", 10)
	if err != nil || out != "hello" {
		t.Errorf("got %q, %v", out, err)
	}
}

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write([]byte(`{"models":[{"name":"qwen2.5:7b"}]}`))
		case "/api/chat":
			w.Write([]byte(`{"message":{"content":"{}"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewOllamaProvider("qwen2.5:7b", srv.URL, 0)
	if !p.IsConfigured() {
		t.Fatal("expected model to be found")
	}
	out, err := p.Generate(context.Background(), "hi", 10)
	if err != nil || out != "{}" {
		t.Errorf("got %q, %v", out, err)
	}
}

func TestCreateProviderFallsBackToNil(t *testing.T) {
	if p := CreateProvider(Options{Provider: "mock"}); p != nil {
		t.Error("expected nil for mock provider")
	}
	t.Setenv("EMPTY_KEY", "")
	if p := CreateProvider(Options{Provider: "anthropic", APIKeyEnv: "EMPTY_KEY"}); p != nil {
		t.Error("expected nil when api key is missing")
	}
}

func TestDecodeJSONResponseWithProse(t *testing.T) {
	var v struct {
		Score int `json:"score"`
	}
	if err := DecodeJSONResponse("Here you go:\n{\"score\": 81}\nThanks", &v); err != nil {
		t.Fatalf("DecodeJSONResponse: %v", err)
	}
	if v.Score != 81 {
		t.Errorf("score = %d", v.Score)
	}
	if err := DecodeJSONResponse("no json", &v); err == nil {
		t.Error("expected error")
	}
}
