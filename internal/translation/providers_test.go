package translation

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/adverant/nexus/mangatrans-worker/internal/config"
	"github.com/adverant/nexus/mangatrans-worker/internal/errors"
)

func TestGoogleProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("client") != "gtx" || q.Get("sl") != "zh" || q.Get("tl") != "en" || q.Get("dt") != "t" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Get("q") != "你好。世界" {
			t.Errorf("q = %q", q.Get("q"))
		}
		io.WriteString(w, `[[["Hello.","你好。",null,null,10],["World","世界",null,null,10]],null,"zh-CN"]`)
	}))
	defer srv.Close()

	p := NewGoogleProvider(GoogleConfig{Endpoint: srv.URL})
	got, err := p.Translate(context.Background(), "你好。世界")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "Hello. World" {
		t.Errorf("got %q", got)
	}
}

func TestGoogleProviderErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusTooManyRequests, "slow down"},
		{"not json array", http.StatusOK, `{"error":"nope"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewGoogleProvider(GoogleConfig{Endpoint: srv.URL}).Translate(context.Background(), "你好")
			if !errors.HasCode(err, errors.ErrorProviderTransport) {
				t.Errorf("err = %v, want PROVIDER_TRANSPORT", err)
			}
		})
	}
}

func TestHuggingFaceProvider(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"array translation_text", `[{"translation_text":"Hello"}]`, "Hello"},
		{"array generated_text", `[{"generated_text":"Hi there"}]`, "Hi there"},
		{"object", `{"translation_text":"Good morning"}`, "Good morning"},
		{"no known field", `[{"label":"x"}]`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.Header.Get("Authorization"); got != "Bearer hf-key" {
					t.Errorf("Authorization = %q", got)
				}
				var req inferenceRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("decode request: %v", err)
				}
				if req.Inputs != "你好" || !req.Options.WaitForModel {
					t.Errorf("request = %+v", req)
				}
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			p, err := NewHuggingFaceProvider(HuggingFaceConfig{Name: "hf", URL: srv.URL, APIKey: "hf-key"})
			if err != nil {
				t.Fatal(err)
			}
			got, err := p.Translate(context.Background(), "你好")
			if err != nil {
				t.Fatalf("Translate: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHuggingFaceProviderLoadingModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":"Model is currently loading"}`)
	}))
	defer srv.Close()

	p, _ := NewHuggingFaceProvider(HuggingFaceConfig{URL: srv.URL})
	_, err := p.Translate(context.Background(), "你好")
	if !errors.HasCode(err, errors.ErrorProviderTransport) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error should carry the status: %v", err)
	}
}

func chatServer(t *testing.T, status int, content string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["model"] != "test-model" {
			t.Errorf("model = %v", body["model"])
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			io.WriteString(w, `{"error":{"message":"invalid api key","type":"auth"}}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
}

func TestChatProvider(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "English translation: \"Where are you going?\"")
	defer srv.Close()

	p, err := NewChatProvider(ChatConfig{Name: "chat", BaseURL: srv.URL, APIKey: "k", Model: "test-model"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Translate(context.Background(), "你去哪里？")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "Where are you going?" {
		t.Errorf("got %q", got)
	}
}

func TestChatProviderAPIError(t *testing.T) {
	srv := chatServer(t, http.StatusUnauthorized, "")
	defer srv.Close()

	p, _ := NewChatProvider(ChatConfig{BaseURL: srv.URL, APIKey: "bad", Model: "test-model"})
	_, err := p.Translate(context.Background(), "你好")
	if !errors.HasCode(err, errors.ErrorProviderTransport) {
		t.Fatalf("err = %v, want PROVIDER_TRANSPORT", err)
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error should carry the status: %v", err)
	}
}

func TestCleanChatReply(t *testing.T) {
	tests := map[string]string{
		"Hello":                        "Hello",
		"  English translation: Hello": "Hello",
		"TRANSLATION: 'Hi'":            "Hi",
		"“Let's go!”":                  "Let's go!",
		"\"Stop right there\"\n":       "Stop right there",
	}
	for in, want := range tests {
		if got := cleanChatReply(in); got != want {
			t.Errorf("cleanChatReply(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewChainFromConfig(t *testing.T) {
	cfg := &config.Config{
		ProviderTimeout: 0,
		TranslationProviders: []config.ProviderConfig{
			{Kind: config.ProviderGoogle, Name: "g"},
			{Kind: config.ProviderHuggingFace, Name: "hf", URL: "http://hf.invalid/model"},
			{Kind: config.ProviderChat, Name: "keyless"},
			{Kind: config.ProviderChat, Name: "chat", APIKey: "k"},
		},
	}
	chain, err := NewChainFromConfig(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(chain.Providers(), ","); got != "g,hf,chat" {
		t.Errorf("providers = %s", got)
	}

	cfg.TranslationProviders = []config.ProviderConfig{{Kind: "babelfish"}}
	if _, err := NewChainFromConfig(cfg, nil); err == nil {
		t.Error("expected error for unknown provider kind")
	}

	cfg.TranslationProviders = []config.ProviderConfig{{Kind: config.ProviderChat, Name: "keyless"}}
	if _, err := NewChainFromConfig(cfg, nil); err == nil {
		t.Error("expected error when every provider is skipped")
	}
}

func TestProviderErrorsAreNotDoubleWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newChain(t, NewGoogleProvider(GoogleConfig{Name: "g", Endpoint: srv.URL}))
	_, err := c.Translate(context.Background(), "你好")

	var pe *errors.ProcessingError
	if !goerrors.As(err, &pe) || pe.Code != errors.ErrorAllProvidersExhausted {
		t.Fatalf("err = %v", err)
	}
	cause, ok := pe.Cause.(*errors.ProcessingError)
	if !ok || cause.Code != errors.ErrorProviderTransport {
		t.Fatalf("cause = %v", pe.Cause)
	}
	if _, nested := cause.Cause.(*errors.ProcessingError); nested {
		t.Errorf("transport error wrapped twice: %v", err)
	}
}
