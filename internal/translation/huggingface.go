package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/adverant/nexus/mangatrans-worker/internal/errors"
)

// HuggingFaceConfig configures a HuggingFaceProvider.
type HuggingFaceConfig struct {
	Name       string
	URL        string // model inference URL
	APIKey     string // optional; anonymous calls are rate limited
	HTTPClient *http.Client
}

// HuggingFaceProvider calls a hosted translation model on the inference API.
type HuggingFaceProvider struct {
	name       string
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewHuggingFaceProvider creates an inference API provider.
func NewHuggingFaceProvider(cfg HuggingFaceConfig) (*HuggingFaceProvider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("huggingface provider %q: url is required", cfg.Name)
	}
	if cfg.Name == "" {
		cfg.Name = "huggingface"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &HuggingFaceProvider{
		name:       cfg.Name,
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		httpClient: cfg.HTTPClient,
	}, nil
}

func (h *HuggingFaceProvider) Name() string { return h.name }

type inferenceRequest struct {
	Inputs  string           `json:"inputs"`
	Options inferenceOptions `json:"options"`
}

type inferenceOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

func (h *HuggingFaceProvider) Translate(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(inferenceRequest{
		Inputs:  text,
		Options: inferenceOptions{WaitForModel: true},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	body, err := doRequest(h.httpClient, req)
	if err != nil {
		return "", errors.NewProviderTransportError(h.name, err)
	}

	// Either [{"translation_text": ...}] or {"generated_text": ...}.
	result := gjson.ParseBytes(body)
	if result.IsArray() {
		result = result.Get("0")
	}
	translated := result.Get("translation_text").String()
	if translated == "" {
		translated = result.Get("generated_text").String()
	}
	return translated, nil
}
