package translation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/adverant/nexus/mangatrans-worker/internal/errors"
)

// DefaultGoogleURL is the public gtx endpoint.
const DefaultGoogleURL = "https://translate.googleapis.com/translate_a/single"

// GoogleConfig configures a GoogleProvider.
type GoogleConfig struct {
	Name       string
	Endpoint   string
	Source     string // default "zh"
	Target     string // default "en"
	HTTPClient *http.Client
}

// GoogleProvider calls the keyless gtx translate endpoint.
type GoogleProvider struct {
	name       string
	endpoint   string
	source     string
	target     string
	httpClient *http.Client
}

// NewGoogleProvider creates a gtx provider.
func NewGoogleProvider(cfg GoogleConfig) *GoogleProvider {
	if cfg.Name == "" {
		cfg.Name = "google-gtx"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultGoogleURL
	}
	if cfg.Source == "" {
		cfg.Source = "zh"
	}
	if cfg.Target == "" {
		cfg.Target = "en"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &GoogleProvider{
		name:       cfg.Name,
		endpoint:   cfg.Endpoint,
		source:     cfg.Source,
		target:     cfg.Target,
		httpClient: cfg.HTTPClient,
	}
}

func (g *GoogleProvider) Name() string { return g.name }

func (g *GoogleProvider) Translate(ctx context.Context, text string) (string, error) {
	params := url.Values{
		"client": {"gtx"},
		"sl":     {g.source},
		"tl":     {g.target},
		"dt":     {"t"},
		"q":      {text},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	body, err := doRequest(g.httpClient, req)
	if err != nil {
		return "", errors.NewProviderTransportError(g.name, err)
	}

	// [[["Hello","你好",...],["world","世界",...]],null,"zh-CN",...]
	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		return "", errors.NewProviderTransportError(g.name, fmt.Errorf("unexpected response shape"))
	}

	var parts []string
	for _, segment := range parsed.Get("0").Array() {
		if s := segment.Get("0").String(); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " "), nil
}

// doRequest executes req and returns the body of a 2xx response.
func doRequest(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(snippet))
	}
	return body, nil
}
