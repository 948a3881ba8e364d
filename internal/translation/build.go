package translation

import (
	"fmt"
	"net/http"

	"github.com/adverant/nexus/mangatrans-worker/internal/config"
	"github.com/adverant/nexus/mangatrans-worker/internal/logging"
)

// NewChainFromConfig builds the provider chain from configuration. Chat
// providers without an API key are left out.
func NewChainFromConfig(cfg *config.Config, httpClient *http.Client) (*Chain, error) {
	logger := logging.NewLogger(logging.CategoryTranslation)

	configured := cfg.TranslationProviders
	if len(configured) == 0 {
		configured = config.DefaultProviders()
	}

	var providers []Provider
	for _, pc := range configured {
		switch pc.Kind {
		case config.ProviderGoogle:
			providers = append(providers, NewGoogleProvider(GoogleConfig{
				Name:       pc.Name,
				Endpoint:   pc.URL,
				HTTPClient: httpClient,
			}))

		case config.ProviderHuggingFace:
			p, err := NewHuggingFaceProvider(HuggingFaceConfig{
				Name:       pc.Name,
				URL:        pc.URL,
				APIKey:     pc.APIKey,
				HTTPClient: httpClient,
			})
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)

		case config.ProviderChat:
			if pc.APIKey == "" {
				logger.Warn("Skipping chat provider without API key", "provider", pc.Name)
				continue
			}
			p, err := NewChatProvider(ChatConfig{
				Name:       pc.Name,
				BaseURL:    pc.URL,
				APIKey:     pc.APIKey,
				Model:      pc.Model,
				HTTPClient: httpClient,
			})
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)

		default:
			return nil, fmt.Errorf("unknown translation provider kind %q", pc.Kind)
		}
	}

	chain, err := NewChain(ChainConfig{
		ProviderTimeout:    cfg.ProviderTimeout,
		SkipUntranslatable: cfg.SkipUntranslatable,
	}, providers...)
	if err != nil {
		return nil, err
	}

	logger.Info("Translation chain ready", "providers", chain.Providers())
	return chain, nil
}
