/**
 * Translation provider chain
 *
 * Providers are tried strictly in order, one request each. A provider that
 * errors, returns nothing, or echoes its input is skipped; the first
 * differing result wins.
 */

package translation

import (
	"context"
	goerrors "errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/width"

	"github.com/adverant/nexus/mangatrans-worker/internal/errors"
	"github.com/adverant/nexus/mangatrans-worker/internal/logging"
)

// DefaultProviderTimeout bounds a single provider request.
const DefaultProviderTimeout = 15 * time.Second

// ErrEcho is returned when a provider hands back its input unchanged.
var ErrEcho = goerrors.New("translation equals input")

// Provider translates text with one backend. Implementations hold no
// per-call state and are safe for concurrent use.
type Provider interface {
	Name() string
	Translate(ctx context.Context, text string) (string, error)
}

// ChainConfig configures a Chain.
type ChainConfig struct {
	ProviderTimeout time.Duration
	// SkipUntranslatable returns input without letters (digits,
	// punctuation, sound-effect marks) unchanged without a request.
	SkipUntranslatable bool
}

// Chain is an ordered fallback over providers.
type Chain struct {
	providers []Provider
	config    ChainConfig
	logger    *logging.Logger
}

// NewChain creates a chain over providers in the given order.
func NewChain(cfg ChainConfig, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one translation provider is required")
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	return &Chain{
		providers: providers,
		config:    cfg,
		logger:    logging.NewLogger(logging.CategoryTranslation),
	}, nil
}

// Providers returns the provider names in chain order.
func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Translate returns the first provider result that differs from text.
func (c *Chain) Translate(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	if c.config.SkipUntranslatable && Untranslatable(text) {
		c.logger.Debug("Skipping untranslatable text", "text", text)
		return text, nil
	}

	attempted := make([]string, 0, len(c.providers))
	var lastErr error

	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		attempted = append(attempted, p.Name())

		translated, err := c.try(ctx, p, text)
		if err != nil {
			lastErr = err
			c.logger.Warn("Translation provider failed", "provider", p.Name(), "error", err)
			continue
		}

		c.logger.Debug("Translation succeeded", "provider", p.Name())
		return translated, nil
	}

	return "", errors.NewAllProvidersExhaustedError(attempted, lastErr)
}

func (c *Chain) try(ctx context.Context, p Provider, text string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.config.ProviderTimeout)
	defer cancel()

	translated, err := p.Translate(callCtx, text)
	if err != nil {
		if errors.CodeOf(err) == "" {
			err = errors.NewProviderTransportError(p.Name(), err)
		}
		return "", err
	}

	translated = strings.TrimSpace(translated)
	if translated == "" {
		return "", errors.NewProviderTransportError(p.Name(), fmt.Errorf("empty translation"))
	}
	if translated == strings.TrimSpace(text) {
		return "", fmt.Errorf("%s: %w", p.Name(), ErrEcho)
	}
	return translated, nil
}

// Untranslatable reports whether text has no letters once full-width
// forms are folded to their narrow equivalents.
func Untranslatable(text string) bool {
	for _, r := range width.Narrow.String(text) {
		if unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
