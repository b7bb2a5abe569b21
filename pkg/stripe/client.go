package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/storefront/pkg/config"
	"github.com/angelmondragon/storefront/pkg/logger"
)

// keyPrefixes lists the secret and restricted key prefixes accepted per mode.
var keyPrefixes = map[string][]string{
	"test": {"sk_test_", "rk_test_"},
	"live": {"sk_live_", "rk_live_"},
}

var errMissingAPIKey = errors.New("STOREFRONT_STRIPE_API_KEY is required")

// Client holds the process-wide Stripe configuration.
type Client struct {
	mode          string
	signingSecret string
}

// NewClient configures the Stripe SDK globals (key, app info, logging). A
// missing webhook secret is allowed at boot; the webhook endpoint rejects
// each request with a configuration error instead.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	mode := cfg.Environment()
	prefixes, ok := keyPrefixes[mode]
	if !ok {
		return nil, fmt.Errorf("stripe mode %q is not one of test, live", mode)
	}

	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errMissingAPIKey
	}
	if !hasAnyPrefix(key, prefixes) {
		return nil, fmt.Errorf("stripe %s mode needs a key starting with %s", mode, strings.Join(prefixes, " or "))
	}

	stripe.Key = key
	stripe.SetAppInfo(&stripe.AppInfo{Name: "storefront"})

	client := &Client{mode: mode, signingSecret: strings.TrimSpace(cfg.Secret)}
	if logg != nil {
		ctx = logg.WithField(ctx, "stripe_mode", mode)
		stripe.DefaultLeveledLogger = logg.Leveled(logg.WithField(ctx, "component", "stripe-sdk"))
		if client.signingSecret == "" {
			logg.Warn(ctx, "stripe webhook secret missing; webhook deliveries will be refused")
		}
		logg.Info(ctx, "stripe configured")
	}
	return client, nil
}

func (c *Client) Mode() string {
	if c == nil {
		return ""
	}
	return c.mode
}

// SigningSecret is the endpoint secret used to verify webhook signatures.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
