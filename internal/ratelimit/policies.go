package ratelimit

import (
	"time"

	"github.com/angelmondragon/storefront/pkg/config"
)

// Limiter class prefixes.
const (
	ClassAuth     = "auth"
	ClassCheckout = "checkout"
	ClassSearch   = "search"
	ClassAdmin    = "admin"
)

// Policies groups the named limiter classes. Auth is the strictest and admin
// the most permissive.
type Policies struct {
	Auth     Config
	Checkout Config
	Search   Config
	Admin    Config
}

func DefaultPolicies() Policies {
	return Policies{
		Auth:     Config{Prefix: ClassAuth, Window: 15 * time.Minute, MaxRequests: 5},
		Checkout: Config{Prefix: ClassCheckout, Window: time.Minute, MaxRequests: 10},
		Search:   Config{Prefix: ClassSearch, Window: time.Minute, MaxRequests: 30},
		Admin:    Config{Prefix: ClassAdmin, Window: time.Minute, MaxRequests: 100},
	}
}

// PoliciesFromConfig overlays env overrides on the defaults. Zero values keep
// the default.
func PoliciesFromConfig(cfg config.RateLimitConfig) Policies {
	p := DefaultPolicies()
	overlay(&p.Auth, cfg.AuthWindow, cfg.AuthMax)
	overlay(&p.Checkout, cfg.CheckoutWindow, cfg.CheckoutMax)
	overlay(&p.Search, cfg.SearchWindow, cfg.SearchMax)
	overlay(&p.Admin, cfg.AdminWindow, cfg.AdminMax)
	return p
}

func (p Policies) Validate() error {
	for _, c := range []Config{p.Auth, p.Checkout, p.Search, p.Admin} {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func overlay(c *Config, window time.Duration, max int) {
	if window > 0 {
		c.Window = window
	}
	if max > 0 {
		c.MaxRequests = max
	}
}
