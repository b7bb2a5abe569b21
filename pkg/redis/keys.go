package redis

import "strings"

// Every key the service writes lives under one namespace so a shared Redis
// can be flushed or inspected per service.
const namespace = "sf"

type keyKind string

const (
	kindIdempotency keyKind = "idempotency"
	kindRateLimit   keyKind = "rate_limit"
	kindLock        keyKind = "lock"
)

func key(kind keyKind, parts ...string) string {
	var b strings.Builder
	b.WriteString(namespace)
	b.WriteByte(':')
	b.WriteString(string(kind))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteByte(':')
			b.WriteString(part)
		}
	}
	return b.String()
}

// IdempotencyKey scopes replay and dedupe markers, e.g. sf:idempotency:stripe_webhook:evt_1.
func (c *Client) IdempotencyKey(scope, id string) string {
	return key(kindIdempotency, scope, id)
}

// RateLimitKey names a limiter bucket. Blank parts are skipped.
func (c *Client) RateLimitKey(scope, subject string) string {
	return key(kindRateLimit, scope, subject)
}

func (c *Client) LockKey(name string) string {
	return key(kindLock, name)
}
