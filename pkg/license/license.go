// Package license is the entitlement gate consulted before running
// license-restricted maintenance policies. Entitlement issuance and
// validation live elsewhere; this package only answers "is this
// deployment entitled" and emits the one-time expiry warning.
package license

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// License tiers.
const (
	TierCommunity  = "community"
	TierEnterprise = "enterprise"
)

// ExpiryWarningWindow is how far ahead of expiry the warning fires.
const ExpiryWarningWindow = 30 * 24 * time.Hour

// Gate is a config-backed entitlement check.
type Gate struct {
	tier      string
	expiresAt time.Time

	warnOnce sync.Once
	now      func() time.Time
}

// NewGate builds a gate for the deployment's license. A zero expiresAt
// means the license never expires.
func NewGate(tier string, expiresAt time.Time) *Gate {
	return &Gate{tier: tier, expiresAt: expiresAt, now: time.Now}
}

// WithClock overrides the gate's clock (tests).
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Entitled reports whether license-restricted policies may run.
func (g *Gate) Entitled() bool {
	if g.tier != TierEnterprise {
		return false
	}
	if g.expiresAt.IsZero() {
		return true
	}
	return g.now().Before(g.expiresAt)
}

// WarnIfExpiring logs a single warning per process when the license is
// near or past expiry, regardless of current entitlement.
func (g *Gate) WarnIfExpiring(log *zap.Logger) {
	if g.expiresAt.IsZero() {
		return
	}
	now := g.now()
	if now.Add(ExpiryWarningWindow).Before(g.expiresAt) {
		return
	}
	g.warnOnce.Do(func() {
		if now.Before(g.expiresAt) {
			log.Warn("license expires soon",
				zap.Time("expires_at", g.expiresAt),
				zap.Duration("remaining", g.expiresAt.Sub(now)))
			return
		}
		log.Warn("license has expired",
			zap.Time("expires_at", g.expiresAt))
	})
}
