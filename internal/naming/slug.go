// Package naming derives the external resource names provisioning uses as
// idempotency keys across every control plane.
package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SanitizeSubdomain turns a user-supplied organization name into a DNS-safe
// label: lower-case, runs of anything outside [a-z0-9-] become a single "-",
// repeated "-" collapse, leading/trailing "-" are trimmed. The result is
// either empty or matches ^[a-z0-9]([a-z0-9-]*[a-z0-9])?$.
func SanitizeSubdomain(name string) string {
	lower := strings.ToLower(name)

	var b strings.Builder
	b.Grow(len(lower))
	prevDash := false
	for _, r := range lower {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			prevDash = false
		default:
			// any run of non [a-z0-9-] (including "-" itself) folds to one dash
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}

	return strings.Trim(b.String(), "-")
}

// ProjectSlug derives the collision-resistant slug shared by all control
// planes for one provisioning run. The hash covers the tenant id and a run
// nonce, so retries of the same run reuse the slug while distinct runs for
// the same tenant never collide.
func ProjectSlug(prefix, tenantID, runNonce string) string {
	sum := sha256.Sum256([]byte(tenantID + "|" + runNonce))
	return prefix + "-" + hex.EncodeToString(sum[:])[:8]
}

// FQDN joins a subdomain label with the base domain.
func FQDN(subdomain, baseDomain string) string {
	return subdomain + "." + baseDomain
}
