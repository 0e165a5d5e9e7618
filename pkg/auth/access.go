package auth

import "context"

// ClaimsAccessChecker answers capability checks from the verified token
// claims in the request context. It satisfies services.AccessChecker.
type ClaimsAccessChecker struct{}

// NewClaimsAccessChecker creates a claims-backed capability checker.
func NewClaimsAccessChecker() *ClaimsAccessChecker {
	return &ClaimsAccessChecker{}
}

// ActorCan reports whether the context's actor holds the capability.
// Requests without claims (system-initiated work) are denied; internal
// callers that bypass HTTP auth should not route through capability checks.
func (c *ClaimsAccessChecker) ActorCan(ctx context.Context, capability string) bool {
	claims, ok := GetClaims(ctx)
	return ok && claims.HasCapability(capability)
}
