// Package auth verifies service tokens and exposes the actor's identity and
// capabilities to the rest of the engine.
package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the custom claims carried by ledger-engine service tokens.
// Subject is the actor id; Capabilities is the flat list of capability codes
// granted by the permission engine that issued the token.
type Claims struct {
	jwt.RegisteredClaims
	ActorType    string   `json:"actor_type,omitempty"`
	ProjectID    string   `json:"project_id"`
	Capabilities []string `json:"capabilities"`
}

// HasCapability reports whether the token grants the capability code.
// A "*" grant matches everything.
func (c *Claims) HasCapability(code string) bool {
	for _, cap := range c.Capabilities {
		if cap == code || cap == "*" {
			return true
		}
	}
	return false
}

type claimsKey struct{}

// SetClaims stores verified claims in the context.
func SetClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// GetClaims retrieves verified claims from the context.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok
}
