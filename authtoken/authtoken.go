// Package authtoken extracts diagnostic claims from the access token carried
// on the transport's "authenticated" event (SPEC_FULL.md §4.N). Parsing is
// unverified: the token's validity was already established by the server
// accepting the connection, so the SDK only reads claims, it never gates
// correctness on them.
package authtoken

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of the access token's payload the SDK surfaces to
// callers for diagnostics (e.g. logging which broker/account the socket
// authenticated as).
type Claims struct {
	Subject   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Raw       map[string]any
}

// Parse reads claims out of token without verifying its signature.
func Parse(token string) (Claims, error) {
	parser := jwt.NewParser()
	var mapClaims jwt.MapClaims
	_, _, err := parser.ParseUnverified(token, &mapClaims)
	if err != nil {
		return Claims{}, fmt.Errorf("parse access token: %w", err)
	}

	c := Claims{Raw: map[string]any(mapClaims)}
	if sub, ok := mapClaims["sub"].(string); ok {
		c.Subject = sub
	}
	if iss, ok := mapClaims["iss"].(string); ok {
		c.Issuer = iss
	}
	if iat, err := mapClaims.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, nil
}
