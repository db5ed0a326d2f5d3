package integration

import (
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestClaims holds the identity claims placed in a test token.
type TestClaims struct {
	SubjectID string
	TenantID  string
	Email     string
	Extra     map[string]any
}

// tokenIssuer signs test tokens. The server forwards tokens to the case
// service without verifying them, so any key works.
type tokenIssuer struct {
	key []byte
}

func newTokenIssuer() *tokenIssuer {
	return &tokenIssuer{key: []byte("integration-test-key")}
}

// Token returns a signed token carrying claims.
func (ti *tokenIssuer) Token(claims TestClaims) string {
	now := time.Now()
	mapClaims := jwt.MapClaims{
		"iss":       "https://issuer.test",
		"iat":       jwt.NewNumericDate(now),
		"exp":       jwt.NewNumericDate(now.Add(time.Hour)),
		"sub":       claims.SubjectID,
		"tenant_id": claims.TenantID,
	}
	if claims.Email != "" {
		mapClaims["email"] = claims.Email
	}
	maps.Copy(mapClaims, claims.Extra)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims).SignedString(ti.key)
	if err != nil {
		panic("sign JWT: " + err.Error())
	}
	return signed
}
