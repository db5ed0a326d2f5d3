package transport

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/casewizard/internal/config"
	"github.com/pitabwire/casewizard/internal/observability"
	"github.com/pitabwire/casewizard/model"
)

// Default claim paths, overridable through identity.claim_paths.
var defaultClaimPaths = map[string]string{
	"subject_id": "sub",
	"tenant_id":  "tenant_id",
	"email":      "email",
}

// ForwardCredentials builds the model.RequestContext of each request from the
// caller's bearer token and session cookie. Credentials are forwarded to the
// case service verbatim; the service is the authority, so tokens are decoded
// without verification and only used to scope sessions.
func ForwardCredentials(cfg config.IdentityConfig) func(http.Handler) http.Handler {
	paths := make(map[string]string, len(defaultClaimPaths))
	for k, v := range defaultClaimPaths {
		paths[k] = v
	}
	for k, v := range cfg.ClaimPaths {
		paths[k] = v
	}
	cookieName := cfg.CookieName
	if cookieName == "" {
		cookieName = "session"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			var cookie string
			if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
				cookie = c.Name + "=" + c.Value
			}

			rctx := &model.RequestContext{
				Token:         token,
				Cookie:        cookie,
				Locale:        r.Header.Get("Accept-Language"),
				CorrelationID: CorrelationIDFrom(r.Context()),
				TraceID:       observability.TraceIDFromContext(r.Context()),
			}
			if cfg.RequireCredentials {
				if err := rctx.Validate(); err != nil {
					WriteError(w, r, model.NewUnauthorizedError("Missing credentials"))
					return
				}
			}

			if claims := unverifiedClaims(token); claims != nil {
				rctx.Claims = claims
				rctx.SubjectID = extractClaimString(claims, paths["subject_id"])
				rctx.TenantID = extractClaimString(claims, paths["tenant_id"])
				rctx.Email = extractClaimString(claims, paths["email"])
			}
			if rctx.SubjectID == "" && cookie != "" {
				// Opaque sessions are scoped by the cookie itself.
				rctx.SubjectID = "cookie:" + cookie
			}

			ctx := model.WithRequestContext(r.Context(), rctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken returns the bearer token of the Authorization header, or "".
// Browsers cannot set headers on WebSocket upgrades, so an access_token query
// parameter is accepted as well.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return r.URL.Query().Get("access_token")
}

// unverifiedClaims decodes a JWT without checking its signature. Opaque
// tokens yield nil.
func unverifiedClaims(token string) map[string]any {
	if token == "" || strings.Count(token, ".") != 2 {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	return map[string]any(claims)
}

// extractClaimString resolves a dot-separated path such as "realm.sub".
func extractClaimString(claims map[string]any, path string) string {
	v, _ := extractClaim(claims, path).(string)
	return v
}

func extractClaim(claims map[string]any, path string) any {
	if claims == nil || path == "" {
		return nil
	}
	var cur any = claims
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}
