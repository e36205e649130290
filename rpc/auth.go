package rpc

import (
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	faucetScope = "faucet"
	scopeClaim  = "scope"
	clockSkew   = 2 * time.Minute
)

// faucetAuth verifies HS256 bearer tokens carrying the faucet scope.
type faucetAuth struct {
	secret []byte
}

func newFaucetAuth(secret string) *faucetAuth {
	return &faucetAuth{secret: []byte(strings.TrimSpace(secret))}
}

func (a *faucetAuth) enabled() bool {
	return a != nil && len(a.secret) > 0
}

// authorize returns nil when the request may use the faucet.
func (a *faucetAuth) authorize(r *http.Request) *RPCError {
	if !a.enabled() {
		return nil
	}
	tokenString := extractBearer(r.Header.Get("Authorization"))
	if tokenString == "" {
		return newError(http.StatusUnauthorized, codeUnauthorized, "missing bearer token", nil)
	}
	claims, err := a.parseToken(tokenString)
	if err != nil {
		return newError(http.StatusUnauthorized, codeUnauthorized, "invalid token", err.Error())
	}
	if !hasScope(extractScopes(claims), faucetScope) {
		return newError(http.StatusForbidden, codeForbidden, "insufficient scope", faucetScope)
	}
	return nil
}

func (a *faucetAuth) parseToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(clockSkew), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func extractScopes(claims jwt.MapClaims) []string {
	raw, ok := claims[scopeClaim]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hasScope(scopes []string, required string) bool {
	for _, scope := range scopes {
		if scope == required {
			return true
		}
	}
	return false
}

func extractBearer(header string) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
