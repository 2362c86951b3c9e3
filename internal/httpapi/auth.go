package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

const (
	scopeResultsWrite = "results:write"
	scopeResultsRead  = "results:read"
	tokenAudience     = "indicators"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

func unauthorized(message string) *authError {
	return &authError{status: 401, code: "unauthorized", message: message}
}

func forbidden(message string) *authError {
	return &authError{status: 403, code: "forbidden", message: message}
}

// scopeList accepts either a JSON array or an OAuth-style space separated
// string.
type scopeList []string

func (s *scopeList) UnmarshalJSON(data []byte) error {
	var joined string
	if err := json.Unmarshal(data, &joined); err == nil {
		*s = strings.Fields(joined)
		return nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*s = items
	return nil
}

// grants reports whether the list satisfies scope. Write implies read.
func (s scopeList) grants(scope string) bool {
	for _, have := range s {
		if have == scope || (scope == scopeResultsRead && have == scopeResultsWrite) {
			return true
		}
	}
	return false
}

type tokenClaims struct {
	Subject  string      `json:"sub"`
	Audience string      `json:"aud"`
	Expires  json.Number `json:"exp"`
	Scopes   scopeList   `json:"scopes"`
}

// authorizeBearer verifies an HS256 bearer token and checks requiredScope.
func authorizeBearer(authHeader, secret, requiredScope string, now time.Time) (tokenClaims, *authError) {
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return tokenClaims{}, unauthorized("missing or invalid bearer token")
	}
	signed, signature, ok := cutLast(strings.TrimSpace(token))
	if !ok {
		return tokenClaims{}, unauthorized("invalid jwt format")
	}
	encodedHeader, encodedClaims, ok := strings.Cut(signed, ".")
	if !ok || strings.Contains(encodedClaims, ".") {
		return tokenClaims{}, unauthorized("invalid jwt format")
	}

	var header struct {
		Alg string `json:"alg"`
	}
	if err := decodeSegment(encodedHeader, &header); err != nil || header.Alg != "HS256" {
		return tokenClaims{}, unauthorized("unsupported jwt header")
	}
	sig, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return tokenClaims{}, unauthorized("invalid jwt signature")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signed))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return tokenClaims{}, unauthorized("jwt signature mismatch")
	}

	var claims tokenClaims
	if err := decodeSegment(encodedClaims, &claims); err != nil {
		return tokenClaims{}, unauthorized("invalid jwt claims")
	}
	switch exp, err := claims.Expires.Int64(); {
	case strings.TrimSpace(claims.Subject) == "":
		return tokenClaims{}, unauthorized("missing sub claim")
	case err != nil:
		return tokenClaims{}, unauthorized("invalid exp claim")
	case now.Unix() >= exp:
		return tokenClaims{}, unauthorized("token expired")
	case claims.Audience != tokenAudience:
		return tokenClaims{}, unauthorized("invalid aud claim")
	}
	if requiredScope != "" && !claims.Scopes.grants(requiredScope) {
		return tokenClaims{}, forbidden("missing required scope: " + requiredScope)
	}
	return claims, nil
}

func decodeSegment(segment string, dst any) error {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func cutLast(token string) (before, after string, ok bool) {
	i := strings.LastIndexByte(token, '.')
	if i < 0 {
		return "", "", false
	}
	return token[:i], token[i+1:], true
}
