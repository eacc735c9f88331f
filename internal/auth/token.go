// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth verifies the bearer tokens presented on the real-time channel
// and mints development tokens for hosts.
package auth

import (
	"crypto/sha256"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/samber/oops"
	"golang.org/x/crypto/hkdf"
)

// CodeUnauthenticated marks a missing, malformed, or rejected token.
const CodeUnauthenticated = "UNAUTHENTICATED"

const (
	issuer  = "palaver"
	keyInfo = "palaver bearer token signing key"
	keyLen  = 32
)

// Claims are the JWT claims carried by a bearer token. Subject is the user ID.
type Claims struct {
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 bearer tokens. The signing key is
// derived from a shared secret with HKDF-SHA256.
type Tokens struct {
	key []byte
	now func() time.Time
}

// NewTokens creates a token service for secret.
func NewTokens(secret string) (*Tokens, error) {
	if secret == "" {
		return nil, oops.Code("AUTH_SECRET_REQUIRED").Errorf("token secret is required")
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, oops.Code("AUTH_KEY_DERIVATION_FAILED").Wrap(err)
	}
	return &Tokens{key: key, now: time.Now}, nil
}

// Issue mints a token for userID valid for ttl.
func (t *Tokens) Issue(userID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", oops.Code("AUTH_SUBJECT_REQUIRED").Errorf("user id is required")
	}
	now := t.now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", oops.Code("AUTH_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of raw and returns the user ID.
func (t *Tokens) Verify(raw string) (string, error) {
	if raw == "" {
		return "", oops.Code(CodeUnauthenticated).Errorf("missing bearer token")
	}
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, oops.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.key, nil
	})
	if err != nil {
		return "", oops.Code(CodeUnauthenticated).Errorf("invalid bearer token: %v", err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", oops.Code(CodeUnauthenticated).Errorf("invalid bearer token")
	}
	return claims.Subject, nil
}

// BearerToken extracts the token from an Authorization header, falling back
// to the access_token query parameter used by browser websocket clients.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}
