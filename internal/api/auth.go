// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/troupehq/troupe/internal/logging"
)

type userIDKey struct{}

// UserIDFromContext returns the authenticated subject, or "" on
// unauthenticated requests.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// Authenticate verifies a bearer token minted by the auth service.
// Browsers cannot set headers on websocket upgrades, so a token query
// parameter is accepted as a fallback there.
//
// An empty secret disables verification; that is only sane in local
// development and is logged loudly at startup.
func Authenticate(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" {
				writeError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "missing bearer token")
				return
			}

			subject, err := verifyToken(token, key)
			if err != nil {
				logging.Debug().Err(err).Msg("rejected bearer token")
				writeError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey{}, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func verifyToken(raw string, key []byte) (string, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", jwt.ErrTokenUnverifiable
	}
	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("token has no subject: %w", err)
	}
	return subject, nil
}
