// Copyright 2025 UltrAI
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"crypto/subtle"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Bypass validates trusted-caller tokens that skip admission control.
// Two token forms are accepted: pre-shared static tokens (service-to-service
// wiring) and HMAC-signed JWTs carrying a rate_limit_bypass claim.
type Bypass struct {
	jwtSecret    []byte
	staticTokens []string
}

// NewBypass creates a bypass validator. Either input may be empty; an empty
// validator rejects everything.
func NewBypass(jwtSecret []byte, staticTokens []string) *Bypass {
	return &Bypass{
		jwtSecret:    jwtSecret,
		staticTokens: staticTokens,
	}
}

// Allowed reports whether the presented token grants a rate limit bypass.
func (b *Bypass) Allowed(tokenString string) bool {
	if tokenString == "" {
		return false
	}

	for _, known := range b.staticTokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(tokenString)) == 1 {
			return true
		}
	}

	if len(b.jwtSecret) == 0 {
		return false
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return b.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}

	bypass, ok := claims["rate_limit_bypass"].(bool)
	return ok && bypass
}

// CallerTier extracts the quota tier from a JWT, falling back to anonymous
// for missing or invalid tokens.
func (b *Bypass) CallerTier(tokenString string) string {
	if tokenString == "" || len(b.jwtSecret) == 0 {
		return TierAnonymous
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return b.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return TierAnonymous
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return TierAnonymous
	}

	if tier, ok := claims["tier"].(string); ok && tier != "" {
		return tier
	}
	return TierStandard
}
