// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gallery

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
)

// Guard enforces bearer-token auth on mutating endpoints. The token is
// sealed in a memguard enclave at startup, so it never sits in plain
// heap memory between requests. An empty token disables the guard and
// leaves the endpoints open, which is the intended mode for a local
// gallery.
type Guard struct {
	enclave *memguard.Enclave
}

// NewGuard seals token. With a non-empty token it also arms memguard's
// interrupt handler so secure memory is wiped on SIGINT.
func NewGuard(token string) *Guard {
	if token == "" {
		return &Guard{}
	}
	memguard.CatchInterrupt()
	return &Guard{enclave: memguard.NewEnclave([]byte(token))}
}

// Enabled reports whether requests are actually checked.
func (g *Guard) Enabled() bool {
	return g.enclave != nil
}

// Middleware returns the gin middleware performing the check. The
// comparison is constant-time against the unsealed token.
func (g *Guard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if g.enclave == nil {
			c.Next()
			return
		}

		const prefix = "Bearer "
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, prefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		presented := []byte(strings.TrimPrefix(header, prefix))

		buf, err := g.enclave.Open()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth unavailable"})
			return
		}
		ok := subtle.ConstantTimeCompare(buf.Bytes(), presented) == 1
		buf.Destroy()

		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

// Close wipes all memguard-held memory. Call once during shutdown.
func (g *Guard) Close() {
	if g.enclave != nil {
		memguard.Purge()
	}
}
