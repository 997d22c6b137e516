// Package server normalizes and validates HTTP origins for WebSocket requests
// to enforce configured access control.
package server

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// originChecker decides whether a WebSocket upgrade request comes from an
// allowed origin. A configured "*" allows any origin, including requests
// without an Origin header (non-browser clients).
type originChecker struct {
	allowAll bool
	allowed  map[string]struct{}
	logger   *zap.Logger
}

func newOriginChecker(origins []string, logger *zap.Logger) *originChecker {
	checker := &originChecker{
		allowed: make(map[string]struct{}, len(origins)),
		logger:  logger,
	}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			checker.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			logger.Warn("ignoring invalid origin in configuration", zap.String("origin", origin))
			continue
		}
		checker.allowed[normalized] = struct{}{}
	}

	return checker
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func (oc *originChecker) check(r *http.Request) bool {
	if oc.allowAll {
		return true
	}

	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		oc.logger.Warn("blocked websocket connection without origin header")
		return false
	}

	normalized, ok := normalizeOrigin(originHeader)
	if !ok {
		oc.logger.Warn("blocked websocket connection with malformed origin",
			zap.String("origin", originHeader),
		)
		return false
	}

	if _, exists := oc.allowed[normalized]; exists {
		return true
	}

	oc.logger.Warn("blocked websocket connection from disallowed origin",
		zap.String("origin", originHeader),
	)
	return false
}
