// Package httpapi serves the dispatch engine over HTTP: rendered views,
// JSON execute endpoints, relation editor reads and their websocket change
// streams.
package httpapi

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/louisbranch/formdesk/internal/platform/id"
	"github.com/louisbranch/formdesk/internal/platform/requestctx"
	"github.com/louisbranch/formdesk/internal/services/formdesk/authn"
)

const requestIDHeader = "X-Request-ID"

// Middleware wraps an HTTP handler.
type Middleware func(http.Handler) http.Handler

var requestIDCounter atomic.Uint64

// Chain applies middleware in declaration order.
func Chain(handler http.Handler, middleware ...Middleware) http.Handler {
	if handler == nil {
		handler = http.NotFoundHandler()
	}
	wrapped := handler
	for idx := len(middleware) - 1; idx >= 0; idx-- {
		if middleware[idx] == nil {
			continue
		}
		wrapped = middleware[idx](wrapped)
	}
	return wrapped
}

// RequestID injects and echoes a request id for correlation.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
			if requestID == "" {
				requestID = newRequestID()
				r.Header.Set(requestIDHeader, requestID)
			}
			w.Header().Set(requestIDHeader, requestID)
			next.ServeHTTP(w, r)
		})
	}
}

func newRequestID() string {
	value, err := id.NewID()
	if err != nil {
		return fmt.Sprintf("formdesk-%d-%d", time.Now().UnixNano(), requestIDCounter.Add(1))
	}
	return value
}

// RecoverPanic converts panics into HTTP 500 responses.
func RecoverPanic(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					logger.Error("panic recovered",
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.String("request_id", r.Header.Get(requestIDHeader)),
						zap.Any("panic", recovered),
						zap.ByteString("stack", debug.Stack()),
					)
					w.WriteHeader(http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Locale stores the Accept-Language header for error message negotiation.
func Locale() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := strings.TrimSpace(r.Header.Get("Accept-Language"))
			if locale == "" {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(requestctx.WithLocale(r.Context(), locale)))
		})
	}
}

// Authenticate resolves the bearer token into the request subject. Requests
// without a token run as the anonymous subject. Websocket clients that
// cannot set headers may pass the token in the access_token query
// parameter. A nil verifier leaves every request anonymous.
func Authenticate(verifier *authn.TokenVerifier, logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				next.ServeHTTP(w, r)
				return
			}
			raw := bearerToken(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			subject, err := verifier.Verify(raw)
			if err != nil {
				logger.Info("bearer token rejected",
					zap.String("request_id", r.Header.Get(requestIDHeader)),
					zap.Error(err),
				)
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				_ = writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid bearer token", Code: "UNAUTHENTICATED"})
				return
			}
			next.ServeHTTP(w, r.WithContext(requestctx.WithSubject(r.Context(), subject)))
		})
	}
}

func bearerToken(r *http.Request) string {
	if token := authn.ParseBearer(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}
