package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"ogacraft/api/internal/metrics"
	"ogacraft/api/internal/store"
)

const maxAuthBodyBytes = 1 << 20

type userKey struct{}

// registeredUser returns the user resolved by requireRegisteredUser.
func registeredUser(ctx context.Context) (store.User, bool) {
	user, ok := ctx.Value(userKey{}).(store.User)
	return user, ok
}

func requestLogger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("latency", time.Since(start)).
					Str("request_id", chimw.GetReqID(r.Context())).
					Str("remote_addr", r.RemoteAddr).
					Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// requestMetrics records request counts and latency by route pattern so
// path parameters do not explode label cardinality.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// requireToken rejects requests without a verified bearer token.
func (s *HTTPServer) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusConflict, "AUTH_FAILED", "authentication token missing or malformed", "please provide auth in header")
			return
		}
		if _, err := s.service.VerifyToken(r.Context(), token); err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireRegisteredUser requires an email in the JSON body that belongs to
// a registered user. The body is restored for the next handler.
func (s *HTTPServer) requireRegisteredUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw []byte
		if r.Body != nil {
			var err error
			raw, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxAuthBodyBytes))
			_ = r.Body.Close()
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", fmt.Sprintf("Body exceeds %d bytes", tooLarge.Limit), nil)
				return
			}
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read body", nil)
				return
			}
		}
		r.Body = io.NopCloser(bytes.NewReader(raw))

		var body struct {
			Email string `json:"email"`
		}
		_ = json.Unmarshal(raw, &body)
		if strings.TrimSpace(body.Email) == "" {
			writeError(w, http.StatusConflict, "AUTH_FAILED", "something went wrong trying to find you", "please provide email in body")
			return
		}
		user, err := s.service.RequireUser(r.Context(), body.Email)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}
