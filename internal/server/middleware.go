package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"pipedeck/internal/shared"
)

// Recover converts panics escaping a handler into a 500 response instead of
// letting them take the process down.
func Recover(logger *log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("unhandled panic", "path", r.URL.Path, "panic", rec)
					writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs each request with its duration.
func RequestLogger(logger *log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start).Round(time.Microsecond))
		})
	}
}

// NoStore forces browsers not to cache responses. The panel serves summary
// pages for different projects one after another under the same paths, so a
// cached page would show the wrong project's report.
func NoStore() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
			w.Header().Set("Pragma", "no-cache")
			w.Header().Set("Expires", "0")
			next.ServeHTTP(w, r)
		})
	}
}

// TokenAuth rejects requests that do not present the operator token, either
// as a ?token= query parameter (the printed login URL) or a bearer header.
// An empty expected token disables the gate; that is debug-mode territory.
func TokenAuth(token string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			presented := r.URL.Query().Get("token")
			if presented == "" {
				presented = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if presented == "" {
				if cookie, err := r.Cookie("pipedeck_token"); err == nil {
					presented = cookie.Value
				}
			}

			if !shared.TokenEqual(presented, token) {
				writeJSON(w, http.StatusForbidden, errorBody(shared.ErrInvalidToken.Error()))
				return
			}

			// Remember the token so the operator only pastes the URL once.
			if r.URL.Query().Get("token") != "" {
				http.SetCookie(w, &http.Cookie{Name: "pipedeck_token", Value: presented, Path: "/", HttpOnly: true})
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit bounds request throughput through a shared limiter. Used on the
// polling endpoints so a misbehaving frontend loop cannot pin the server.
func RateLimit(limiter *rate.Limiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeJSON(w, http.StatusTooManyRequests, errorBody("polling too fast, slow down"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
