package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/security"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type claimsKey struct{}

func withClaims(ctx context.Context, claims *security.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

func claimsFrom(ctx context.Context) *security.Claims {
	claims, _ := ctx.Value(claimsKey{}).(*security.Claims)
	return claims
}

func userID(r *http.Request) string {
	if claims := claimsFrom(r.Context()); claims != nil {
		return claims.UserID
	}
	return ""
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		zap.L().Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr))
	})
}

// rateLimit allows limit requests per client address per minute. Cache
// failures let the request through.
func (s *Server) rateLimit(limit int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := r.RemoteAddr
			if host, _, err := net.SplitHostPort(client); err == nil {
				client = host
			}

			count, err := s.cache.IncrWithExpire(r.Context(), "ratelimit", client, time.Minute)
			if err != nil {
				zap.L().Warn("Rate limiter unavailable", zap.Error(err))
			} else if count > int64(limit) {
				w.Header().Set("Retry-After", "60")
				writeMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// authenticate requires a valid bearer token. Websocket clients may pass it
// as the token query parameter instead.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" && r.URL.Path == "/ws" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			writeMessage(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := s.svc.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

// RequireRole admits only callers whose current role is one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFrom(r.Context())
			if claims == nil {
				writeMessage(w, http.StatusUnauthorized, "unauthenticated")
				return
			}
			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			zap.L().Warn("Role check failed",
				zap.String("user_id", claims.UserID),
				zap.String("role", claims.Role),
				zap.String("path", r.URL.Path))
			writeMessage(w, http.StatusForbidden, "forbidden")
		})
	}
}

var requireAdmin = RequireRole(models.RoleAdmin)
