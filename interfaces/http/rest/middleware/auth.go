package middleware

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"mindgraph-backend/infrastructure/config"
	"mindgraph-backend/pkg/auth"
)

// Authenticate validates bearer tokens, applies rate limits, and puts
// the caller's identity plus their raw Authorization header on the
// request context. The header capture lets the embedding client forward
// the caller's credential to the peer.
func Authenticate(cfg *config.Config, tunables *config.Watcher, logger *zap.Logger) func(next http.Handler) http.Handler {
	// Behind API Gateway the JWT authorizer has already run; trust its
	// forwarded identity headers instead of re-validating.
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		return authenticateForLambda(logger)
	}

	validator, err := auth.NewJWTValidator(auth.JWTConfig{
		SigningMethod: "HS256",
		SecretKey:     cfg.JWTSecret,
		Issuer:        cfg.JWTIssuer,
		Audience:      audienceList(cfg),
	})
	if err != nil {
		logger.Error("Failed to build JWT validator, rejecting all requests", zap.Error(err))
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				respondUnauthorized(w, "authentication system error")
			})
		}
	}

	rl := config.DefaultTunables().RateLimit
	if tunables != nil {
		rl = tunables.Current().RateLimit
	}
	if rl.Burst <= 0 {
		rl.Burst = rl.RequestsPerMinute
	}
	ipLimiter := auth.NewIPRateLimiter(rl.RequestsPerMinute, rl.Burst)
	userLimiter := auth.NewUserRateLimiter(rl.RequestsPerMinute, rl.Burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, _ := ipLimiter.Allow(r.Context(), clientIP(r))
			if !allowed {
				respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			authHeader := r.Header.Get("Authorization")
			token, ok := bearerToken(authHeader)
			if !ok {
				respondUnauthorized(w, "missing or malformed authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.Debug("Token validation failed", zap.Error(err))
				respondUnauthorized(w, "invalid token")
				return
			}

			allowed, _ = userLimiter.Allow(r.Context(), claims.UserID)
			if !allowed {
				respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			ctx := auth.WithUser(r.Context(), &auth.UserContext{
				UserID: claims.UserID,
				Email:  claims.Email,
				Roles:  claims.Roles,
			})
			ctx = auth.WithForwardedAuthorization(ctx, authHeader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authenticateForLambda extracts the identity the API Gateway JWT
// authorizer already established.
func authenticateForLambda(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get("X-User-ID")
			if userID == "" {
				logger.Warn("Missing user context from API Gateway",
					zap.String("path", r.URL.Path),
				)
				respondUnauthorized(w, "missing user context")
				return
			}

			roles := []string{"authenticated"}
			if raw := r.Header.Get("X-User-Roles"); raw != "" {
				roles = strings.Split(raw, ",")
			}

			ctx := auth.WithUser(r.Context(), &auth.UserContext{
				UserID: userID,
				Email:  r.Header.Get("X-User-Email"),
				Roles:  roles,
			})
			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				ctx = auth.WithForwardedAuthorization(ctx, authHeader)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func audienceList(cfg *config.Config) []string {
	if cfg.JWTAudience == "" {
		return nil
	}
	return strings.Split(cfg.JWTAudience, ",")
}

func bearerToken(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}

func respondUnauthorized(w http.ResponseWriter, message string) {
	respondWithError(w, http.StatusUnauthorized, message)
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
