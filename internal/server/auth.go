package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"taskquest/internal/engine"
	"taskquest/internal/engine/auth"
)

type AuthConfig struct {
	JWTSecret string
	// DevLogin exposes POST /auth/dev/login.
	DevLogin bool
	Logger   *zap.Logger
}

func (c AuthConfig) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

type jwtClaims struct {
	jwt.RegisteredClaims
}

func authenticateJWT(token string, secret string) (auth.Identity, error) {
	if strings.TrimSpace(secret) == "" {
		return auth.Identity{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return auth.Identity{}, err
	}
	if !parsed.Valid {
		return auth.Identity{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return auth.Identity{}, errors.New("subject claim required")
	}
	return auth.Identity{ID: claims.Subject, Source: "jwt"}, nil
}

// SignToken mints an HS256 token whose subject is identityID.
func SignToken(secret, identityID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if strings.TrimSpace(identityID) == "" {
		return "", errors.New("identity_id required")
	}
	now := time.Now()
	claims := jwtClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:  identityID,
		IssuedAt: jwt.NewNumericDate(now),
	}}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func authenticateAPIKey(ctx context.Context, e engine.Engine, key string) (auth.Identity, error) {
	if strings.TrimSpace(key) == "" {
		return auth.Identity{}, errors.New("api key required")
	}
	identityID, err := e.ResolveAPIKey(ctx, key)
	if err != nil {
		return auth.Identity{}, err
	}
	return auth.Identity{ID: identityID, Source: "api_key"}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// newAuthMiddleware attaches the caller's identity to the request context.
// Requests without credentials continue anonymously; operations that need an
// identity reject them. Bad credentials are rejected here.
func newAuthMiddleware(cfg AuthConfig, e engine.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))

			var (
				id  auth.Identity
				err error
			)
			switch {
			case authz != "":
				token, ok := bearerToken(authz)
				if !ok {
					err = errors.New("malformed authorization header")
					break
				}
				id, err = authenticateJWT(token, cfg.JWTSecret)
			case apiKeyHeader != "":
				id, err = authenticateAPIKey(req.Context(), e, apiKeyHeader)
			default:
				next.ServeHTTP(w, req)
				return
			}
			if err != nil {
				cfg.logger().Debug("rejected credentials", zap.String("path", req.URL.Path), zap.Error(err))
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(auth.WithIdentity(req.Context(), id)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
