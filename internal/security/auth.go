// Package security provides authentication and rate limiting for the
// dispatch HTTP surface.
package security

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

type contextKey string

const authInfoKey contextKey = "auth_info"

// AuthInfo contains authenticated caller information
type AuthInfo struct {
	CallerID  string     `json:"caller_id"`
	APIKey    string     `json:"api_key,omitempty"`
	AuthType  string     `json:"auth_type"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Claims represents JWT token claims
type Claims struct {
	CallerID string `json:"caller_id"`
	jwt.RegisteredClaims
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	APIKeys     []string      `yaml:"api_keys"`
	JWTSecret   string        `yaml:"jwt_secret"`
	JWTExpiry   time.Duration `yaml:"jwt_expiry"`
	RequireAuth bool          `yaml:"require_auth"`
}

// Authenticator validates API keys and JWT tokens for the dispatch API
type Authenticator struct {
	config *AuthConfig
	logger *logrus.Logger
}

// NewAuthenticator creates an authenticator
func NewAuthenticator(config *AuthConfig, logger *logrus.Logger) *Authenticator {
	if config.JWTExpiry == 0 {
		config.JWTExpiry = 24 * time.Hour
	}
	return &Authenticator{config: config, logger: logger}
}

// Authenticate validates a token (API key or JWT)
func (a *Authenticator) Authenticate(token string) (*AuthInfo, error) {
	if info, err := a.ValidateAPIKey(token); err == nil {
		return info, nil
	}

	if a.config.JWTSecret != "" {
		if claims, err := a.ValidateJWT(token); err == nil {
			return &AuthInfo{
				CallerID:  claims.CallerID,
				AuthType:  "jwt",
				ExpiresAt: &claims.ExpiresAt.Time,
			}, nil
		}
	}

	return nil, errors.New("invalid authentication token")
}

// ValidateAPIKey validates an API key
func (a *Authenticator) ValidateAPIKey(apiKey string) (*AuthInfo, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}

	// Constant-time comparison to prevent timing attacks
	for _, validKey := range a.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(validKey)) == 1 {
			return &AuthInfo{
				CallerID: callerID(apiKey),
				APIKey:   apiKey,
				AuthType: "api_key",
			}, nil
		}
	}

	a.logger.WithField("api_key_prefix", maskAPIKey(apiKey)).Warn("Invalid API key attempted")
	return nil, errors.New("invalid API key")
}

// GenerateJWT issues a token for the given caller
func (a *Authenticator) GenerateJWT(callerID string) (string, error) {
	if a.config.JWTSecret == "" {
		return "", errors.New("JWT signing is not configured")
	}

	now := time.Now()
	claims := &Claims{
		CallerID: callerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "intent-dispatch",
			Subject:   callerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.JWTExpiry)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.config.JWTSecret))
}

// ValidateJWT validates a JWT token
func (a *Authenticator) ValidateJWT(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.config.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid JWT token")
}

// Middleware returns authentication middleware for the HTTP server
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Health checks stay open for probes
			if strings.HasPrefix(r.URL.Path, "/health") {
				next.ServeHTTP(w, r)
				return
			}

			if !a.config.RequireAuth {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				a.writeUnauthorized(w, "Missing authentication token")
				return
			}

			info, err := a.Authenticate(token)
			if err != nil {
				a.logger.WithFields(logrus.Fields{
					"path":        r.URL.Path,
					"method":      r.Method,
					"remote_addr": r.RemoteAddr,
				}).Warn("Authentication failed")
				a.writeUnauthorized(w, "Invalid authentication token")
				return
			}

			ctx := context.WithValue(r.Context(), authInfoKey, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAuthInfo extracts authentication info from request context
func GetAuthInfo(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authInfoKey).(*AuthInfo)
	return info, ok
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		return apiKey
	}
	return ""
}

func callerID(apiKey string) string {
	if len(apiKey) >= 8 {
		return "caller_" + apiKey[:8]
	}
	return "caller_" + apiKey
}

func maskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "****"
	}
	return apiKey[:4] + "****" + apiKey[len(apiKey)-4:]
}

func (a *Authenticator) writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	timestamp := time.Now().Unix()
	response := fmt.Sprintf(`{"error":{"message":"%s","type":"authentication_error","code":401},"timestamp":%d}`, message, timestamp)
	w.Write([]byte(response))
}
