// Package auth decides which callers may mutate the tree.
//
// A caller is identified by its Authorization header. When a token secret is
// configured, "Bearer <jwt>" headers are verified and the token subject
// becomes the caller id; any other header value is used as the id verbatim.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fruitsalade/aftp/internal/fstree"
	"github.com/fruitsalade/aftp/internal/logging"
	"github.com/fruitsalade/aftp/internal/metrics"
	"github.com/fruitsalade/aftp/pkg/protocol"
)

type contextKey string

const clientContextKey contextKey = "client"

const issuer = "aftp"

// Claims holds JWT token claims. The caller id is the registered subject.
type Claims struct {
	jwt.RegisteredClaims
}

// Auth holds the allow-list and the optional token secret.
type Auth struct {
	allowed map[string]struct{}
	secret  []byte
}

// New creates an Auth for the given allowed caller ids. An empty secret
// disables token verification.
func New(allowed []string, tokenSecret string) *Auth {
	a := &Auth{allowed: make(map[string]struct{}, len(allowed))}
	for _, id := range allowed {
		if id = strings.TrimSpace(id); id != "" {
			a.allowed[id] = struct{}{}
		}
	}
	if tokenSecret != "" {
		a.secret = []byte(tokenSecret)
	}
	return a
}

// Allowed reports whether id is on the allow-list.
func (a *Auth) Allowed(id string) bool {
	_, ok := a.allowed[id]
	return ok
}

// ClientID extracts the caller id from r. It returns "" when the request
// carries no Authorization header.
func (a *Auth) ClientID(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", nil
	}
	if a.secret != nil && strings.HasPrefix(header, "Bearer ") {
		claims, err := a.validateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			return "", err
		}
		return claims.Subject, nil
	}
	return header, nil
}

// Authorize returns the caller id when r comes from an allowed caller, and an error
// wrapping fstree.ErrForbidden otherwise.
func (a *Auth) Authorize(r *http.Request) (string, error) {
	id, err := a.ClientID(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", fstree.ErrForbidden, err)
	}
	if id == "" {
		return "", fmt.Errorf("%w: missing authorization", fstree.ErrForbidden)
	}
	if !a.Allowed(id) {
		return "", fmt.Errorf("%w: client not allowed", fstree.ErrForbidden)
	}
	return id, nil
}

// RequireWriter rejects requests from callers not on the allow-list with
// 403 before the wrapped handler runs.
func (a *Auth) RequireWriter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.Authorize(r)
		if err != nil {
			metrics.RecordForbidden()
			logging.WithContext(r.Context()).Info("mutation rejected",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			sendAuthError(w, http.StatusForbidden, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), clientContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientFromContext returns the caller id stored by RequireWriter.
func ClientFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clientContextKey).(string)
	return id
}

// IssueToken signs an HS256 token whose subject is clientID.
func IssueToken(secret, clientID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("token secret is empty")
	}
	if clientID == "" {
		return "", errors.New("client id is empty")
	}
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func (a *Auth) validateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func sendAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
