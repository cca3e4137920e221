package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"cosflow/internal/services"
	"cosflow/internal/store"
)

// Claims identify the caller of an API request.
type Claims struct {
	UserID int64 `json:"userId"`
	RoleID int   `json:"roleId"`
	jwt.RegisteredClaims
}

// Role returns the caller's role.
func (c *Claims) Role() store.Role { return store.Role(c.RoleID) }

// IssuerRoles may create groups, upload evidence and start circulations.
var IssuerRoles = []store.Role{store.RoleAdmin, store.RoleIssuer, store.RoleChecker}

// IssueToken signs an HS256 token for user.
func IssueToken(secret string, user store.User, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := Claims{
		UserID: user.ID,
		RoleID: int(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates tokenStr and returns its claims.
func ParseToken(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("token has no user id")
	}
	return claims, nil
}

type claimsKey struct{}

func claimsFrom(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey{}).(*Claims)
	return claims
}

func bearerToken(r *http.Request, allowQuery bool) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if allowQuery {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return ""
}

// authMiddleware validates bearer tokens and stores the claims on the request.
// Websocket upgrades may pass the token as a query parameter.
func authMiddleware(secret string, allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearerToken(r, allowQuery)
			if tokenStr == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized", "unauthorized", ""))
				return
			}
			claims, err := ParseToken(secret, tokenStr)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody("invalid token", "unauthorized", ""))
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			ctx = services.WithActorID(ctx, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireRoles rejects callers whose role is not listed.
func requireRoles(roles ...store.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFrom(r.Context())
			if claims == nil {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized", "unauthorized", ""))
				return
			}
			for _, role := range roles {
				if claims.Role() == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeJSON(w, http.StatusForbidden, errorBody(fmt.Sprintf("role %s may not perform this action", claims.Role()), "forbidden", ""))
		})
	}
}
