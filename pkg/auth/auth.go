// Package auth verifies access tokens issued by the POS auth service and
// gates routes on the permissions they carry.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/branchpos/branchpos-backend/pkg/config"
	"github.com/branchpos/branchpos-backend/pkg/errors"
	"github.com/branchpos/branchpos-backend/pkg/httputil"
	"github.com/branchpos/branchpos-backend/pkg/logger"
	"github.com/branchpos/branchpos-backend/pkg/permissions"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims represents the access token claims
type Claims struct {
	jwt.RegisteredClaims
	UserID      string   `json:"user_id"`
	Role        string   `json:"role"`
	BranchID    string   `json:"branch_id,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Verifier validates access tokens
type Verifier struct {
	config *config.JWTConfig
}

// NewVerifier creates a verifier for the shared HMAC secret
func NewVerifier(cfg *config.JWTConfig) *Verifier {
	return &Verifier{config: cfg}
}

// Issue signs a token for the given claims. The POS auth service owns issuance;
// this exists for tooling and tests.
func (v *Verifier) Issue(userID, role, branchID string, extra []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.config.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		UserID:      userID,
		Role:        role,
		BranchID:    branchID,
		Permissions: extra,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(v.config.Secret))
}

// Validate parses and verifies a token string
func (v *Verifier) Validate(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(v.config.Secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.TokenExpired()
		}
		return nil, errors.TokenInvalid()
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.TokenInvalid()
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}

	return claims, nil
}

type permissionsKey struct{}

// Middleware authenticates the bearer token and stores user, branch and
// permissions on the request context.
func (v *Verifier) Middleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.Error(w, errors.Unauthorized("missing authorization header"))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				httputil.Error(w, errors.Unauthorized("invalid authorization header format"))
				return
			}

			claims, err := v.Validate(parts[1])
			if err != nil {
				log.Debug().Err(err).Msg("token validation failed")
				httputil.Error(w, err)
				return
			}

			ctx := httputil.WithUserContext(r.Context(), claims.UserID, claims.Role)
			if claims.BranchID != "" {
				ctx = httputil.WithBranch(ctx, claims.BranchID)
			}
			ctx = WithPermissions(ctx, permissions.ForRole(claims.Role, claims.Permissions))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithPermissions stores the effective permissions on the context
func WithPermissions(ctx context.Context, perms []string) context.Context {
	return context.WithValue(ctx, permissionsKey{}, perms)
}

// Permissions returns the effective permissions stored on the context
func Permissions(ctx context.Context) []string {
	perms, _ := ctx.Value(permissionsKey{}).([]string)
	return perms
}

// RequirePermission rejects requests whose context lacks the permission
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !permissions.HasPermission(Permissions(r.Context()), perm) {
				httputil.Error(w, errors.Forbidden("missing permission "+perm))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
