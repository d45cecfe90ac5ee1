package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/ports"
)

const revokedPrefix = "revoked_token:"

// Claims represents the custom JWT claims carried by a voice access token.
// Scope is a space-separated list, as in OAuth 2.0.
type Claims struct {
	jwt.RegisteredClaims
	Role  string `json:"role,omitempty"`
	Scope string `json:"scope,omitempty"`
	Type  string `json:"type"`
}

// JWTService validates the identity tokens presented by voice clients and
// issues them for tooling and tests.
type JWTService struct {
	secret         []byte
	issuer         string
	accessDuration time.Duration
	cache          ports.Cache
	rbac           *RBACService
	log            *zap.Logger
}

// NewJWTService creates a new JWTService instance. cache may be nil, in
// which case revocation is not checked.
func NewJWTService(secret, issuer string, accessDuration time.Duration, cache ports.Cache, log *zap.Logger) *JWTService {
	log = log.With(zap.String("component", "auth"))
	log.Info("JWT service initialized",
		zap.String("issuer", issuer),
		zap.Duration("access_duration", accessDuration),
	)

	return &JWTService{
		secret:         []byte(secret),
		issuer:         issuer,
		accessDuration: accessDuration,
		cache:          cache,
		rbac:           NewRBACService(log),
		log:            log,
	}
}

// GenerateAccessToken creates a signed access token for the principal.
func (s *JWTService) GenerateAccessToken(p *domain.Principal) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		Role:  string(p.Role),
		Scope: strings.Join(p.Scopes, " "),
		Type:  "access",
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses an access token and returns the principal it
// identifies. Every failure wraps domain.ErrAuthentication.
func (s *JWTService) ValidateToken(ctx context.Context, tokenString string) (*domain.Principal, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: missing token", domain.ErrAuthentication)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		s.log.Debug("token validation failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", domain.ErrAuthentication)
	}
	if claims.Type != "access" {
		return nil, fmt.Errorf("%w: %q token cannot open a session", domain.ErrAuthentication, claims.Type)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", domain.ErrAuthentication)
	}
	if s.IsTokenRevoked(ctx, claims.ID) {
		return nil, fmt.Errorf("%w: token revoked", domain.ErrAuthentication)
	}

	role := domain.UserRole(claims.Role)
	if role == "" {
		role = domain.UserRoleUser
	}
	principal := &domain.Principal{
		UserID:  claims.Subject,
		Role:    role,
		Scopes:  s.rbac.Scopes(role, strings.Fields(claims.Scope)),
		TokenID: claims.ID,
	}

	s.log.Debug("token validated",
		zap.String("user_id", principal.UserID),
		zap.String("jti", claims.ID),
	)
	return principal, nil
}

// RevokeToken stores the token ID in the cache until the token would have
// expired on its own.
func (s *JWTService) RevokeToken(ctx context.Context, tokenID string) error {
	if s.cache == nil {
		return errors.New("token revocation requires a cache")
	}
	if err := s.cache.Set(ctx, revokedPrefix+tokenID, "revoked", s.accessDuration); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	s.log.Info("token revoked", zap.String("token_id", tokenID))
	return nil
}

// IsTokenRevoked reports whether tokenID was revoked. Cache errors are
// treated as not revoked.
func (s *JWTService) IsTokenRevoked(ctx context.Context, tokenID string) bool {
	if s.cache == nil || tokenID == "" {
		return false
	}
	val, err := s.cache.Get(ctx, revokedPrefix+tokenID)
	if err != nil {
		if !errors.Is(err, ports.ErrCacheMiss) {
			s.log.Warn("revocation lookup failed", zap.String("token_id", tokenID), zap.Error(err))
		}
		return false
	}
	return val == "revoked"
}
