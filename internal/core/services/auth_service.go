package services

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// OperatorRole controls which parts of the control API a token may use.
type OperatorRole string

const (
	RoleViewer   OperatorRole = "viewer"
	RoleOperator OperatorRole = "operator"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

type operatorContextKey struct{}

// AuthService issues and validates operator tokens.
type AuthService interface {
	GenerateToken(operatorID string, role OperatorRole) (string, error)
	GenerateRefreshToken(operatorID string, role OperatorRole) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	ValidateRefreshToken(tokenString string) (*Claims, error)
	CheckRole(claims *Claims, required OperatorRole) error
}

// Claims represents JWT claims
type Claims struct {
	OperatorID string       `json:"operator_id"`
	Role       OperatorRole `json:"role"`
	TokenType  string       `json:"token_type"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret       []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

// NewAuthService creates a new authentication service
func NewAuthService(jwtSecret string, accessTokenTTL, refreshTokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret:       []byte(jwtSecret),
		accessTokenTTL:  accessTokenTTL,
		refreshTokenTTL: refreshTokenTTL,
	}
}

// GenerateToken generates a new access token for an operator
func (s *authService) GenerateToken(operatorID string, role OperatorRole) (string, error) {
	return s.sign(operatorID, role, tokenTypeAccess, s.accessTokenTTL)
}

// GenerateRefreshToken generates a refresh token
func (s *authService) GenerateRefreshToken(operatorID string, role OperatorRole) (string, error) {
	return s.sign(operatorID, role, tokenTypeRefresh, s.refreshTokenTTL)
}

func (s *authService) sign(operatorID string, role OperatorRole, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		OperatorID: operatorID,
		Role:       role,
		TokenType:  tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operatorID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken validates an access token and returns claims
func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateRefreshToken validates a refresh token
func (s *authService) ValidateRefreshToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeRefresh {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *authService) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// CheckRole allows operators everything and viewers only viewer routes.
func (s *authService) CheckRole(claims *Claims, required OperatorRole) error {
	if claims == nil {
		return ErrUnauthorized
	}
	if claims.Role == RoleOperator || claims.Role == required {
		return nil
	}
	return ErrUnauthorized
}

// ContextWithClaims stores validated claims in ctx.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, operatorContextKey{}, claims)
}

// ClaimsFromContext returns the claims stored by ContextWithClaims.
func ClaimsFromContext(ctx context.Context) (*Claims, error) {
	claims, ok := ctx.Value(operatorContextKey{}).(*Claims)
	if !ok || claims == nil {
		return nil, ErrUnauthorized
	}
	return claims, nil
}
