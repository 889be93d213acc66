package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/claims-gateway/claims_gateway/internal/apperr"
	"github.com/claims-gateway/claims_gateway/internal/identity"
)

// LoginFailedMessage is returned for every credential failure so callers cannot
// tell unknown usernames from wrong passwords.
const LoginFailedMessage = "Bad username or password"

// Claims are the JWT claims minted for a session. Subject carries the username.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Username returns the subject of the token.
func (c Claims) Username() string { return c.Subject }

// Session is a freshly minted bearer token.
type Session struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Service authenticates identities and issues stateless HS256 tokens.
type Service struct {
	repo         identity.Repository
	secret       []byte
	ttl          time.Duration
	issuer       string
	storeTimeout time.Duration
	now          func() time.Time
}

// NewService constructs the session issuer.
func NewService(repo identity.Repository, secret string, ttl time.Duration, issuer string, storeTimeout time.Duration) *Service {
	return &Service{
		repo:         repo,
		secret:       []byte(secret),
		ttl:          ttl,
		issuer:       issuer,
		storeTimeout: storeTimeout,
		now:          time.Now,
	}
}

// Login checks credentials and mints a token for an accepted identity.
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	if username == "" || password == "" {
		return Session{}, apperr.Auth(LoginFailedMessage)
	}
	if s.storeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
	}

	ident, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return Session{}, apperr.Auth(LoginFailedMessage)
		}
		return Session{}, apperr.Internal("lookup identity", err)
	}
	if !identity.CheckPassword(ident.PasswordHash, password) || ident.Status != identity.StatusAccepted {
		return Session{}, apperr.Auth(LoginFailedMessage)
	}
	return s.Issue(ident)
}

// Issue mints a token for ident without checking credentials.
func (s *Service) Issue(ident identity.Identity) (Session, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		Role: string(ident.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ident.Username,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Session{}, apperr.Internal("sign token", err)
	}
	return Session{AccessToken: signed, ExpiresAt: exp}, nil
}

// Verify parses a bearer token and returns its claims.
func (s *Service) Verify(token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, apperr.Auth("token has expired")
		}
		return Claims{}, apperr.Auth("invalid token")
	}
	if claims.Subject == "" {
		return Claims{}, apperr.Auth("invalid token")
	}
	return claims, nil
}
