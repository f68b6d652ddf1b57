package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"readyline/internal/domain"
	"readyline/internal/repo"
)

// Service provisions identities and mints single-use magic links. One
// instance is created at startup and shared across requests.
type Service struct {
	Repo      repo.Repo
	Secret    string
	TTL       time.Duration
	VerifyURL string
	Now       func() time.Time
}

var (
	ErrNoSecret    = errors.New("magic link secret not configured")
	ErrNoVerifyURL = errors.New("magic link verify url not configured")
)

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return time.Hour
}

// EnsureUser creates the identity for an email, or returns the existing one.
// Identities are created pre-confirmed; no mail is sent here.
func (s *Service) EnsureUser(ctx context.Context, email string) (domain.Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domain.Identity{}, errors.New("email required")
	}
	return s.Repo.EnsureIdentity(ctx, domain.Identity{
		ID:             uuid.NewString(),
		Email:          email,
		EmailConfirmed: true,
		CreatedAt:      s.now().UTC().Format(time.RFC3339),
	})
}

// LinkClaims are the signed contents of a magic link token.
type LinkClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	Redirect string `json:"redirect,omitempty"`
}

// MagicLink mints a time-bounded authentication URL for an existing identity.
// The returned link points at the configured verify endpoint.
func (s *Service) MagicLink(ctx context.Context, email, redirect string) (string, error) {
	if strings.TrimSpace(s.Secret) == "" {
		return "", ErrNoSecret
	}
	if strings.TrimSpace(s.VerifyURL) == "" {
		return "", ErrNoVerifyURL
	}
	ident, err := s.Repo.GetIdentityByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return "", fmt.Errorf("resolve identity for magic link: %w", err)
	}
	now := s.now()
	claims := LinkClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ident.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl())),
		},
		Email:    ident.Email,
		Redirect: redirect,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.Secret))
	if err != nil {
		return "", fmt.Errorf("sign magic link: %w", err)
	}
	sep := "?"
	if strings.Contains(s.VerifyURL, "?") {
		sep = "&"
	}
	return s.VerifyURL + sep + "token=" + url.QueryEscape(token), nil
}

// Verify parses and validates a magic link token.
func (s *Service) Verify(token string) (LinkClaims, error) {
	if strings.TrimSpace(s.Secret) == "" {
		return LinkClaims{}, ErrNoSecret
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if s.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(s.Now))
	}
	parser := jwt.NewParser(opts...)
	claims := &LinkClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.Secret), nil
	})
	if err != nil {
		return LinkClaims{}, err
	}
	if !parsed.Valid {
		return LinkClaims{}, errors.New("invalid token")
	}
	if claims.Subject == "" || claims.Email == "" {
		return LinkClaims{}, errors.New("subject and email claims required")
	}
	return *claims, nil
}
