package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type Options struct {
	Secret         string
	TokenTTL       time.Duration
	MinPasswordLen int
	BcryptCost     int
	Now            func() time.Time
}

// Service issues HS256 session tokens for users kept in a UserStore.
// Signed-out tokens stay rejected until they would have expired anyway.
type Service struct {
	users          UserStore
	revoked        RevocationList
	secret         []byte
	tokenTTL       time.Duration
	minPasswordLen int
	bcryptCost     int
	now            func() time.Time
	log            *slog.Logger
}

func NewService(users UserStore, revoked RevocationList, log *slog.Logger, opts Options) *Service {
	s := &Service{
		users:          users,
		revoked:        revoked,
		secret:         []byte(opts.Secret),
		tokenTTL:       opts.TokenTTL,
		minPasswordLen: opts.MinPasswordLen,
		bcryptCost:     opts.BcryptCost,
		now:            opts.Now,
		log:            log,
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = 24 * time.Hour
	}
	if s.minPasswordLen <= 0 {
		s.minPasswordLen = 6
	}
	if s.bcryptCost == 0 {
		s.bcryptCost = bcrypt.DefaultCost
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) SignUp(ctx context.Context, email, password string) (*Session, error) {
	email, password, err := s.validate(email, password)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "user signed up", "user_id", user.ID)
	return s.issueToken(user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	password = strings.TrimSpace(password)
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.issueToken(user)
}

func (s *Service) SignOut(ctx context.Context, token string) error {
	claims, err := s.parseToken(token)
	if err != nil {
		return err
	}
	ttl := claims.ExpiresAt.Time.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.revoked.Revoke(ctx, claims.ID, ttl); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.log.InfoContext(ctx, "user signed out", "user_id", claims.Subject)
	return nil
}

// Verify returns the user id a token was issued to.
func (s *Service) Verify(ctx context.Context, token string) (string, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return "", err
	}
	revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return "", fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return "", ErrNoSession
	}
	return claims.Subject, nil
}

// validate trims both fields and enforces presence, address shape and
// minimum password length, in that order.
func (s *Service) validate(email, password string) (string, string, error) {
	email = normalizeEmail(email)
	password = strings.TrimSpace(password)

	if email == "" || password == "" {
		return "", "", ErrMissingCredentials
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", "", ErrInvalidEmail
	}
	if len([]rune(password)) < s.minPasswordLen {
		return "", "", ErrWeakPassword
	}
	return email, password, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
