package services

import (
	"context"
	"errors"
	"time"

	"github.com/stockroom/apiserver/types"
)

// AuthService handles login, bearer token verification and role checks.
type AuthService struct {
	users    *UserService
	hasher   PasswordHasher
	tokens   *TokenCodec
	loginTTL time.Duration
}

func NewAuthService(users *UserService, hasher PasswordHasher, tokens *TokenCodec, loginTTL time.Duration) *AuthService {
	return &AuthService{users: users, hasher: hasher, tokens: tokens, loginTTL: loginTTL}
}

// Authenticate returns the user matching username and password. An unknown
// username and a wrong password both yield ErrUnauthorized.
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (*types.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, ErrUnauthorized
	}
	return user, nil
}

// IssueTokenFor signs a login token for user.
func (s *AuthService) IssueTokenFor(user *types.User) (string, error) {
	return s.tokens.Issue(user.ID, s.loginTTL)
}

// VerifyToken checks a bearer token. Failures wrap ErrInvalidToken.
func (s *AuthService) VerifyToken(token string) (BearerCredential, error) {
	return s.tokens.Verify(token)
}

// Authorize resolves a bearer token to its user and checks that the user
// holds at least minRole. Token problems and vanished users are
// ErrUnauthorized; an insufficient role is ErrForbidden.
func (s *AuthService) Authorize(ctx context.Context, token string, minRole types.Role) (*types.User, error) {
	cred, err := s.tokens.Verify(token)
	if err != nil {
		return nil, ErrUnauthorized
	}
	user, err := s.users.Get(ctx, cred.SubjectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if !user.Role.Satisfies(minRole) {
		return nil, ErrForbidden
	}
	return user, nil
}
