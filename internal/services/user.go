package services

import (
	"context"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/stockroom/apiserver/internal/store"
	"github.com/stockroom/apiserver/types"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 64
	minPasswordLength = 6
)

// RegisterInput is the payload for creating an account.
type RegisterInput struct {
	Username string
	Email    string
	Name     string
	Password string
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo   Repository[*types.User]
	hasher PasswordHasher
}

func NewUserService(repo Repository[*types.User], hasher PasswordHasher) *UserService {
	return &UserService{repo: repo, hasher: hasher}
}

// Register validates input and stores a new user with the default role.
// Concurrent registrations of the same username or email are resolved by the
// database: the loser gets ErrAlreadyExists.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*types.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)

	verr := &ValidationError{}
	switch n := utf8.RuneCountInString(in.Username); {
	case n == 0:
		verr.Add("username", "is required")
	case n < minUsernameLength || n > maxUsernameLength:
		verr.Add("username", "must be between 3 and 64 characters")
	}
	if in.Email == "" {
		verr.Add("email", "is required")
	} else if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		verr.Add("email", "must be a valid email address")
	}
	validatePassword(verr, "password", in.Password)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, wrap("hash password", err)
	}

	user, err := s.repo.Save(ctx, &types.User{
		Username:     in.Username,
		Email:        in.Email,
		Name:         in.Name,
		Role:         types.RoleUser,
		PasswordHash: hashed,
	})
	if err != nil {
		return nil, wrap("create user", err)
	}
	return user, nil
}

// Get loads an active user by id.
func (s *UserService) Get(ctx context.Context, id int) (*types.User, error) {
	user, err := s.repo.Get(ctx, store.ByID(id))
	if err != nil {
		return nil, wrap("get user", err)
	}
	return user, nil
}

// GetByUsername loads an active user by username.
func (s *UserService) GetByUsername(ctx context.Context, username string) (*types.User, error) {
	user, err := s.repo.Get(ctx, store.Where(store.Eq(store.ColumnUsername, strings.TrimSpace(username))))
	if err != nil {
		return nil, wrap("get user", err)
	}
	return user, nil
}

// FindByEmail returns the active user with email, or nil when there is none.
func (s *UserService) FindByEmail(ctx context.Context, email string) (*types.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	user, err := s.repo.FindOne(ctx, store.Where(store.Eq(store.ColumnEmail, email)))
	if err != nil {
		return nil, wrap("find user", err)
	}
	return user, nil
}

// List returns every active user ordered by id.
func (s *UserService) List(ctx context.Context) ([]*types.User, error) {
	users, err := s.repo.FindMany(ctx, store.Query{}.OrderBy(store.ColumnID, false))
	if err != nil {
		return nil, wrap("list users", err)
	}
	return users, nil
}

// Delete removes a user. Soft deletion keeps the row but frees the username
// and email for new registrations.
func (s *UserService) Delete(ctx context.Context, id int, mode store.DeleteMode) (*types.User, error) {
	user, err := s.repo.Get(ctx, store.ByID(id))
	if err != nil {
		return nil, wrap("get user", err)
	}
	deleted, err := s.repo.Delete(ctx, user, mode)
	if err != nil {
		return nil, wrap("delete user", err)
	}
	return deleted, nil
}

// ChangePassword stores a new hash for user.
func (s *UserService) ChangePassword(ctx context.Context, user *types.User, plain string) error {
	hashed, err := s.hasher.Hash(plain)
	if err != nil {
		return wrap("hash password", err)
	}
	user.PasswordHash = hashed
	if _, err := s.repo.Save(ctx, user); err != nil {
		return wrap("update user", err)
	}
	return nil
}

// SetRole changes the role of an active user.
func (s *UserService) SetRole(ctx context.Context, id int, role types.Role) (*types.User, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	user.Role = role
	saved, err := s.repo.Save(ctx, user)
	if err != nil {
		return nil, wrap("update user", err)
	}
	return saved, nil
}

func validatePassword(verr *ValidationError, field, password string) {
	switch {
	case password == "":
		verr.Add(field, "is required")
	case utf8.RuneCountInString(password) < minPasswordLength:
		verr.Add(field, "must be at least 6 characters")
	case len(password) > MaxPasswordBytes:
		verr.Add(field, "must be at most 72 bytes")
	}
}
