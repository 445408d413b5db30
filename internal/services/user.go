package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/siteinspect/apiserver/internal/apperror"
	"github.com/siteinspect/apiserver/internal/auth"
	"github.com/siteinspect/apiserver/internal/events"
	"github.com/siteinspect/apiserver/internal/store"
	"github.com/siteinspect/apiserver/internal/validate"
	"github.com/siteinspect/apiserver/types"
)

const (
	defaultResetTokenTTL = time.Hour
	publicIDAttempts     = 5
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetByResetTokenHash(ctx context.Context, hash string) (types.User, error)
	List(ctx context.Context, filter types.UserFilter) ([]types.User, int, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	Delete(ctx context.Context, id string) error
}

// TokenIssuer signs access tokens for users.
type TokenIssuer interface {
	Issue(user types.User) (string, error)
}

// RegisterInput is the payload for self-registration and root bootstrap.
type RegisterInput struct {
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"max=100"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// ProfileInput updates the caller's own account. Password changes require
// the current password.
type ProfileInput struct {
	FirstName       string `json:"firstName" validate:"required,max=100"`
	LastName        string `json:"lastName" validate:"max=100"`
	Email           string `json:"email" validate:"omitempty,email,max=254"`
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword" validate:"omitempty,min=8,max=72"`
}

type ForgotPasswordInput struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordInput struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// UserService encapsulates account use-cases.
type UserService struct {
	repo     UserRepository
	tokens   TokenIssuer
	events   events.Publisher
	resetTTL time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

func NewUserService(repo UserRepository, tokens TokenIssuer, publisher events.Publisher, resetTTL time.Duration, log zerolog.Logger) *UserService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if resetTTL <= 0 {
		resetTTL = defaultResetTokenTTL
	}
	return &UserService{
		repo:     repo,
		tokens:   tokens,
		events:   publisher,
		resetTTL: resetTTL,
		log:      log.With().Str("component", "users").Logger(),
		now:      time.Now,
	}
}

func (s *UserService) GetByID(ctx context.Context, id string) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, notFound(err, "user")
	}
	return user, nil
}

func (s *UserService) List(ctx context.Context, filter types.UserFilter) ([]types.User, types.PageMeta, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, types.PageMeta{}, err
	}
	return users, types.NewPageMeta(filter.PageQuery, total), nil
}

// Register creates an unapproved inspector account.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (types.User, error) {
	return s.create(ctx, input, types.RoleInspector, false)
}

// CreateRoot creates an approved root account.
func (s *UserService) CreateRoot(ctx context.Context, input RegisterInput) (types.User, error) {
	return s.create(ctx, input, types.RoleRoot, true)
}

func (s *UserService) create(ctx context.Context, input RegisterInput, role types.Role, approved bool) (types.User, error) {
	input.Email = strings.TrimSpace(input.Email)
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)
	if err := validate.Struct(input); err != nil {
		return types.User{}, err
	}
	if err := s.ensureEmailFree(ctx, input.Email, ""); err != nil {
		return types.User{}, err
	}
	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		return types.User{}, err
	}

	user := types.User{
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Email:        input.Email,
		PasswordHash: hash,
		Role:         role,
		IsApproved:   approved,
	}
	// Public ids are short, so a collision is retried with a fresh one.
	for attempt := 0; ; attempt++ {
		user.UserID, err = auth.NewPublicID()
		if err != nil {
			return types.User{}, err
		}
		created, err := s.repo.Create(ctx, user)
		if err == nil {
			s.log.Info().Str("user_id", created.ID).Str("role", role.String()).Msg("user created")
			return created, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt+1 >= publicIDAttempts {
			return types.User{}, conflict(err, "email already registered")
		}
		if err := s.ensureEmailFree(ctx, input.Email, ""); err != nil {
			return types.User{}, err
		}
	}
}

// Login verifies credentials and returns a signed token. Suspended and
// unapproved accounts are refused here and nowhere else.
func (s *UserService) Login(ctx context.Context, input LoginInput) (string, types.User, error) {
	if err := validate.Struct(input); err != nil {
		return "", types.User{}, err
	}
	user, err := s.repo.GetByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", types.User{}, apperror.Authentication("invalid credentials")
		}
		return "", types.User{}, err
	}
	if err := auth.CheckPassword(user.PasswordHash, input.Password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return "", types.User{}, apperror.Authentication("invalid credentials")
		}
		return "", types.User{}, err
	}
	if user.IsSuspended {
		return "", types.User{}, apperror.Authorization("account is suspended")
	}
	if !user.IsApproved {
		return "", types.User{}, apperror.Authorization("account is pending approval")
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return "", types.User{}, err
	}
	return token, user, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, actor types.User, input ProfileInput) (types.User, error) {
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)
	input.Email = strings.TrimSpace(input.Email)
	if err := validate.Struct(input); err != nil {
		return types.User{}, err
	}
	user, err := s.GetByID(ctx, actor.ID)
	if err != nil {
		return types.User{}, err
	}
	if !strings.EqualFold(input.Email, user.Email) && input.Email != "" {
		if err := s.ensureEmailFree(ctx, input.Email, user.ID); err != nil {
			return types.User{}, err
		}
	}
	if input.Email == "" && user.Email != "" {
		return types.User{}, apperror.Field("email", "is required")
	}

	if input.NewPassword != "" {
		if input.CurrentPassword == "" {
			return types.User{}, apperror.Field("currentPassword", "is required to change the password")
		}
		if err := auth.CheckPassword(user.PasswordHash, input.CurrentPassword); err != nil {
			if errors.Is(err, auth.ErrPasswordMismatch) {
				return types.User{}, apperror.Field("currentPassword", "is incorrect")
			}
			return types.User{}, err
		}
		hash, err := auth.HashPassword(input.NewPassword)
		if err != nil {
			return types.User{}, err
		}
		user.PasswordHash = hash
	}

	user.FirstName = input.FirstName
	user.LastName = input.LastName
	if input.Email != "" {
		user.Email = input.Email
	}
	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		return types.User{}, conflict(err, "email already registered")
	}
	return updated, nil
}

func (s *UserService) Approve(ctx context.Context, id string, actor types.User) (types.User, error) {
	return s.moderate(ctx, id, actor, func(u *types.User) { u.IsApproved = true })
}

func (s *UserService) Suspend(ctx context.Context, id string, actor types.User) (types.User, error) {
	return s.moderate(ctx, id, actor, func(u *types.User) { u.IsSuspended = true })
}

func (s *UserService) Unsuspend(ctx context.Context, id string, actor types.User) (types.User, error) {
	return s.moderate(ctx, id, actor, func(u *types.User) { u.IsSuspended = false })
}

// moderate applies change to the target account. Root accounts are never
// moderated and admins may only act on inspectors.
func (s *UserService) moderate(ctx context.Context, id string, actor types.User, change func(*types.User)) (types.User, error) {
	target, err := s.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	if err := canManage(actor, target); err != nil {
		return types.User{}, err
	}
	change(&target)
	updated, err := s.repo.Update(ctx, target)
	if err != nil {
		return types.User{}, notFound(err, "user")
	}
	s.log.Info().Str("user_id", target.ID).Str("actor_id", actor.ID).
		Bool("approved", updated.IsApproved).Bool("suspended", updated.IsSuspended).
		Msg("user moderated")
	return updated, nil
}

// Delete removes an account. Only root may delete and never itself.
func (s *UserService) Delete(ctx context.Context, id string, actor types.User) error {
	if actor.Role != types.RoleRoot {
		return apperror.Authorization("only root may delete users")
	}
	if id == actor.ID {
		return apperror.Authorization("you cannot delete your own account")
	}
	target, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if target.Role == types.RoleRoot {
		return apperror.Authorization("root accounts cannot be deleted")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return notFound(conflict(err, "user is still referenced by jobs or reports"), "user")
	}
	return nil
}

// ForgotPassword issues a reset token and hands it to the mail consumer.
// Unknown emails succeed silently so accounts cannot be enumerated.
func (s *UserService) ForgotPassword(ctx context.Context, input ForgotPasswordInput) error {
	if err := validate.Struct(input); err != nil {
		return err
	}
	user, err := s.repo.GetByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	token, hash, err := auth.NewResetToken()
	if err != nil {
		return err
	}
	expires := s.now().UTC().Add(s.resetTTL)
	user.ResetTokenHash = hash
	user.ResetTokenExpiresAt = &expires
	if _, err := s.repo.Update(ctx, user); err != nil {
		return err
	}

	s.events.Publish(ctx, events.PasswordResetMail, events.PasswordResetMailEvent{
		UserID:     user.ID,
		Email:      user.Email,
		Name:       user.FullName(),
		Token:      token,
		ExpiresAt:  expires,
		OccurredAt: s.now().UTC(),
	})
	return nil
}

// ResetPassword sets a new password using an outstanding reset token.
func (s *UserService) ResetPassword(ctx context.Context, input ResetPasswordInput) error {
	if err := validate.Struct(input); err != nil {
		return err
	}
	invalid := apperror.Field("token", "invalid or expired reset token")

	user, err := s.repo.GetByResetTokenHash(ctx, auth.HashResetToken(strings.TrimSpace(input.Token)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return invalid
		}
		return err
	}
	if user.ResetTokenExpiresAt == nil || !s.now().Before(*user.ResetTokenExpiresAt) {
		return invalid
	}

	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.ResetTokenHash = ""
	user.ResetTokenExpiresAt = nil
	_, err = s.repo.Update(ctx, user)
	return err
}

func (s *UserService) ensureEmailFree(ctx context.Context, email, selfID string) error {
	existing, err := s.repo.GetByEmail(ctx, email)
	switch {
	case err == nil && existing.ID != selfID:
		return apperror.Conflict("email already registered")
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return err
	}
	return nil
}

func canManage(actor, target types.User) error {
	switch {
	case target.Role == types.RoleRoot:
		return apperror.Authorization("root accounts cannot be modified")
	case actor.ID == target.ID:
		return apperror.Authorization("you cannot moderate your own account")
	case actor.Role == types.RoleRoot:
		return nil
	case actor.Role == types.RoleAdmin && target.Role == types.RoleInspector:
		return nil
	default:
		return apperror.Authorization("insufficient role for this account")
	}
}
