package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"libraryapi/internal/apperror"
	"libraryapi/internal/auth"
	"libraryapi/internal/authz"
	"libraryapi/internal/model"
	"libraryapi/internal/repository"
	"libraryapi/pkg/pagination"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DTOs for Request validation
type RegisterRequest struct {
	Name     string `json:"name" binding:"required" validate:"required,min=2,max=255"`
	Email    string `json:"email" binding:"required,email" validate:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=6" validate:"required,min=6,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// UpdateUserRequest only carries self-service fields. Password, permissions
// and the active flag have dedicated operations.
type UpdateUserRequest struct {
	Name  *string `json:"name" validate:"omitempty,min=2,max=255"`
	Email *string `json:"email" validate:"omitempty,email,max=255"`
}

type SetPermissionsRequest struct {
	Permissions []string `json:"permissions" binding:"required" validate:"dive,permission"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required" validate:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6" validate:"required,min=6,max=72"`
}

type UserQuery struct {
	Name            string `form:"name"`
	Email           string `form:"email"`
	IncludeDisabled bool   `form:"includeDisabled"`
}

type TokenResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// DTO for returning User without exposing sensitive data (e.g. password)
type UserResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Permissions []string  `json:"permissions"`
	Active      bool      `json:"active"`
	CreatedAt   string    `json:"created_at"`
	UpdatedAt   string    `json:"updated_at"`
}

// UserService defines the interface for business logic related to User
type UserService interface {
	Register(ctx context.Context, req RegisterRequest) (*UserResponse, error)
	Login(ctx context.Context, req LoginRequest) (*TokenResponse, error)
	GetUser(ctx context.Context, id string) (*UserResponse, error)
	ListUsers(ctx context.Context, principal authz.Principal, query UserQuery, p pagination.Params) (pagination.Page[UserResponse], error)
	UpdateUser(ctx context.Context, principal authz.Principal, id string, req UpdateUserRequest) (*UserResponse, error)
	DisableUser(ctx context.Context, principal authz.Principal, id string) error
	SetPermissions(ctx context.Context, principal authz.Principal, id string, req SetPermissionsRequest) (*UserResponse, error)
	ChangePassword(ctx context.Context, principal authz.Principal, id string, req ChangePasswordRequest) error
	EnsureAdmin(ctx context.Context, name, email, password string) (*UserResponse, error)
	ResolvePrincipal(ctx context.Context, userID uuid.UUID) (authz.Principal, error)
}

type userService struct {
	repo      repository.UserRepository
	audit     repository.AuditRepository
	txManager repository.TransactionManager
	issuer    *auth.Issuer
	logger    *slog.Logger
}

// NewUserService returns a new instance of UserService
func NewUserService(
	repo repository.UserRepository,
	audit repository.AuditRepository,
	txManager repository.TransactionManager,
	issuer *auth.Issuer,
	logger *slog.Logger,
) UserService {
	if logger == nil {
		logger = slog.Default()
	}
	return &userService{repo: repo, audit: audit, txManager: txManager, issuer: issuer, logger: logger}
}

// Helper: parse model to standard json API response
func mapUserToResponse(user *model.User) *UserResponse {
	return &UserResponse{
		ID:          user.ID,
		Name:        user.Name,
		Email:       user.Email,
		Permissions: user.Permissions.Strings(),
		Active:      user.Active,
		CreatedAt:   formatTime(user.CreatedAt),
		UpdatedAt:   formatTime(user.UpdatedAt),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ensureEmailFree fails when another user already owns email.
func (s *userService) ensureEmailFree(ctx context.Context, email string, self uuid.UUID) error {
	existing, err := s.repo.GetByEmail(ctx, email)
	if err == nil && existing.ID != self {
		return apperror.Validation("email already exists")
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return storageError(err, "user")
	}
	return nil
}

// loadActive returns the user behind id, treating disabled users as absent.
func (s *userService) loadActive(ctx context.Context, id uuid.UUID) (*model.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, storageError(err, "user")
	}
	if !user.Active {
		return nil, apperror.NotFound("user not found")
	}
	return user, nil
}

func (s *userService) Register(ctx context.Context, req RegisterRequest) (*UserResponse, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, apperror.Infrastructure(err, "failed to hash password")
	}

	user := &model.User{
		Name:     req.Name,
		Email:    req.Email,
		Password: hashed,
		Active:   true,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.ensureEmailFree(txCtx, user.Email, uuid.Nil); err != nil {
			return err
		}
		if err := s.repo.Create(txCtx, user); err != nil {
			return storageError(err, "user")
		}
		return writeAudit(txCtx, s.audit, user.ID, model.ActionRegisterUser, user.ID.String(), user.Name, map[string]interface{}{
			"email": user.Email,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", "user_id", user.ID)
	return mapUserToResponse(user), nil
}

func (s *userService) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	user, err := s.repo.GetByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.Unauthenticated("invalid email or password")
		}
		return nil, storageError(err, "user")
	}
	if !user.Active {
		return nil, apperror.Unauthenticated("invalid email or password")
	}
	if err := auth.CheckPassword(user.Password, req.Password); err != nil {
		return nil, apperror.Unauthenticated("invalid email or password")
	}

	token, exp, err := s.issuer.Sign(user.ID, user.Permissions)
	if err != nil {
		return nil, apperror.Infrastructure(err, "failed to generate token")
	}

	return &TokenResponse{
		Token:     token,
		ExpiresAt: formatTime(exp),
		User:      *mapUserToResponse(user),
	}, nil
}

func (s *userService) GetUser(ctx context.Context, id string) (*UserResponse, error) {
	userID, err := parseID("user", id)
	if err != nil {
		return nil, err
	}
	user, err := s.loadActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	return mapUserToResponse(user), nil
}

func (s *userService) ListUsers(ctx context.Context, principal authz.Principal, query UserQuery, p pagination.Params) (pagination.Page[UserResponse], error) {
	if !authz.Authorize(principal, authz.ModifyUsers) {
		return pagination.Page[UserResponse]{}, apperror.PermissionDenied("missing permission '%s'", authz.ModifyUsers)
	}

	users, total, err := s.repo.List(ctx, repository.UserFilter{
		Name:            strings.TrimSpace(query.Name),
		Email:           normalizeEmail(query.Email),
		IncludeDisabled: query.IncludeDisabled,
	}, p)
	if err != nil {
		return pagination.Page[UserResponse]{}, storageError(err, "user")
	}

	responses := make([]UserResponse, 0, len(users))
	for i := range users {
		responses = append(responses, *mapUserToResponse(&users[i]))
	}
	return pagination.NewPage(responses, p, total), nil
}

func (s *userService) UpdateUser(ctx context.Context, principal authz.Principal, id string, req UpdateUserRequest) (*UserResponse, error) {
	userID, err := parseID("user", id)
	if err != nil {
		return nil, err
	}
	if !authz.IsSelfOrAuthorized(principal, userID, authz.ModifyUsers) {
		return nil, apperror.PermissionDenied("missing permission '%s'", authz.ModifyUsers)
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		req.Name = &name
	}
	if req.Email != nil {
		email := normalizeEmail(*req.Email)
		req.Email = &email
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if req.Name == nil && req.Email == nil {
		return nil, apperror.Validation("no fields to update")
	}

	var user *model.User
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.loadActive(txCtx, userID)
		if err != nil {
			return err
		}

		fields := make(map[string]interface{})
		if req.Name != nil && *req.Name != current.Name {
			fields["name"] = *req.Name
		}
		if req.Email != nil && *req.Email != current.Email {
			if err := s.ensureEmailFree(txCtx, *req.Email, userID); err != nil {
				return err
			}
			fields["email"] = *req.Email
		}

		if len(fields) > 0 {
			if err := s.repo.UpdateFields(txCtx, userID, fields); err != nil {
				return storageError(err, "user")
			}
			changed := make([]string, 0, len(fields))
			for k := range fields {
				changed = append(changed, k)
			}
			sort.Strings(changed)
			if err := writeAudit(txCtx, s.audit, principal.UserID, model.ActionUpdateUser, userID.String(), current.Name, map[string]interface{}{
				"fields": changed,
			}); err != nil {
				return err
			}
		}

		user, err = s.repo.GetByID(txCtx, userID)
		return storageError(err, "user")
	})
	if err != nil {
		return nil, err
	}
	return mapUserToResponse(user), nil
}

func (s *userService) DisableUser(ctx context.Context, principal authz.Principal, id string) error {
	userID, err := parseID("user", id)
	if err != nil {
		return err
	}
	if !authz.IsSelfOrAuthorized(principal, userID, authz.DisableUsers) {
		return apperror.PermissionDenied("missing permission '%s'", authz.DisableUsers)
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		user, err := s.repo.GetByID(txCtx, userID)
		if err != nil {
			return storageError(err, "user")
		}
		if !user.Active {
			return nil
		}
		if err := s.repo.UpdateFields(txCtx, userID, map[string]interface{}{"active": false}); err != nil {
			return storageError(err, "user")
		}
		return writeAudit(txCtx, s.audit, principal.UserID, model.ActionDisableUser, userID.String(), user.Name, nil)
	})
	if err != nil {
		return err
	}

	s.logger.Info("user disabled", "user_id", userID, "by", principal.UserID)
	return nil
}

func (s *userService) SetPermissions(ctx context.Context, principal authz.Principal, id string, req SetPermissionsRequest) (*UserResponse, error) {
	if !authz.Authorize(principal, authz.ModifyUsers) {
		return nil, apperror.PermissionDenied("missing permission '%s'", authz.ModifyUsers)
	}
	userID, err := parseID("user", id)
	if err != nil {
		return nil, err
	}

	if err := validateStruct(req); err != nil {
		return nil, err
	}
	perms, err := authz.ParseSet(req.Permissions)
	if err != nil {
		return nil, err
	}

	var user *model.User
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.loadActive(txCtx, userID)
		if err != nil {
			return err
		}
		if err := s.repo.UpdateFields(txCtx, userID, map[string]interface{}{"permissions": perms}); err != nil {
			return storageError(err, "user")
		}
		if err := writeAudit(txCtx, s.audit, principal.UserID, model.ActionUpdatePermissions, userID.String(), current.Name, map[string]interface{}{
			"from": current.Permissions.Strings(),
			"to":   perms.Strings(),
		}); err != nil {
			return err
		}

		user, err = s.repo.GetByID(txCtx, userID)
		return storageError(err, "user")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user permissions updated", "user_id", userID, "permissions", perms.Strings(), "by", principal.UserID)
	return mapUserToResponse(user), nil
}

func (s *userService) ChangePassword(ctx context.Context, principal authz.Principal, id string, req ChangePasswordRequest) error {
	userID, err := parseID("user", id)
	if err != nil {
		return err
	}
	if principal.UserID == uuid.Nil || principal.UserID != userID {
		return apperror.PermissionDenied("users may only change their own password")
	}
	if err := validateStruct(req); err != nil {
		return err
	}

	user, err := s.loadActive(ctx, userID)
	if err != nil {
		return err
	}
	if err := auth.CheckPassword(user.Password, req.OldPassword); err != nil {
		return apperror.Validation("current password is incorrect")
	}

	hashed, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		return apperror.Infrastructure(err, "failed to hash password")
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.UpdateFields(txCtx, userID, map[string]interface{}{"password": hashed}); err != nil {
			return storageError(err, "user")
		}
		return writeAudit(txCtx, s.audit, principal.UserID, model.ActionChangePassword, userID.String(), user.Name, nil)
	})
}

// EnsureAdmin creates or resets an operator account holding every permission.
func (s *userService) EnsureAdmin(ctx context.Context, name, email, password string) (*UserResponse, error) {
	req := RegisterRequest{Name: strings.TrimSpace(name), Email: normalizeEmail(email), Password: password}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, apperror.Infrastructure(err, "failed to hash password")
	}

	var user *model.User
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		existing, err := s.repo.GetByEmail(txCtx, req.Email)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			user = &model.User{
				Name:        req.Name,
				Email:       req.Email,
				Password:    hashed,
				Permissions: authz.FullSet(),
				Active:      true,
			}
			if err := s.repo.Create(txCtx, user); err != nil {
				return storageError(err, "user")
			}
			return writeAudit(txCtx, s.audit, uuid.Nil, model.ActionRegisterUser, user.ID.String(), user.Name, map[string]interface{}{
				"email": user.Email,
				"admin": true,
			})
		case err != nil:
			return storageError(err, "user")
		}

		if err := s.repo.UpdateFields(txCtx, existing.ID, map[string]interface{}{
			"name":        req.Name,
			"password":    hashed,
			"permissions": authz.FullSet(),
			"active":      true,
		}); err != nil {
			return storageError(err, "user")
		}
		if err := writeAudit(txCtx, s.audit, uuid.Nil, model.ActionUpdatePermissions, existing.ID.String(), req.Name, map[string]interface{}{
			"from": existing.Permissions.Strings(),
			"to":   authz.FullSet().Strings(),
		}); err != nil {
			return err
		}
		user, err = s.repo.GetByID(txCtx, existing.ID)
		return storageError(err, "user")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("admin account ensured", "user_id", user.ID, "email", user.Email)
	return mapUserToResponse(user), nil
}

// ResolvePrincipal loads the current permissions of an active user.
func (s *userService) ResolvePrincipal(ctx context.Context, userID uuid.UUID) (authz.Principal, error) {
	user, err := s.loadActive(ctx, userID)
	if err != nil {
		return authz.Principal{}, err
	}
	return user.Principal(), nil
}
