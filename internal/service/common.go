package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"libraryapi/internal/apperror"
	"libraryapi/internal/authz"
	"libraryapi/internal/model"
	"libraryapi/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const timeLayout = time.RFC3339

// validate is shared by every service; validator caches struct metadata.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("permission", func(fl validator.FieldLevel) bool {
		_, err := authz.ParsePermission(fl.Field().String())
		return err == nil
	})
	return v
}

// validateStruct turns validator failures into a single ValidationError.
func validateStruct(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperror.Validation("invalid request: %v", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed '%s=%s'", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed '%s'", fe.Field(), fe.Tag()))
		}
	}
	return apperror.Validation("validation failed: %s", strings.Join(msgs, ", "))
}

func parseID(entity, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, apperror.InvalidID(entity, err)
	}
	return id, nil
}

// storageError maps repository failures: missing rows become NotFound,
// errors already classified pass through, anything else is infrastructure.
func storageError(err error, entity string) error {
	if err == nil {
		return nil
	}
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.NotFound("%s not found", entity)
	}
	return apperror.Infrastructure(err, "database error")
}

func requireAuthenticated(p authz.Principal) error {
	if p.UserID == uuid.Nil {
		return apperror.PermissionDenied("authentication required")
	}
	return nil
}

// writeAudit records an action inside the caller's transaction context.
func writeAudit(ctx context.Context, repo repository.AuditRepository, actor uuid.UUID, action, entityID, entityName string, details interface{}) error {
	var uid *uuid.UUID
	if actor != uuid.Nil {
		uid = &actor
	}

	payload := "{}"
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("failed to encode audit details: %w", err)
		}
		payload = string(raw)
	}

	entry := &model.AuditLog{
		UserID:     uid,
		Action:     action,
		EntityID:   entityID,
		EntityName: entityName,
		Details:    payload,
	}
	if err := repo.Log(ctx, entry); err != nil {
		return apperror.Infrastructure(err, "failed to write audit log")
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(timeLayout)
	return &s
}

func uuidPtrString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}
