package service

import (
	"context"
	"strings"

	"libraryapi/internal/apperror"
	"libraryapi/internal/authz"
	"libraryapi/internal/repository"
	"libraryapi/pkg/pagination"
)

type AuditLogResponse struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	UserName   string `json:"user_name"`
	Action     string `json:"action"`
	EntityID   string `json:"entity_id"`
	EntityName string `json:"entity_name"`
	Details    string `json:"details"`
	CreatedAt  string `json:"created_at"`
}

// AuditLogQuery narrows GetAuditLogs. Empty fields are ignored.
type AuditLogQuery struct {
	Action   string `form:"action"`
	EntityID string `form:"entity_id"`
	UserID   string `form:"user_id"`
}

type AuditService interface {
	GetAuditLogs(ctx context.Context, principal authz.Principal, query AuditLogQuery, p pagination.Params) (pagination.Page[AuditLogResponse], error)
}

type auditService struct {
	repo repository.AuditRepository
}

// NewAuditService creates a new AuditService instance
func NewAuditService(repo repository.AuditRepository) AuditService {
	return &auditService{repo: repo}
}

// GetAuditLogs returns the newest entries first with the acting user preloaded
func (s *auditService) GetAuditLogs(ctx context.Context, principal authz.Principal, query AuditLogQuery, p pagination.Params) (pagination.Page[AuditLogResponse], error) {
	if !authz.Authorize(principal, authz.ModifyUsers) {
		return pagination.Page[AuditLogResponse]{}, apperror.PermissionDenied("missing permission '%s'", authz.ModifyUsers)
	}

	filter := repository.AuditFilter{
		Action:   strings.ToUpper(strings.TrimSpace(query.Action)),
		EntityID: strings.TrimSpace(query.EntityID),
	}
	if query.UserID != "" {
		id, err := parseID("user", query.UserID)
		if err != nil {
			return pagination.Page[AuditLogResponse]{}, err
		}
		filter.ActorID = &id
	}

	logs, total, err := s.repo.List(ctx, filter, p)
	if err != nil {
		return pagination.Page[AuditLogResponse]{}, storageError(err, "audit log")
	}

	res := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		userName := "System"
		userID := ""
		if l.User != nil {
			userName = l.User.Name
		}
		if l.UserID != nil {
			userID = l.UserID.String()
		}

		res = append(res, AuditLogResponse{
			ID:         l.ID.String(),
			UserID:     userID,
			UserName:   userName,
			Action:     l.Action,
			EntityID:   l.EntityID,
			EntityName: l.EntityName,
			Details:    l.Details,
			CreatedAt:  formatTime(l.CreatedAt),
		})
	}

	return pagination.NewPage(res, p, total), nil
}
