package handler

import (
	"net/http"

	"libraryapi/internal/authz"
	"libraryapi/internal/middleware"
	"libraryapi/internal/service"
	"libraryapi/pkg/pagination"
	"libraryapi/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	auditService service.AuditService
	auth         *middleware.Auth
}

func NewAuditHandler(auditService service.AuditService, auth *middleware.Auth) *AuditHandler {
	return &AuditHandler{auditService: auditService, auth: auth}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/audit-logs")
	group.Use(h.auth.RequirePermission(authz.ModifyUsers)) // Protect history logs
	{
		group.GET("", h.GetAuditLogs)
	}
}

// GetAuditLogs returns paginated audit entries, newest first
// @Summary      Get audit logs
// @Description  Retrieves audit log entries with the acting user's name
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        action     query     string  false  "Action, e.g. CREATE_RESERVATION"
// @Param        entity_id  query     string  false  "Book, reservation or user ID"
// @Param        user_id    query     string  false  "Acting user ID"
// @Param        page       query     int     false  "Page number (default 1)"
// @Param        limit      query     int     false  "Number of items per page (default 10)"
// @Success      200        {object}  response.Response{data=pagination.Page[service.AuditLogResponse]}
// @Failure      400        {object}  response.Response
// @Failure      403        {object}  response.Response
// @Router       /api/audit-logs [get]
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	var query service.AuditLogQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badPayload(c, err)
		return
	}

	page, err := h.auditService.GetAuditLogs(c.Request.Context(), middleware.PrincipalFrom(c), query, pagination.Parse(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, page))
}
