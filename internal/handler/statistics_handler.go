package handler

import (
	"net/http"

	"libraryapi/internal/middleware"
	"libraryapi/internal/service"
	"libraryapi/pkg/response"

	"github.com/gin-gonic/gin"
)

type StatisticsHandler struct {
	statisticsService service.StatisticsService
	auth              *middleware.Auth
}

func NewStatisticsHandler(statisticsService service.StatisticsService, auth *middleware.Auth) *StatisticsHandler {
	return &StatisticsHandler{statisticsService: statisticsService, auth: auth}
}

func (h *StatisticsHandler) RegisterRoutes(router *gin.RouterGroup) {
	statsGroup := router.Group("/statistics")
	{
		statsGroup.GET("", h.auth.RequireAuth(), h.GetStatistics)
	}
}

// @Summary      Get library statistics
// @Description  Book and reservation counters plus the most borrowed titles
// @Tags         Statistics
// @Produce      json
// @Success      200 {object} response.Response{data=model.LibraryStatistics}
// @Failure      401 {object} response.Response "Unauthorized"
// @Failure      500 {object} response.Response "Internal server error"
// @Security     BearerAuth
// @Router       /api/statistics [get]
func (h *StatisticsHandler) GetStatistics(c *gin.Context) {
	stats, err := h.statisticsService.GetStatistics(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, stats))
}
