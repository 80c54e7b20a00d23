package handler

import (
	"net/http"
	"strconv"

	"libraryapi/internal/authz"
	"libraryapi/internal/middleware"
	"libraryapi/internal/service"
	"libraryapi/pkg/pagination"
	"libraryapi/pkg/response"

	"github.com/gin-gonic/gin"
)

type ReservationHandler struct {
	reservationService service.ReservationService
	auth               *middleware.Auth
}

func NewReservationHandler(reservationService service.ReservationService, auth *middleware.Auth) *ReservationHandler {
	return &ReservationHandler{reservationService: reservationService, auth: auth}
}

func (h *ReservationHandler) RegisterRoutes(router *gin.RouterGroup) {
	reservations := router.Group("/reservations")
	{
		reservations.GET("/book/:bookId", h.GetBookHistory)

		reservations.POST("", h.auth.RequireAuth(), h.CreateReservation)
		reservations.PUT("/:id/finalize", h.auth.RequireAuth(), h.FinalizeReservation)
		reservations.PUT("/:id/cancel", h.auth.RequireAuth(), h.CancelReservation)
		reservations.GET("/user", h.auth.RequireAuth(), h.GetUserHistory)
		reservations.GET("/user/:userId", h.auth.RequireAuth(), h.GetUserHistory)
		reservations.GET("/active", h.auth.RequirePermission(authz.ModifyBooks), h.ListActiveReservations)
	}
}

func includeDisabled(c *gin.Context) bool {
	v, _ := strconv.ParseBool(c.DefaultQuery("includeDisabled", "false"))
	return v
}

// CreateReservation handles POST /reservations for the calling user
// @Summary      Reserve a book
// @Tags         reservations
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateReservationRequest  true  "Book to reserve"
// @Success      201      {object}  response.Response{data=service.ReservationResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response "Book unavailable"
// @Router       /api/reservations [post]
func (h *ReservationHandler) CreateReservation(c *gin.Context) {
	var req service.CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}

	reservation, err := h.reservationService.CreateReservation(c.Request.Context(), middleware.PrincipalFrom(c), req.BookID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, reservation))
}

// FinalizeReservation handles PUT /reservations/:id/finalize (book returned)
// @Summary      Finalize a reservation
// @Description  Allowed for the reservation owner or holders of modify_books
// @Tags         reservations
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Reservation ID"
// @Success      200  {object}  response.Response{data=service.ReservationResponse}
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Failure      409  {object}  response.Response "Reservation not active"
// @Router       /api/reservations/{id}/finalize [put]
func (h *ReservationHandler) FinalizeReservation(c *gin.Context) {
	reservation, err := h.reservationService.FinalizeReservation(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, reservation))
}

// CancelReservation handles PUT /reservations/:id/cancel
// @Summary      Cancel a reservation
// @Description  Allowed for the reservation owner or holders of modify_books
// @Tags         reservations
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Reservation ID"
// @Success      200  {object}  response.Response{data=service.ReservationResponse}
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Failure      409  {object}  response.Response "Reservation not active"
// @Router       /api/reservations/{id}/cancel [put]
func (h *ReservationHandler) CancelReservation(c *gin.Context) {
	reservation, err := h.reservationService.CancelReservation(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, reservation))
}

// GetBookHistory handles GET /reservations/book/:bookId
// @Summary      Reservation history of a book
// @Tags         reservations
// @Produce      json
// @Param        bookId           path      string  true   "Book ID"
// @Param        includeDisabled  query     bool    false  "Include hidden reservations"
// @Success      200              {object}  response.Response{data=[]service.ReservationResponse}
// @Failure      404              {object}  response.Response
// @Router       /api/reservations/book/{bookId} [get]
func (h *ReservationHandler) GetBookHistory(c *gin.Context) {
	history, err := h.reservationService.GetBookHistory(c.Request.Context(), c.Param("bookId"), includeDisabled(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, history))
}

// GetUserHistory handles GET /reservations/user[/:userId]; without a user id
// the caller's own history is returned
// @Summary      Reservation history of a user
// @Tags         reservations
// @Produce      json
// @Security     BearerAuth
// @Param        userId           path      string  false  "User ID"
// @Param        includeDisabled  query     bool    false  "Include hidden reservations"
// @Success      200              {object}  response.Response{data=[]service.ReservationResponse}
// @Failure      403              {object}  response.Response
// @Router       /api/reservations/user/{userId} [get]
func (h *ReservationHandler) GetUserHistory(c *gin.Context) {
	history, err := h.reservationService.GetUserHistory(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("userId"), includeDisabled(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, history))
}

// ListActiveReservations handles GET /reservations/active
// @Summary      List active reservations
// @Tags         reservations
// @Produce      json
// @Security     BearerAuth
// @Param        user_id  query     string  false  "Filter by user"
// @Param        book_id  query     string  false  "Filter by book"
// @Param        page     query     int     false  "Page number (default 1)"
// @Param        limit    query     int     false  "Number of items per page (default 10)"
// @Success      200      {object}  response.Response{data=pagination.Page[service.ReservationResponse]}
// @Failure      403      {object}  response.Response
// @Router       /api/reservations/active [get]
func (h *ReservationHandler) ListActiveReservations(c *gin.Context) {
	var query service.ActiveReservationQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badPayload(c, err)
		return
	}

	page, err := h.reservationService.ListActiveReservations(c.Request.Context(), query, pagination.Parse(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, page))
}
