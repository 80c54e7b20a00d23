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

type BookHandler struct {
	catalogService service.CatalogService
	auth           *middleware.Auth
}

// NewBookHandler sets up the routing dependencies for catalog endpoints
func NewBookHandler(catalogService service.CatalogService, auth *middleware.Auth) *BookHandler {
	return &BookHandler{catalogService: catalogService, auth: auth}
}

// RegisterRoutes binds the endpoints to the gin RouterGroup
func (h *BookHandler) RegisterRoutes(router *gin.RouterGroup) {
	books := router.Group("/books")
	{
		books.GET("", h.ListBooks)
		books.GET("/:id", h.GetBook)
		books.POST("", h.auth.RequirePermission(authz.CreateBooks), h.CreateBook)
		books.PUT("/:id", h.auth.RequirePermission(authz.ModifyBooks), h.UpdateBook)
		books.DELETE("/:id", h.auth.RequirePermission(authz.DisableBooks), h.DisableBook)
	}
}

// ListBooks handles GET /books
// @Summary      List books
// @Description  Filters are exact matches except title, which matches a case-insensitive substring
// @Tags         books
// @Produce      json
// @Param        title            query     string  false  "Title substring"
// @Param        author           query     string  false  "Author"
// @Param        genre            query     string  false  "Genre"
// @Param        publisher        query     string  false  "Publisher"
// @Param        available        query     bool    false  "Availability"
// @Param        includeDisabled  query     bool    false  "Include disabled books"
// @Param        page             query     int     false  "Page number (default 1)"
// @Param        limit            query     int     false  "Number of items per page (default 10)"
// @Success      200              {object}  response.Response{data=pagination.Page[service.BookResponse]}
// @Failure      400              {object}  response.Response
// @Router       /api/books [get]
func (h *BookHandler) ListBooks(c *gin.Context) {
	var query service.BookQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badPayload(c, err)
		return
	}

	page, err := h.catalogService.ListBooks(c.Request.Context(), query, pagination.Parse(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, page))
}

// GetBook handles GET /books/:id
// @Summary      Get book by ID
// @Tags         books
// @Produce      json
// @Param        id   path      string  true  "Book ID"
// @Success      200  {object}  response.Response{data=service.BookResponse}
// @Failure      400  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/books/{id} [get]
func (h *BookHandler) GetBook(c *gin.Context) {
	book, err := h.catalogService.GetBook(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, book))
}

// CreateBook handles POST /books
// @Summary      Create a book
// @Tags         books
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateBookRequest  true  "Book"
// @Success      201      {object}  response.Response{data=service.BookResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Router       /api/books [post]
func (h *BookHandler) CreateBook(c *gin.Context) {
	var req service.CreateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}

	book, err := h.catalogService.CreateBook(c.Request.Context(), middleware.PrincipalFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, book))
}

// UpdateBook handles PUT /books/:id
// @Summary      Update a book
// @Description  Only the fields present in the payload are changed
// @Tags         books
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                     true  "Book ID"
// @Param        payload  body      service.UpdateBookRequest  true  "Fields to change"
// @Success      200      {object}  response.Response{data=service.BookResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /api/books/{id} [put]
func (h *BookHandler) UpdateBook(c *gin.Context) {
	var req service.UpdateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}

	book, err := h.catalogService.UpdateBook(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, book))
}

// DisableBook handles DELETE /books/:id as a soft delete
// @Summary      Disable a book
// @Tags         books
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Book ID"
// @Success      200  {object}  response.Response
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/books/{id} [delete]
func (h *BookHandler) DisableBook(c *gin.Context) {
	if err := h.catalogService.DisableBook(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, "Book disabled successfully"))
}
