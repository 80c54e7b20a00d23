package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"libraryapi/internal/apperror"
	"libraryapi/internal/auth"
	"libraryapi/internal/booklock"
	"libraryapi/internal/middleware"
	"libraryapi/internal/repository"
	"libraryapi/internal/service"
	"libraryapi/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router *gin.Engine
	users  service.UserService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	locker := booklock.NewKeyedMutex()
	issuer := auth.NewIssuer("handler-secret", time.Hour)

	bookRepo := repository.NewBookRepository(db)
	reservationRepo := repository.NewReservationRepository(db)
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	txManager := repository.NewTransactionManager(db)

	userService := service.NewUserService(userRepo, auditRepo, txManager, issuer, logger)
	catalogService := service.NewCatalogService(bookRepo, reservationRepo, auditRepo, txManager, locker, logger)
	reservationService := service.NewReservationService(bookRepo, reservationRepo, auditRepo, txManager, locker, 0, logger)
	auditService := service.NewAuditService(auditRepo)
	statisticsService := service.NewStatisticsService(repository.NewStatisticsRepository(db))

	authMW := middleware.NewAuth(issuer, userService, false)

	r := gin.New()
	api := r.Group("/api")
	NewUserHandler(userService, authMW, time.Hour).RegisterRoutes(api)
	NewBookHandler(catalogService, authMW).RegisterRoutes(api)
	NewReservationHandler(reservationService, authMW).RegisterRoutes(api)
	NewAuditHandler(auditService, authMW).RegisterRoutes(api)
	NewStatisticsHandler(statisticsService, authMW).RegisterRoutes(api)

	return &testServer{router: r, users: userService}
}

type envelope struct {
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
	Code       string          `json:"code"`
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (s *testServer) login(t *testing.T, email, password string) string {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, code, env.Error)

	var tok service.TokenResponse
	require.NoError(t, json.Unmarshal(env.Data, &tok))
	return tok.Token
}

func (s *testServer) registerPatron(t *testing.T, name, email string) string {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": name, "email": email, "password": "patron-pass",
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	return s.login(t, email, "patron-pass")
}

func TestReservationFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.users.EnsureAdmin(ctx, "Admin", "admin@library.org", "admin-pass")
	require.NoError(t, err)
	admin := s.login(t, "admin@library.org", "admin-pass")
	alice := s.registerPatron(t, "Alice", "alice@example.com")
	bob := s.registerPatron(t, "Bob", "bob@example.com")

	code, env := s.do(t, http.MethodPost, "/api/books", alice, map[string]interface{}{
		"title": "Nope", "author": "A", "genre": "G", "publisher": "P", "published_at": "2001-01-01T00:00:00Z",
	})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, string(apperror.KindPermissionDenied), env.Code)

	code, env = s.do(t, http.MethodPost, "/api/books", admin, map[string]interface{}{
		"title": "Rocannon's World", "author": "Ursula K. Le Guin", "genre": "Fiction",
		"publisher": "Ace", "published_at": "1966-01-01T00:00:00Z",
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var book service.BookResponse
	require.NoError(t, json.Unmarshal(env.Data, &book))

	code, env = s.do(t, http.MethodPost, "/api/reservations", alice, map[string]string{"book_id": book.ID.String()})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var reservation service.ReservationResponse
	require.NoError(t, json.Unmarshal(env.Data, &reservation))
	assert.Equal(t, "active", reservation.State)

	code, env = s.do(t, http.MethodPost, "/api/reservations", bob, map[string]string{"book_id": book.ID.String()})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, string(apperror.KindBookUnavailable), env.Code)

	code, _ = s.do(t, http.MethodPut, "/api/reservations/"+reservation.ID.String()+"/finalize", bob, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = s.do(t, http.MethodPut, "/api/reservations/"+reservation.ID.String()+"/finalize", admin, nil)
	require.Equal(t, http.StatusOK, code, env.Error)

	code, env = s.do(t, http.MethodPut, "/api/reservations/"+reservation.ID.String()+"/cancel", alice, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, string(apperror.KindInvalidReservationState), env.Code)

	code, _ = s.do(t, http.MethodPost, "/api/reservations", bob, map[string]string{"book_id": book.ID.String()})
	assert.Equal(t, http.StatusCreated, code)

	code, env = s.do(t, http.MethodGet, "/api/reservations/book/"+book.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, code)
	var history []service.ReservationResponse
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.Len(t, history, 2)

	code, _ = s.do(t, http.MethodGet, "/api/reservations/active", bob, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, env = s.do(t, http.MethodGet, "/api/reservations/active?limit=1", admin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"totalItems":1`)
}

func TestCatalogErrorsOverHTTP(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodGet, "/api/books/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, string(apperror.KindValidation), env.Code)

	code, env = s.do(t, http.MethodGet, "/api/books/00000000-0000-0000-0000-000000000001", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, string(apperror.KindNotFound), env.Code)

	code, env = s.do(t, http.MethodGet, "/api/books?page=4&pageSize=5", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"items":[],"pagination":{"currentPage":4,"totalPages":0,"pageSize":5,"totalItems":0}}`, string(env.Data))

	code, _ = s.do(t, http.MethodPost, "/api/books", "", map[string]string{"title": "x"})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestUserRoutesOverHTTP(t *testing.T) {
	s := newTestServer(t)
	alice := s.registerPatron(t, "Alice", "alice@example.com")

	code, env := s.do(t, http.MethodGet, "/api/auth/me", alice, nil)
	require.Equal(t, http.StatusOK, code)
	var me service.UserResponse
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, "alice@example.com", me.Email)

	code, _ = s.do(t, http.MethodGet, "/api/users", alice, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, http.MethodPut, "/api/users/"+me.ID.String()+"/permissions", alice, map[string][]string{"permissions": {"modify_users"}})
	assert.Equal(t, http.StatusForbidden, code)

	code, env = s.do(t, http.MethodPut, "/api/users/"+me.ID.String(), alice, map[string]string{"name": "Alice L."})
	require.Equal(t, http.StatusOK, code, env.Error)

	code, _ = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "alice@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, http.MethodDelete, "/api/users/"+me.ID.String(), alice, nil)
	assert.Equal(t, http.StatusOK, code)

	// The token is still well-formed but the account is gone.
	code, _ = s.do(t, http.MethodGet, "/api/auth/me", alice, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestStatusForKinds(t *testing.T) {
	cases := map[apperror.Kind]int{
		apperror.KindValidation:              http.StatusBadRequest,
		apperror.KindUnauthenticated:         http.StatusUnauthorized,
		apperror.KindPermissionDenied:        http.StatusForbidden,
		apperror.KindNotFound:                http.StatusNotFound,
		apperror.KindBookUnavailable:         http.StatusConflict,
		apperror.KindInvalidReservationState: http.StatusConflict,
		apperror.KindInfrastructure:          http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, statusFor(kind), string(kind))
	}
}
