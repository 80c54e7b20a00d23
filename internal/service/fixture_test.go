package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"libraryapi/internal/auth"
	"libraryapi/internal/authz"
	"libraryapi/internal/booklock"
	"libraryapi/internal/model"
	"libraryapi/internal/repository"
	"libraryapi/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	db           *gorm.DB
	books        repository.BookRepository
	reservations repository.ReservationRepository
	users        repository.UserRepository
	audit        repository.AuditRepository
	txManager    repository.TransactionManager

	catalog     *catalogService
	reservation *reservationService
	userSvc     *userService
	auditSvc    AuditService
	statsSvc    StatisticsService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	locker := booklock.NewKeyedMutex()

	env := &testEnv{
		db:           db,
		books:        repository.NewBookRepository(db),
		reservations: repository.NewReservationRepository(db),
		users:        repository.NewUserRepository(db),
		audit:        repository.NewAuditRepository(db),
		txManager:    repository.NewTransactionManager(db),
	}

	env.catalog = NewCatalogService(env.books, env.reservations, env.audit, env.txManager, locker, logger).(*catalogService)
	env.reservation = NewReservationService(env.books, env.reservations, env.audit, env.txManager, locker, 0, logger).(*reservationService)
	env.userSvc = NewUserService(env.users, env.audit, env.txManager, auth.NewIssuer("test-secret", time.Hour), logger).(*userService)
	env.auditSvc = NewAuditService(env.audit)
	env.statsSvc = NewStatisticsService(repository.NewStatisticsRepository(db))
	return env
}

// newUser inserts an active user holding perms and returns its principal.
func (e *testEnv) newUser(t *testing.T, name string, perms ...authz.Permission) authz.Principal {
	t.Helper()

	hashed, err := auth.HashPassword("password123")
	require.NoError(t, err)

	user := &model.User{
		Name:        name,
		Email:       name + "-" + uuid.NewString()[:8] + "@example.com",
		Password:    hashed,
		Permissions: authz.NewSet(perms...),
		Active:      true,
	}
	require.NoError(t, e.users.Create(context.Background(), user))
	return user.Principal()
}

func (e *testEnv) newBook(t *testing.T, librarian authz.Principal, title string) *BookResponse {
	t.Helper()

	book, err := e.catalog.CreateBook(context.Background(), librarian, CreateBookRequest{
		Title:       title,
		Author:      "Ursula K. Le Guin",
		Genre:       "Fiction",
		Publisher:   "Ace",
		PublishedAt: time.Date(1969, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return book
}

// assertAvailabilityInvariant checks that a book is unavailable exactly when
// it has one active reservation.
func (e *testEnv) assertAvailabilityInvariant(t *testing.T, bookID uuid.UUID) {
	t.Helper()

	ctx := context.Background()
	book, err := e.books.FindByID(ctx, bookID)
	require.NoError(t, err)
	active, err := e.reservations.CountActiveByBook(ctx, bookID)
	require.NoError(t, err)

	require.LessOrEqual(t, active, int64(1))
	require.Equal(t, active == 1, !book.Available, "available=%v active reservations=%d", book.Available, active)
}
