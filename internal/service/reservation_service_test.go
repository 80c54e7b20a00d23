package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"libraryapi/internal/apperror"
	"libraryapi/internal/authz"
	"libraryapi/internal/booklock"
	"libraryapi/internal/model"
	"libraryapi/internal/repository"
	"libraryapi/pkg/pagination"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservationLifecycleScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.newUser(t, "admin", authz.CreateBooks, authz.ModifyBooks)
	patronA := env.newUser(t, "patron-a")
	patronB := env.newUser(t, "patron-b")

	requested := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	env.reservation.now = func() time.Time { return requested }

	book := env.newBook(t, admin, "A Wizard of Earthsea")
	assert.True(t, book.Available)

	r, err := env.reservation.CreateReservation(ctx, patronA, book.ID.String())
	require.NoError(t, err)
	assert.Equal(t, string(model.ReservationActive), r.State)
	assert.Equal(t, patronA.UserID, r.UserID)
	assert.Equal(t, requested.Format(time.RFC3339), r.RequestedAt)
	require.NotNil(t, r.DueAt)
	assert.Equal(t, requested.Add(15*24*time.Hour).Format(time.RFC3339), *r.DueAt)
	require.NotNil(t, r.Book)
	assert.Equal(t, "A Wizard of Earthsea", r.Book.Title)
	env.assertAvailabilityInvariant(t, book.ID)

	_, err = env.reservation.CreateReservation(ctx, patronB, book.ID.String())
	assert.ErrorIs(t, err, apperror.ErrBookUnavailable)

	returned := requested.Add(3 * 24 * time.Hour)
	env.reservation.now = func() time.Time { return returned }

	done, err := env.reservation.FinalizeReservation(ctx, admin, r.ID.String())
	require.NoError(t, err)
	assert.Equal(t, string(model.ReservationCompleted), done.State)
	require.NotNil(t, done.DueAt)
	assert.Equal(t, returned.Format(time.RFC3339), *done.DueAt)
	env.assertAvailabilityInvariant(t, book.ID)

	stored, err := env.books.FindByID(ctx, book.ID)
	require.NoError(t, err)
	assert.True(t, stored.Available)

	r2, err := env.reservation.CreateReservation(ctx, patronB, book.ID.String())
	require.NoError(t, err)
	assert.NotEqual(t, r.ID, r2.ID)
	env.assertAvailabilityInvariant(t, book.ID)
}

func TestCreateReservationConcurrentCallersGetOneLoan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.newUser(t, "admin", authz.CreateBooks)
	book := env.newBook(t, admin, "The Word for World Is Forest")

	const callers = 12
	patrons := make([]authz.Principal, callers)
	for i := range patrons {
		patrons[i] = env.newUser(t, fmt.Sprintf("patron-%d", i))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes, unavailable int
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(p authz.Principal) {
			defer wg.Done()
			<-start
			_, err := env.reservation.CreateReservation(ctx, p, book.ID.String())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperror.ErrBookUnavailable):
				unavailable++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(patrons[i])
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, unavailable)
	env.assertAvailabilityInvariant(t, book.ID)
}

func TestCreateReservationPreconditions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.newUser(t, "admin", authz.CreateBooks, authz.DisableBooks)
	patron := env.newUser(t, "patron")

	_, err := env.reservation.CreateReservation(ctx, patron, uuid.NewString())
	assert.ErrorIs(t, err, apperror.ErrBookUnavailable, "absent book")

	_, err = env.reservation.CreateReservation(ctx, patron, "42")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	book := env.newBook(t, admin, "Lavinia")
	_, err = env.reservation.CreateReservation(ctx, authz.Principal{}, book.ID.String())
	assert.ErrorIs(t, err, apperror.ErrPermissionDenied)

	require.NoError(t, env.catalog.DisableBook(ctx, admin, book.ID.String()))
	_, err = env.reservation.CreateReservation(ctx, patron, book.ID.String())
	assert.ErrorIs(t, err, apperror.ErrBookUnavailable, "disabled book")

	var count int64
	require.NoError(t, env.db.Model(&model.Reservation{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestTerminalStatesRejectTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.newUser(t, "admin", authz.CreateBooks, authz.ModifyBooks)
	patron := env.newUser(t, "patron")

	completedBook := env.newBook(t, admin, "Completed")
	completed, err := env.reservation.CreateReservation(ctx, patron, completedBook.ID.String())
	require.NoError(t, err)
	_, err = env.reservation.FinalizeReservation(ctx, patron, completed.ID.String())
	require.NoError(t, err)

	cancelledBook := env.newBook(t, admin, "Cancelled")
	cancelled, err := env.reservation.CreateReservation(ctx, patron, cancelledBook.ID.String())
	require.NoError(t, err)
	c, err := env.reservation.CancelReservation(ctx, patron, cancelled.ID.String())
	require.NoError(t, err)
	assert.Equal(t, string(model.ReservationCancelled), c.State)
	assert.Nil(t, c.DueAt)

	// Someone else borrows the released book; stale transitions must not
	// release it again.
	other := env.newUser(t, "other")
	_, err = env.reservation.CreateReservation(ctx, other, completedBook.ID.String())
	require.NoError(t, err)

	for _, id := range []uuid.UUID{completed.ID, cancelled.ID} {
		before, err := env.reservations.FindByID(ctx, id)
		require.NoError(t, err)

		_, err = env.reservation.FinalizeReservation(ctx, admin, id.String())
		assert.ErrorIs(t, err, apperror.ErrInvalidReservationState)
		_, err = env.reservation.CancelReservation(ctx, admin, id.String())
		assert.ErrorIs(t, err, apperror.ErrInvalidReservationState)

		after, err := env.reservations.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, before.State, after.State)
		assert.Equal(t, before.DueAt, after.DueAt)
	}

	// A reservation that never existed cannot be closed either.
	missing := uuid.NewString()
	_, err = env.reservation.FinalizeReservation(ctx, admin, missing)
	assert.ErrorIs(t, err, apperror.ErrInvalidReservationState)
	_, err = env.reservation.CancelReservation(ctx, patron, missing)
	assert.ErrorIs(t, err, apperror.ErrInvalidReservationState)
	_, err = env.reservation.FinalizeReservation(ctx, admin, "not-a-uuid")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	env.assertAvailabilityInvariant(t, completedBook.ID)
	env.assertAvailabilityInvariant(t, cancelledBook.ID)
	stored, err := env.books.FindByID(ctx, completedBook.ID)
	require.NoError(t, err)
	assert.False(t, stored.Available)
}

func TestCloseReservationPermissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	librarian := env.newUser(t, "librarian", authz.CreateBooks, authz.ModifyBooks)
	owner := env.newUser(t, "owner")
	stranger := env.newUser(t, "stranger", authz.ModifyUsers)
	book := env.newBook(t, librarian, "Four Ways to Forgiveness")

	r, err := env.reservation.CreateReservation(ctx, owner, book.ID.String())
	require.NoError(t, err)

	_, err = env.reservation.FinalizeReservation(ctx, stranger, r.ID.String())
	assert.ErrorIs(t, err, apperror.ErrPermissionDenied)
	_, err = env.reservation.CancelReservation(ctx, stranger, r.ID.String())
	assert.ErrorIs(t, err, apperror.ErrPermissionDenied)
	env.assertAvailabilityInvariant(t, book.ID)

	_, err = env.reservation.FinalizeReservation(ctx, librarian, r.ID.String())
	require.NoError(t, err)

	_, err = env.reservation.FinalizeReservation(ctx, owner, uuid.NewString())
	assert.ErrorIs(t, err, apperror.ErrInvalidReservationState)
	_, err = env.reservation.CancelReservation(ctx, owner, "bogus")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestFinalizeReleasesDisabledBook(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.newUser(t, "admin", authz.CreateBooks, authz.DisableBooks)
	patron := env.newUser(t, "patron")
	book := env.newBook(t, admin, "Searoad")

	r, err := env.reservation.CreateReservation(ctx, patron, book.ID.String())
	require.NoError(t, err)
	require.NoError(t, env.catalog.DisableBook(ctx, admin, book.ID.String()))

	_, err = env.reservation.FinalizeReservation(ctx, patron, r.ID.String())
	require.NoError(t, err)

	stored, err := env.books.FindByID(ctx, book.ID)
	require.NoError(t, err)
	assert.True(t, stored.Available)
	assert.False(t, stored.Active)
	env.assertAvailabilityInvariant(t, book.ID)
}

type failingAudit struct {
	err error
}

func (f failingAudit) Log(ctx context.Context, entry *model.AuditLog) error {
	return f.err
}

func (f failingAudit) List(ctx context.Context, filter repository.AuditFilter, p pagination.Params) ([]model.AuditLog, int64, error) {
	return nil, 0, f.err
}

func TestReservationRollsBackOnFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.newUser(t, "admin", authz.CreateBooks)
	patron := env.newUser(t, "patron")
	book := env.newBook(t, admin, "The Telling")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	broken := NewReservationService(env.books, env.reservations, failingAudit{err: errors.New("disk full")},
		env.txManager, booklock.NewKeyedMutex(), 0, logger)

	_, err := broken.CreateReservation(ctx, patron, book.ID.String())
	assert.ErrorIs(t, err, apperror.ErrInfrastructure)

	stored, err := env.books.FindByID(ctx, book.ID)
	require.NoError(t, err)
	assert.True(t, stored.Available, "book flip rolled back")
	var count int64
	require.NoError(t, env.db.Model(&model.Reservation{}).Count(&count).Error)
	assert.Zero(t, count)

	r, err := env.reservation.CreateReservation(ctx, patron, book.ID.String())
	require.NoError(t, err)

	_, err = broken.FinalizeReservation(ctx, patron, r.ID.String())
	assert.ErrorIs(t, err, apperror.ErrInfrastructure)

	still, err := env.reservations.FindByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationActive, still.State)
	env.assertAvailabilityInvariant(t, book.ID)
}

func TestReservationHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.newUser(t, "admin", authz.CreateBooks, authz.ModifyUsers)
	patron := env.newUser(t, "patron")
	other := env.newUser(t, "other")
	book := env.newBook(t, admin, "Malafrena")

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	env.reservation.now = func() time.Time { return clock }

	first, err := env.reservation.CreateReservation(ctx, patron, book.ID.String())
	require.NoError(t, err)
	_, err = env.reservation.FinalizeReservation(ctx, patron, first.ID.String())
	require.NoError(t, err)

	clock = clock.Add(24 * time.Hour)
	second, err := env.reservation.CreateReservation(ctx, other, book.ID.String())
	require.NoError(t, err)

	history, err := env.reservation.GetBookHistory(ctx, book.ID.String(), false)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID, "newest first")
	require.NotNil(t, history[0].User)
	assert.Equal(t, "other", history[0].User.Name)
	assert.Nil(t, history[0].Book)

	// Soft-hidden reservations only show up on request.
	require.NoError(t, env.db.Model(&model.Reservation{}).Where("id = ?", first.ID).Update("active", false).Error)
	history, err = env.reservation.GetBookHistory(ctx, book.ID.String(), false)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	history, err = env.reservation.GetBookHistory(ctx, book.ID.String(), true)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	_, err = env.reservation.GetBookHistory(ctx, uuid.NewString(), false)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	own, err := env.reservation.GetUserHistory(ctx, other, "", false)
	require.NoError(t, err)
	require.Len(t, own, 1)
	require.NotNil(t, own[0].Book)
	assert.Equal(t, "Malafrena", own[0].Book.Title)

	_, err = env.reservation.GetUserHistory(ctx, other, patron.UserID.String(), false)
	assert.ErrorIs(t, err, apperror.ErrPermissionDenied)

	asAdmin, err := env.reservation.GetUserHistory(ctx, admin, patron.UserID.String(), true)
	require.NoError(t, err)
	assert.Len(t, asAdmin, 1)
}

func TestListActiveReservations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.newUser(t, "admin", authz.CreateBooks)
	patron := env.newUser(t, "patron")
	other := env.newUser(t, "other")

	var bookIDs []uuid.UUID
	for i := 0; i < 4; i++ {
		book := env.newBook(t, admin, fmt.Sprintf("Book %d", i))
		bookIDs = append(bookIDs, book.ID)
	}

	for i, id := range bookIDs[:3] {
		p := patron
		if i == 2 {
			p = other
		}
		_, err := env.reservation.CreateReservation(ctx, p, id.String())
		require.NoError(t, err)
	}
	done, err := env.reservation.CreateReservation(ctx, other, bookIDs[3].String())
	require.NoError(t, err)
	_, err = env.reservation.FinalizeReservation(ctx, other, done.ID.String())
	require.NoError(t, err)

	all, err := env.reservation.ListActiveReservations(ctx, ActiveReservationQuery{}, pagination.New(1, 2))
	require.NoError(t, err)
	assert.Len(t, all.Items, 2)
	assert.Equal(t, pagination.Meta{CurrentPage: 1, TotalPages: 2, PageSize: 2, TotalItems: 3}, all.Pagination)

	mine, err := env.reservation.ListActiveReservations(ctx, ActiveReservationQuery{UserID: patron.UserID.String()}, pagination.New(1, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(2), mine.Pagination.TotalItems)
	for _, item := range mine.Items {
		require.NotNil(t, item.User)
		require.NotNil(t, item.Book)
		assert.Equal(t, patron.UserID, item.User.ID)
	}

	byBook, err := env.reservation.ListActiveReservations(ctx, ActiveReservationQuery{BookID: bookIDs[3].String()}, pagination.New(1, 10))
	require.NoError(t, err)
	assert.Empty(t, byBook.Items)
	assert.Equal(t, 0, byBook.Pagination.TotalPages)

	_, err = env.reservation.ListActiveReservations(ctx, ActiveReservationQuery{UserID: "nope"}, pagination.New(1, 10))
	assert.ErrorIs(t, err, apperror.ErrValidation)
}
