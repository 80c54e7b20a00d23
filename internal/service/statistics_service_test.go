package service

import (
	"context"
	"testing"
	"time"

	"libraryapi/internal/apperror"
	"libraryapi/internal/authz"
	"libraryapi/internal/model"
	"libraryapi/pkg/pagination"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetStatistics(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.newUser(t, "admin", authz.CreateBooks, authz.DisableBooks)
	patron := env.newUser(t, "patron")

	popular := env.newBook(t, admin, "Popular")
	overdue := env.newBook(t, admin, "Overdue")
	env.newBook(t, admin, "Shelf")
	disabled := env.newBook(t, admin, "Withdrawn")
	require.NoError(t, env.catalog.DisableBook(ctx, admin, disabled.ID.String()))

	for i := 0; i < 2; i++ {
		r, err := env.reservation.CreateReservation(ctx, patron, popular.ID.String())
		require.NoError(t, err)
		_, err = env.reservation.FinalizeReservation(ctx, patron, r.ID.String())
		require.NoError(t, err)
	}
	_, err := env.reservation.CreateReservation(ctx, patron, popular.ID.String())
	require.NoError(t, err)

	env.reservation.now = func() time.Time { return time.Now().Add(-30 * 24 * time.Hour) }
	_, err = env.reservation.CreateReservation(ctx, patron, overdue.ID.String())
	require.NoError(t, err)

	stats, err := env.statsSvc.GetStatistics(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.TotalBooks)
	assert.Equal(t, int64(1), stats.AvailableBooks)
	assert.Equal(t, int64(2), stats.BooksOnLoan)
	assert.Equal(t, int64(1), stats.DisabledBooks)
	assert.Equal(t, int64(2), stats.ActiveReservations)
	assert.Equal(t, int64(2), stats.CompletedReservations)
	assert.Equal(t, int64(1), stats.OverdueReservations)
	require.NotEmpty(t, stats.TopBorrowedBooks)
	assert.Equal(t, "Popular", stats.TopBorrowedBooks[0].Title)
	assert.Equal(t, int64(3), stats.TopBorrowedBooks[0].TotalReservations)
}

func TestGetAuditLogs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.newUser(t, "admin", authz.CreateBooks, authz.ModifyUsers)
	patron := env.newUser(t, "patron")

	book := env.newBook(t, admin, "Audited")
	_, err := env.reservation.CreateReservation(ctx, patron, book.ID.String())
	require.NoError(t, err)

	_, err = env.auditSvc.GetAuditLogs(ctx, patron, AuditLogQuery{}, pagination.New(1, 10))
	assert.ErrorIs(t, err, apperror.ErrPermissionDenied)

	page, err := env.auditSvc.GetAuditLogs(ctx, admin, AuditLogQuery{}, pagination.New(1, 10))
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, model.ActionCreateReservation, page.Items[0].Action)
	assert.Equal(t, "patron", page.Items[0].UserName)
	assert.Equal(t, model.ActionCreateBook, page.Items[1].Action)

	tests := []struct {
		name  string
		query AuditLogQuery
		want  []string
	}{
		{"by action", AuditLogQuery{Action: " create_book "}, []string{model.ActionCreateBook}},
		{"by entity", AuditLogQuery{EntityID: book.ID.String()}, []string{model.ActionCreateBook}},
		{"by actor", AuditLogQuery{UserID: patron.UserID.String()}, []string{model.ActionCreateReservation}},
		{"no match", AuditLogQuery{Action: model.ActionDisableUser}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := env.auditSvc.GetAuditLogs(ctx, admin, tt.query, pagination.New(1, 10))
			require.NoError(t, err)

			var actions []string
			for _, item := range page.Items {
				actions = append(actions, item.Action)
			}
			assert.Equal(t, tt.want, actions)
			assert.Equal(t, int64(len(tt.want)), page.Pagination.TotalItems)
		})
	}

	_, err = env.auditSvc.GetAuditLogs(ctx, admin, AuditLogQuery{UserID: "nobody"}, pagination.New(1, 10))
	assert.ErrorIs(t, err, apperror.ErrValidation)
}
