package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"libraryapi/internal/apperror"
	"libraryapi/internal/authz"
	"libraryapi/internal/booklock"
	"libraryapi/internal/model"
	"libraryapi/internal/repository"
	"libraryapi/pkg/pagination"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultLoanPeriod is how long a reserved book may be kept.
const DefaultLoanPeriod = 15 * 24 * time.Hour

type CreateReservationRequest struct {
	BookID string `json:"book_id" binding:"required"`
}

// ActiveReservationQuery narrows ListActiveReservations. Empty fields are ignored.
type ActiveReservationQuery struct {
	UserID string `form:"user_id"`
	BookID string `form:"book_id"`
}

type ReservationUser struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

type ReservationBook struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Publisher string    `json:"publisher"`
}

type ReservationResponse struct {
	ID          uuid.UUID        `json:"id"`
	BookID      uuid.UUID        `json:"book_id"`
	UserID      uuid.UUID        `json:"user_id"`
	RequestedAt string           `json:"requested_at"`
	DueAt       *string          `json:"due_at"`
	State       string           `json:"state"`
	Active      bool             `json:"active"`
	User        *ReservationUser `json:"user,omitempty"`
	Book        *ReservationBook `json:"book,omitempty"`
	CreatedAt   string           `json:"created_at"`
	UpdatedAt   string           `json:"updated_at"`
}

// ReservationService couples reservation state to book availability. Every
// transition flips Book.Available and Reservation.State in one transaction
// while holding the book's lock.
type ReservationService interface {
	CreateReservation(ctx context.Context, principal authz.Principal, bookID string) (*ReservationResponse, error)
	FinalizeReservation(ctx context.Context, principal authz.Principal, reservationID string) (*ReservationResponse, error)
	CancelReservation(ctx context.Context, principal authz.Principal, reservationID string) (*ReservationResponse, error)
	GetBookHistory(ctx context.Context, bookID string, includeDisabled bool) ([]ReservationResponse, error)
	GetUserHistory(ctx context.Context, principal authz.Principal, userID string, includeDisabled bool) ([]ReservationResponse, error)
	ListActiveReservations(ctx context.Context, query ActiveReservationQuery, p pagination.Params) (pagination.Page[ReservationResponse], error)
}

type reservationService struct {
	books        repository.BookRepository
	reservations repository.ReservationRepository
	audit        repository.AuditRepository
	txManager    repository.TransactionManager
	locker       booklock.Locker
	loanPeriod   time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

func NewReservationService(
	books repository.BookRepository,
	reservations repository.ReservationRepository,
	audit repository.AuditRepository,
	txManager repository.TransactionManager,
	locker booklock.Locker,
	loanPeriod time.Duration,
	logger *slog.Logger,
) ReservationService {
	if loanPeriod <= 0 {
		loanPeriod = DefaultLoanPeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &reservationService{
		books:        books,
		reservations: reservations,
		audit:        audit,
		txManager:    txManager,
		locker:       locker,
		loanPeriod:   loanPeriod,
		logger:       logger,
		now:          time.Now,
	}
}

func mapReservationToResponse(r *model.Reservation) ReservationResponse {
	resp := ReservationResponse{
		ID:          r.ID,
		BookID:      r.BookID,
		UserID:      r.UserID,
		RequestedAt: formatTime(r.RequestedAt),
		DueAt:       formatTimePtr(r.DueAt),
		State:       string(r.State),
		Active:      r.Active,
		CreatedAt:   formatTime(r.CreatedAt),
		UpdatedAt:   formatTime(r.UpdatedAt),
	}
	if r.User != nil {
		resp.User = &ReservationUser{ID: r.User.ID, Name: r.User.Name, Email: r.User.Email}
	}
	if r.Book != nil {
		resp.Book = &ReservationBook{
			ID:        r.Book.ID,
			Title:     r.Book.Title,
			Author:    r.Book.Author,
			Publisher: r.Book.Publisher,
		}
	}
	return resp
}

func mapReservations(list []model.Reservation) []ReservationResponse {
	out := make([]ReservationResponse, 0, len(list))
	for i := range list {
		out = append(out, mapReservationToResponse(&list[i]))
	}
	return out
}

func (s *reservationService) lockBook(ctx context.Context, bookID uuid.UUID) (func(), error) {
	unlock, err := s.locker.Lock(ctx, bookID.String())
	if err != nil {
		s.logger.Error("failed to lock book", "book_id", bookID, "error", err)
		return nil, apperror.Infrastructure(err, "failed to lock book")
	}
	return unlock, nil
}

func (s *reservationService) CreateReservation(ctx context.Context, principal authz.Principal, bookID string) (*ReservationResponse, error) {
	if err := requireAuthenticated(principal); err != nil {
		return nil, err
	}
	id, err := parseID("book", bookID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lockBook(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	reservation := &model.Reservation{
		BookID: id,
		UserID: principal.UserID,
		State:  model.ReservationActive,
		Active: true,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		// Compare-and-swap on availability; losing here means the book is
		// absent, disabled or already lent.
		ok, err := s.books.MarkUnavailable(txCtx, id)
		if err != nil {
			return storageError(err, "book")
		}
		if !ok {
			return apperror.BookUnavailable("book %s is not available", id)
		}

		now := s.now()
		due := now.Add(s.loanPeriod)
		reservation.RequestedAt = now
		reservation.DueAt = &due
		if err := s.reservations.Create(txCtx, reservation); err != nil {
			return storageError(err, "reservation")
		}

		return writeAudit(txCtx, s.audit, principal.UserID, model.ActionCreateReservation, reservation.ID.String(), "", map[string]interface{}{
			"book_id": id.String(),
			"due_at":  formatTime(due),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("reservation created", "reservation_id", reservation.ID, "book_id", id, "user_id", principal.UserID)
	return s.reload(ctx, reservation.ID)
}

func (s *reservationService) FinalizeReservation(ctx context.Context, principal authz.Principal, reservationID string) (*ReservationResponse, error) {
	return s.close(ctx, principal, reservationID, model.ReservationCompleted)
}

func (s *reservationService) CancelReservation(ctx context.Context, principal authz.Principal, reservationID string) (*ReservationResponse, error) {
	return s.close(ctx, principal, reservationID, model.ReservationCancelled)
}

// close moves an active reservation to a terminal state and releases its book.
// Only the reservation owner or a holder of modify_books may do so.
func (s *reservationService) close(ctx context.Context, principal authz.Principal, reservationID string, target model.ReservationState) (*ReservationResponse, error) {
	id, err := parseID("reservation", reservationID)
	if err != nil {
		return nil, err
	}

	current, err := s.reservations.FindByID(ctx, id)
	if err != nil {
		return nil, closeLookupError(err, id)
	}
	if !authz.IsSelfOrAuthorized(principal, current.UserID, authz.ModifyBooks) {
		return nil, apperror.PermissionDenied("only the reservation owner or a holder of '%s' may close it", authz.ModifyBooks)
	}

	unlock, err := s.lockBook(ctx, current.BookID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	action := model.ActionFinalizeReservation
	if target == model.ReservationCancelled {
		action = model.ActionCancelReservation
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		r, err := s.reservations.FindByIDForUpdate(txCtx, id)
		if err != nil {
			return closeLookupError(err, id)
		}
		if r.State.Terminal() {
			return apperror.InvalidReservationState("reservation %s is %s", id, r.State)
		}

		// Completion records the actual return time; a cancelled loan never
		// had one.
		var dueAt *time.Time
		if target == model.ReservationCompleted {
			now := s.now()
			dueAt = &now
		}

		ok, err := s.reservations.CloseActive(txCtx, id, target, dueAt)
		if err != nil {
			return storageError(err, "reservation")
		}
		if !ok {
			return apperror.InvalidReservationState("reservation %s is no longer active", id)
		}

		if err := s.books.MarkAvailable(txCtx, r.BookID); err != nil {
			return storageError(err, "book")
		}

		return writeAudit(txCtx, s.audit, principal.UserID, action, id.String(), "", map[string]interface{}{
			"book_id": r.BookID.String(),
			"owner":   r.UserID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("reservation closed", "reservation_id", id, "state", target, "by", principal.UserID)
	return s.reload(ctx, id)
}

// closeLookupError reports a missing reservation as an invalid transition:
// only an existing active reservation can be closed.
func closeLookupError(err error, id uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.InvalidReservationState("reservation %s does not exist", id)
	}
	return storageError(err, "reservation")
}

func (s *reservationService) reload(ctx context.Context, id uuid.UUID) (*ReservationResponse, error) {
	r, err := s.reservations.FindByIDWithRelations(ctx, id)
	if err != nil {
		return nil, storageError(err, "reservation")
	}
	resp := mapReservationToResponse(r)
	return &resp, nil
}

func (s *reservationService) GetBookHistory(ctx context.Context, bookID string, includeDisabled bool) ([]ReservationResponse, error) {
	id, err := parseID("book", bookID)
	if err != nil {
		return nil, err
	}
	if _, err := s.books.FindByID(ctx, id); err != nil {
		return nil, storageError(err, "book")
	}

	list, err := s.reservations.ListByBook(ctx, id, includeDisabled)
	if err != nil {
		return nil, storageError(err, "reservation")
	}
	return mapReservations(list), nil
}

// GetUserHistory lists a user's reservations. An empty userID means the
// principal's own history.
func (s *reservationService) GetUserHistory(ctx context.Context, principal authz.Principal, userID string, includeDisabled bool) ([]ReservationResponse, error) {
	var id uuid.UUID
	if userID == "" {
		if err := requireAuthenticated(principal); err != nil {
			return nil, err
		}
		id = principal.UserID
	} else {
		parsed, err := parseID("user", userID)
		if err != nil {
			return nil, err
		}
		id = parsed
	}

	if !authz.IsSelfOrAuthorized(principal, id, authz.ModifyUsers) {
		return nil, apperror.PermissionDenied("missing permission '%s'", authz.ModifyUsers)
	}

	list, err := s.reservations.ListByUser(ctx, id, includeDisabled)
	if err != nil {
		return nil, storageError(err, "reservation")
	}
	return mapReservations(list), nil
}

func (s *reservationService) ListActiveReservations(ctx context.Context, query ActiveReservationQuery, p pagination.Params) (pagination.Page[ReservationResponse], error) {
	var filter repository.ActiveReservationFilter
	if query.UserID != "" {
		id, err := parseID("user", query.UserID)
		if err != nil {
			return pagination.Page[ReservationResponse]{}, err
		}
		filter.UserID = &id
	}
	if query.BookID != "" {
		id, err := parseID("book", query.BookID)
		if err != nil {
			return pagination.Page[ReservationResponse]{}, err
		}
		filter.BookID = &id
	}

	list, total, err := s.reservations.ListActive(ctx, filter, p)
	if err != nil {
		return pagination.Page[ReservationResponse]{}, storageError(err, "reservation")
	}
	return pagination.NewPage(mapReservations(list), p, total), nil
}
