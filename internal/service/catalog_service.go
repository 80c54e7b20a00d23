package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"libraryapi/internal/apperror"
	"libraryapi/internal/authz"
	"libraryapi/internal/booklock"
	"libraryapi/internal/model"
	"libraryapi/internal/repository"
	"libraryapi/pkg/pagination"

	"github.com/google/uuid"
)

// DTOs for Request validation
type CreateBookRequest struct {
	Title       string    `json:"title" binding:"required" validate:"required,max=200"`
	Author      string    `json:"author" binding:"required" validate:"required,max=255"`
	Genre       string    `json:"genre" binding:"required" validate:"required,max=100"`
	Publisher   string    `json:"publisher" binding:"required" validate:"required,max=255"`
	PublishedAt time.Time `json:"published_at" binding:"required" validate:"required"`
}

// UpdateBookRequest carries only the fields to change. Available cannot be
// decoded from a request body; it is set by in-process callers.
type UpdateBookRequest struct {
	Title       *string    `json:"title" validate:"omitempty,max=200"`
	Author      *string    `json:"author" validate:"omitempty,max=255"`
	Genre       *string    `json:"genre" validate:"omitempty,max=100"`
	Publisher   *string    `json:"publisher" validate:"omitempty,max=255"`
	PublishedAt *time.Time `json:"published_at"`
	Available   *bool      `json:"-"`
}

func (r UpdateBookRequest) touchesProtected() bool {
	return r.Title != nil || r.Author != nil || r.Genre != nil || r.Publisher != nil || r.PublishedAt != nil
}

// BookQuery holds the catalog listing filters bound from the query string.
type BookQuery struct {
	Title           string `form:"title"`
	Author          string `form:"author"`
	Genre           string `form:"genre"`
	Publisher       string `form:"publisher"`
	Available       *bool  `form:"available"`
	IncludeDisabled bool   `form:"includeDisabled"`
}

type BookResponse struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Genre       string    `json:"genre"`
	Publisher   string    `json:"publisher"`
	PublishedAt string    `json:"published_at"`
	Available   bool      `json:"available"`
	Active      bool      `json:"active"`
	CreatedBy   uuid.UUID `json:"created_by"`
	ModifiedBy  *string   `json:"modified_by,omitempty"`
	CreatedAt   string    `json:"created_at"`
	UpdatedAt   string    `json:"updated_at"`
}

// CatalogService defines the book catalog operations
type CatalogService interface {
	CreateBook(ctx context.Context, principal authz.Principal, req CreateBookRequest) (*BookResponse, error)
	ListBooks(ctx context.Context, query BookQuery, p pagination.Params) (pagination.Page[BookResponse], error)
	GetBook(ctx context.Context, id string) (*BookResponse, error)
	UpdateBook(ctx context.Context, principal authz.Principal, id string, req UpdateBookRequest) (*BookResponse, error)
	DisableBook(ctx context.Context, principal authz.Principal, id string) error
}

type catalogService struct {
	books        repository.BookRepository
	reservations repository.ReservationRepository
	audit        repository.AuditRepository
	txManager    repository.TransactionManager
	locker       booklock.Locker
	logger       *slog.Logger
	now          func() time.Time
}

func NewCatalogService(
	books repository.BookRepository,
	reservations repository.ReservationRepository,
	audit repository.AuditRepository,
	txManager repository.TransactionManager,
	locker booklock.Locker,
	logger *slog.Logger,
) CatalogService {
	if logger == nil {
		logger = slog.Default()
	}
	return &catalogService{
		books:        books,
		reservations: reservations,
		audit:        audit,
		txManager:    txManager,
		locker:       locker,
		logger:       logger,
		now:          time.Now,
	}
}

func mapBookToResponse(b *model.Book) *BookResponse {
	return &BookResponse{
		ID:          b.ID,
		Title:       b.Title,
		Author:      b.Author,
		Genre:       b.Genre,
		Publisher:   b.Publisher,
		PublishedAt: formatTime(b.PublishedAt),
		Available:   b.Available,
		Active:      b.Active,
		CreatedBy:   b.CreatedBy,
		ModifiedBy:  uuidPtrString(b.ModifiedBy),
		CreatedAt:   formatTime(b.CreatedAt),
		UpdatedAt:   formatTime(b.UpdatedAt),
	}
}

func (s *catalogService) checkPublishedAt(t time.Time) error {
	if t.After(s.now()) {
		return apperror.Validation("published_at must not be in the future")
	}
	return nil
}

func (s *catalogService) CreateBook(ctx context.Context, principal authz.Principal, req CreateBookRequest) (*BookResponse, error) {
	if !authz.Authorize(principal, authz.CreateBooks) {
		return nil, apperror.PermissionDenied("missing permission '%s'", authz.CreateBooks)
	}

	req.Title = strings.TrimSpace(req.Title)
	req.Author = strings.TrimSpace(req.Author)
	req.Genre = strings.TrimSpace(req.Genre)
	req.Publisher = strings.TrimSpace(req.Publisher)
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if err := s.checkPublishedAt(req.PublishedAt); err != nil {
		return nil, err
	}

	book := &model.Book{
		Title:       req.Title,
		Author:      req.Author,
		Genre:       req.Genre,
		Publisher:   req.Publisher,
		PublishedAt: req.PublishedAt,
		Available:   true,
		Active:      true,
		CreatedBy:   principal.UserID,
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.books.Create(txCtx, book); err != nil {
			return storageError(err, "book")
		}
		return writeAudit(txCtx, s.audit, principal.UserID, model.ActionCreateBook, book.ID.String(), book.Title, map[string]interface{}{
			"author":    book.Author,
			"genre":     book.Genre,
			"publisher": book.Publisher,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("book created", "book_id", book.ID, "by", principal.UserID)
	return mapBookToResponse(book), nil
}

func (s *catalogService) ListBooks(ctx context.Context, query BookQuery, p pagination.Params) (pagination.Page[BookResponse], error) {
	filter := repository.BookFilter{
		Title:           strings.TrimSpace(query.Title),
		Author:          query.Author,
		Genre:           query.Genre,
		Publisher:       query.Publisher,
		Available:       query.Available,
		IncludeDisabled: query.IncludeDisabled,
	}

	books, total, err := s.books.List(ctx, filter, p)
	if err != nil {
		return pagination.Page[BookResponse]{}, storageError(err, "book")
	}

	items := make([]BookResponse, 0, len(books))
	for i := range books {
		items = append(items, *mapBookToResponse(&books[i]))
	}
	return pagination.NewPage(items, p, total), nil
}

func (s *catalogService) GetBook(ctx context.Context, id string) (*BookResponse, error) {
	bookID, err := parseID("book", id)
	if err != nil {
		return nil, err
	}

	book, err := s.books.FindByID(ctx, bookID)
	if err != nil {
		return nil, storageError(err, "book")
	}
	if !book.Active {
		return nil, apperror.NotFound("book not found")
	}
	return mapBookToResponse(book), nil
}

func (s *catalogService) UpdateBook(ctx context.Context, principal authz.Principal, id string, req UpdateBookRequest) (*BookResponse, error) {
	bookID, err := parseID("book", id)
	if err != nil {
		return nil, err
	}

	if req.touchesProtected() && !authz.Authorize(principal, authz.ModifyBooks) {
		return nil, apperror.PermissionDenied("missing permission '%s'", authz.ModifyBooks)
	}

	fields, err := s.bookUpdateFields(&req)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 && req.Available == nil {
		return nil, apperror.Validation("no fields to update")
	}
	if principal.UserID != uuid.Nil {
		fields[model.BookColumnModifiedBy] = principal.UserID
	}

	// Availability is coupled to reservations, so writes to it queue behind
	// reservation transitions on the same book.
	if req.Available != nil {
		unlock, err := s.locker.Lock(ctx, bookID.String())
		if err != nil {
			return nil, apperror.Infrastructure(err, "failed to lock book")
		}
		defer unlock()
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		book, err := s.books.FindByIDForUpdate(txCtx, bookID)
		if err != nil {
			return storageError(err, "book")
		}
		if !book.Active {
			return apperror.NotFound("book not found")
		}

		if req.Available != nil {
			active, err := s.reservations.CountActiveByBook(txCtx, bookID)
			if err != nil {
				return storageError(err, "reservation")
			}
			if *req.Available != (active == 0) {
				return apperror.InvalidReservationState("availability of book %s is held by its reservations", bookID)
			}
			fields[model.BookColumnAvailable] = *req.Available
		}

		if err := s.books.UpdateFields(txCtx, bookID, fields); err != nil {
			return storageError(err, "book")
		}

		changed := make([]string, 0, len(fields))
		for col := range fields {
			if col != model.BookColumnModifiedBy {
				changed = append(changed, col)
			}
		}
		sort.Strings(changed)
		return writeAudit(txCtx, s.audit, principal.UserID, model.ActionUpdateBook, bookID.String(), book.Title, map[string]interface{}{
			"fields": changed,
		})
	})
	if err != nil {
		return nil, err
	}

	book, err := s.books.FindByID(ctx, bookID)
	if err != nil {
		return nil, storageError(err, "book")
	}
	return mapBookToResponse(book), nil
}

// bookUpdateFields validates the protected part of req and returns it as a
// column map.
func (s *catalogService) bookUpdateFields(req *UpdateBookRequest) (map[string]interface{}, error) {
	fields := make(map[string]interface{})

	trimmed := func(col string, v *string) error {
		if v == nil {
			return nil
		}
		*v = strings.TrimSpace(*v)
		if *v == "" {
			return apperror.Validation("%s must not be empty", col)
		}
		fields[col] = *v
		return nil
	}
	if err := trimmed(model.BookColumnTitle, req.Title); err != nil {
		return nil, err
	}
	if err := trimmed(model.BookColumnAuthor, req.Author); err != nil {
		return nil, err
	}
	if err := trimmed(model.BookColumnGenre, req.Genre); err != nil {
		return nil, err
	}
	if err := trimmed(model.BookColumnPublisher, req.Publisher); err != nil {
		return nil, err
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	if req.PublishedAt != nil {
		if req.PublishedAt.IsZero() {
			return nil, apperror.Validation("published_at must not be empty")
		}
		if err := s.checkPublishedAt(*req.PublishedAt); err != nil {
			return nil, err
		}
		fields[model.BookColumnPublishedAt] = *req.PublishedAt
	}
	return fields, nil
}

func (s *catalogService) DisableBook(ctx context.Context, principal authz.Principal, id string) error {
	if !authz.Authorize(principal, authz.DisableBooks) {
		return apperror.PermissionDenied("missing permission '%s'", authz.DisableBooks)
	}
	bookID, err := parseID("book", id)
	if err != nil {
		return err
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		book, err := s.books.FindByIDForUpdate(txCtx, bookID)
		if err != nil {
			return storageError(err, "book")
		}
		if !book.Active {
			return nil
		}

		fields := map[string]interface{}{model.BookColumnActive: false}
		if principal.UserID != uuid.Nil {
			fields[model.BookColumnModifiedBy] = principal.UserID
		}
		if err := s.books.UpdateFields(txCtx, bookID, fields); err != nil {
			return storageError(err, "book")
		}
		return writeAudit(txCtx, s.audit, principal.UserID, model.ActionDisableBook, bookID.String(), book.Title, nil)
	})
	if err != nil {
		return err
	}

	s.logger.Info("book disabled", "book_id", bookID, "by", principal.UserID)
	return nil
}
