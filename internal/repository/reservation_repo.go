package repository

import (
	"context"
	"time"

	"libraryapi/internal/model"
	"libraryapi/pkg/pagination"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ActiveReservationFilter narrows the active reservation listing. Nil fields
// are ignored.
type ActiveReservationFilter struct {
	UserID *uuid.UUID
	BookID *uuid.UUID
}

type ReservationRepository interface {
	Create(ctx context.Context, reservation *model.Reservation) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Reservation, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Reservation, error)
	FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*model.Reservation, error)
	CloseActive(ctx context.Context, id uuid.UUID, state model.ReservationState, dueAt *time.Time) (bool, error)
	ListByBook(ctx context.Context, bookID uuid.UUID, includeDisabled bool) ([]model.Reservation, error)
	ListByUser(ctx context.Context, userID uuid.UUID, includeDisabled bool) ([]model.Reservation, error)
	ListActive(ctx context.Context, filter ActiveReservationFilter, p pagination.Params) ([]model.Reservation, int64, error)
	CountActiveByBook(ctx context.Context, bookID uuid.UUID) (int64, error)
}

type reservationRepository struct {
	db *gorm.DB
}

func NewReservationRepository(db *gorm.DB) ReservationRepository {
	return &reservationRepository{db: db}
}

func (r *reservationRepository) Create(ctx context.Context, reservation *model.Reservation) error {
	return GetDB(ctx, r.db).Create(reservation).Error
}

func (r *reservationRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Reservation, error) {
	var reservation model.Reservation
	if err := GetDB(ctx, r.db).First(&reservation, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *reservationRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Reservation, error) {
	var reservation model.Reservation
	if err := GetDB(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&reservation).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *reservationRepository) FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*model.Reservation, error) {
	var reservation model.Reservation
	if err := GetDB(ctx, r.db).Preload("User").Preload("Book").
		First(&reservation, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

// CloseActive moves an active reservation to a terminal state. It reports
// false when the reservation was no longer active.
func (r *reservationRepository) CloseActive(ctx context.Context, id uuid.UUID, state model.ReservationState, dueAt *time.Time) (bool, error) {
	res := GetDB(ctx, r.db).Model(&model.Reservation{}).
		Where("id = ? AND state = ?", id, model.ReservationActive).
		Updates(map[string]interface{}{
			"state":  state,
			"due_at": dueAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *reservationRepository) ListByBook(ctx context.Context, bookID uuid.UUID, includeDisabled bool) ([]model.Reservation, error) {
	var reservations []model.Reservation
	db := GetDB(ctx, r.db).Preload("User").Where("book_id = ?", bookID)
	if !includeDisabled {
		db = db.Where("active = ?", true)
	}
	if err := db.Order("requested_at desc").Find(&reservations).Error; err != nil {
		return nil, err
	}
	return reservations, nil
}

func (r *reservationRepository) ListByUser(ctx context.Context, userID uuid.UUID, includeDisabled bool) ([]model.Reservation, error) {
	var reservations []model.Reservation
	db := GetDB(ctx, r.db).Preload("Book").Where("user_id = ?", userID)
	if !includeDisabled {
		db = db.Where("active = ?", true)
	}
	if err := db.Order("requested_at desc").Find(&reservations).Error; err != nil {
		return nil, err
	}
	return reservations, nil
}

func (r *reservationRepository) ListActive(ctx context.Context, filter ActiveReservationFilter, p pagination.Params) ([]model.Reservation, int64, error) {
	var reservations []model.Reservation
	var total int64

	db := GetDB(ctx, r.db).Model(&model.Reservation{}).Where("state = ?", model.ReservationActive)
	if filter.UserID != nil {
		db = db.Where("user_id = ?", *filter.UserID)
	}
	if filter.BookID != nil {
		db = db.Where("book_id = ?", *filter.BookID)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := db.Preload("User").Preload("Book").
		Order("requested_at desc, id").Offset(p.Offset).Limit(p.Limit).
		Find(&reservations).Error; err != nil {
		return nil, 0, err
	}

	return reservations, total, nil
}

func (r *reservationRepository) CountActiveByBook(ctx context.Context, bookID uuid.UUID) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.Reservation{}).
		Where("book_id = ? AND state = ?", bookID, model.ReservationActive).
		Count(&count).Error
	return count, err
}
