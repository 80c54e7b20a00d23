package repository

import (
	"context"
	"fmt"
	"time"

	"libraryapi/internal/model"

	"gorm.io/gorm"
)

type StatisticsRepository interface {
	CountBooks(ctx context.Context, conditions map[string]interface{}) (int64, error)
	CountReservations(ctx context.Context, state model.ReservationState) (int64, error)
	CountOverdue(ctx context.Context, now time.Time) (int64, error)
	GetTopBooks(ctx context.Context, limit int) ([]model.BookRanking, error)
}

type statisticsRepository struct {
	db *gorm.DB
}

func NewStatisticsRepository(db *gorm.DB) StatisticsRepository {
	return &statisticsRepository{db: db}
}

func (r *statisticsRepository) CountBooks(ctx context.Context, conditions map[string]interface{}) (int64, error) {
	var count int64
	db := GetDB(ctx, r.db).Model(&model.Book{})
	if len(conditions) > 0 {
		db = db.Where(conditions)
	}
	if err := db.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count books: %w", err)
	}
	return count, nil
}

func (r *statisticsRepository) CountReservations(ctx context.Context, state model.ReservationState) (int64, error) {
	var count int64
	if err := GetDB(ctx, r.db).Model(&model.Reservation{}).
		Where("state = ?", state).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count %s reservations: %w", state, err)
	}
	return count, nil
}

func (r *statisticsRepository) CountOverdue(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	if err := GetDB(ctx, r.db).Model(&model.Reservation{}).
		Where("state = ? AND due_at < ?", model.ReservationActive, now).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count overdue reservations: %w", err)
	}
	return count, nil
}

func (r *statisticsRepository) GetTopBooks(ctx context.Context, limit int) ([]model.BookRanking, error) {
	var rankings []model.BookRanking
	if err := GetDB(ctx, r.db).Table("reservations").
		Select("books.id as book_id, books.title as title, books.author as author, COUNT(reservations.id) as total_reservations").
		Joins("JOIN books ON books.id = reservations.book_id").
		Group("books.id, books.title, books.author").
		Order("total_reservations DESC, books.title").
		Limit(limit).
		Scan(&rankings).Error; err != nil {
		return nil, fmt.Errorf("failed to query top books: %w", err)
	}
	return rankings, nil
}
