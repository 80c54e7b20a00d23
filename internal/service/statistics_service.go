package service

import (
	"context"
	"time"

	"libraryapi/internal/model"
	"libraryapi/internal/repository"
)

const topBooksLimit = 5

type StatisticsService interface {
	GetStatistics(ctx context.Context) (model.LibraryStatistics, error)
}

type statisticsService struct {
	repo repository.StatisticsRepository
	now  func() time.Time
}

func NewStatisticsService(repo repository.StatisticsRepository) StatisticsService {
	return &statisticsService{repo: repo, now: time.Now}
}

// GetStatistics aggregates catalog and lending counters
func (s *statisticsService) GetStatistics(ctx context.Context) (model.LibraryStatistics, error) {
	var stats model.LibraryStatistics
	var err error
	now := s.now()
	stats.GeneratedAt = now

	if stats.TotalBooks, err = s.repo.CountBooks(ctx, map[string]interface{}{"active": true}); err != nil {
		return stats, storageError(err, "book")
	}
	if stats.AvailableBooks, err = s.repo.CountBooks(ctx, map[string]interface{}{"active": true, "available": true}); err != nil {
		return stats, storageError(err, "book")
	}
	// Disabled books can still be out on loan.
	if stats.BooksOnLoan, err = s.repo.CountBooks(ctx, map[string]interface{}{"available": false}); err != nil {
		return stats, storageError(err, "book")
	}
	if stats.DisabledBooks, err = s.repo.CountBooks(ctx, map[string]interface{}{"active": false}); err != nil {
		return stats, storageError(err, "book")
	}

	if stats.ActiveReservations, err = s.repo.CountReservations(ctx, model.ReservationActive); err != nil {
		return stats, storageError(err, "reservation")
	}
	if stats.CompletedReservations, err = s.repo.CountReservations(ctx, model.ReservationCompleted); err != nil {
		return stats, storageError(err, "reservation")
	}
	if stats.CancelledReservations, err = s.repo.CountReservations(ctx, model.ReservationCancelled); err != nil {
		return stats, storageError(err, "reservation")
	}
	if stats.OverdueReservations, err = s.repo.CountOverdue(ctx, now); err != nil {
		return stats, storageError(err, "reservation")
	}

	if stats.TopBorrowedBooks, err = s.repo.GetTopBooks(ctx, topBooksLimit); err != nil {
		return stats, storageError(err, "reservation")
	}
	if stats.TopBorrowedBooks == nil {
		stats.TopBorrowedBooks = []model.BookRanking{}
	}

	return stats, nil
}
