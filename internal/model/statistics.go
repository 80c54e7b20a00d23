package model

import (
	"time"
)

// LibraryStatistics aggregates catalog and lending counters
type LibraryStatistics struct {
	TotalBooks            int64         `json:"total_books"`
	AvailableBooks        int64         `json:"available_books"`
	BooksOnLoan           int64         `json:"books_on_loan"`
	DisabledBooks         int64         `json:"disabled_books"`
	ActiveReservations    int64         `json:"active_reservations"`
	OverdueReservations   int64         `json:"overdue_reservations"`
	CompletedReservations int64         `json:"completed_reservations"`
	CancelledReservations int64         `json:"cancelled_reservations"`
	TopBorrowedBooks      []BookRanking `json:"top_borrowed_books"`
	GeneratedAt           time.Time     `json:"generated_at"`
}

// BookRanking represents a book ranked by how many times it was reserved
type BookRanking struct {
	BookID            string `json:"book_id"`
	Title             string `json:"title"`
	Author            string `json:"author"`
	TotalReservations int64  `json:"total_reservations"`
}
