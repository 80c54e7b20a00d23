package repository

import (
	"context"
	"strings"

	"libraryapi/internal/model"
	"libraryapi/pkg/pagination"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BookFilter is an exact-match conjunction, except Title which matches a
// case-insensitive substring. Empty fields are ignored.
type BookFilter struct {
	Title           string
	Author          string
	Genre           string
	Publisher       string
	Available       *bool
	IncludeDisabled bool
}

type BookRepository interface {
	Create(ctx context.Context, book *model.Book) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Book, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Book, error)
	List(ctx context.Context, filter BookFilter, p pagination.Params) ([]model.Book, int64, error)
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error
	MarkUnavailable(ctx context.Context, id uuid.UUID) (bool, error)
	MarkAvailable(ctx context.Context, id uuid.UUID) error
}

type bookRepository struct {
	db *gorm.DB
}

func NewBookRepository(db *gorm.DB) BookRepository {
	return &bookRepository{db: db}
}

func (r *bookRepository) Create(ctx context.Context, book *model.Book) error {
	return GetDB(ctx, r.db).Create(book).Error
}

func (r *bookRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Book, error) {
	var book model.Book
	if err := GetDB(ctx, r.db).First(&book, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *bookRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Book, error) {
	var book model.Book
	if err := GetDB(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&book).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *bookRepository) List(ctx context.Context, filter BookFilter, p pagination.Params) ([]model.Book, int64, error) {
	var books []model.Book
	var total int64

	db := GetDB(ctx, r.db).Model(&model.Book{})
	if filter.Title != "" {
		db = db.Where("LOWER(title) LIKE ? ESCAPE '\\'", "%"+escapeLike(strings.ToLower(filter.Title))+"%")
	}
	if filter.Author != "" {
		db = db.Where("author = ?", filter.Author)
	}
	if filter.Genre != "" {
		db = db.Where("genre = ?", filter.Genre)
	}
	if filter.Publisher != "" {
		db = db.Where("publisher = ?", filter.Publisher)
	}
	if filter.Available != nil {
		db = db.Where("available = ?", *filter.Available)
	}
	if !filter.IncludeDisabled {
		db = db.Where("active = ?", true)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := db.Order("created_at desc, id").Offset(p.Offset).Limit(p.Limit).Find(&books).Error; err != nil {
		return nil, 0, err
	}

	return books, total, nil
}

func (r *bookRepository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	res := GetDB(ctx, r.db).Model(&model.Book{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkUnavailable flips available from true to false on an active book.
// It reports false when the row was absent, disabled, or already lent out,
// which makes the flip a compare-and-swap on the availability flag.
func (r *bookRepository) MarkUnavailable(ctx context.Context, id uuid.UUID) (bool, error) {
	res := GetDB(ctx, r.db).Model(&model.Book{}).
		Where("id = ? AND available = ? AND active = ?", id, true, true).
		Update(model.BookColumnAvailable, false)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkAvailable releases the book regardless of its active flag, so a book
// disabled during a loan can still be returned.
func (r *bookRepository) MarkAvailable(ctx context.Context, id uuid.UUID) error {
	res := GetDB(ctx, r.db).Model(&model.Book{}).Where("id = ?", id).
		Update(model.BookColumnAvailable, true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
