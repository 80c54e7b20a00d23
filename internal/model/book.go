package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Book is a loanable catalog item. Available is false exactly while the book
// has an active reservation; Active=false is a soft delete.
type Book struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Title       string     `gorm:"type:varchar(200);not null;index" json:"title"`
	Author      string     `gorm:"type:varchar(255);not null;index" json:"author"`
	Genre       string     `gorm:"type:varchar(100);not null;index" json:"genre"`
	Publisher   string     `gorm:"type:varchar(255);not null" json:"publisher"`
	PublishedAt time.Time  `gorm:"not null" json:"published_at"`
	Available   bool       `gorm:"not null;default:true;index" json:"available"`
	Active      bool       `gorm:"not null;default:true;index" json:"active"`
	CreatedBy   uuid.UUID  `gorm:"type:uuid;not null" json:"created_by"`
	ModifiedBy  *uuid.UUID `gorm:"type:uuid" json:"modified_by,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (b *Book) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// Column names of the fields guarded by the modify_books permission.
const (
	BookColumnTitle       = "title"
	BookColumnAuthor      = "author"
	BookColumnGenre       = "genre"
	BookColumnPublisher   = "publisher"
	BookColumnPublishedAt = "published_at"
	BookColumnAvailable   = "available"
	BookColumnActive      = "active"
	BookColumnModifiedBy  = "modified_by"
)
