package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"libraryapi/internal/authz"
)

// User represents a patron or librarian. There are no roles: what a user may
// do is decided only by the Permissions set.
type User struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(255);not null;index" json:"name"`
	Email       string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"` // always lowercase
	Password    string    `gorm:"type:varchar(255);not null" json:"-"`                 // bcrypt hash, write only
	Permissions authz.Set `gorm:"type:text;not null;default:''" json:"permissions"`
	Active      bool      `gorm:"not null;default:true;index" json:"active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Principal snapshots the user's identity and permissions.
func (u *User) Principal() authz.Principal {
	return authz.NewPrincipal(u.ID, u.Permissions)
}
