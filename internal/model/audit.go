package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ActionCreateBook          = "CREATE_BOOK"
	ActionUpdateBook          = "UPDATE_BOOK"
	ActionDisableBook         = "DISABLE_BOOK"
	ActionCreateReservation   = "CREATE_RESERVATION"
	ActionFinalizeReservation = "FINALIZE_RESERVATION"
	ActionCancelReservation   = "CANCEL_RESERVATION"

	// User directory actions
	ActionRegisterUser      = "REGISTER_USER"
	ActionUpdateUser        = "UPDATE_USER"
	ActionDisableUser       = "DISABLE_USER"
	ActionUpdatePermissions = "UPDATE_PERMISSIONS"
	ActionChangePassword    = "CHANGE_PASSWORD"
)

// AuditLog tracks Who, What, and When for every catalog and reservation change
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // Nullable for CLI/system actions
	User       *User      `gorm:"foreignKey:UserID" json:"user"`
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"`
	Details    string     `gorm:"type:text" json:"details"` // Serialized JSON payload of the action
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
