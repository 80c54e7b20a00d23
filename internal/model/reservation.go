package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReservationState is the lifecycle state of a reservation.
type ReservationState string

const (
	ReservationActive    ReservationState = "active"
	ReservationCompleted ReservationState = "completed"
	ReservationCancelled ReservationState = "cancelled"
)

// Terminal states accept no further transitions.
func (s ReservationState) Terminal() bool {
	return s == ReservationCompleted || s == ReservationCancelled
}

// Reservation couples one user to one book. At most one reservation per book
// may be in the active state.
type Reservation struct {
	ID          uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	BookID      uuid.UUID        `gorm:"type:uuid;not null;index:idx_reservations_book_state,priority:1" json:"book_id"`
	Book        *Book            `gorm:"foreignKey:BookID" json:"book,omitempty"`
	UserID      uuid.UUID        `gorm:"type:uuid;not null;index:idx_reservations_user_state,priority:1" json:"user_id"`
	User        *User            `gorm:"foreignKey:UserID" json:"user,omitempty"`
	RequestedAt time.Time        `gorm:"not null;index" json:"requested_at"`
	DueAt       *time.Time       `json:"due_at"` // scheduled return; actual return once completed
	State       ReservationState `gorm:"type:varchar(20);not null;default:'active';index:idx_reservations_book_state,priority:2;index:idx_reservations_user_state,priority:2" json:"state"`
	Active      bool             `gorm:"not null;default:true" json:"active"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r *Reservation) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// ActiveReservationIndexSQL backs the one-active-reservation-per-book rule at
// storage level. Both postgres and sqlite accept partial indexes.
const ActiveReservationIndexSQL = `CREATE UNIQUE INDEX IF NOT EXISTS ux_reservations_active_book ON reservations (book_id) WHERE state = 'active'`
