package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/jmuthoni/samani-backend/pkg/enums"
)

// User is a marketplace account. Registration and login live in a separate
// identity service; this table backs token subjects and order ownership.
type User struct {
	ID          uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	FullName    string         `gorm:"column:full_name;not null"`
	Email       string         `gorm:"column:email;not null;uniqueIndex"`
	PhoneNumber string         `gorm:"column:phone_number;not null"`
	Role        enums.UserRole `gorm:"column:role;type:text;not null;default:'buyer'"`
	IsActive    bool           `gorm:"column:is_active;not null;default:true"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
