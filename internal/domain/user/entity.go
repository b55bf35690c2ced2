// internal/domain/user/entity.go
package user

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Operator represents a warehouse operator account. Operators authenticate
// against the API; mutations on stock record the operator id as the actor.
type Operator struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Email       string         `gorm:"uniqueIndex;not null;size:255" json:"email"`
	Password    string         `gorm:"not null;size:255" json:"-"` // Don't return in JSON
	FirstName   string         `gorm:"size:100" json:"first_name"`
	LastName    string         `gorm:"size:100" json:"last_name"`
	IsActive    bool           `gorm:"default:true" json:"is_active"`
	IsAdmin     bool           `gorm:"default:false" json:"is_admin"`
	LastLoginAt *time.Time     `json:"last_login_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName overrides the table name for Operator
func (Operator) TableName() string {
	return "operators"
}

// BeforeCreate hook to normalize fields before creation
func (o *Operator) BeforeCreate(tx *gorm.DB) error {
	o.Email = strings.ToLower(o.Email)
	return nil
}

// GetFullName returns the operator's full name
func (o *Operator) GetFullName() string {
	return strings.TrimSpace(o.FirstName + " " + o.LastName)
}
