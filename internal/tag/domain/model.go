package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("tag not found")
	ErrAlreadyLinked = errors.New("tag already linked")
	ErrInvalidTag    = errors.New("tag number is required")
	ErrNotOwned      = errors.New("tag does not belong to user")
)

// Tag is a FASTag linked to a user's vehicle. BalanceCachedPaise is the
// last balance reported by the provider, not an authoritative value.
type Tag struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID             int64        `gorm:"not null;index" json:"user_id"`
	TagNumber          string       `gorm:"type:text;not null;uniqueIndex" json:"tag_number"`
	VehicleNo          string       `gorm:"type:text" json:"vehicle_no,omitempty"`
	Issuer             string       `gorm:"type:text" json:"issuer,omitempty"`
	BalanceCachedPaise *int64       `gorm:"column:balance_cached_paise" json:"balance_cached_paise,omitempty"`
	BalanceSyncedAt    *time.Time   `json:"balance_synced_at,omitempty"`
	Active             bool         `gorm:"not null;default:true" json:"active"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Tag) TableName() string { return "tags" }

type Service interface {
	Link(ctx context.Context, userID int64, tagNumber, vehicleNo, issuer string) (*Tag, error)
	ListByUser(ctx context.Context, userID int64) ([]*Tag, error)
	Resolve(ctx context.Context, userID int64, tagNumber string) (*Tag, error)
	ResolveVehicle(ctx context.Context, userID int64, vehicleNo string) (*Tag, error)
	UpdateCachedBalanceTx(ctx context.Context, tx *gorm.DB, tagNumber string, balancePaise int64, at time.Time) error
}
