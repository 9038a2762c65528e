package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fleetsutra/fastag/internal/clock"
	tagdomain "github.com/fleetsutra/fastag/internal/tag/domain"
	"github.com/fleetsutra/fastag/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) tagdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("tag.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Link(ctx context.Context, userID int64, tagNumber, vehicleNo, issuer string) (*tagdomain.Tag, error) {
	tagNumber = normalizeTagNumber(tagNumber)
	if tagNumber == "" {
		return nil, tagdomain.ErrInvalidTag
	}

	now := s.clock.Now()
	tag := tagdomain.Tag{
		ID:        s.genID.Generate(),
		UserID:    userID,
		TagNumber: tagNumber,
		VehicleNo: strings.ToUpper(strings.TrimSpace(vehicleNo)),
		Issuer:    strings.TrimSpace(issuer),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&tag).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, tagdomain.ErrAlreadyLinked
		}
		return nil, err
	}

	s.log.Info("tag linked",
		zap.Int64("user_id", userID),
		zap.String("tag_number", tagNumber),
	)
	return &tag, nil
}

func (s *Service) ListByUser(ctx context.Context, userID int64) ([]*tagdomain.Tag, error) {
	var tags []*tagdomain.Tag
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND active", userID).
		Order("created_at ASC").
		Find(&tags).Error
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// Resolve looks up a tag by number and verifies ownership.
func (s *Service) Resolve(ctx context.Context, userID int64, tagNumber string) (*tagdomain.Tag, error) {
	tagNumber = normalizeTagNumber(tagNumber)
	if tagNumber == "" {
		return nil, tagdomain.ErrInvalidTag
	}

	var tag tagdomain.Tag
	err := s.db.WithContext(ctx).
		Where("tag_number = ?", tagNumber).
		First(&tag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, tagdomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if tag.UserID != userID {
		return nil, tagdomain.ErrNotOwned
	}
	return &tag, nil
}

// ResolveVehicle looks up the caller's active tag by vehicle number, for
// callers that know the vehicle but not the tag on it.
func (s *Service) ResolveVehicle(ctx context.Context, userID int64, vehicleNo string) (*tagdomain.Tag, error) {
	vehicleNo = strings.ToUpper(strings.TrimSpace(vehicleNo))
	if vehicleNo == "" {
		return nil, tagdomain.ErrInvalidTag
	}

	var tag tagdomain.Tag
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND vehicle_no = ? AND active", userID, vehicleNo).
		Order("created_at DESC").
		First(&tag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, tagdomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

func (s *Service) UpdateCachedBalanceTx(ctx context.Context, tx *gorm.DB, tagNumber string, balancePaise int64, at time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE tags
		 SET balance_cached_paise = ?, balance_synced_at = ?, updated_at = ?
		 WHERE tag_number = ?`,
		balancePaise, at.UTC(), at.UTC(), normalizeTagNumber(tagNumber),
	).Error
}

func normalizeTagNumber(tagNumber string) string {
	return strings.ToUpper(strings.TrimSpace(tagNumber))
}
