package service

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/fleetsutra/fastag/internal/audit/domain"
	"github.com/fleetsutra/fastag/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
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

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Record(ctx context.Context, localTxnID, event string, amountPaise *int64, detail map[string]any) {
	s.RecordTx(ctx, s.db, localTxnID, event, amountPaise, detail)
}

func (s *Service) RecordTx(ctx context.Context, tx *gorm.DB, localTxnID, event string, amountPaise *int64, detail map[string]any) {
	var payload datatypes.JSON
	if len(detail) > 0 {
		raw, err := json.Marshal(detail)
		if err != nil {
			s.log.Warn("audit detail not serializable", zap.Error(err))
		} else {
			payload = datatypes.JSON(raw)
		}
	}

	entry := auditdomain.Entry{
		ID:          s.genID.Generate(),
		LocalTxnID:  localTxnID,
		Event:       event,
		AmountPaise: amountPaise,
		Detail:      payload,
		CreatedAt:   s.clock.Now(),
	}
	if err := tx.WithContext(ctx).Create(&entry).Error; err != nil {
		s.log.Warn("failed to write audit entry",
			zap.String("local_txn_id", localTxnID),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

func (s *Service) List(ctx context.Context, localTxnID string) ([]*auditdomain.Entry, error) {
	var entries []*auditdomain.Entry
	err := s.db.WithContext(ctx).
		Where("local_txn_id = ?", localTxnID).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
