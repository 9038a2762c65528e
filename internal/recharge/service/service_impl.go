package service

import (
	"context"
	"time"

	auditdomain "github.com/fleetsutra/fastag/internal/audit/domain"
	"github.com/fleetsutra/fastag/internal/clock"
	"github.com/fleetsutra/fastag/internal/lock"
	"github.com/fleetsutra/fastag/internal/observability/metrics"
	providerdomain "github.com/fleetsutra/fastag/internal/provider/domain"
	fundsdomain "github.com/fleetsutra/fastag/internal/providerfunds/domain"
	tagdomain "github.com/fleetsutra/fastag/internal/tag/domain"
	txndomain "github.com/fleetsutra/fastag/internal/txn/domain"
	walletdomain "github.com/fleetsutra/fastag/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const claimTTL = 5 * time.Minute

// Service drives a confirmed transaction through the provider recharge.
// Money conservation rule: every PAID amount ends in exactly one of
// provider spend (COMPLETED), wallet refund (FAILED), or a parked hold
// (PENDING_PROVIDER_FUNDS).
type Service interface {
	Process(ctx context.Context, localTxnID string) error
	FinalizeSuccess(ctx context.Context, localTxnID string, result *providerdomain.RechargeResult) (bool, error)
	FinalizeFailure(ctx context.Context, localTxnID, reason string, result *providerdomain.RechargeResult) (bool, error)
	RequeueParked(ctx context.Context, localTxnID string) (bool, error)
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	TxnRepo   txndomain.Repository
	WalletSvc walletdomain.Service
	FundsSvc  fundsdomain.Service
	TagSvc    tagdomain.Service
	AuditSvc  auditdomain.Service
	Provider  providerdomain.Client
	Metrics   *metrics.Metrics `optional:"true"`
	Locker    *lock.Locker     `optional:"true"`
}

type service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	txnRepo   txndomain.Repository
	walletSvc walletdomain.Service
	fundsSvc  fundsdomain.Service
	tagSvc    tagdomain.Service
	auditSvc  auditdomain.Service
	provider  providerdomain.Client
	metrics   *metrics.Metrics
	locker    *lock.Locker
}

func NewService(p Params) Service {
	return &service{
		db:        p.DB,
		log:       p.Log.Named("recharge.service"),
		clock:     p.Clock,
		txnRepo:   p.TxnRepo,
		walletSvc: p.WalletSvc,
		fundsSvc:  p.FundsSvc,
		tagSvc:    p.TagSvc,
		auditSvc:  p.AuditSvc,
		provider:  p.Provider,
		metrics:   p.Metrics,
		locker:    p.Locker,
	}
}

// Process runs one recharge attempt for a PAID transaction. Safe to call
// for any reference: the PAID -> PROCESSING claim makes duplicate and
// stale invocations no-ops.
func (s *service) Process(ctx context.Context, localTxnID string) error {
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, "recharge:"+localTxnID, claimTTL)
		if err != nil {
			s.log.Warn("claim lock unavailable, proceeding on db claim",
				zap.String("local_txn_id", localTxnID),
				zap.Error(err),
			)
		} else if !ok {
			return nil
		} else {
			defer func() {
				_ = s.locker.Release(context.WithoutCancel(ctx), "recharge:"+localTxnID, token)
			}()
		}
	}

	claimed, err := s.txnRepo.ClaimProcessing(ctx, s.db, localTxnID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	s.auditSvc.Record(ctx, localTxnID, auditdomain.EventRechargeClaimed, nil, nil)

	txn, err := s.txnRepo.FindByLocalID(ctx, s.db, localTxnID)
	if err != nil {
		return err
	}
	if txn == nil {
		return txndomain.ErrNotFound
	}

	reserved, err := s.reserveOrPark(ctx, txn)
	if err != nil {
		return err
	}
	if !reserved {
		return nil
	}

	// The provider call happens outside any transaction so a slow provider
	// cannot hold row locks.
	result, callErr := s.provider.RechargeTag(ctx, providerdomain.RechargeRequest{
		TagNumber:     txn.TagNumber,
		AmountPaise:   txn.AmountPaise,
		MerchantTxnID: txn.LocalTxnID,
	})
	if callErr != nil {
		s.log.Error("provider call failed",
			zap.String("local_txn_id", txn.LocalTxnID),
			zap.Error(callErr),
		)
		_, err := s.FinalizeFailure(ctx, txn.LocalTxnID, "provider unavailable", nil)
		return err
	}

	if result.Success {
		_, err := s.FinalizeSuccess(ctx, txn.LocalTxnID, result)
		return err
	}

	if !providerdomain.IsFailureStatus(result.Status) {
		// An interim verdict (PENDING, INPROGRESS). The transaction stays
		// PROCESSING with its reservation held; the provider callback
		// settles it either way.
		s.log.Info("provider returned interim status",
			zap.String("local_txn_id", txn.LocalTxnID),
			zap.String("provider_status", result.Status),
		)
		if s.metrics != nil {
			s.metrics.RecordRechargeOutcome(s.provider.Name(), "deferred")
		}
		return nil
	}

	reason := result.Message
	if reason == "" {
		reason = "provider declined"
	}
	_, err = s.FinalizeFailure(ctx, txn.LocalTxnID, reason, result)
	return err
}

// reserveOrPark claims provider float for the transaction, or parks it
// when the float cannot cover the amount. Returns whether the recharge
// should proceed.
func (s *service) reserveOrPark(ctx context.Context, txn *txndomain.Txn) (bool, error) {
	provider := s.provider.Name()
	parked := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.fundsSvc.ReserveTx(ctx, tx, provider, txn.AmountPaise)
		if err != nil {
			return err
		}
		if !ok {
			applied, err := s.txnRepo.ParkProviderFunds(ctx, tx, txn.LocalTxnID)
			if err != nil {
				return err
			}
			if applied {
				s.auditSvc.RecordTx(ctx, tx, txn.LocalTxnID, auditdomain.EventFundsParked, &txn.AmountPaise, map[string]any{
					"provider": provider,
				})
			}
			parked = true
			return nil
		}
		s.auditSvc.RecordTx(ctx, tx, txn.LocalTxnID, auditdomain.EventFundsReserved, &txn.AmountPaise, map[string]any{
			"provider": provider,
		})
		return nil
	})
	if err != nil {
		return false, err
	}
	if parked {
		s.log.Warn("recharge parked on insufficient provider funds",
			zap.String("local_txn_id", txn.LocalTxnID),
			zap.Int64("amount_paise", txn.AmountPaise),
		)
		if s.metrics != nil {
			s.metrics.RecordFundsParked()
			s.metrics.RecordRechargeOutcome(provider, "parked")
		}
		return false, nil
	}
	return true, nil
}

// FinalizeSuccess settles a PROCESSING transaction as COMPLETED: the float
// reservation is spent, the receipt stored and the cached tag balance
// refreshed, all in one transaction. Returns applied=false for replays.
func (s *service) FinalizeSuccess(ctx context.Context, localTxnID string, result *providerdomain.RechargeResult) (bool, error) {
	if result == nil {
		return false, providerdomain.ErrInvalidConfig
	}

	txn, err := s.txnRepo.FindByLocalID(ctx, s.db, localTxnID)
	if err != nil {
		return false, err
	}
	if txn == nil {
		return false, txndomain.ErrNotFound
	}

	applied := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.txnRepo.Complete(ctx, tx, localTxnID, result.ProviderTxnID, result.Status, result.Raw, s.clock.Now())
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		applied = true

		if err := s.fundsSvc.CommitTx(ctx, tx, s.provider.Name(), txn.AmountPaise); err != nil {
			return err
		}
		if result.TagBalancePaise != nil {
			if err := s.tagSvc.UpdateCachedBalanceTx(ctx, tx, txn.TagNumber, *result.TagBalancePaise, s.clock.Now()); err != nil {
				return err
			}
		}
		s.auditSvc.RecordTx(ctx, tx, localTxnID, auditdomain.EventRechargeSuccess, &txn.AmountPaise, map[string]any{
			"provider_txn_id": result.ProviderTxnID,
			"provider_status": result.Status,
		})
		return nil
	})
	if err != nil {
		return false, err
	}

	if applied {
		s.log.Info("recharge completed",
			zap.String("local_txn_id", localTxnID),
			zap.String("provider_txn_id", result.ProviderTxnID),
		)
		if s.metrics != nil {
			s.metrics.RecordRechargeOutcome(s.provider.Name(), "completed")
		}
	}
	return applied, nil
}

// FinalizeFailure settles a PROCESSING transaction as FAILED: the float
// reservation is released and the wallet refunded. The refund rides on the
// ledger idempotency guard, so a replayed failure cannot double-credit.
func (s *service) FinalizeFailure(ctx context.Context, localTxnID, reason string, result *providerdomain.RechargeResult) (bool, error) {
	txn, err := s.txnRepo.FindByLocalID(ctx, s.db, localTxnID)
	if err != nil {
		return false, err
	}
	if txn == nil {
		return false, txndomain.ErrNotFound
	}

	// A nil result means the provider never answered, so there is no
	// receipt to store.
	var providerStatus string
	var providerRaw []byte
	if result != nil {
		providerStatus = result.Status
		providerRaw = result.Raw
	}

	applied := false
	refunded := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.txnRepo.Fail(ctx, tx, localTxnID, reason, providerStatus, providerRaw)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		applied = true

		if err := s.fundsSvc.ReleaseTx(ctx, tx, s.provider.Name(), txn.AmountPaise); err != nil {
			return err
		}
		s.auditSvc.RecordTx(ctx, tx, localTxnID, auditdomain.EventFundsReleased, &txn.AmountPaise, map[string]any{
			"provider": s.provider.Name(),
		})

		if _, err := s.walletSvc.EnsureWalletTx(ctx, tx, txn.UserID); err != nil {
			return err
		}
		refunded, err = s.walletSvc.CreditTx(ctx, tx, txn.UserID, localTxnID, walletdomain.EntryRefund, txn.AmountPaise, "recharge failed: "+reason)
		if err != nil {
			return err
		}

		detail := map[string]any{"reason": reason}
		if providerStatus != "" {
			detail["provider_status"] = providerStatus
		}
		s.auditSvc.RecordTx(ctx, tx, localTxnID, auditdomain.EventRechargeFailed, &txn.AmountPaise, detail)
		if refunded {
			s.auditSvc.RecordTx(ctx, tx, localTxnID, auditdomain.EventWalletRefunded, &txn.AmountPaise, nil)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if applied {
		s.log.Warn("recharge failed",
			zap.String("local_txn_id", localTxnID),
			zap.String("reason", reason),
		)
		if s.metrics != nil {
			s.metrics.RecordRechargeOutcome(s.provider.Name(), "failed")
			if refunded {
				s.metrics.RecordWalletRefund()
			}
		}
	}
	return applied, nil
}

// RequeueParked returns a PENDING_PROVIDER_FUNDS transaction to PAID so
// the worker can pick it up again after a float top-up.
func (s *service) RequeueParked(ctx context.Context, localTxnID string) (bool, error) {
	applied, err := s.txnRepo.Requeue(ctx, s.db, localTxnID)
	if err != nil {
		return false, err
	}
	if applied {
		s.auditSvc.Record(ctx, localTxnID, auditdomain.EventTxnRequeued, nil, nil)
	}
	return applied, nil
}
