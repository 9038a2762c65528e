package recon_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/fleetsutra/fastag/internal/audit/domain"
	auditservice "github.com/fleetsutra/fastag/internal/audit/service"
	"github.com/fleetsutra/fastag/internal/clock"
	"github.com/fleetsutra/fastag/internal/config"
	paymentdomain "github.com/fleetsutra/fastag/internal/payment/domain"
	"github.com/fleetsutra/fastag/internal/payment/intake"
	txndomain "github.com/fleetsutra/fastag/internal/txn/domain"
	txnrepo "github.com/fleetsutra/fastag/internal/txn/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type reconFixture struct {
	db     *gorm.DB
	node   *snowflake.Node
	clock  *clock.FakeClock
	repo   txndomain.Repository
	intake paymentdomain.IntakeService
}

func setupRecon(t *testing.T) *reconFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:recon_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&txndomain.Txn{}, &auditdomain.Entry{}))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	auditSvc := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Clock: clk})
	repo := txnrepo.Provide()
	intakeSvc := intake.NewService(intake.Params{
		DB:       db,
		Log:      log,
		Cfg:      config.Config{},
		Clock:    clk,
		TxnRepo:  repo,
		AuditSvc: auditSvc,
	})

	return &reconFixture{db: db, node: node, clock: clk, repo: repo, intake: intakeSvc}
}

func (f *reconFixture) seedTxn(t *testing.T, status txndomain.Status, channel txndomain.Channel, amountPaise int64, createdAt time.Time) *txndomain.Txn {
	t.Helper()

	txn := &txndomain.Txn{
		ID:          f.node.Generate(),
		LocalTxnID:  txndomain.NewLocalTxnID(),
		UserID:      31,
		TagNumber:   "34161FA820328D5D0540F0A0",
		AmountPaise: amountPaise,
		Status:      status,
		Channel:     channel,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	require.NoError(t, f.db.Create(txn).Error)
	return txn
}

func (f *reconFixture) reload(t *testing.T, localTxnID string) *txndomain.Txn {
	t.Helper()

	var txn txndomain.Txn
	require.NoError(t, f.db.Where("local_txn_id = ?", localTxnID).First(&txn).Error)
	return &txn
}
