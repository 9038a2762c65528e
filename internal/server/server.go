package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/fleetsutra/fastag/internal/audit/domain"
	"github.com/fleetsutra/fastag/internal/auth"
	"github.com/fleetsutra/fastag/internal/clock"
	"github.com/fleetsutra/fastag/internal/config"
	"github.com/fleetsutra/fastag/internal/gateway"
	"github.com/fleetsutra/fastag/internal/observability"
	obsmiddleware "github.com/fleetsutra/fastag/internal/observability/logger"
	obsmetrics "github.com/fleetsutra/fastag/internal/observability/metrics"
	"github.com/fleetsutra/fastag/internal/payment"
	paymentdomain "github.com/fleetsutra/fastag/internal/payment/domain"
	"github.com/fleetsutra/fastag/internal/payment/intake"
	providerfundsdomain "github.com/fleetsutra/fastag/internal/providerfunds/domain"
	rechargeservice "github.com/fleetsutra/fastag/internal/recharge/service"
	rechargewebhook "github.com/fleetsutra/fastag/internal/recharge/webhook"
	tagdomain "github.com/fleetsutra/fastag/internal/tag/domain"
	txndomain "github.com/fleetsutra/fastag/internal/txn/domain"
	walletdomain "github.com/fleetsutra/fastag/internal/wallet/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	obsCfg       observability.Config
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	authSvc      *auth.Service
	txnRepo      txndomain.Repository
	walletSvc    walletdomain.Service
	fundsSvc     providerfundsdomain.Service
	tagSvc       tagdomain.Service
	auditSvc     auditdomain.Service
	intakeSvc    paymentdomain.IntakeService
	adapters     *payment.AdapterSet
	gateway      *gateway.Client
	providerHook *rechargewebhook.Service
	rechargeSvc  rechargeservice.Service
	enqueuer     intake.Enqueuer
	metrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	ObsCfg       observability.Config
	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	AuthSvc      *auth.Service
	TxnRepo      txndomain.Repository
	WalletSvc    walletdomain.Service
	FundsSvc     providerfundsdomain.Service
	TagSvc       tagdomain.Service
	AuditSvc     auditdomain.Service
	IntakeSvc    paymentdomain.IntakeService
	Adapters     *payment.AdapterSet
	Gateway      *gateway.Client
	ProviderHook *rechargewebhook.Service
	RechargeSvc  rechargeservice.Service
	Enqueuer     intake.Enqueuer             `optional:"true"`
	Metrics      *obsmetrics.Metrics         `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		obsCfg:       p.ObsCfg,
		db:           p.DB,
		log:          p.Log.Named("server"),
		genID:        p.GenID,
		clock:        p.Clock,
		authSvc:      p.AuthSvc,
		txnRepo:      p.TxnRepo,
		walletSvc:    p.WalletSvc,
		fundsSvc:     p.FundsSvc,
		tagSvc:       p.TagSvc,
		auditSvc:     p.AuditSvc,
		intakeSvc:    p.IntakeSvc,
		adapters:     p.Adapters,
		gateway:      p.Gateway,
		providerHook: p.ProviderHook,
		rechargeSvc:  p.RechargeSvc,
		enqueuer:     p.Enqueuer,
		metrics:      p.Metrics,
	}
}

func registerRoutes(s *Server) {
	s.RegisterRoutes()
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterRoutes() {
	fastag := s.engine.Group("/fastag")

	// Webhooks authenticate with signatures, not bearer tokens.
	fastag.POST("/razorpay-webhook", s.HandleRazorpayWebhook)
	fastag.POST("/upi-webhook", s.HandleUPIWebhook)
	fastag.POST("/provider-webhook", s.HandleProviderWebhook)

	authed := fastag.Group("", s.AuthRequired())
	authed.POST("/initiate-recharge", s.InitiateRecharge)
	authed.POST("/initiate-upi", s.InitiateUPI)
	authed.POST("/mark-paid", s.MarkPaid)
	authed.POST("/link-tag", s.LinkTag)
	authed.GET("/tags", s.ListTags)
	authed.GET("/transactions", s.ListTransactions)
	authed.GET("/txn/:local_txn_id", s.GetTransaction)

	wallet := s.engine.Group("/wallet", s.AuthRequired())
	wallet.GET("", s.GetWallet)
	wallet.GET("/ledger", s.GetWalletLedger)
	wallet.POST("/confirm-payment", s.ConfirmPayment)

	admin := s.engine.Group("/admin", s.AuthRequired(), s.AdminRequired())
	admin.GET("/provider-balance", s.GetProviderBalance)
	admin.POST("/provider-balance/topup", s.TopUpProviderBalance)

	if s.obsCfg.Debug() {
		s.engine.POST("/auth/dev-token", s.IssueDevToken)
	}
}
