package recon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/fleetsutra/fastag/internal/clock"
	"github.com/fleetsutra/fastag/internal/config"
	paymentdomain "github.com/fleetsutra/fastag/internal/payment/domain"
	txndomain "github.com/fleetsutra/fastag/internal/txn/domain"
	"github.com/fleetsutra/fastag/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StatusPoller periodically asks the configured bank/PSP status endpoint
// about PENDING direct-UPI transactions. Everything about the endpoint is
// declarative configuration, so onboarding a new bank needs no code.
type StatusPoller struct {
	db      *gorm.DB
	log     *zap.Logger
	holder  *config.ReconConfigHolder
	txnRepo txndomain.Repository
	intake  paymentdomain.IntakeService
	clock   clock.Clock
	http    *http.Client
}

type StatusPollerParams struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Holder  *config.ReconConfigHolder
	TxnRepo txndomain.Repository
	Intake  paymentdomain.IntakeService
	Clock   clock.Clock
}

func NewStatusPoller(p StatusPollerParams) *StatusPoller {
	return &StatusPoller{
		db:      p.DB,
		log:     p.Log.Named("recon.status_poller"),
		holder:  p.Holder,
		txnRepo: p.TxnRepo,
		intake:  p.Intake,
		clock:   p.Clock,
		http:    &http.Client{},
	}
}

// RunOnce polls one batch of eligible transactions. Endpoint failures are
// recorded per transaction and never abort the batch.
func (p *StatusPoller) RunOnce(ctx context.Context) error {
	cfg := p.holder.Get().Status
	if strings.TrimSpace(cfg.URL) == "" {
		return nil
	}

	now := p.clock.Now()
	items, err := p.txnRepo.ListPollable(ctx, p.db, txndomain.PollQuery{
		Now:         now,
		Lookback:    cfg.Lookback,
		Throttle:    cfg.PerTxnThrottle,
		MaxAttempts: cfg.MaxAttempts,
		Limit:       cfg.BatchSize,
	})
	if err != nil {
		return err
	}

	var errs error
	for _, txn := range items {
		if err := p.txnRepo.RecordPollAttempt(ctx, p.db, txn.LocalTxnID, p.clock.Now()); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if err := p.pollOne(ctx, cfg, txn); err != nil {
			p.log.Warn("status poll failed",
				zap.String("local_txn_id", txn.LocalTxnID),
				zap.Error(err),
			)
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

func (p *StatusPoller) pollOne(ctx context.Context, cfg config.StatusEndpointConfig, txn *txndomain.Txn) error {
	doc, err := p.query(ctx, cfg, txn.LocalTxnID)
	if err != nil {
		return err
	}

	status := strings.ToUpper(lookupString(doc, cfg.StatusPath))
	if status == "" {
		return nil
	}
	if !containsFold(cfg.SuccessValues, status) {
		return nil
	}

	conf := &paymentdomain.Confirmation{
		Channel:    paymentdomain.ChannelStatusPoll,
		LocalTxnID: txn.LocalTxnID,
		PaymentID:  lookupString(doc, cfg.UTRPath),
		PayeeVPA:   strings.ToLower(lookupString(doc, cfg.PayeeVPAPath)),
	}
	if raw := lookupString(doc, cfg.AmountPath); raw != "" {
		paise, err := money.ParsePaise(raw)
		if err != nil {
			return err
		}
		conf.AmountPaise = paise
	}

	_, err = p.intake.Confirm(ctx, conf)
	return err
}

func (p *StatusPoller) query(ctx context.Context, cfg config.StatusEndpointConfig, ref string) (any, error) {
	method := strings.ToUpper(strings.TrimSpace(cfg.Method))

	var req *http.Request
	var err error
	switch method {
	case http.MethodPost:
		body := strings.ReplaceAll(cfg.BodyTemplate, "{{ref}}", ref)
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, strings.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	default:
		endpoint, perr := url.Parse(cfg.URL)
		if perr != nil {
			return nil, perr
		}
		query := endpoint.Query()
		query.Set(cfg.RefParam, ref)
		endpoint.RawQuery = query.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	}
	if err != nil {
		return nil, err
	}

	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	client := *p.http
	client.Timeout = cfg.Timeout
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, errors.New("status endpoint returned " + resp.Status)
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}
