package cyrus

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fleetsutra/fastag/internal/config"
	providerdomain "github.com/fleetsutra/fastag/internal/provider/domain"
	"github.com/fleetsutra/fastag/pkg/money"
	"go.uber.org/zap"
)

const (
	maxAttempts   = 3
	baseBackoff   = 500 * time.Millisecond
	maxBodyLength = 1 << 20
)

// Client calls the Cyrus recharge API.
type Client struct {
	name          string
	rechargeURL   string
	apiKey        string
	webhookSecret string
	http          *http.Client
	log           *zap.Logger
}

func New(cfg config.Config, log *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Provider.RechargeURL) == "" {
		return nil, providerdomain.ErrInvalidConfig
	}
	timeout := cfg.Provider.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		name:          strings.ToUpper(strings.TrimSpace(cfg.Provider.Name)),
		rechargeURL:   cfg.Provider.RechargeURL,
		apiKey:        cfg.Provider.APIKey,
		webhookSecret: cfg.Provider.WebhookSecret,
		http:          &http.Client{Timeout: timeout},
		log:           log.Named("provider.cyrus"),
	}, nil
}

func (c *Client) Name() string {
	return c.name
}

type rechargeRequest struct {
	TagNumber     string `json:"tagNumber"`
	Amount        string `json:"amount"`
	MerchantTxnID string `json:"merchantTxnId"`
}

type rechargeResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
	TxnID         string `json:"txnId"`
	Message       string `json:"message"`
	TagBalance    string `json:"tagBalance"`
}

// RechargeTag submits a recharge, retrying transport failures and 5xx
// responses with a doubling backoff. A parsed provider response is final
// and is never retried.
func (c *Client) RechargeTag(ctx context.Context, req providerdomain.RechargeRequest) (*providerdomain.RechargeResult, error) {
	payload, err := json.Marshal(rechargeRequest{
		TagNumber:     req.TagNumber,
		Amount:        money.FormatRupees(req.AmountPaise),
		MerchantTxnID: req.MerchantTxnID,
	})
	if err != nil {
		return nil, err
	}

	var lastErr error
	backoff := baseBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, retryable, err := c.attempt(ctx, payload)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		c.log.Warn("recharge attempt failed",
			zap.Int("attempt", attempt),
			zap.String("merchant_txn_id", req.MerchantTxnID),
			zap.Error(err),
		)
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("%w: %v", providerdomain.ErrUnavailable, lastErr)
}

func (c *Client) attempt(ctx context.Context, payload []byte) (*providerdomain.RechargeResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rechargeURL, bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyLength))
	if err != nil {
		return nil, true, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, true, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var parsed rechargeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, false, fmt.Errorf("unparseable provider response: %w", err)
	}

	status := strings.ToUpper(strings.TrimSpace(parsed.Status))

	result := &providerdomain.RechargeResult{
		Success:       providerdomain.IsSuccessStatus(status),
		Status:        status,
		ProviderTxnID: firstNonEmpty(parsed.TransactionID, parsed.TxnID),
		Message:       strings.TrimSpace(parsed.Message),
		Raw:           json.RawMessage(body),
	}
	if balance := strings.TrimSpace(parsed.TagBalance); balance != "" {
		if paise, err := money.ParsePaise(balance); err == nil {
			result.TagBalancePaise = &paise
		}
	}
	return result, false, nil
}

// VerifyWebhook checks the x-cyrus-signature (or x-signature) header, an
// HMAC-SHA256 hex digest of the raw body.
func (c *Client) VerifyWebhook(payload []byte, headers http.Header) error {
	if c.webhookSecret == "" {
		return providerdomain.ErrInvalidConfig
	}

	signature := strings.TrimSpace(headers.Get("x-cyrus-signature"))
	if signature == "" {
		signature = strings.TrimSpace(headers.Get("x-signature"))
	}
	if signature == "" {
		return providerdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return providerdomain.ErrInvalidSignature
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
