package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fleetsutra/fastag/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrNotConfigured = errors.New("razorpay gateway not configured")
	ErrOrderRejected = errors.New("razorpay rejected order")
)

var Module = fx.Module("gateway",
	fx.Provide(NewClient),
)

// Client talks to the Razorpay Orders API.
type Client struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
	log       *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.Razorpay.BaseURL, "/"),
		keyID:     cfg.Razorpay.KeyID,
		keySecret: cfg.Razorpay.KeySecret,
		http:      &http.Client{Timeout: 15 * time.Second},
		log:       log.Named("gateway.razorpay"),
	}
}

// Configured reports whether API credentials are present.
func (c *Client) Configured() bool {
	return c.keyID != "" && c.keySecret != ""
}

// KeyID is exposed so checkout responses can hand the public key to the
// client app.
func (c *Client) KeyID() string {
	return c.keyID
}

type orderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// Order is the gateway-side order created for a recharge.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// CreateOrder opens a gateway order for the given paise amount. The local
// transaction reference goes in as the receipt so the two systems stay
// correlated.
func (c *Client) CreateOrder(ctx context.Context, amountPaise int64, receipt string, notes map[string]string) (*Order, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	payload, err := json.Marshal(orderRequest{
		Amount:   amountPaise,
		Currency: "INR",
		Receipt:  receipt,
		Notes:    notes,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		c.log.Warn("order creation rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("receipt", receipt),
		)
		return nil, fmt.Errorf("%w: status %d", ErrOrderRejected, resp.StatusCode)
	}

	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, err
	}
	if strings.TrimSpace(order.ID) == "" {
		return nil, fmt.Errorf("%w: empty order id", ErrOrderRejected)
	}
	return &order, nil
}

// FetchOrder reads an order back from the gateway. Used to verify payment
// server-side when the webhook never arrived.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (*Order, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/orders/"+orderID, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: status %d", ErrOrderRejected, resp.StatusCode)
	}

	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// VerifyCheckoutSignature checks the signature the checkout widget returns
// to the client app: HMAC-SHA256 of "order_id|payment_id" under the key
// secret.
func (c *Client) VerifyCheckoutSignature(orderID, paymentID, signature string) bool {
	if c.keySecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.keySecret))
	_, _ = mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}
