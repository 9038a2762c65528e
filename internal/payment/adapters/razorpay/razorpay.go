package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	paymentdomain "github.com/fleetsutra/fastag/internal/payment/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Channel() string {
	return paymentdomain.ChannelRazorpay
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Adapter, error) {
	secret, _ := cfg.Config["webhook_secret"].(string)
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return &Adapter{webhookSecret: secret}, nil
}

type Adapter struct {
	webhookSecret string
}

// Verify checks the x-razorpay-signature header, an HMAC-SHA256 hex digest
// of the raw body.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get("x-razorpay-signature"))
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity orderEntity `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

type paymentEntity struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
	Status  string `json:"status"`
}

type orderEntity struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
}

// Parse accepts payment.captured and order.paid events. Amounts are
// already in paise on the wire.
func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.Confirmation, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	switch strings.TrimSpace(event.Event) {
	case "payment.captured", "order.paid":
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	payment := event.Payload.Payment.Entity
	orderID := strings.TrimSpace(payment.OrderID)
	if orderID == "" {
		orderID = strings.TrimSpace(event.Payload.Order.Entity.ID)
	}
	if orderID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	amount := payment.Amount
	if amount == 0 {
		amount = event.Payload.Order.Entity.Amount
	}

	return &paymentdomain.Confirmation{
		Channel:        paymentdomain.ChannelRazorpay,
		PaymentOrderID: orderID,
		PaymentID:      strings.TrimSpace(payment.ID),
		AmountPaise:    amount,
		Raw:            json.RawMessage(payload),
	}, nil
}
