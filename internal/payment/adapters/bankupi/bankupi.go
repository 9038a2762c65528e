package bankupi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	paymentdomain "github.com/fleetsutra/fastag/internal/payment/domain"
	txndomain "github.com/fleetsutra/fastag/internal/txn/domain"
	"github.com/fleetsutra/fastag/pkg/money"
)

// successStatuses are the bank statuses that count as a settled credit.
var successStatuses = map[string]struct{}{
	"SUCCESS":   {},
	"COMPLETED": {},
	"CREDIT":    {},
	"CREDITED":  {},
	"OK":        {},
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Channel() string {
	return paymentdomain.ChannelBankUPI
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

// Verify checks x-upi-signature (or x-signature), an HMAC-SHA256 hex
// digest of the raw body.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get("x-upi-signature"))
	if signature == "" {
		signature = strings.TrimSpace(headers.Get("x-signature"))
	}
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

type bankNotification struct {
	Status   string `json:"status"`
	Amount   string `json:"amount"`
	VPA      string `json:"vpa"`
	PayeeVPA string `json:"payeeVpa"`
	Remarks  string `json:"remarks"`
	Note     string `json:"narration"`
	Desc     string `json:"description"`
	UTR      string `json:"utr"`
	RRN      string `json:"rrn"`
	TxnID    string `json:"txnId"`
}

// Parse accepts credit notifications from bank UPI callbacks. Field names
// vary by bank, so several aliases are read. The local transaction
// reference is pulled out of the free-form remittance text.
func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.Confirmation, error) {
	var note bankNotification
	if err := json.Unmarshal(payload, &note); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	status := strings.ToUpper(strings.TrimSpace(note.Status))
	if _, ok := successStatuses[status]; !ok {
		return nil, paymentdomain.ErrEventIgnored
	}

	remarks := firstNonEmpty(note.Remarks, note.Note, note.Desc)
	localTxnID := txndomain.ExtractLocalTxnID(remarks)
	if localTxnID == "" {
		return nil, paymentdomain.ErrEventIgnored
	}

	var amountPaise int64
	if strings.TrimSpace(note.Amount) != "" {
		parsed, err := money.ParsePaise(note.Amount)
		if err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		amountPaise = parsed
	}

	return &paymentdomain.Confirmation{
		Channel:     paymentdomain.ChannelBankUPI,
		LocalTxnID:  localTxnID,
		PaymentID:   firstNonEmpty(note.UTR, note.RRN, note.TxnID),
		AmountPaise: amountPaise,
		PayeeVPA:    strings.ToLower(firstNonEmpty(note.PayeeVPA, note.VPA)),
		Raw:         json.RawMessage(payload),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
