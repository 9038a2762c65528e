package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	paymentdomain "github.com/fleetsutra/fastag/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func newAdapter(t *testing.T) paymentdomain.Adapter {
	t.Helper()

	adapter, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{
		Config: map[string]any{"webhook_secret": "whsec_test"},
	})
	require.NoError(t, err)
	return adapter
}

func TestFactoryRequiresSecret(t *testing.T) {
	_, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{Config: map[string]any{}})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	adapter := newAdapter(t)
	payload := []byte(`{"event":"payment.captured"}`)

	headers := http.Header{}
	headers.Set("x-razorpay-signature", sign("whsec_test", payload))
	assert.NoError(t, adapter.Verify(ctx, payload, headers))

	headers.Set("x-razorpay-signature", sign("wrong_secret", payload))
	assert.ErrorIs(t, adapter.Verify(ctx, payload, headers), paymentdomain.ErrInvalidSignature)

	assert.ErrorIs(t, adapter.Verify(ctx, payload, http.Header{}), paymentdomain.ErrInvalidSignature)
}

func TestParsePaymentCaptured(t *testing.T) {
	ctx := context.Background()
	adapter := newAdapter(t)

	payload := []byte(`{
		"event": "payment.captured",
		"payload": {
			"payment": {
				"entity": {"id": "pay_1", "order_id": "order_1", "amount": 50000, "status": "captured"}
			}
		}
	}`)

	conf, err := adapter.Parse(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.ChannelRazorpay, conf.Channel)
	assert.Equal(t, "order_1", conf.PaymentOrderID)
	assert.Equal(t, "pay_1", conf.PaymentID)
	assert.Equal(t, int64(50000), conf.AmountPaise)
}

func TestParseOrderPaidFallsBackToOrderEntity(t *testing.T) {
	ctx := context.Background()
	adapter := newAdapter(t)

	payload := []byte(`{
		"event": "order.paid",
		"payload": {
			"order": {
				"entity": {"id": "order_2", "amount": 25000}
			}
		}
	}`)

	conf, err := adapter.Parse(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, "order_2", conf.PaymentOrderID)
	assert.Equal(t, int64(25000), conf.AmountPaise)
}

func TestParseIgnoresOtherEvents(t *testing.T) {
	ctx := context.Background()
	adapter := newAdapter(t)

	_, err := adapter.Parse(ctx, []byte(`{"event":"payment.failed"}`))
	assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)

	_, err = adapter.Parse(ctx, []byte(`not json`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	_, err = adapter.Parse(ctx, []byte(`{"event":"payment.captured","payload":{}}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)
}
