package cyrus

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fleetsutra/fastag/internal/config"
	providerdomain "github.com/fleetsutra/fastag/internal/provider/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()

	cfg := config.Config{}
	cfg.Provider.Name = "cyrus"
	cfg.Provider.RechargeURL = url
	cfg.Provider.APIKey = "key_test"
	cfg.Provider.WebhookSecret = "cyrus_secret"
	cfg.Provider.Timeout = 2 * time.Second

	client, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestNewRequiresRechargeURL(t *testing.T) {
	_, err := New(config.Config{}, zap.NewNop())
	assert.ErrorIs(t, err, providerdomain.ErrInvalidConfig)
}

func TestRechargeTagSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key_test", r.Header.Get("Authorization"))

		var req rechargeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "500.00", req.Amount)
		assert.Equal(t, "FT_test", req.MerchantTxnID)

		_, _ = w.Write([]byte(`{"status":"SUCCESS","transactionId":"cyr_1","tagBalance":"750.00"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	assert.Equal(t, "CYRUS", client.Name())

	result, err := client.RechargeTag(context.Background(), providerdomain.RechargeRequest{
		TagNumber:     "34161FA820328D5D0540F0A0",
		AmountPaise:   50000,
		MerchantTxnID: "FT_test",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "SUCCESS", result.Status)
	assert.Equal(t, "cyr_1", result.ProviderTxnID)
	assert.NotEmpty(t, result.Raw)
	require.NotNil(t, result.TagBalancePaise)
	assert.Equal(t, int64(75000), *result.TagBalancePaise)
}

func TestRechargeTagDeclineIsFinal(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(`{"status":"FAILED","txnId":"cyr_2","message":"tag hotlisted"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	result, err := client.RechargeTag(context.Background(), providerdomain.RechargeRequest{
		TagNumber:     "34161FA820328D5D0540F0A0",
		AmountPaise:   50000,
		MerchantTxnID: "FT_test",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "FAILED", result.Status)
	assert.Equal(t, "cyr_2", result.ProviderTxnID)
	assert.Equal(t, "tag hotlisted", result.Message)

	// A parsed decline is never retried.
	assert.Equal(t, int32(1), requests.Load())
}

func TestRechargeTagReportsInterimStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"PENDING","txnId":"cyr_8","message":"request queued"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	result, err := client.RechargeTag(context.Background(), providerdomain.RechargeRequest{
		TagNumber:     "34161FA820328D5D0540F0A0",
		AmountPaise:   50000,
		MerchantTxnID: "FT_test",
	})
	require.NoError(t, err)

	// Not a success, but not a final decline either: callers must wait
	// for the callback instead of refunding.
	assert.False(t, result.Success)
	assert.Equal(t, "PENDING", result.Status)
	assert.False(t, providerdomain.IsFailureStatus(result.Status))
}

func TestRechargeTagRetriesServerErrors(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"status":"OK","transactionId":"cyr_3"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	result, err := client.RechargeTag(context.Background(), providerdomain.RechargeRequest{
		TagNumber:     "34161FA820328D5D0540F0A0",
		AmountPaise:   50000,
		MerchantTxnID: "FT_test",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int32(2), requests.Load())
}

func TestRechargeTagUnparseableBodyNotRetried(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.RechargeTag(context.Background(), providerdomain.RechargeRequest{
		TagNumber:     "34161FA820328D5D0540F0A0",
		AmountPaise:   50000,
		MerchantTxnID: "FT_test",
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, providerdomain.ErrUnavailable)
	assert.Equal(t, int32(1), requests.Load())
}

func TestRechargeTagExhaustedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.RechargeTag(context.Background(), providerdomain.RechargeRequest{
		TagNumber:     "34161FA820328D5D0540F0A0",
		AmountPaise:   50000,
		MerchantTxnID: "FT_test",
	})
	assert.ErrorIs(t, err, providerdomain.ErrUnavailable)
}

func TestVerifyWebhook(t *testing.T) {
	client := newTestClient(t, "http://unused")
	payload := []byte(`{"status":"SUCCESS"}`)

	mac := hmac.New(sha256.New, []byte("cyrus_secret"))
	mac.Write(payload)
	valid := hex.EncodeToString(mac.Sum(nil))

	headers := http.Header{}
	headers.Set("x-cyrus-signature", valid)
	assert.NoError(t, client.VerifyWebhook(payload, headers))

	headers = http.Header{}
	headers.Set("x-signature", valid)
	assert.NoError(t, client.VerifyWebhook(payload, headers))

	headers.Set("x-signature", "bad")
	assert.ErrorIs(t, client.VerifyWebhook(payload, headers), providerdomain.ErrInvalidSignature)
	assert.ErrorIs(t, client.VerifyWebhook(payload, http.Header{}), providerdomain.ErrInvalidSignature)
}
