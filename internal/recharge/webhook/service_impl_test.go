package webhook

import (
	"context"
	"net/http"
	"testing"

	providerdomain "github.com/fleetsutra/fastag/internal/provider/domain"
	txndomain "github.com/fleetsutra/fastag/internal/txn/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProviderClient struct {
	verifyErr error
}

func (f *fakeProviderClient) Name() string { return "CYRUS" }

func (f *fakeProviderClient) RechargeTag(ctx context.Context, req providerdomain.RechargeRequest) (*providerdomain.RechargeResult, error) {
	return nil, providerdomain.ErrUnavailable
}

func (f *fakeProviderClient) VerifyWebhook(payload []byte, headers http.Header) error {
	return f.verifyErr
}

type finalizeCall struct {
	localTxnID string
	reason     string
	result     *providerdomain.RechargeResult
}

type fakeRecharge struct {
	applied   bool
	err       error
	successes []finalizeCall
	failures  []finalizeCall
}

func (f *fakeRecharge) Process(ctx context.Context, localTxnID string) error { return nil }

func (f *fakeRecharge) FinalizeSuccess(ctx context.Context, localTxnID string, result *providerdomain.RechargeResult) (bool, error) {
	f.successes = append(f.successes, finalizeCall{localTxnID: localTxnID, result: result})
	return f.applied, f.err
}

func (f *fakeRecharge) FinalizeFailure(ctx context.Context, localTxnID, reason string, result *providerdomain.RechargeResult) (bool, error) {
	f.failures = append(f.failures, finalizeCall{localTxnID: localTxnID, reason: reason, result: result})
	return f.applied, f.err
}

func (f *fakeRecharge) RequeueParked(ctx context.Context, localTxnID string) (bool, error) {
	return false, nil
}

func newWebhookService(recharge *fakeRecharge) *Service {
	return NewService(Params{
		Log:      zap.NewNop(),
		Provider: &fakeProviderClient{},
		Recharge: recharge,
	})
}

func TestApplySuccessCallback(t *testing.T) {
	ctx := context.Background()
	recharge := &fakeRecharge{applied: true}
	svc := newWebhookService(recharge)

	outcome, err := svc.Apply(ctx, []byte(`{
		"merchantTxnId": "FT_abc",
		"status": "SUCCESS",
		"transactionId": "cyr_55",
		"tagBalance": "450.00"
	}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	require.Len(t, recharge.successes, 1)
	call := recharge.successes[0]
	assert.Equal(t, "FT_abc", call.localTxnID)
	require.NotNil(t, call.result)
	assert.True(t, call.result.Success)
	assert.Equal(t, "SUCCESS", call.result.Status)
	assert.Equal(t, "cyr_55", call.result.ProviderTxnID)
	assert.NotEmpty(t, call.result.Raw)
	require.NotNil(t, call.result.TagBalancePaise)
	assert.Equal(t, int64(45000), *call.result.TagBalancePaise)
}

func TestApplyFailureCallback(t *testing.T) {
	ctx := context.Background()
	recharge := &fakeRecharge{applied: true}
	svc := newWebhookService(recharge)

	outcome, err := svc.Apply(ctx, []byte(`{
		"localTxnId": "FT_def",
		"status": "FAILED",
		"message": "tag hotlisted"
	}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	require.Len(t, recharge.failures, 1)
	assert.Equal(t, "FT_def", recharge.failures[0].localTxnID)
	assert.Equal(t, "tag hotlisted", recharge.failures[0].reason)
	assert.Empty(t, recharge.successes)
}

func TestApplyFailureReasonDefaultsToStatus(t *testing.T) {
	ctx := context.Background()
	recharge := &fakeRecharge{applied: true}
	svc := newWebhookService(recharge)

	outcome, err := svc.Apply(ctx, []byte(`{"merchantTxnId":"FT_x","status":"declined"}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	require.Len(t, recharge.failures, 1)
	assert.Equal(t, "provider reported DECLINED", recharge.failures[0].reason)
}

func TestApplyIgnoresInterimStatuses(t *testing.T) {
	ctx := context.Background()
	recharge := &fakeRecharge{applied: true}
	svc := newWebhookService(recharge)

	// PENDING and other non-final verdicts must not settle the transaction
	// either way; in particular they must never trigger a refund.
	for _, status := range []string{"PENDING", "INPROGRESS", "QUEUED"} {
		outcome, err := svc.Apply(ctx, []byte(`{"merchantTxnId":"FT_wait","status":"`+status+`"}`))
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)
	}
	assert.Empty(t, recharge.successes)
	assert.Empty(t, recharge.failures)
}

func TestApplyDuplicateWhenAlreadySettled(t *testing.T) {
	ctx := context.Background()
	recharge := &fakeRecharge{applied: false}
	svc := newWebhookService(recharge)

	outcome, err := svc.Apply(ctx, []byte(`{"merchantTxnId":"FT_abc","status":"SUCCESS"}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
}

func TestApplyIgnoresWithoutReference(t *testing.T) {
	ctx := context.Background()
	recharge := &fakeRecharge{applied: true}
	svc := newWebhookService(recharge)

	outcome, err := svc.Apply(ctx, []byte(`{"status":"SUCCESS"}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, recharge.successes)
	assert.Empty(t, recharge.failures)

	outcome, err = svc.Apply(ctx, []byte(`not json`))
	assert.Error(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestApplyPropagatesFinalizeError(t *testing.T) {
	ctx := context.Background()
	recharge := &fakeRecharge{err: txndomain.ErrNotFound}
	svc := newWebhookService(recharge)

	outcome, err := svc.Apply(ctx, []byte(`{"merchantTxnId":"FT_gone","status":"SUCCESS"}`))
	assert.ErrorIs(t, err, txndomain.ErrNotFound)
	assert.Equal(t, OutcomeIgnored, outcome)
}
