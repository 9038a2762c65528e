package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	paymentdomain "github.com/fleetsutra/fastag/internal/payment/domain"
	tagdomain "github.com/fleetsutra/fastag/internal/tag/domain"
	txndomain "github.com/fleetsutra/fastag/internal/txn/domain"
	"github.com/fleetsutra/fastag/pkg/db/pagination"
	"github.com/fleetsutra/fastag/pkg/money"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type initiateRechargeRequest struct {
	TagNumber string `json:"tag_number"`
	VehicleNo string `json:"vehicle_no"`
	Amount    string `json:"amount"`
}

// resolveTag finds the caller's tag by whichever identifier the request
// carries: the tag number directly, or the vehicle wearing it.
func (s *Server) resolveTag(c *gin.Context, userID int64, tagNumber, vehicleNo string) (*tagdomain.Tag, error) {
	if strings.TrimSpace(tagNumber) != "" {
		return s.tagSvc.Resolve(c.Request.Context(), userID, tagNumber)
	}
	if strings.TrimSpace(vehicleNo) != "" {
		return s.tagSvc.ResolveVehicle(c.Request.Context(), userID, vehicleNo)
	}
	return nil, newValidationError("tag_number", "missing_identifier", "tag_number or vehicle_no is required")
}

// InitiateRecharge opens a gateway order for a tag recharge and records the
// PENDING transaction the webhook will later promote.
func (s *Server) InitiateRecharge(c *gin.Context) {
	userID := callerUserID(c)

	var req initiateRechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	amountPaise, err := money.ParsePaise(req.Amount)
	if err != nil || amountPaise <= 0 {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "amount must be a positive rupee value"))
		return
	}

	tag, err := s.resolveTag(c, userID, req.TagNumber, req.VehicleNo)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	localTxnID := txndomain.NewLocalTxnID()
	order, err := s.gateway.CreateOrder(c.Request.Context(), amountPaise, localTxnID, map[string]string{
		"local_txn_id": localTxnID,
		"tag_number":   tag.TagNumber,
		"vehicle_no":   tag.VehicleNo,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	meta, _ := json.Marshal(map[string]any{
		"order_id": order.ID,
		"key_id":   s.gateway.KeyID(),
		"currency": "INR",
	})

	now := s.clock.Now()
	txn := &txndomain.Txn{
		ID:             s.genID.Generate(),
		LocalTxnID:     localTxnID,
		UserID:         userID,
		InitiatedBy:    userID,
		TagID:          tag.ID,
		TagNumber:      tag.TagNumber,
		VehicleNo:      tag.VehicleNo,
		AmountPaise:    amountPaise,
		Status:         txndomain.StatusPending,
		Channel:        txndomain.ChannelRazorpay,
		PaymentOrderID: order.ID,
		PaymentMeta:    datatypes.JSON(meta),
		Provider:       s.cfg.Provider.Name,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.txnRepo.Insert(c.Request.Context(), s.db, txn); err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("recharge initiated",
		zap.String("local_txn_id", localTxnID),
		zap.String("order_id", order.ID),
		zap.Int64("amount_paise", amountPaise),
	)

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"local_txn_id": localTxnID,
		"order_id":     order.ID,
		"key_id":       s.gateway.KeyID(),
		"amount":       money.FormatRupees(amountPaise),
		"amount_paise": amountPaise,
		"currency":     "INR",
		"expires_at":   now.Add(s.cfg.TxnTTL),
	}})
}

type initiateUPIRequest struct {
	TagNumber string `json:"tag_number"`
	VehicleNo string `json:"vehicle_no"`
	Amount    string `json:"amount"`
}

// InitiateUPI opens a direct-UPI recharge: the caller pays the configured
// VPA with the transaction reference in the note, and reconciliation picks
// the credit up later.
func (s *Server) InitiateUPI(c *gin.Context) {
	userID := callerUserID(c)

	var req initiateUPIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if s.cfg.UPI.PayeeVPA == "" {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	amountPaise, err := money.ParsePaise(req.Amount)
	if err != nil || amountPaise <= 0 {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "amount must be a positive rupee value"))
		return
	}

	tag, err := s.resolveTag(c, userID, req.TagNumber, req.VehicleNo)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	localTxnID := txndomain.NewLocalTxnID()
	deeplink := s.upiDeeplink(localTxnID, amountPaise)
	meta, _ := json.Marshal(map[string]any{
		"payee_vpa": s.cfg.UPI.PayeeVPA,
		"deeplink":  deeplink,
	})

	now := s.clock.Now()
	txn := &txndomain.Txn{
		ID:          s.genID.Generate(),
		LocalTxnID:  localTxnID,
		UserID:      userID,
		InitiatedBy: userID,
		TagID:       tag.ID,
		TagNumber:   tag.TagNumber,
		VehicleNo:   tag.VehicleNo,
		AmountPaise: amountPaise,
		Status:      txndomain.StatusPending,
		Channel:     txndomain.ChannelDirectUPI,
		PaymentMeta: datatypes.JSON(meta),
		Provider:    s.cfg.Provider.Name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.txnRepo.Insert(c.Request.Context(), s.db, txn); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"local_txn_id": localTxnID,
		"payee_vpa":    s.cfg.UPI.PayeeVPA,
		"payee_name":   s.cfg.UPI.PayeeName,
		"amount":       money.FormatRupees(amountPaise),
		"amount_paise": amountPaise,
		"deeplink":     deeplink,
		"qr_payload":   deeplink,
		"expires_at":   now.Add(s.cfg.TxnTTL),
	}})
}

// upiDeeplink builds the upi://pay URI with the transaction reference in
// both the note and the tr field so bank statements carry it either way.
func (s *Server) upiDeeplink(localTxnID string, amountPaise int64) string {
	params := url.Values{}
	params.Set("pa", s.cfg.UPI.PayeeVPA)
	params.Set("pn", s.cfg.UPI.PayeeName)
	params.Set("am", money.FormatRupees(amountPaise))
	params.Set("cu", "INR")
	params.Set("tn", "FASTag recharge "+localTxnID)
	params.Set("tr", localTxnID)
	return "upi://pay?" + params.Encode()
}

type markPaidRequest struct {
	LocalTxnID string `json:"local_txn_id"`
}

// MarkPaid promotes a direct-UPI transaction on the payer's say-so. The
// conditional transition keeps it idempotent; reconciliation still verifies
// the credit against the bank side.
func (s *Server) MarkPaid(c *gin.Context) {
	userID := callerUserID(c)

	var req markPaidRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.LocalTxnID) == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	txn, err := s.txnRepo.FindByLocalID(c.Request.Context(), s.db, strings.TrimSpace(req.LocalTxnID))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if txn == nil || txn.UserID != userID {
		AbortWithError(c, txndomain.ErrNotFound)
		return
	}
	if txn.Channel != txndomain.ChannelDirectUPI {
		AbortWithError(c, newValidationError("local_txn_id", "invalid_channel", "only direct UPI transactions can be marked paid"))
		return
	}

	outcome, err := s.intakeSvc.Confirm(c.Request.Context(), &paymentdomain.Confirmation{
		Channel:    paymentdomain.ChannelUserClaim,
		LocalTxnID: txn.LocalTxnID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"local_txn_id": txn.LocalTxnID,
		"outcome":      outcome,
	}})
}

type linkTagRequest struct {
	TagNumber string `json:"tag_number"`
	VehicleNo string `json:"vehicle_no"`
	Issuer    string `json:"issuer"`
}

func (s *Server) LinkTag(c *gin.Context) {
	userID := callerUserID(c)

	var req linkTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tag, err := s.tagSvc.Link(c.Request.Context(), userID, req.TagNumber, strings.TrimSpace(req.VehicleNo), strings.TrimSpace(req.Issuer))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": tag})
}

func (s *Server) ListTags(c *gin.Context) {
	tags, err := s.tagSvc.ListByUser(c.Request.Context(), callerUserID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if tags == nil {
		tags = []*tagdomain.Tag{}
	}
	c.JSON(http.StatusOK, gin.H{"data": tags})
}

func (s *Server) ListTransactions(c *gin.Context) {
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var before time.Time
	if query.PageToken != "" {
		cursor, err := pagination.DecodeCursor(query.PageToken)
		if err != nil {
			AbortWithError(c, newValidationError("page_token", "invalid_page_token", "invalid page token"))
			return
		}
		parsed, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			AbortWithError(c, newValidationError("page_token", "invalid_page_token", "invalid page token"))
			return
		}
		before = parsed
	}

	limit := query.PageSize
	if limit <= 0 {
		limit = 25
	}

	txns, err := s.txnRepo.ListByUser(c.Request.Context(), s.db, callerUserID(c), limit+1, before)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	pageInfo := pagination.BuildCursorPageInfo(txns, int32(limit), func(t *txndomain.Txn) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: t.CreatedAt.Format(time.RFC3339Nano),
		})
		return token
	})
	if len(txns) > limit {
		txns = txns[:limit]
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      txns,
		"page_info": pageInfo,
	})
}

func (s *Server) GetTransaction(c *gin.Context) {
	localTxnID := strings.TrimSpace(c.Param("local_txn_id"))

	txn, err := s.txnRepo.FindByLocalID(c.Request.Context(), s.db, localTxnID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if txn == nil || txn.UserID != callerUserID(c) {
		AbortWithError(c, txndomain.ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": txn})
}
