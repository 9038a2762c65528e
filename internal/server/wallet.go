package server

import (
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/fleetsutra/fastag/internal/payment/domain"
	walletdomain "github.com/fleetsutra/fastag/internal/wallet/domain"
	"github.com/fleetsutra/fastag/pkg/db/pagination"
	"github.com/fleetsutra/fastag/pkg/money"
	"github.com/gin-gonic/gin"
)

func (s *Server) GetWallet(c *gin.Context) {
	wallet, err := s.walletSvc.EnsureWallet(c.Request.Context(), callerUserID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"user_id":       wallet.UserID,
		"balance":       money.FormatRupees(wallet.BalancePaise),
		"balance_paise": wallet.BalancePaise,
	}})
}

func (s *Server) GetWalletLedger(c *gin.Context) {
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

	entries, err := s.walletSvc.Ledger(c.Request.Context(), callerUserID(c), limit+1, before)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	pageInfo := pagination.BuildCursorPageInfo(entries, int32(limit), func(e *walletdomain.LedgerEntry) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: e.CreatedAt.Format(time.RFC3339Nano),
		})
		return token
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      entries,
		"page_info": pageInfo,
	})
}

type confirmPaymentRequest struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

// ConfirmPayment covers the missed-webhook case: the client app hands back
// the checkout result and we verify it before promoting the transaction.
// With a signature the verification is local; without one the order is
// fetched from the gateway and must show as paid.
func (s *Server) ConfirmPayment(c *gin.Context) {
	var req confirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.OrderID) == "" {
		AbortWithError(c, invalidRequestError())
		return
	}
	orderID := strings.TrimSpace(req.OrderID)

	if req.Signature != "" {
		if !s.gateway.VerifyCheckoutSignature(orderID, strings.TrimSpace(req.PaymentID), req.Signature) {
			AbortWithError(c, newValidationError("razorpay_signature", "invalid_signature", "checkout signature does not match"))
			return
		}
	} else {
		order, err := s.gateway.FetchOrder(c.Request.Context(), orderID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !strings.EqualFold(order.Status, "paid") {
			AbortWithError(c, newValidationError("razorpay_order_id", "order_not_paid", "order is not paid"))
			return
		}
	}

	txn, err := s.txnRepo.FindByPaymentOrderID(c.Request.Context(), s.db, orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if txn == nil || txn.UserID != callerUserID(c) {
		AbortWithError(c, ErrNotFound)
		return
	}

	outcome, err := s.intakeSvc.Confirm(c.Request.Context(), &paymentdomain.Confirmation{
		Channel:        paymentdomain.ChannelRazorpay,
		PaymentOrderID: orderID,
		PaymentID:      strings.TrimSpace(req.PaymentID),
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
