package server

import (
	"net/http"
	"strings"

	"github.com/fleetsutra/fastag/pkg/money"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) GetProviderBalance(c *gin.Context) {
	provider := strings.TrimSpace(c.Query("provider"))
	if provider == "" {
		provider = s.cfg.Provider.Name
	}

	balance, err := s.fundsSvc.Get(c.Request.Context(), provider)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"provider":        balance.Provider,
		"balance_paise":   balance.BalancePaise,
		"reserved_paise":  balance.ReservedPaise,
		"available_paise": balance.Available(),
	}})
}

type topUpRequest struct {
	Provider          string `json:"provider"`
	Amount            string `json:"amount"`
	RequeueLocalTxnID string `json:"requeue_local_txn_id"`
}

// TopUpProviderBalance records an operator float top-up. Parked
// transactions stay parked; passing requeue_local_txn_id returns one named
// transaction to the worker queue.
func (s *Server) TopUpProviderBalance(c *gin.Context) {
	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	provider := strings.TrimSpace(req.Provider)
	if provider == "" {
		provider = s.cfg.Provider.Name
	}

	amountPaise, err := money.ParsePaise(req.Amount)
	if err != nil || amountPaise <= 0 {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "amount must be a positive rupee value"))
		return
	}

	balance, err := s.fundsSvc.TopUp(c.Request.Context(), provider, amountPaise)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("provider balance topped up",
		zap.String("provider", balance.Provider),
		zap.Int64("amount_paise", amountPaise),
		zap.Int64("balance_paise", balance.BalancePaise),
	)

	requeued := false
	if id := strings.TrimSpace(req.RequeueLocalTxnID); id != "" {
		requeued, err = s.rechargeSvc.RequeueParked(c.Request.Context(), id)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if requeued && s.enqueuer != nil {
			s.enqueuer.Enqueue(id)
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"provider":        balance.Provider,
		"balance_paise":   balance.BalancePaise,
		"reserved_paise":  balance.ReservedPaise,
		"available_paise": balance.Available(),
		"requeued":        requeued,
	}})
}
