package server

import (
	"errors"
	"io"
	"net/http"

	paymentdomain "github.com/fleetsutra/fastag/internal/payment/domain"
	providerdomain "github.com/fleetsutra/fastag/internal/provider/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// HandleRazorpayWebhook ingests gateway payment events. Responds 200 for
// anything that is not a signature failure so the gateway stops retrying.
func (s *Server) HandleRazorpayWebhook(c *gin.Context) {
	s.handleIntakeWebhook(c, paymentdomain.ChannelRazorpay)
}

// HandleUPIWebhook ingests bank credit notifications for direct-UPI
// payments.
func (s *Server) HandleUPIWebhook(c *gin.Context) {
	s.handleIntakeWebhook(c, paymentdomain.ChannelBankUPI)
}

func (s *Server) handleIntakeWebhook(c *gin.Context, channel string) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	adapter, err := s.adapters.ForChannel(channel)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := adapter.Verify(c.Request.Context(), payload, c.Request.Header); err != nil {
		s.log.Warn("webhook signature rejected",
			zap.String("channel", channel),
			zap.Error(err),
		)
		c.JSON(http.StatusBadRequest, gin.H{"status": "invalid signature"})
		return
	}

	conf, err := adapter.Parse(c.Request.Context(), payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		s.log.Warn("webhook payload rejected",
			zap.String("channel", channel),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	outcome, err := s.intakeSvc.Confirm(c.Request.Context(), conf)
	if err != nil {
		// A 5xx would make the sender retry an event we already have on
		// record. Reconciliation re-surfaces anything that failed to apply.
		s.log.Error("webhook confirmation failed",
			zap.String("channel", channel),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(outcome)})
}

// HandleProviderWebhook ingests the recharge provider's asynchronous
// result callbacks.
func (s *Server) HandleProviderWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.providerHook.Verify(payload, c.Request.Header); err != nil {
		if errors.Is(err, providerdomain.ErrInvalidSignature) {
			c.JSON(http.StatusBadRequest, gin.H{"status": "invalid signature"})
			return
		}
		AbortWithError(c, err)
		return
	}

	outcome, err := s.providerHook.Apply(c.Request.Context(), payload)
	if err != nil {
		s.log.Error("provider callback failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": outcome})
}
