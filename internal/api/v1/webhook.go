package v1

import (
	"io"
	"net/http"

	"github.com/flexprice/subsync/internal/domain/events"
	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/flexprice/subsync/internal/logger"
	"github.com/flexprice/subsync/internal/service"
	"github.com/gin-gonic/gin"
)

// WebhookParser authenticates a raw provider delivery and parses it into a
// typed event
type WebhookParser interface {
	Parse(payload []byte, signature string) (*events.ProviderEvent, error)
}

// WebhookHandler is the inbound provider notification endpoint. A 2xx here
// tells the provider to stop delivering the event, so only durably applied
// (or already applied) events are acknowledged; every other outcome returns
// an error status and relies on redelivery.
type WebhookHandler struct {
	parser    WebhookParser
	processor service.EventProcessor
	log       *logger.Logger
}

func NewWebhookHandler(parser WebhookParser, processor service.EventProcessor, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{parser: parser, processor: processor, log: log}
}

func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Could not read webhook payload").
			Mark(ierr.ErrValidation))
		return
	}

	event, err := h.parser.Parse(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		// a malformed or unknown event can never succeed; 4xx stops the
		// provider's redelivery loop
		c.Error(err)
		return
	}

	result, err := h.processor.Handle(c.Request.Context(), event)
	if err != nil {
		// rejects must come back as 429 or 5xx so the provider redelivers
		if ierr.IsBusy(err) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{"message": "a delivery of this event is already being processed"},
			})
			return
		}
		h.log.Errorw("webhook event processing failed",
			"provider_event_id", event.ProviderEventID, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"message": "event processing failed, delivery will be retried"},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received":  true,
		"duplicate": result.Duplicate,
	})
}
