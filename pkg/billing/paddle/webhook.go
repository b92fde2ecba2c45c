package paddle

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mihaimyh/paddlequota/internal/httputil"
	"github.com/mihaimyh/paddlequota/pkg/billing"
)

// Response bodies. Paddle retries anything but 2xx, so unprocessable events are
// acknowledged with 200 and a reason.
type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type receivedResponse struct {
	Received bool   `json:"received"`
	Error    string `json:"error"`
}

const (
	msgMissingSignature  = "Missing Paddle signature"
	msgSecretMissing     = "Webhook secret not configured."
	msgInvalidSignature  = "Invalid webhook signature!"
	msgInvalidJSON       = "Invalid JSON body."
	msgProcessed         = "Webhook processed successfully."
	msgProcessingFailure = "Webhook processing failed."
)

// handleWebhook processes incoming Paddle webhook events
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	httputil.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	select {
	case <-r.Context().Done():
		http.Error(w, "request timeout", http.StatusRequestTimeout)
		return
	default:
	}

	body, err := httputil.ReadBody(w, r, maxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, httputil.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	header := r.Header.Get(SignatureHeader)
	if header == "" {
		p.logger.Warn("webhook rejected: missing signature header")
		p.metrics.RecordWebhookError(providerName, "missing_signature")
		p.writeJSON(w, http.StatusBadRequest, messageResponse{Message: msgMissingSignature})
		return
	}

	if len(p.webhookSecret) == 0 {
		p.logger.Error("webhook rejected: secret is not configured")
		p.metrics.RecordWebhookError(providerName, "not_configured")
		p.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgSecretMissing})
		return
	}

	sig := ParseSignature(header)
	if sig.Partial {
		p.logger.Warn("webhook signature header is partial", billing.F("has_timestamp", sig.Timestamp != ""))
	}
	if !sig.Verify(body, string(p.webhookSecret)) {
		p.logger.Warn("webhook rejected: invalid signature")
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		p.audit(r.Context(), &billing.WebhookEventRecord{Outcome: "unauthorized"}, nil)
		p.writeJSON(w, http.StatusUnauthorized, messageResponse{Message: msgInvalidSignature})
		return
	}

	env, err := ParseEnvelope(body)
	if err != nil {
		p.logger.Warn("webhook rejected: invalid JSON body", billing.F("error", err))
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		p.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidJSON})
		return
	}

	eventType := env.EventType
	if eventType == "" {
		eventType = "UNKNOWN"
	}
	audit := &billing.WebhookEventRecord{
		SignatureValid:  true,
		ProviderEventID: env.EventID,
		EventType:       env.EventType,
	}
	defer func() {
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
	}()

	ev, err := Normalize(env)
	if err != nil {
		p.logger.Error("webhook received without userId", billing.F("event_type", env.EventType))
		p.metrics.RecordWebhookEvent(providerName, eventType, "unprocessable")
		audit.Outcome = billing.OutcomeRejected.String()
		audit.Reason = billing.ReasonMissingUserID
		p.audit(r.Context(), audit, body)
		p.writeJSON(w, http.StatusOK, receivedResponse{Received: true, Error: billing.ReasonMissingUserID})
		return
	}
	audit.UserID = ev.UserID

	if ev.Status == billing.StatusUnknown && env.Data != nil && env.Data.Status != "" {
		p.logger.Warn("unknown paddle subscription status", billing.F("status", env.Data.Status))
	}
	if env.EventType == EventTransactionCompleted {
		p.logger.Info("transaction completed",
			billing.F("user_id", ev.UserID),
			billing.F("transaction_id", env.Data.ID),
			billing.F("subscription_id", env.Data.SubscriptionID))
	}

	res, err := p.reconciler.Apply(r.Context(), ev)
	if err != nil {
		p.logger.Error("webhook processing failed",
			billing.F("event_type", env.EventType), billing.F("user_id", ev.UserID), billing.F("error", err))
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "processing_error")
		audit.Outcome = "error"
		audit.ProcessingError = err.Error()
		p.audit(r.Context(), audit, body)
		p.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgProcessingFailure})
		return
	}

	audit.Outcome = res.Outcome.String()
	audit.Reason = res.Reason
	p.audit(r.Context(), audit, body)

	if res.Outcome == billing.OutcomeRejected {
		p.metrics.RecordWebhookEvent(providerName, eventType, "unprocessable")
		p.writeJSON(w, http.StatusOK, receivedResponse{Received: true, Error: res.Reason})
		return
	}

	p.metrics.RecordWebhookEvent(providerName, eventType, "success")
	p.writeJSON(w, http.StatusOK, messageResponse{Message: msgProcessed})
}

// audit records the delivery if an event log is configured. Failures are only logged.
func (p *Provider) audit(ctx context.Context, rec *billing.WebhookEventRecord, body []byte) {
	if p.eventLog == nil {
		return
	}
	now := p.clock.Now()
	rec.ID = p.newID()
	rec.Provider = providerName
	rec.Payload = body
	rec.ReceivedAt = now
	if rec.SignatureValid {
		rec.ProcessedAt = &now
	}
	if err := p.eventLog.RecordWebhookEvent(context.WithoutCancel(ctx), rec); err != nil {
		p.logger.Error("failed to record webhook event",
			billing.F("event_type", rec.EventType), billing.F("error", err))
	}
}

func (p *Provider) writeJSON(w http.ResponseWriter, code int, data interface{}) {
	if err := httputil.WriteJSON(w, code, data); err != nil {
		p.logger.Debug("failed to write webhook response", billing.F("error", err))
	}
}
