package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"keygate.org/internal/license"
	"keygate.org/internal/payments"
)

type paymentWebhookRequest struct {
	Type string `json:"type"`
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// handlePaymentWebhook receives payment-processor notifications. The event
// only carries the payment id; the authoritative status and payer email are
// fetched back from the processor API before anything is issued.
func (a *API) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.svc.Payments == nil || a.svc.Issuer == nil {
		writeError(w, r, http.StatusServiceUnavailable, "payment processing disabled")
		return
	}

	var req paymentWebhookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// Non-payment notification kinds are acknowledged and dropped so the
	// processor stops retrying them.
	if !strings.EqualFold(strings.TrimSpace(req.Type), "payment") {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}
	paymentID := strings.TrimSpace(req.Data.ID)
	if paymentID == "" {
		writeError(w, r, http.StatusBadRequest, "data.id is required")
		return
	}

	p, err := a.svc.Payments.Fetch(r.Context(), paymentID)
	if err != nil {
		if errors.Is(err, payments.ErrNotFound) {
			writeError(w, r, http.StatusBadRequest, "unknown payment")
			return
		}
		writeError(w, r, http.StatusBadGateway, "payment lookup failed")
		return
	}

	result, err := a.svc.Issuer.IssueFromPayment(r.Context(), p)
	if err != nil {
		if errors.Is(err, license.ErrCodeSpaceExhausted) {
			writeError(w, r, http.StatusInternalServerError, "code generation failed")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	switch {
	case result.Skipped:
		a.audit(r.Context(), "license.issue.skip", map[string]any{
			"payment_id": paymentID,
			"status":     p.Status,
		})
		writeJSON(w, http.StatusOK, map[string]any{"status": "skipped"})
	case result.Replayed:
		a.audit(r.Context(), "license.issue.replay", map[string]any{
			"payment_id": paymentID,
		})
		writeJSON(w, http.StatusOK, map[string]any{"status": "replayed"})
	default:
		a.audit(r.Context(), "license.issue", map[string]any{
			"payment_id": paymentID,
			"email":      result.Code.Email,
		})
		writeJSON(w, http.StatusOK, map[string]any{"status": "issued"})
	}
}
