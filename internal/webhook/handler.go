package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	. "github.com/roelfdiedericks/pagebot/internal/logging"
	"github.com/roelfdiedericks/pagebot/internal/metrics"
)

// MaxBodyBytes caps a webhook delivery body.
const MaxBodyBytes = 1 << 20

// EventHandler processes normalized events. It must not fail the delivery:
// errors are handled out-of-band.
type EventHandler interface {
	HandleEvents(ctx context.Context, events []Event)
}

// ErrorReporter notifies the admin about failures outside event processing.
type ErrorReporter interface {
	ReportError(ctx context.Context, component string, err error)
}

// Handler serves GET and POST /webhook.
type Handler struct {
	verifyToken string
	appSecret   string
	events      EventHandler
	reporter    ErrorReporter
}

// NewHandler creates the webhook handler. reporter may be nil.
func NewHandler(verifyToken, appSecret string, events EventHandler, reporter ErrorReporter) *Handler {
	if verifyToken == "" {
		L_warn("webhook: verify token not set, subscription handshake will be refused")
	}
	return &Handler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		events:      events,
		reporter:    reporter,
	}
}

// ServeHTTP dispatches on method.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.HandleVerify(w, r)
	case http.MethodPost:
		h.HandleDelivery(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleVerify answers the subscription handshake.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := Verify(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), h.verifyToken)
	if !ok {
		L_warn("webhook: verification refused", "mode", q.Get("hub.mode"), "remote", r.RemoteAddr)
		writeText(w, http.StatusForbidden, "Forbidden")
		return
	}
	L_info("webhook: verified")
	writeText(w, http.StatusOK, challenge)
}

// HandleDelivery processes a delivery and acknowledges it.
func (h *Handler) HandleDelivery(w http.ResponseWriter, r *http.Request) {
	// the platform may drop the connection once it times out; replies still go out
	ctx := context.WithoutCancel(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("malformed").Inc()
		h.fail(ctx, w, fmt.Errorf("failed to read webhook body: %w", err))
		return
	}

	if !ValidSignature(body, r.Header.Get(SignatureHeader), h.appSecret) {
		metrics.WebhookDeliveries.WithLabelValues("bad_signature").Inc()
		L_warn("webhook: bad signature", "remote", r.RemoteAddr)
		writeText(w, http.StatusForbidden, "Forbidden")
		return
	}

	events, err := Normalize(body)
	switch {
	case errors.Is(err, ErrNotPage):
		metrics.WebhookDeliveries.WithLabelValues("not_page").Inc()
		L_debug("webhook: not a page event")
		writeText(w, http.StatusNotFound, "Not a page event")
		return
	case err != nil:
		metrics.WebhookDeliveries.WithLabelValues("malformed").Inc()
		h.fail(ctx, w, err)
		return
	}

	metrics.WebhookDeliveries.WithLabelValues("accepted").Inc()
	L_debug("webhook: delivery", "events", len(events))
	if len(events) > 0 && h.events != nil {
		h.events.HandleEvents(ctx, events)
	}
	writeText(w, http.StatusOK, "EVENT_RECEIVED")
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	L_error("webhook: delivery failed", "error", err)
	if h.reporter != nil {
		h.reporter.ReportError(ctx, "webhook", err)
	}
	writeText(w, http.StatusInternalServerError, "Server error")
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, text)
}
