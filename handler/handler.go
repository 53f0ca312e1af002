// Package handler exposes the demo's HTTP surface: the provider webhook
// endpoint and the small control API consumed by the demo UI.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"prospector-agent/internal/domain"
	"prospector-agent/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxWebhookBody    = 1 << 20
	defaultLogLimit   = 50

	// eventNewEmail is the only provider event type the demo acts on.
	eventNewEmail = "NEW_EMAIL"
)

// DemoService is the slice of the use case the HTTP surface needs.
type DemoService interface {
	InitializeDemo(ctx context.Context) (usecase.InitializeOutput, error)
	ProcessEvent(ctx context.Context, evt domain.InboundEmailEvent) string
	Messages(ctx context.Context) (usecase.MessagesOutput, error)
	WebhookLog(ctx context.Context, limit int) ([]domain.WebhookRecord, error)
}

type Handler struct {
	svc            DemoService
	processTimeout time.Duration
	logger         *slog.Logger
}

func NewHandler(svc DemoService, processTimeout time.Duration, logger *slog.Logger) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: demo service must not be nil")
	}
	if processTimeout <= 0 {
		processTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, processTimeout: processTimeout, logger: logger}, nil
}

// Register mounts all routes on the router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc(usecase.WebhookPath, h.handleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/api/demo/initialize", h.handleInitialize).Methods(http.MethodPost)
	r.HandleFunc("/api/demo/messages", h.handleMessages).Methods(http.MethodGet)
	r.HandleFunc("/api/demo/webhooks", h.handleWebhookLog).Methods(http.MethodGet)
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
}

// webhookEnvelope is the provider's delivery payload. Older deliveries carry
// the identifier under "id", newer ones under "eventId".
type webhookEnvelope struct {
	EventName string    `json:"eventName"`
	EventID   string    `json:"eventId"`
	ID        string    `json:"id"`
	InboxID   string    `json:"inboxId"`
	EmailID   string    `json:"emailId"`
	From      string    `json:"from"`
	To        []string  `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type initializeResponse struct {
	Seller string `json:"seller"`
	Buyer  string `json:"buyer"`
}

type messagesResponse struct {
	Initialized bool              `json:"initialized"`
	Seller      string            `json:"seller,omitempty"`
	Buyer       string            `json:"buyer,omitempty"`
	Messages    []messageResponse `json:"messages"`
}

type messageResponse struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        []string  `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type webhookLogResponse struct {
	Webhooks []webhookRecordResponse `json:"webhooks"`
}

type webhookRecordResponse struct {
	ID        string    `json:"id"`
	EventID   string    `json:"eventId"`
	Role      string    `json:"role"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// handleWebhook acknowledges the delivery before any business logic runs.
// The provider's retry budget is short; processing continues in the
// background with its own timeout, and failures surface through logs and the
// webhook record, never through the HTTP response.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	corrID := correlationID(r)

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("reading webhook body failed", "correlation_id", corrID, "err", err)
		writeJSON(w, http.StatusBadRequest, corrID, errorResponse{Error: string(usecase.ErrorInvalidInput)})
		return
	}

	writeJSON(w, http.StatusOK, corrID, map[string]bool{"received": true})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.processTimeout)
		defer cancel()

		var env webhookEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			h.logger.Error("decoding webhook payload failed", "correlation_id", corrID, "err", err)
			return
		}
		if env.EventName != "" && env.EventName != eventNewEmail {
			h.logger.Info("ignoring webhook event type", "correlation_id", corrID, "event_name", env.EventName)
			return
		}

		evt := toDomainEvent(env)
		outcome := h.svc.ProcessEvent(ctx, evt)
		h.logger.Info("webhook processed",
			"correlation_id", corrID, "event_id", evt.EventID, "outcome", outcome)
	}()
}

func (h *Handler) handleInitialize(w http.ResponseWriter, r *http.Request) {
	corrID := correlationID(r)

	out, err := h.svc.InitializeDemo(r.Context())
	if err != nil {
		h.writeError(w, corrID, err)
		return
	}
	writeJSON(w, http.StatusOK, corrID, initializeResponse{Seller: out.SellerEmail, Buyer: out.BuyerEmail})
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	corrID := correlationID(r)

	out, err := h.svc.Messages(r.Context())
	if err != nil {
		h.writeError(w, corrID, err)
		return
	}

	resp := messagesResponse{
		Initialized: out.Initialized,
		Seller:      out.Seller,
		Buyer:       out.Buyer,
		Messages:    make([]messageResponse, 0, len(out.Messages)),
	}
	for _, m := range out.Messages {
		resp.Messages = append(resp.Messages, messageResponse{
			ID:        m.ID,
			From:      m.From,
			To:        m.To,
			Subject:   m.Subject,
			Body:      m.Body,
			CreatedAt: m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, corrID, resp)
}

func (h *Handler) handleWebhookLog(w http.ResponseWriter, r *http.Request) {
	corrID := correlationID(r)

	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, corrID, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	recs, err := h.svc.WebhookLog(r.Context(), limit)
	if err != nil {
		h.writeError(w, corrID, err)
		return
	}

	resp := webhookLogResponse{Webhooks: make([]webhookRecordResponse, 0, len(recs))}
	for _, rec := range recs {
		resp.Webhooks = append(resp.Webhooks, webhookRecordResponse{
			ID:        rec.ID,
			EventID:   rec.EventID,
			Role:      rec.Role,
			From:      rec.From,
			Subject:   rec.Subject,
			Outcome:   rec.Outcome,
			Detail:    rec.Detail,
			CreatedAt: rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, corrID, resp)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, correlationID(r), map[string]string{"status": "healthy"})
}

func (h *Handler) writeError(w http.ResponseWriter, corrID string, err error) {
	status := http.StatusInternalServerError
	code := usecase.ErrorInternal
	reason := ""

	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		code = ucErr.Code
		reason = ucErr.Reason
		switch ucErr.Code {
		case usecase.ErrorInvalidInput:
			status = http.StatusBadRequest
		case usecase.ErrorUpstream:
			status = http.StatusBadGateway
		}
	}

	h.logger.Error("request failed", "correlation_id", corrID, "code", string(code), "err", err)
	writeJSON(w, status, corrID, errorResponse{Error: string(code), Reason: reason})
}

func toDomainEvent(env webhookEnvelope) domain.InboundEmailEvent {
	eventID := env.EventID
	if eventID == "" {
		eventID = env.ID
	}
	to := ""
	if len(env.To) > 0 {
		to = env.To[0]
	}
	return domain.InboundEmailEvent{
		EventID:   eventID,
		InboxID:   env.InboxID,
		EmailID:   env.EmailID,
		From:      env.From,
		To:        to,
		Subject:   env.Subject,
		Body:      env.Body,
		CreatedAt: env.CreatedAt,
	}
}

func correlationID(r *http.Request) string {
	if v := r.Header.Get(correlationHeader); v != "" {
		return v
	}
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, corrID string, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(correlationHeader, corrID)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
