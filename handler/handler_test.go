package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"prospector-agent/internal/domain"
	"prospector-agent/internal/usecase"
)

type stubService struct {
	initOut usecase.InitializeOutput
	initErr error

	msgsOut usecase.MessagesOutput
	msgsErr error

	logOut   []domain.WebhookRecord
	logErr   error
	logLimit int

	processed chan domain.InboundEmailEvent
	outcome   string
}

func newStubService() *stubService {
	return &stubService{processed: make(chan domain.InboundEmailEvent, 1), outcome: domain.OutcomeReplied}
}

func (s *stubService) InitializeDemo(_ context.Context) (usecase.InitializeOutput, error) {
	return s.initOut, s.initErr
}

func (s *stubService) ProcessEvent(_ context.Context, evt domain.InboundEmailEvent) string {
	s.processed <- evt
	return s.outcome
}

func (s *stubService) Messages(_ context.Context) (usecase.MessagesOutput, error) {
	return s.msgsOut, s.msgsErr
}

func (s *stubService) WebhookLog(_ context.Context, limit int) ([]domain.WebhookRecord, error) {
	s.logLimit = limit
	return s.logOut, s.logErr
}

func newTestRouter(t *testing.T, svc *stubService) *mux.Router {
	t.Helper()
	h, err := NewHandler(svc, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	r := mux.NewRouter()
	h.Register(r)
	return r
}

func parseBody[T any](t *testing.T, body *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body.Body.Bytes(), &v))
	return v
}

func awaitEvent(t *testing.T, svc *stubService) domain.InboundEmailEvent {
	t.Helper()
	select {
	case evt := <-svc.processed:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("event was not processed")
		return domain.InboundEmailEvent{}
	}
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil, time.Second, nil)
	require.Error(t, err)
}

func TestWebhook_AcksImmediatelyAndProcesses(t *testing.T) {
	svc := newStubService()
	r := newTestRouter(t, svc)

	payload := `{
		"eventName": "NEW_EMAIL",
		"eventId": "evt-1",
		"inboxId": "inbox-seller",
		"emailId": "email-1",
		"from": "buyer@mailslurp.net",
		"to": ["seller@mailslurp.net"],
		"subject": "Re: Intro",
		"body": "Sounds interesting.",
		"createdAt": "2026-01-05T10:00:00Z"
	}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/mailslurp", strings.NewReader(payload)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, parseBody[map[string]bool](t, rec)["received"])
	require.NotEmpty(t, rec.Header().Get("X-Correlation-Id"))

	evt := awaitEvent(t, svc)
	require.Equal(t, "evt-1", evt.EventID)
	require.Equal(t, "inbox-seller", evt.InboxID)
	require.Equal(t, "seller@mailslurp.net", evt.To)
}

func TestWebhook_LegacyIDField(t *testing.T) {
	svc := newStubService()
	r := newTestRouter(t, svc)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/mailslurp",
		strings.NewReader(`{"id":"evt-legacy","inboxId":"inbox-1","emailId":"email-1"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "evt-legacy", awaitEvent(t, svc).EventID)
}

func TestWebhook_IgnoresOtherEventTypes(t *testing.T) {
	svc := newStubService()
	r := newTestRouter(t, svc)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/mailslurp",
		strings.NewReader(`{"eventName":"BOUNCE","eventId":"evt-b"}`)))

	// Still acknowledged, never processed.
	require.Equal(t, http.StatusOK, rec.Code)
	select {
	case <-svc.processed:
		t.Fatal("bounce event should not be processed")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebhook_MalformedPayloadStillAcked(t *testing.T) {
	svc := newStubService()
	r := newTestRouter(t, svc)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/mailslurp", strings.NewReader("not-json")))

	require.Equal(t, http.StatusOK, rec.Code)
	select {
	case <-svc.processed:
		t.Fatal("malformed payload should not be processed")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInitialize_HappyPath(t *testing.T) {
	svc := newStubService()
	svc.initOut = usecase.InitializeOutput{SellerEmail: "seller-1@mailslurp.net", BuyerEmail: "buyer-1@mailslurp.net"}
	r := newTestRouter(t, svc)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/demo/initialize", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	out := parseBody[initializeResponse](t, rec)
	require.Equal(t, "seller-1@mailslurp.net", out.Seller)
	require.Equal(t, "buyer-1@mailslurp.net", out.Buyer)
}

func TestInitialize_MapsErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "upstream", err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "send_error"}, status: http.StatusBadGateway, code: string(usecase.ErrorUpstream)},
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "bad"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "session_store_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newStubService()
			svc.initErr = tc.err
			r := newTestRouter(t, svc)

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/demo/initialize", nil))

			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, tc.code, parseBody[errorResponse](t, rec).Error)
		})
	}
}

func TestMessages(t *testing.T) {
	svc := newStubService()
	svc.msgsOut = usecase.MessagesOutput{
		Initialized: true,
		Seller:      "seller@mailslurp.net",
		Buyer:       "buyer@mailslurp.net",
		Messages: []domain.EmailMessage{
			{ID: "m1", From: "seller@mailslurp.net", To: []string{"buyer@mailslurp.net"}, Subject: "Intro", Body: "Hello"},
		},
	}
	r := newTestRouter(t, svc)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/demo/messages", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	out := parseBody[messagesResponse](t, rec)
	require.True(t, out.Initialized)
	require.Len(t, out.Messages, 1)
	require.Equal(t, "Intro", out.Messages[0].Subject)
}

func TestMessages_Uninitialized(t *testing.T) {
	svc := newStubService()
	svc.msgsOut = usecase.MessagesOutput{Initialized: false, Messages: []domain.EmailMessage{}}
	r := newTestRouter(t, svc)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/demo/messages", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	out := parseBody[messagesResponse](t, rec)
	require.False(t, out.Initialized)
	require.Empty(t, out.Messages)
}

func TestWebhookLog(t *testing.T) {
	svc := newStubService()
	svc.logOut = []domain.WebhookRecord{
		{ID: "r1", EventID: "evt-1", Outcome: domain.OutcomeReplied},
		{ID: "r2", EventID: "evt-1", Outcome: domain.OutcomeDuplicate},
	}
	r := newTestRouter(t, svc)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/demo/webhooks?limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 10, svc.logLimit)
	out := parseBody[webhookLogResponse](t, rec)
	require.Len(t, out.Webhooks, 2)
	require.Equal(t, domain.OutcomeDuplicate, out.Webhooks[1].Outcome)
}

func TestWebhookLog_RejectsBadLimit(t *testing.T) {
	r := newTestRouter(t, newStubService())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/demo/webhooks?limit=zero", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, newStubService())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "healthy", parseBody[map[string]string](t, rec)["status"])
}

func TestCorrelationID_Propagated(t *testing.T) {
	svc := newStubService()
	svc.msgsOut = usecase.MessagesOutput{Messages: []domain.EmailMessage{}}
	r := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/demo/messages", nil)
	req.Header.Set("X-Correlation-Id", "corr-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, "corr-123", rec.Header().Get("X-Correlation-Id"))
}
