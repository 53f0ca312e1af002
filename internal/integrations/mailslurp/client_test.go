package mailslurp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubGetter struct {
	value string
}

func (s *stubGetter) GetParameter(_ context.Context, _ string) (string, error) {
	return s.value, nil
}

func newTestClient(t *testing.T, srvURL string) *Client {
	t.Helper()
	c, err := NewClient(&stubGetter{value: `{"token":"ms-test"}`}, "/prefix", WithBaseURL(srvURL))
	require.NoError(t, err)
	return c
}

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient(nil, "/prefix")
	require.Error(t, err)

	_, err = NewClient(&stubGetter{}, " ")
	require.Error(t, err)
}

func TestCreateInbox(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/inboxes", r.URL.Path)
		require.Equal(t, "seller-1700000000", r.URL.Query().Get("name"))
		require.Equal(t, "ms-test", r.Header.Get("x-api-key"))
		_ = json.NewEncoder(w).Encode(Inbox{ID: "inbox-1", EmailAddress: "seller-1700000000@mailslurp.net"})
	}))
	defer srv.Close()

	inbox, err := newTestClient(t, srv.URL).CreateInbox(context.Background(), "seller-1700000000")
	require.NoError(t, err)
	require.Equal(t, "inbox-1", inbox.ID)
	require.Equal(t, "seller-1700000000@mailslurp.net", inbox.EmailAddress)
}

func TestCreateInbox_MissingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).CreateInbox(context.Background(), "seller")
	require.Error(t, err)
}

func TestSendEmail(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/inboxes/inbox-1", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(sentEmail{ID: "email-9"})
	}))
	defer srv.Close()

	id, err := newTestClient(t, srv.URL).SendEmail(context.Background(), "inbox-1", "buyer@mailslurp.net", "Intro", "Hello")
	require.NoError(t, err)
	require.Equal(t, "email-9", id)
	require.Equal(t, []any{"buyer@mailslurp.net"}, got["to"])
	require.Equal(t, "Intro", got["subject"])
}

func TestReplyToEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/emails/email-9", r.URL.Path)
		_ = json.NewEncoder(w).Encode(sentEmail{ID: "email-10"})
	}))
	defer srv.Close()

	id, err := newTestClient(t, srv.URL).ReplyToEmail(context.Background(), "email-9", "Thanks!")
	require.NoError(t, err)
	require.Equal(t, "email-10", id)
}

func TestListEmails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/emails", r.URL.Path)
		require.Equal(t, "inbox-1", r.URL.Query().Get("inboxId"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"id": "email-1", "inboxId": "inbox-1", "from": "buyer@mailslurp.net", "subject": "Re: Intro"},
			},
		})
	}))
	defer srv.Close()

	msgs, err := newTestClient(t, srv.URL).ListEmails(context.Background(), "inbox-1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "Re: Intro", msgs[0].Subject)
}

func TestGetEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/emails/email-1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "email-1", "body": "Full body here",
		})
	}))
	defer srv.Close()

	msg, err := newTestClient(t, srv.URL).GetEmail(context.Background(), "email-1")
	require.NoError(t, err)
	require.Equal(t, "Full body here", msg.Body)
}

func TestRegisterWebhook_ConflictIsSuccess(t *testing.T) {
	status := http.StatusCreated
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/inboxes/inbox-1/webhooks", r.URL.Path)
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "hook-1"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	require.NoError(t, c.RegisterWebhook(context.Background(), "inbox-1", "https://demo.example.com/webhooks/mailslurp"))

	// Duplicate registration answers 409 and is absorbed.
	status = http.StatusConflict
	require.NoError(t, c.RegisterWebhook(context.Background(), "inbox-1", "https://demo.example.com/webhooks/mailslurp"))
}

func TestUpstreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).GetEmail(context.Background(), "email-1")
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
}
