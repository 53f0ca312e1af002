package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"prospector-agent/internal/domain"
)

type stubGetter struct {
	value string
	err   error
	calls int
}

func (s *stubGetter) GetParameter(_ context.Context, _ string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.value, nil
}

func tokenGetter() *stubGetter {
	return &stubGetter{value: `{"token":"sk-test"}`}
}

func newTestClient(t *testing.T, srvURL string) *Client {
	t.Helper()
	c, err := NewClient(tokenGetter(), "/prefix", WithBaseURL(srvURL))
	require.NoError(t, err)
	return c
}

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient(nil, "/prefix")
	require.Error(t, err)

	_, err = NewClient(tokenGetter(), "  ")
	require.Error(t, err)
}

func TestChat_HappyPath(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "Hi there,\n\nThanks for reaching out."}},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	out, err := c.Chat(context.Background(), "gpt-4o-mini", []domain.ChatMessage{
		{Role: "system", Content: "You are a seller."},
		{Role: "user", Content: "Write an opening email."},
	})
	require.NoError(t, err)
	require.Equal(t, "Hi there,\n\nThanks for reaching out.", out)
	require.Equal(t, "Bearer sk-test", gotAuth)
	require.Equal(t, "gpt-4o-mini", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
}

func TestChat_RequiresModel(t *testing.T) {
	c := newTestClient(t, "http://unused")
	_, err := c.Chat(context.Background(), "", nil)
	require.Error(t, err)
}

func TestChat_UpstreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Chat(context.Background(), "gpt-4o-mini", nil)
	require.Error(t, err)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.HTTPStatusCode())
}

func TestChat_EmptyCompletionRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "   "}},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Chat(context.Background(), "gpt-4o-mini", nil)
	require.Error(t, err)
}

func TestChat_APIKeyFetchedOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "ok"}},
			},
		})
	}))
	defer srv.Close()

	getter := tokenGetter()
	c, err := NewClient(getter, "/prefix", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "gpt-4o-mini", nil)
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "gpt-4o-mini", nil)
	require.NoError(t, err)
	require.Equal(t, 1, getter.calls)
}

func TestChat_BadTokenPayload(t *testing.T) {
	c, err := NewClient(&stubGetter{value: "not-json"}, "/prefix")
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "gpt-4o-mini", nil)
	require.Error(t, err)

	c, err = NewClient(&stubGetter{err: errors.New("ssm down")}, "/prefix")
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "gpt-4o-mini", nil)
	require.Error(t, err)
}

func TestModerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/moderations", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"flagged": true}},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	flagged, err := c.Moderate(context.Background(), "bad text")
	require.NoError(t, err)
	require.True(t, flagged)
}
