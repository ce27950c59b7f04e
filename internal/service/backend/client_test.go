package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/llmbot-chat/internal/model/chat"
)

func newTestClient(t *testing.T, token string, register func(r chi.Router)) *Client {
	t.Helper()
	r := chi.NewRouter()
	register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", token, srv.Client(), zaptest.NewLogger(t))
}

func TestSessionHistory(t *testing.T) {
	client := newTestClient(t, "tok", func(r chi.Router) {
		r.Get("/sessions/{sessionID}/messages", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "s-1", chi.URLParam(r, "sessionID"))
			assert.Equal(t, "9999", r.URL.Query().Get("page_size"))
			assert.Equal(t, "9999", r.URL.Query().Get("max_items"))
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"Items":[
				{"messageId":"m1","role":"human","content":"hi"},
				{"messageId":"m2","role":"ai","content":"chart","additional_kwargs":{"figure":[{"content_type":"png","figure_path":"a b.png"}]}}
			]}`))
		})
	})

	items, err := client.SessionHistory(context.Background(), "s-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, chat.RoleHuman, items[0].Role)
	assert.Equal(t, "m2", items[1].MessageID)
	assert.Equal(t, []chat.Figure{{ContentType: "png", FigurePath: "a b.png"}}, items[1].Figures())
}

func TestListChatbots(t *testing.T) {
	client := newTestClient(t, "", func(r chi.Router) {
		r.Get("/chatbot-management/chatbots", func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"chatbot_ids":["admin","retail"]}`))
		})
	})

	ids, err := client.ListChatbots(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "retail"}, ids)
}

func TestSubmitFeedback(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, "tok", func(r chi.Router) {
		r.Post("/sessions/{sessionID}/messages/{messageID}/feedback", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "s-1", chi.URLParam(r, "sessionID"))
			assert.Equal(t, "m-9", chi.URLParam(r, "messageID"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusNoContent)
		})
	})

	err := client.SubmitFeedback(context.Background(), chat.Feedback{
		SessionID:    "s-1",
		MessageID:    "m-9",
		FeedbackType: chat.VerdictNone,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"feedback_type": "", "feedback_reason": "", "suggest_message": ""}, got)

	err = client.SubmitFeedback(context.Background(), chat.Feedback{SessionID: "s-1"})
	assert.Error(t, err)
}

func TestOnboardingEndpoints(t *testing.T) {
	client := newTestClient(t, "tok", func(r chi.Router) {
		r.Get("/chatbot-management/default-chatbot", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`false`))
		})
		r.Post("/chatbot-management/chatbots", func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "Admin", body["groupName"])
			_, _ = w.Write([]byte(`{"chatbotId":"admin"}`))
		})
	})

	exists, err := client.DefaultChatbotExists(context.Background())
	require.NoError(t, err)
	assert.False(t, exists)

	id, err := client.CreateChatbot(context.Background(), "Admin")
	require.NoError(t, err)
	assert.Equal(t, "admin", id)
}

func TestStatusMapping(t *testing.T) {
	client := newTestClient(t, "bad", func(r chi.Router) {
		r.Get("/chatbot-management/chatbots", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "forbidden", http.StatusForbidden)
		})
		r.Get("/chatbot-management/default-chatbot", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		})
	})

	_, err := client.ListChatbots(context.Background())
	assert.True(t, errors.Is(err, ErrUnauthorized))

	_, err = client.DefaultChatbotExists(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnauthorized))
	assert.Contains(t, err.Error(), "boom")
}
