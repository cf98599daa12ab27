package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"CrabDAO-Agent/internal/action"
	xerrors "CrabDAO-Agent/internal/errors"
	"CrabDAO-Agent/internal/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Authorization string
	Path          string
	Body          map[string]any
}

func newTestServer(t *testing.T, content string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Authorization = r.Header.Get("Authorization")
		captured.Path = r.URL.Path
		defer r.Body.Close()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured.Body))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4-turbo-preview",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	return client
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestDecideParsesAction(t *testing.T) {
	var captured capturedRequest
	srv := newTestServer(t, `{"type":"DEPLOY_TOKEN","name":"Crab Coin","symbol":"CRAB","reason":"no tokens yet"}`, &captured)
	client := newTestClient(t, srv)

	act, err := client.Decide(context.Background(), llm.Perception{Balance: "0.5"})
	require.NoError(t, err)
	assert.Equal(t, action.KindDeployToken, act.Kind)
	assert.Equal(t, "CRAB", act.Symbol)

	assert.Equal(t, "Bearer test", captured.Authorization)
	assert.True(t, strings.HasSuffix(captured.Path, "/chat/completions"))
	assert.Equal(t, "gpt-4-turbo-preview", captured.Body["model"])
	format, ok := captured.Body["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_object", format["type"])

	messages, ok := captured.Body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	user := messages[1].(map[string]any)["content"].(string)
	assert.Contains(t, user, "Wallet balance: 0.5 ETH")
	assert.Contains(t, user, "Deployed tokens: None yet")
}

func TestDecideRejectsMalformedAction(t *testing.T) {
	var captured capturedRequest
	srv := newTestServer(t, `{"type":"LAUNCH_ROCKET","reason":"why not"}`, &captured)
	client := newTestClient(t, srv)

	_, err := client.Decide(context.Background(), llm.Perception{})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeDecisionFailure, xerrors.CodeOf(err))
}

func TestDecideHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	_, err := client.Decide(context.Background(), llm.Perception{})
	require.Error(t, err)
	assert.Equal(t, xerrors.KindTransient, xerrors.KindOf(err))
}

func TestGenerateUsesPlainText(t *testing.T) {
	var captured capturedRequest
	srv := newTestServer(t, "  🦀 New token live on Base!  ", &captured)
	client := newTestClient(t, srv)

	text, err := client.Generate(context.Background(), "token deployment", llm.ContentHints{Tokens: []string{"CRAB"}})
	require.NoError(t, err)
	assert.Equal(t, "🦀 New token live on Base!", text)
	_, hasFormat := captured.Body["response_format"]
	assert.False(t, hasFormat)
	assert.EqualValues(t, 150, captured.Body["max_tokens"])
}

func TestGenerateIdea(t *testing.T) {
	var captured capturedRequest
	srv := newTestServer(t, "```json\n{\"name\":\"Shell Shock\",\"symbol\":\"shel\"}\n```", &captured)
	client := newTestClient(t, srv)
	client.pick = func(int) int { return 1 }

	idea, err := client.GenerateIdea(context.Background())
	require.NoError(t, err)
	assert.Equal(t, llm.TokenIdea{Name: "Shell Shock", Symbol: "SHEL"}, idea)

	messages := captured.Body["messages"].([]any)
	assert.Contains(t, messages[1].(map[string]any)["content"], "ocean-themed token")
}

func TestGenerateIdeaMissingFields(t *testing.T) {
	var captured capturedRequest
	srv := newTestServer(t, `{"name":""}`, &captured)
	client := newTestClient(t, srv)

	_, err := client.GenerateIdea(context.Background())
	require.Error(t, err)
}

func TestStripFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFence(` {"a":1} `))
}
