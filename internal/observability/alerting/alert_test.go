package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "CrabDAO-Agent/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFromErrorOnlyAlertsFlaggedCodes(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	event, ok := FromError(xerrors.Wrap(xerrors.CodeChainFailure, errors.New("rpc down"), "部署失败"), "c1", "DEPLOY_TOKEN", now)
	require.True(t, ok)
	assert.Equal(t, xerrors.CodeChainFailure, event.Code)
	assert.Equal(t, xerrors.SeverityWarning, event.Severity)
	assert.Equal(t, "c1", event.CycleID)

	_, ok = FromError(xerrors.New(xerrors.CodeSocialFailure, "post failed"), "c1", "POST_UPDATE", now)
	assert.False(t, ok)
	_, ok = FromError(errors.New("plain"), "c1", "", now)
	assert.False(t, ok)
	_, ok = FromError(nil, "", "", now)
	assert.False(t, ok)
}

func TestFanoutJoinsErrors(t *testing.T) {
	good := &recordingNotifier{channel: ChannelLog}
	bad := &recordingNotifier{channel: ChannelWebhook, err: errors.New("unreachable")}
	fanout := NewFanout(good, nil, bad)

	err := fanout.Notify(context.Background(), Event{Code: xerrors.CodeChainFailure})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel webhook")
	assert.Len(t, good.events, 1)
	assert.Len(t, bad.events, 1)

	var nilFanout *FanoutDispatcher
	assert.NoError(t, nilFanout.Notify(context.Background(), Event{}))
}

func TestWebhookNotifierPostsText(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	err := n.Notify(context.Background(), Event{
		Code:     xerrors.CodeChainFailure,
		Severity: xerrors.SeverityWarning,
		CycleID:  "c9",
		Message:  "rpc down",
		Metadata: map[string]string{"chain": "base"},
	})
	require.NoError(t, err)
	assert.Contains(t, got["text"], "[warning] CHAIN_FAILURE")
	assert.Contains(t, got["text"], "周期: c9")
	assert.Contains(t, got["text"], "- chain: base")
}

func TestWebhookNotifierStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	assert.Error(t, n.Notify(context.Background(), Event{Code: xerrors.CodeChainFailure}))
	assert.NoError(t, (&WebhookNotifier{}).Notify(context.Background(), Event{}))
}
