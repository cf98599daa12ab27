package farcaster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	xerrors "CrabDAO-Agent/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	Method string
	Path   string
	Query  string
	APIKey string
	Body   map[string]any
}

type fakeNeynar struct {
	mu       sync.Mutex
	requests []recorded
	status   int
	reply    any
}

func (f *fakeNeynar) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, APIKey: r.Header.Get("api_key")}
	if r.Body != nil && r.Method == http.MethodPost {
		_ = json.NewDecoder(r.Body).Decode(&rec.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()

	if f.status != 0 {
		http.Error(w, `{"message":"nope"}`, f.status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(f.reply)
}

func (f *fakeNeynar) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newClient(t *testing.T, fake *fakeNeynar, fid int64) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{
		APIKey:        "key",
		SignerUUID:    "signer",
		FID:           fid,
		BaseURL:       srv.URL,
		RatePerSecond: 1000,
		Burst:         10,
	})
	require.NoError(t, err)
	return client
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{SignerUUID: "s"})
	require.Error(t, err)
	_, err = NewClient(Config{APIKey: "k"})
	require.Error(t, err)
}

func TestPostWithEmbeds(t *testing.T) {
	fake := &fakeNeynar{reply: map[string]any{"cast": map[string]any{"hash": "0xabc", "text": "gm"}}}
	client := newClient(t, fake, 1)

	cast, err := client.Post(context.Background(), "gm", "https://basescan.org/tx/0x1", " ")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", cast.Hash)

	req := fake.last()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/farcaster/cast", req.Path)
	assert.Equal(t, "key", req.APIKey)
	assert.Equal(t, "signer", req.Body["signer_uuid"])
	assert.Equal(t, []any{map[string]any{"url": "https://basescan.org/tx/0x1"}}, req.Body["embeds"])
}

func TestReplySetsParentAndKeepsText(t *testing.T) {
	fake := &fakeNeynar{reply: map[string]any{"cast": map[string]any{"hash": "0xdef"}}}
	client := newClient(t, fake, 1)

	cast, err := client.Reply(context.Background(), "🦀 hi", "0xparent")
	require.NoError(t, err)
	assert.Equal(t, "🦀 hi", cast.Text)
	assert.Equal(t, "0xparent", fake.last().Body["parent"])
}

func TestPostMissingHashFails(t *testing.T) {
	fake := &fakeNeynar{reply: map[string]any{"cast": map[string]any{}}}
	client := newClient(t, fake, 1)

	_, err := client.Post(context.Background(), "gm")
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeSocialFailure, xerrors.CodeOf(err))
}

func TestLikeAndFollow(t *testing.T) {
	fake := &fakeNeynar{reply: map[string]any{"success": true}}
	client := newClient(t, fake, 1)

	require.NoError(t, client.Like(context.Background(), "0x1"))
	req := fake.last()
	assert.Equal(t, "/farcaster/reaction", req.Path)
	assert.Equal(t, "like", req.Body["reaction_type"])
	assert.Equal(t, "0x1", req.Body["target"])

	require.NoError(t, client.Follow(context.Background(), 42))
	req = fake.last()
	assert.Equal(t, "/farcaster/user/follow", req.Path)
	assert.Equal(t, []any{float64(42)}, req.Body["target_fids"])
}

func TestMentions(t *testing.T) {
	fake := &fakeNeynar{reply: map[string]any{"notifications": []map[string]any{{
		"type": "mention",
		"cast": map[string]any{
			"hash":   "0xm1",
			"text":   "@crabdao gm",
			"author": map[string]any{"fid": 7, "username": "alice"},
		},
	}}}}
	client := newClient(t, fake, 99)

	mentions, err := client.Mentions(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	assert.Equal(t, "0xm1", mentions[0].Hash)
	assert.Equal(t, "alice", mentions[0].AuthorUsername)
	assert.Equal(t, int64(7), mentions[0].AuthorFID)

	req := fake.last()
	assert.Equal(t, "/farcaster/notifications", req.Path)
	assert.Contains(t, req.Query, "fid=99")
	assert.Contains(t, req.Query, "type=mentions")
	assert.Contains(t, req.Query, "limit=20")
}

func TestMentionsRequireFID(t *testing.T) {
	fake := &fakeNeynar{}
	client := newClient(t, fake, 0)

	_, err := client.Mentions(context.Background(), 5)
	require.Error(t, err)
	assert.Empty(t, fake.requests)
}

func TestTrendingAndHTTPError(t *testing.T) {
	fake := &fakeNeynar{reply: map[string]any{"casts": []map[string]any{{"hash": "0x1", "text": "Base is live"}}}}
	client := newClient(t, fake, 1)

	casts, err := client.Trending(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, casts, 1)
	assert.Equal(t, "Base is live", casts[0].Text)
	assert.Equal(t, "/farcaster/feed/trending", fake.last().Path)

	fake.status = http.StatusPaymentRequired
	_, err = client.Trending(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "402")
	assert.Equal(t, xerrors.KindTransient, xerrors.KindOf(err))
}
