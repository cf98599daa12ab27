package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"CrabDAO-Agent/internal/action"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name  string
	err   error
	text  string
	idea  TokenIdea
	calls int
}

func (s *stubProvider) Decide(context.Context, Perception) (action.Action, error) {
	s.calls++
	return action.Idle(s.name), s.err
}

func (s *stubProvider) Generate(context.Context, string, ContentHints) (string, error) {
	s.calls++
	return s.text, s.err
}

func (s *stubProvider) GenerateReply(context.Context, string, string) (string, error) {
	s.calls++
	return s.text, s.err
}

func (s *stubProvider) GenerateIdea(context.Context) (TokenIdea, error) {
	s.calls++
	return s.idea, s.err
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestRouterSendsEnabledFeaturesToSecondary(t *testing.T) {
	primary := &stubProvider{name: "primary"}
	secondary := &stubProvider{name: "secondary"}
	router := NewRouter(primary, secondary, []string{" Decisions ", "tokens"})

	act, err := router.Decide(context.Background(), Perception{})
	require.NoError(t, err)
	assert.Equal(t, "secondary", act.Reason)

	_, _ = router.Generate(context.Background(), "x", ContentHints{})
	_, _ = router.GenerateReply(context.Background(), "x", "y")
	_, _ = router.GenerateIdea(context.Background())

	assert.Equal(t, 2, primary.calls)
	assert.Equal(t, 2, secondary.calls)
}

func TestRouterWithoutSecondaryUsesPrimary(t *testing.T) {
	primary := &stubProvider{name: "primary"}
	router := NewRouter(primary, nil, []string{"decisions", "content", "replies", "tokens"})

	assert.Same(t, primary, router.For(FeatureDecisions))
	assert.Same(t, primary, router.For(FeatureReplies))
}

func TestFallbacks(t *testing.T) {
	failing := &stubProvider{err: errors.New("down")}
	ctx := context.Background()

	assert.Equal(t, FallbackPost, PostOrFallback(ctx, failing, "topic", ContentHints{}, discard))
	assert.Equal(t, FallbackReply, ReplyOrFallback(ctx, failing, "gm", "alice", discard))
	assert.Equal(t, FallbackIdea, IdeaOrFallback(ctx, failing, discard))

	blank := &stubProvider{text: "   ", idea: TokenIdea{Name: "Only Name"}}
	assert.Equal(t, FallbackPost, PostOrFallback(ctx, blank, "topic", ContentHints{}, discard))
	assert.Equal(t, FallbackIdea, IdeaOrFallback(ctx, blank, discard))

	ok := &stubProvider{text: " gm ", idea: TokenIdea{Name: "Crab Cake", Symbol: "CAKE"}}
	assert.Equal(t, "gm", ReplyOrFallback(ctx, ok, "gm", "alice", discard))
	assert.Equal(t, TokenIdea{Name: "Crab Cake", Symbol: "CAKE"}, IdeaOrFallback(ctx, ok, discard))
}

func TestDecisionPromptDefaultsAndLimits(t *testing.T) {
	prompt := DecisionPrompt(Perception{
		Balance:     "0.1",
		CurrentTime: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, DecisionSystemPrompt, prompt.System)
	assert.Contains(t, prompt.User, "Deployed tokens: None yet")
	assert.Contains(t, prompt.User, "Recent transactions: None")
	assert.Contains(t, prompt.User, "Trending topics: General crypto chatter")
	assert.Contains(t, prompt.User, "Recent mentions: No recent mentions")
	assert.Contains(t, prompt.User, "Last action: None")
	assert.Contains(t, prompt.User, "2024-05-01T12:00:00Z")

	last := action.Idle("resting")
	prompt = DecisionPrompt(Perception{
		RecentTransactions: []string{"a", "b", "c", "d"},
		TrendingTopics:     []string{"1", "2", "3", "4", "5", "6"},
		Mentions:           []string{"m1", "m2", "m3", "m4"},
		LastAction:         &last,
	})
	assert.Contains(t, prompt.User, "Recent transactions: a, b, c\n")
	assert.Contains(t, prompt.User, "Trending topics: 1, 2, 3, 4, 5\n")
	assert.Contains(t, prompt.User, "Recent mentions: m1 | m2 | m3\n")
	assert.Contains(t, prompt.User, `"reason":"resting"`)
}

func TestContentPromptIncludesHints(t *testing.T) {
	prompt := ContentPrompt("token deployment", ContentHints{
		Tokens: []string{"CRAB"},
		Link:   "https://basescan.org/tx/0x1",
	})
	assert.Contains(t, prompt.User, "about: token deployment")
	assert.Contains(t, prompt.User, "CRAB")
	assert.Contains(t, prompt.User, "https://basescan.org/tx/0x1")
	assert.NotContains(t, prompt.User, "NFTs you deployed")
}
