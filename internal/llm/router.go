package llm

import (
	"context"
	"strings"

	"CrabDAO-Agent/internal/action"
)

// Feature names a routable capability.
type Feature string

const (
	FeatureDecisions Feature = "decisions"
	FeatureContent   Feature = "content"
	FeatureReplies   Feature = "replies"
	FeatureTokens    Feature = "tokens"
)

// Router sends each feature to the secondary provider when it is configured
// and enabled for that feature, otherwise to the primary.
type Router struct {
	primary   Provider
	secondary Provider
	enabled   map[Feature]bool
}

// NewRouter 创建路由器。secondary 可以为 nil。
func NewRouter(primary, secondary Provider, features []string) *Router {
	enabled := make(map[Feature]bool, len(features))
	for _, f := range features {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			enabled[Feature(f)] = true
		}
	}
	return &Router{primary: primary, secondary: secondary, enabled: enabled}
}

// For returns the provider serving the feature.
func (r *Router) For(feature Feature) Provider {
	if r.secondary != nil && r.enabled[feature] {
		return r.secondary
	}
	return r.primary
}

// Decide implements DecisionProvider.
func (r *Router) Decide(ctx context.Context, p Perception) (action.Action, error) {
	return r.For(FeatureDecisions).Decide(ctx, p)
}

// Generate implements ContentGenerator.
func (r *Router) Generate(ctx context.Context, topic string, hints ContentHints) (string, error) {
	return r.For(FeatureContent).Generate(ctx, topic, hints)
}

// GenerateReply implements ContentGenerator.
func (r *Router) GenerateReply(ctx context.Context, text, author string) (string, error) {
	return r.For(FeatureReplies).GenerateReply(ctx, text, author)
}

// GenerateIdea implements ContentGenerator.
func (r *Router) GenerateIdea(ctx context.Context) (TokenIdea, error) {
	return r.For(FeatureTokens).GenerateIdea(ctx)
}

var _ Provider = (*Router)(nil)
