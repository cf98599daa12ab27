package llm

import (
	"context"
	"log/slog"
	"strings"
)

// PostOrFallback generates post text, substituting FallbackPost on failure.
func PostOrFallback(ctx context.Context, g ContentGenerator, topic string, hints ContentHints, l *slog.Logger) string {
	text, err := g.Generate(ctx, topic, hints)
	if err != nil || strings.TrimSpace(text) == "" {
		l.Warn("生成发帖内容失败，使用默认文案", "topic", topic, "error", err)
		return FallbackPost
	}
	return strings.TrimSpace(text)
}

// ReplyOrFallback generates a reply, substituting FallbackReply on failure.
func ReplyOrFallback(ctx context.Context, g ContentGenerator, text, author string, l *slog.Logger) string {
	reply, err := g.GenerateReply(ctx, text, author)
	if err != nil || strings.TrimSpace(reply) == "" {
		l.Warn("生成回复失败，使用默认文案", "author", author, "error", err)
		return FallbackReply
	}
	return strings.TrimSpace(reply)
}

// IdeaOrFallback generates a token idea, substituting FallbackIdea on failure.
func IdeaOrFallback(ctx context.Context, g ContentGenerator, l *slog.Logger) TokenIdea {
	idea, err := g.GenerateIdea(ctx)
	idea.Name = strings.TrimSpace(idea.Name)
	idea.Symbol = strings.TrimSpace(idea.Symbol)
	if err != nil || idea.Name == "" || idea.Symbol == "" {
		l.Warn("生成代币创意失败，使用默认名称", "error", err)
		return FallbackIdea
	}
	return idea
}
