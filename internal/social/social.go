// Package social defines the social-platform collaborator used by the agent.
package social

import "context"

// Cast 是平台上的一条消息。
type Cast struct {
	Hash           string
	Text           string
	AuthorFID      int64
	AuthorUsername string
}

// Mention is a cast that mentions the agent.
type Mention struct {
	Cast
}

// Client is the social primitive set. Implementations enforce no business
// rules and return errors for transport or API failures.
type Client interface {
	Post(ctx context.Context, text string, embeds ...string) (Cast, error)
	Reply(ctx context.Context, text, parentHash string) (Cast, error)
	Like(ctx context.Context, hash string) error
	Follow(ctx context.Context, fid int64) error
	Mentions(ctx context.Context, limit int) ([]Mention, error)
	Trending(ctx context.Context, limit int) ([]Cast, error)
}
