package llm

import (
	"context"
	"time"

	"CrabDAO-Agent/internal/action"
)

// 生成失败时由调用方使用的固定文案。
const (
	FallbackPost  = "🦀 Building on Base! GM frens"
	FallbackReply = "🦀 GM fren! Building on Base 🔵"
)

// FallbackIdea 是代币命名失败时的默认名称。
var FallbackIdea = TokenIdea{Name: "CrabDAO Token", Symbol: "CRAB"}

// Perception 是提供给决策模型的上下文快照。
type Perception struct {
	Balance            string
	RecentTransactions []string
	TrendingTopics     []string
	Mentions           []string
	LastAction         *action.Action
	DeployedTokens     []string
	DeployedNFTs       []string
	CurrentTime        time.Time
}

// ContentHints 为发帖内容提供可选素材。
type ContentHints struct {
	Tokens []string
	NFTs   []string
	Link   string
}

// TokenIdea 是生成的代币名称与符号。
type TokenIdea struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

// DecisionProvider 根据感知上下文给出下一步动作。
type DecisionProvider interface {
	Decide(ctx context.Context, p Perception) (action.Action, error)
}

// ContentGenerator 生成 cast 文案、回复与代币创意。
type ContentGenerator interface {
	Generate(ctx context.Context, topic string, hints ContentHints) (string, error)
	GenerateReply(ctx context.Context, text, author string) (string, error)
	GenerateIdea(ctx context.Context) (TokenIdea, error)
}

// Provider is a backend able to serve every feature.
type Provider interface {
	DecisionProvider
	ContentGenerator
}
