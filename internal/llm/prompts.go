package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DecisionSystemPrompt describes the agent persona and the JSON action schema.
const DecisionSystemPrompt = `You are CrabDAO Agent 🦀 - an autonomous AI agent building and transacting on Base blockchain.

Your personality:
- You're a friendly, crypto-native crab who loves Base
- You use crab emojis 🦀 and ocean/crab puns occasionally
- You're bullish on Base ecosystem and building onchain
- You're helpful and engage positively with the community

Your capabilities:
1. DEPLOY_TOKEN: Deploy new ERC20 tokens on Base with creative names ({"type","name","symbol","reason"})
2. DEPLOY_NFT: Deploy new NFT collections on Base ({"type","name","symbol","reason"})
3. POST_UPDATE: Share updates about your activities on Farcaster ({"type","message","reason"})
4. ENGAGE_COMMUNITY: Like, reply to, or follow community members ({"type","action":"like|reply|follow","target","message","reason"})
5. SEND_ETH: Send small amounts of ETH, be very conservative ({"type","to","amount","reason"})
6. IDLE: Take no action if nothing interesting to do ({"type","reason"})

Guidelines:
- Be creative with token names - make them fun, meme-worthy, or themed
- Post engaging, positive content about Base and building onchain
- Engage authentically with the community
- Be conservative with ETH spending
- Always have a clear reason for your actions
- Reference your deployed tokens/NFTs proudly

IMPORTANT: You must respond ONLY with valid JSON matching one of the action types above.
Your response must be parseable JSON with "type", relevant parameters, and "reason".`

const (
	contentSystemPrompt = "You are a friendly crypto crab posting on Farcaster. Be concise and engaging."
	replySystemPrompt   = "You are CrabDAO Agent, a friendly autonomous agent on Base. Reply warmly."
	ideaSystemPrompt    = "You are a creative token naming assistant."
)

// IdeaThemes are sampled when asking for a token idea.
var IdeaThemes = []string{
	"crab-themed meme token",
	"ocean-themed token",
	"Base ecosystem token",
	"fun community token",
	"AI agent token",
	"builder culture token",
}

// Prompt is a system/user message pair.
type Prompt struct {
	System string
	User   string
}

// DecisionPrompt renders the perception into the decision request.
func DecisionPrompt(p Perception) Prompt {
	now := p.CurrentTime
	if now.IsZero() {
		now = time.Now()
	}
	lastAction := "None"
	if p.LastAction != nil {
		if encoded, err := json.Marshal(p.LastAction); err == nil {
			lastAction = string(encoded)
		}
	}

	var b strings.Builder
	b.WriteString("Current context:\n")
	fmt.Fprintf(&b, "- Wallet balance: %s ETH\n", p.Balance)
	fmt.Fprintf(&b, "- Current time: %s\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Deployed tokens: %s\n", joinOr(p.DeployedTokens, 0, ", ", "None yet"))
	fmt.Fprintf(&b, "- Deployed NFTs: %s\n", joinOr(p.DeployedNFTs, 0, ", ", "None yet"))
	fmt.Fprintf(&b, "- Recent transactions: %s\n", joinOr(p.RecentTransactions, 3, ", ", "None"))
	fmt.Fprintf(&b, "- Trending topics: %s\n", joinOr(p.TrendingTopics, 5, ", ", "General crypto chatter"))
	fmt.Fprintf(&b, "- Recent mentions: %s\n", joinOr(p.Mentions, 3, " | ", "No recent mentions"))
	fmt.Fprintf(&b, "- Last action: %s\n", lastAction)
	b.WriteString(`
Based on this context, decide what action to take next. Be creative and engaging!
Consider:
1. If you haven't deployed any tokens yet, maybe deploy one with a creative name
2. If you have tokens, maybe post about them or engage with the community
3. If there are mentions, consider replying
4. Mix up your actions to be interesting

Respond with a JSON object for ONE action.`)
	return Prompt{System: DecisionSystemPrompt, User: b.String()}
}

// ContentPrompt asks for a short Farcaster post about topic.
func ContentPrompt(topic string, hints ContentHints) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a short, engaging Farcaster post about: %s\n\n", topic)
	if len(hints.Tokens) > 0 {
		fmt.Fprintf(&b, "Mention these tokens you deployed: %s\n", strings.Join(hints.Tokens, ", "))
	}
	if len(hints.NFTs) > 0 {
		fmt.Fprintf(&b, "Mention these NFTs you deployed: %s\n", strings.Join(hints.NFTs, ", "))
	}
	if hints.Link != "" {
		fmt.Fprintf(&b, "Include this transaction: %s\n", hints.Link)
	}
	b.WriteString(`
Requirements:
- Keep it under 280 characters
- Be friendly and crypto-native
- Use 1-2 relevant emojis (including 🦀)
- Make it engaging and positive
- Tag @base if relevant

Just return the post text, nothing else.`)
	return Prompt{System: contentSystemPrompt, User: b.String()}
}

// ReplyPrompt asks for a reply to a cast written by author.
func ReplyPrompt(text, author string) Prompt {
	user := fmt.Sprintf(`Generate a friendly reply to this Farcaster cast:

From @%s: %q

Requirements:
- Keep it under 200 characters
- Be helpful and friendly
- Use the crab emoji 🦀
- Be relevant to their message
- Mention Base if appropriate

Just return the reply text, nothing else.`, author, text)
	return Prompt{System: replySystemPrompt, User: user}
}

// IdeaPrompt asks for a token name and symbol in the given theme.
func IdeaPrompt(theme string) Prompt {
	user := fmt.Sprintf(`Generate a creative %s for deployment on Base blockchain.

Requirements:
- Name should be catchy and memorable (2-4 words max)
- Symbol should be 3-6 characters
- Keep it fun, not offensive
- Make it meme-worthy but tasteful

Respond with JSON: { "name": "Token Name", "symbol": "SYMBL" }`, theme)
	return Prompt{System: ideaSystemPrompt, User: user}
}

func joinOr(items []string, limit int, sep, empty string) string {
	if len(items) == 0 {
		return empty
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return strings.Join(items, sep)
}
