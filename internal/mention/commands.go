package mention

import (
	"fmt"
	"regexp"

	"CrabDAO-Agent/internal/state"
)

// Command 是提及文本匹配到的指令。
type Command string

const (
	CommandHelp    Command = "help"
	CommandDeploy  Command = "deploy"
	CommandBalance Command = "balance"
	CommandStats   Command = "stats"
	CommandGM      Command = "gm"
	CommandNone    Command = ""
)

type pattern struct {
	command Command
	re      *regexp.Regexp
}

// 按顺序匹配，第一个命中的指令生效。
var patterns = []pattern{
	{CommandHelp, regexp.MustCompile(`(?i)\b(help|commands|what can you do)`)},
	{CommandDeploy, regexp.MustCompile(`(?i)\b(deploy|create|launch|mint)\s*(token|coin|erc20)`)},
	{CommandBalance, regexp.MustCompile(`(?i)\b(balance|wallet|eth|funds)`)},
	{CommandStats, regexp.MustCompile(`(?i)\b(stats|status|info|about)`)},
	{CommandGM, regexp.MustCompile(`(?i)\bgm\b`)},
}

// Classify returns the first command matching text, or CommandNone.
func Classify(text string) Command {
	for _, p := range patterns {
		if p.re.MatchString(text) {
			return p.command
		}
	}
	return CommandNone
}

func helpReply(author string) string {
	return fmt.Sprintf(`🦀 Hey @%s! I'm CrabDAO Agent, building on @base!

Commands:
• "deploy token" - I'll deploy a new token
• "balance" - Check my wallet
• "stats" - See my activity
• "gm" - Say gm back!

I also respond to general questions! 🔵`, author)
}

func balanceReply(author, balance, walletURL string) string {
	return fmt.Sprintf(`🦀 @%s My wallet has %s ETH on Base!

View: %s 🔵`, author, balance, walletURL)
}

func statsReply(author string, stats state.Stats) string {
	return fmt.Sprintf(`🦀 @%s Here are my stats:

📊 Tokens deployed: %d
🖼️ NFTs deployed: %d
📝 Casts: %d
⛓️ Transactions: %d

Building onchain 24/7! 🔵`, author, stats.TotalTokensDeployed, stats.TotalNFTsDeployed, stats.TotalCasts, stats.TotalTransactions)
}

func gmReply(author string) string {
	return fmt.Sprintf(`🦀 GM @%s! 

Hope you're having a great day building on @base! 🔵`, author)
}

func lowGasReply(author, wallet string) string {
	return fmt.Sprintf(`🦀 @%s I'd love to deploy a token for you, but I'm low on gas! 

Send some ETH to %s and I'll get building! 🔵`, author, wallet)
}

func deployedReply(author, symbol, address, txURL string) string {
	return fmt.Sprintf(`🦀 @%s Done! Just deployed $%s on @base for you!

Contract: %s
TX: %s

Enjoy your new token! 🔵`, author, symbol, address, txURL)
}

func limitReply(author string) string {
	return fmt.Sprintf("🦀 @%s I've hit my deployment limit for today! Ask me again tomorrow 🔵", author)
}

func deployFailedReply(author string) string {
	return fmt.Sprintf("🦀 @%s Oops! Something went wrong deploying the token. I'll try again later! 🔵", author)
}
