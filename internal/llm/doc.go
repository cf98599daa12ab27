// Package llm defines the decision provider and content generator contracts
// used by the agent, the prompts shared by every provider, the fallback
// texts applied when generation fails, and a router that sends each feature
// to the primary or secondary provider.
package llm
