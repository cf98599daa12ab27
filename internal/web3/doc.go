// Package web3 holds the chain-facing contract of the agent: the Client
// interface used by the dispatcher and mention processor, ether unit helpers,
// explorer link builders and the YAML chain definitions consumed by the
// provider registry. Concrete EVM access lives in the ethereum subpackage.
package web3
