// Package dispatch executes validated actions against the chain and the
// social platform, applies the quota guard to value-moving actions and records
// every completed step in the agent state.
//
// 所有外部失败都在分发边界被捕获并记录，不会向调用方传播。
package dispatch
