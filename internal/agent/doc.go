// Package agent contains the orchestrator that runs one decision cycle at a
// time: it rolls the daily quota over, answers pending mentions, assembles the
// perception, asks the decision provider for an action and hands it to the
// dispatcher. It also owns the process-lifetime state (last action, dedup set)
// shared by scheduled cycles and the status API.
package agent
