// Package api exposes a small HTTP surface for operators: liveness, the agent
// status snapshot and a trigger for the mention processor.
package api
