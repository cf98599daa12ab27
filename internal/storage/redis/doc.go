// Package redis stores the agent state record as one JSON value under a
// single Redis key.
package redis
