// Package mysql persists the agent state record in MySQL. The whole record is
// stored as one JSON document in a single-row table and replaced on every save.
package mysql
