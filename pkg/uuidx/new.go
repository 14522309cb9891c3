// Package uuidx generates time-ordered UUIDs. Conversation and message ids
// are v7 so lexical order matches insertion order.
package uuidx

import "github.com/google/uuid"

// New returns a new v7 UUID. It panics if the entropy source fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString returns a new v7 UUID formatted as a string.
func NewString() string {
	return New().String()
}
