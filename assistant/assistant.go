// Package assistant holds the read-only assistant configuration that drives
// a chat call and the lookup collaborator that resolves it.
package assistant

import (
	"context"

	"github.com/helsingborg-stad/fai-chat/provider"
)

// Assistant is the immutable configuration for one chat persona: which
// provider and model it runs on, its system instructions, and the optional
// document collection its answers are grounded in.
type Assistant struct {
	ID                   string         `json:"id"`
	Provider             provider.Kind  `json:"provider"`
	Model                string         `json:"model"`
	Instructions         string         `json:"instructions"`
	CollectionID         string         `json:"collection_id,omitempty"`
	MaxCollectionResults int            `json:"max_collection_results,omitempty"`
	ExtraParams          map[string]any `json:"extra_params,omitempty"`
}

// Grounded reports whether completions for this assistant should be
// augmented with retrieved passages before the main call.
func (a Assistant) Grounded() bool {
	return a.CollectionID != "" && a.MaxCollectionResults > 0
}

// Lookup resolves assistants visible to a user. A nil assistant with a
// nil error means not found.
type Lookup interface {
	Get(ctx context.Context, uid, id string) (*Assistant, error)
}

// Static is a fixed assistant set keyed by id, for deployments that
// define their assistants in configuration instead of a directory
// service. Every assistant is visible to every user.
type Static map[string]Assistant

func (s Static) Get(_ context.Context, _, id string) (*Assistant, error) {
	if a, ok := s[id]; ok {
		return &a, nil
	}
	return nil, nil
}
