// Package retrieval grounds completions in indexed documents: it fetches
// candidate passages from a vector index, scores each one against the user
// query with a secondary model call, and collapses the survivors into one
// synthetic context message.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/helsingborg-stad/fai-chat/messages"
	"github.com/helsingborg-stad/fai-chat/pkg/uuidx"
	"github.com/helsingborg-stad/fai-chat/provider"
)

// ErrScoreParse marks a scoring reply that was not the expected
// {"score": <int>} object. It is a hard failure of the whole augmentation
// step, not a zero score.
var ErrScoreParse = errors.New("scoring response is not a score object")

// ScoreThreshold is the inclusive minimum score a passage needs to make it
// into the context message.
const ScoreThreshold = 70

const contextHeader = "Here are the results of the search:"

const scoringPrompt = `You grade how relevant a document passage is to a user query.
Reply with a JSON object of the form {"score": N} where N is an integer
between 0 and 100. Reply with nothing but that object.`

// Passage is one candidate retrieved from the vector index.
type Passage struct {
	Content string
	Source  string
	Page    int
}

func (p Passage) format() string {
	if p.Page > 0 {
		return fmt.Sprintf("(source:%s, page:%d)\n%s", p.Source, p.Page, p.Content)
	}
	return fmt.Sprintf("(source:%s)\n%s", p.Source, p.Content)
}

// ScoredPassage pairs a candidate with its relevance score.
type ScoredPassage struct {
	Passage
	Score int
}

// VectorIndex is the external collaborator that owns embeddings and
// similarity search.
type VectorIndex interface {
	Query(ctx context.Context, collection, text string, k int) ([]Passage, error)
}

// Backend is the scoring model configuration, resolved per call from the
// dedicated scoring assistant.
type Backend struct {
	Adapter provider.Adapter
	Model   string
}

// Scorer ranks retrieved passages by LLM-judged relevance.
type Scorer struct {
	Index        VectorIndex
	Timeout      time.Duration
	QueryTimeout time.Duration
}

// Option configures a Scorer.
type Option = opts.Option[Scorer]

var (
	// WithIndex sets the vector index to retrieve candidates from.
	WithIndex = opts.ForName[Scorer, VectorIndex]("Index")
	// WithTimeout bounds each scoring call.
	WithTimeout = opts.ForName[Scorer, time.Duration]("Timeout")
	// WithQueryTimeout bounds the vector index query.
	WithQueryTimeout = opts.ForName[Scorer, time.Duration]("QueryTimeout")
)

func New(options ...Option) (*Scorer, error) {
	s := &Scorer{
		Timeout:      30 * time.Second,
		QueryTimeout: 15 * time.Second,
	}
	if err := opts.Apply(s, options); err != nil {
		return nil, err
	}
	if s.Index == nil {
		return nil, fmt.Errorf("retrieval scorer requires a vector index")
	}
	return s, nil
}

// Score retrieves up to maxResults candidates, scores them concurrently,
// and returns one user-role context message holding the passages that
// cleared the threshold. It returns (nil, nil) when there is no collection
// or no budget, and never issues a vector query in that case. A nil
// message with a nil error also means no passage survived the filter.
func (s *Scorer) Score(ctx context.Context, backend Backend, query, collectionID string, maxResults int) (*messages.Message, error) {
	if collectionID == "" || maxResults <= 0 {
		return nil, nil
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.QueryTimeout)
	defer cancel()

	candidates, err := s.Index.Query(queryCtx, collectionID, query, maxResults)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// the one concurrent stage in the engine: one scoring call per
	// candidate, joined before ranking
	scored := make([]ScoredPassage, len(candidates))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, candidate := range candidates {
		group.Go(func() error {
			score, err := s.scoreOne(groupCtx, backend, query, candidate)
			if err != nil {
				return err
			}
			scored[i] = ScoredPassage{Passage: candidate, Score: score}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	// stable: ties keep retrieval order
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	var kept []string
	for _, sp := range scored {
		if sp.Score >= ScoreThreshold {
			kept = append(kept, sp.Content)
		}
	}
	slog.DebugContext(ctx, "scored retrieval candidates",
		slog.Int("candidates", len(scored)),
		slog.Int("kept", len(kept)),
	)
	if len(kept) == 0 {
		return nil, nil
	}

	msg := messages.Message{
		ID:        uuidx.New(),
		Role:      messages.RoleUser,
		Content:   contextHeader + "\n\n" + strings.Join(kept, "\n\n"),
		Timestamp: strfmt.DateTime(time.Now()),
	}
	return &msg, nil
}

func (s *Scorer) scoreOne(ctx context.Context, backend Backend, query string, candidate Passage) (int, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	reply, err := backend.Adapter.Complete(callCtx, provider.Request{
		Model: backend.Model,
		Messages: []messages.Message{
			{Role: messages.RoleSystem, Content: scoringPrompt},
			{Role: messages.RoleUser, Content: fmt.Sprintf("Query:\n%s\n\nPassage:\n%s", query, candidate.format())},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("scoring call failed: %w", err)
	}

	score := gjson.Get(reply, "score")
	if !score.Exists() || score.Type != gjson.Number {
		return 0, fmt.Errorf("%w: %q", ErrScoreParse, reply)
	}
	return int(score.Int()), nil
}
