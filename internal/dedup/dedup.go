// Package dedup decides whether an incoming post is new or a repeat of a
// post already persisted under the same id.
package dedup

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/toxipipe/internal/store"
)

// Decision is the outcome of identity resolution for one post.
type Decision string

const (
	// DecisionNew means no post with this id has been persisted yet.
	DecisionNew Decision = "new"
	// DecisionDuplicate means a post with this id already exists. The
	// caller refreshes engagement counters instead of inserting a second
	// copy.
	DecisionDuplicate Decision = "duplicate"
)

// Resolver answers identity questions against the persistent store. The
// store is the single source of truth: resolution is a lookup, not an
// in-memory cache, so restarts cannot forget previously seen ids.
type Resolver struct {
	store store.Store
}

func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st}
}

// Resolve classifies the post id as new or duplicate. It never mutates the
// store; persistence stays with the caller so the decision and the write
// can sit inside the same processing stage.
func (r *Resolver) Resolve(ctx context.Context, postID string) (Decision, error) {
	exists, err := r.store.PostExists(ctx, postID)
	if err != nil {
		return "", eris.Wrapf(err, "dedup: resolve %s", postID)
	}
	if exists {
		return DecisionDuplicate, nil
	}
	return DecisionNew, nil
}
