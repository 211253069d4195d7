// Package preventer evaluates ordered pre-mutation checks. Each Preventer
// resolves a condition; the first one that resolves true aborts the
// operation with its Issue.
package preventer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jacentio/arbor/issue"
)

// Preventer is a named check that blocks an operation when it resolves true.
type Preventer interface {
	Name() string
	Resolve(ctx context.Context) (bool, error)
	Issue() *issue.Issue
}

// Existence is anything that can tell whether it yields at least one item.
// *query.Query and *query.Projection satisfy it.
type Existence interface {
	Any(ctx context.Context) (bool, error)
}

// Option configures a State.
type Option func(*State)

// WithLogger sets the logger used to report rejections.
func WithLogger(logger *slog.Logger) Option {
	return func(s *State) { s.logger = logger }
}

// State is an ordered list of preventers.
type State struct {
	preventers []Preventer
	logger     *slog.Logger
}

// New creates an empty State.
func New(opts ...Option) *State {
	s := &State{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Add appends preventers. Nil entries are skipped.
func (s *State) Add(ps ...Preventer) *State {
	for _, p := range ps {
		if p != nil {
			s.preventers = append(s.preventers, p)
		}
	}
	return s
}

// Len returns the number of registered preventers.
func (s *State) Len() int { return len(s.preventers) }

// Assess resolves the preventers in order. It returns the Issue of the
// first one resolving true; later preventers are not evaluated.
func (s *State) Assess(ctx context.Context) error {
	for _, p := range s.preventers {
		blocked, err := p.Resolve(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", p.Name(), err)
		}
		if !blocked {
			continue
		}
		iss := p.Issue()
		if iss == nil {
			iss = issue.New(issue.CallerInvariantViolation, "", p.Name())
		}
		s.logger.DebugContext(ctx, "operation prevented",
			"preventer", p.Name(),
			"kind", iss.Kind.String(),
			"entity_type", iss.EntityType,
		)
		return iss
	}
	return nil
}

type check struct {
	name  string
	fn    func(ctx context.Context) (bool, error)
	issue *issue.Issue
}

func (c check) Name() string                              { return c.name }
func (c check) Resolve(ctx context.Context) (bool, error) { return c.fn(ctx) }
func (c check) Issue() *issue.Issue                       { return c.issue }

// Check wraps an arbitrary condition. fn returns true to block.
func Check(name string, fn func(ctx context.Context) (bool, error), iss *issue.Issue) Preventer {
	return check{name: name, fn: fn, issue: iss}
}

// Uniqueness blocks when q yields any entity.
func Uniqueness(q Existence, entityType, description string) Preventer {
	return check{
		name:  "uniqueness",
		fn:    q.Any,
		issue: issue.New(issue.UniquenessViolation, entityType, description),
	}
}

// ConditionsOfExistence blocks when q yields any entity, reporting a
// generic "already exists" issue.
func ConditionsOfExistence(q Existence, entityType string) Preventer {
	return check{
		name:  "conditions-of-existence",
		fn:    q.Any,
		issue: issue.New(issue.UniquenessViolation, entityType, "an entity with these conditions already exists"),
	}
}

// NoEntityFound blocks when q yields nothing.
func NoEntityFound(q Existence, entityType, description string) Preventer {
	return check{
		name: "no-entity-found",
		fn: func(ctx context.Context) (bool, error) {
			found, err := q.Any(ctx)
			return !found, err
		},
		issue: issue.New(issue.NoEntityFound, entityType, description),
	}
}
