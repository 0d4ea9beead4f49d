package compat

import (
	"context"
	"fmt"

	"schemaguard/internal/schema/types"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxTransitiveVersions caps how far back a transitive evaluation
// reaches into a subject's history.
const DefaultMaxTransitiveVersions = 100

// Candidate is the schema under evaluation.
type Candidate struct {
	Subject string
	Type    types.SchemaType
	Schema  string
	Hash    string
}

// Engine resolves a compatibility mode into a set of pair comparisons,
// dispatches each pair to the format checker matching the candidate's type,
// and aggregates the violations into a verdict. It holds no mutable state and
// is safe for concurrent use.
type Engine struct {
	formats       map[types.SchemaType]types.SchemaFormat
	maxTransitive int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxTransitiveVersions overrides the transitive history cap.
func WithMaxTransitiveVersions(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTransitive = n
		}
	}
}

// New creates an Engine dispatching to the given format checkers.
func New(formats map[types.SchemaType]types.SchemaFormat, opts ...Option) *Engine {
	e := &Engine{formats: formats, maxTransitive: DefaultMaxTransitiveVersions}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate checks the candidate against the subject's version history under
// the given mode. The history must be ordered by strictly increasing version;
// Draft and Deleted entries are skipped when building the comparison set.
//
// Violations are aggregated in version order, then emission order within each
// pair, so repeated evaluations produce identical output. A checker failure
// on any pair aborts the whole evaluation; partial aggregates would
// misrepresent compatibility.
func (e *Engine) Evaluate(candidate Candidate, history []*types.Schema, mode types.CompatibilityMode) (types.Result, error) {
	if err := verifyOrdered(history); err != nil {
		return types.Result{}, err
	}

	// Mode NONE accepts without consulting any checker.
	if mode == types.None {
		return types.NewResult(mode, nil, nil), nil
	}

	comparisons := comparisonSet(history, mode, e.maxTransitive)
	if len(comparisons) == 0 {
		// First version of a fresh subject: nothing to compare against
		return types.NewResult(mode, nil, nil), nil
	}

	format, ok := e.formats[candidate.Type]
	if !ok {
		return types.Result{}, fmt.Errorf("%w: %s", types.ErrUnsupportedType, candidate.Type)
	}

	perPair := make([][]types.Violation, len(comparisons))
	checked := make([]string, len(comparisons))

	g, _ := errgroup.WithContext(context.Background())
	for i, old := range comparisons {
		checked[i] = old.Version.String()
		g.Go(func() error {
			violations, err := e.comparePair(format, candidate, old, mode.Base())
			if err != nil {
				return err
			}
			perPair[i] = violations
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return types.Result{}, err
	}

	// Re-assemble in version order regardless of completion order
	var all []types.Violation
	for _, violations := range perPair {
		all = append(all, violations...)
	}

	return types.NewResult(mode, all, checked), nil
}

func (e *Engine) comparePair(format types.SchemaFormat, candidate Candidate, old *types.Schema, base types.CompatibilityMode) ([]types.Violation, error) {
	// A format mismatch is a verdict, not a checker invocation: the pair can
	// never be compatible and the checkers cannot parse each other's grammar.
	if old.Type != candidate.Type {
		return []types.Violation{types.Breaking(types.ViolationFormatChanged, "schema.format",
			fmt.Sprintf("serialization format changed from %s to %s", old.Type, candidate.Type)).
			WithValues(string(old.Type), string(candidate.Type))}, nil
	}

	// Identical content cannot diverge
	if candidate.Hash != "" && old.Hash == candidate.Hash {
		return nil, nil
	}

	switch base {
	case types.Backward:
		return format.CheckBackward(candidate.Schema, old.Schema)
	case types.Forward:
		return format.CheckForward(candidate.Schema, old.Schema)
	case types.Full:
		backward, err := format.CheckBackward(candidate.Schema, old.Schema)
		if err != nil {
			return nil, err
		}
		forward, err := format.CheckForward(candidate.Schema, old.Schema)
		if err != nil {
			return nil, err
		}
		return append(backward, forward...), nil
	default:
		return nil, fmt.Errorf("invalid compatibility mode %q", base)
	}
}

// comparisonSet selects the versions a candidate is checked against:
// the latest comparable version for non-transitive modes, every comparable
// version (up to the cap, newest retained) for transitive ones.
func comparisonSet(history []*types.Schema, mode types.CompatibilityMode, maxTransitive int) []*types.Schema {
	var comparable []*types.Schema
	for _, s := range history {
		if s.Comparable() {
			comparable = append(comparable, s)
		}
	}

	if len(comparable) == 0 {
		return nil
	}
	if !mode.IsTransitive() {
		return comparable[len(comparable)-1:]
	}
	if len(comparable) > maxTransitive {
		comparable = comparable[len(comparable)-maxTransitive:]
	}
	return comparable
}

func verifyOrdered(history []*types.Schema) error {
	for i, s := range history {
		if s.Version == nil {
			return fmt.Errorf("%w: entry %d has no version", types.ErrHistoryNotOrdered, i)
		}
		if i > 0 && !s.Version.GreaterThan(history[i-1].Version) {
			return fmt.Errorf("%w: %s does not follow %s",
				types.ErrHistoryNotOrdered, s.Version, history[i-1].Version)
		}
	}
	return nil
}
