package notify

import (
	"context"
	"strings"

	"github.com/google/cel-go/cel"
)

// Filter decides which accepted leads are announced. The expression sees
// tracking_id, idempotency_key, scenario_id, zip, credit_range (strings)
// and accepted_ms (int).
type Filter struct {
	prog cel.Program
}

// NewFilter compiles expr. It must evaluate to a bool.
func NewFilter(expr string) (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("tracking_id", cel.StringType),
		cel.Variable("idempotency_key", cel.StringType),
		cel.Variable("scenario_id", cel.StringType),
		cel.Variable("zip", cel.StringType),
		cel.Variable("credit_range", cel.StringType),
		cel.Variable("accepted_ms", cel.IntType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(strings.TrimSpace(expr))
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	return &Filter{prog: prog}, nil
}

// Match reports whether a passes the filter. Evaluation errors and
// non-bool results count as no match.
func (f *Filter) Match(a Accepted) bool {
	out, _, err := f.prog.Eval(map[string]any{
		"tracking_id":     a.TrackingID,
		"idempotency_key": a.IdempotencyKey,
		"scenario_id":     a.ScenarioID,
		"zip":             a.Zip,
		"credit_range":    a.CreditRange,
		"accepted_ms":     a.AcceptedAt.UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// Wrap returns a Notifier that forwards only matching leads to next.
func (f *Filter) Wrap(next Notifier) Notifier {
	return &filtered{filter: f, next: next}
}

type filtered struct {
	filter *Filter
	next   Notifier
}

func (f *filtered) LeadAccepted(ctx context.Context, a Accepted) error {
	if !f.filter.Match(a) {
		return nil
	}
	return f.next.LeadAccepted(ctx, a)
}
