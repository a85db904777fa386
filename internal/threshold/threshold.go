package threshold

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"rampcheck/internal/classify"
	"rampcheck/internal/stats"
)

var (
	ErrBadExpression = errors.New("invalid threshold expression")
	ErrDuplicateName = errors.New("duplicate threshold name")
)

// Spec is a named pass/fail predicate over the final summary. Specs built
// with Parse also carry the metric accessor so the observed value can be
// reported next to the verdict.
type Spec struct {
	Name      string
	Expr      string
	Required  bool
	Predicate func(stats.Summary) bool

	metric func(stats.Summary) float64
}

// Result is the outcome of one threshold.
type Result struct {
	Name     string  `json:"name"`
	Expr     string  `json:"expr,omitempty"`
	Required bool    `json:"required"`
	Passed   bool    `json:"passed"`
	Observed float64 `json:"observed"`
}

// Verdict is the overall result of a run.
type Verdict struct {
	Passed  bool            `json:"passed"`
	Results map[string]bool `json:"results"`
	Details []Result        `json:"details"`
}

// Evaluate checks every spec against summary. Only required specs can fail
// the verdict. Specs sharing a name report as one result that holds only if
// all of them hold.
func Evaluate(summary stats.Summary, specs []Spec) Verdict {
	v := Verdict{
		Passed:  true,
		Results: make(map[string]bool, len(specs)),
		Details: make([]Result, 0, len(specs)),
	}
	for _, spec := range specs {
		ok := spec.Predicate != nil && spec.Predicate(summary)
		r := Result{Name: spec.Name, Expr: spec.Expr, Required: spec.Required, Passed: ok}
		if spec.metric != nil {
			r.Observed = spec.metric(summary)
		}
		if prev, seen := v.Results[spec.Name]; seen {
			v.Results[spec.Name] = prev && ok
		} else {
			v.Results[spec.Name] = ok
		}
		v.Details = append(v.Details, r)
		if spec.Required && !ok {
			v.Passed = false
		}
	}
	return v
}

// Failed lists the names of failed thresholds, required ones first.
func (v Verdict) Failed() []string {
	var req, opt []string
	for _, r := range v.Details {
		if r.Passed {
			continue
		}
		if r.Required {
			req = append(req, r.Name)
		} else {
			opt = append(opt, r.Name)
		}
	}
	return append(req, opt...)
}

var operators = []string{"<=", ">=", "==", "!=", "<", ">"}

// Parse compiles an expression of the form "<metric> <op> <number>".
//
// Metrics: p(N), med, avg, min, max (latency in ms); total; errors
// (unexpected statuses plus transport failures); success_rate and
// failure_rate; count(<outcome>) and rate(<outcome>).
func Parse(name, expr string, required bool) (Spec, error) {
	e := strings.TrimSpace(expr)
	if name == "" {
		name = e
	}

	op, idx := "", -1
	for _, candidate := range operators {
		if i := strings.Index(e, candidate); i > 0 {
			op, idx = candidate, i
			break
		}
	}
	if idx < 0 {
		return Spec{}, fmt.Errorf("%w %q: missing comparison operator", ErrBadExpression, expr)
	}

	lhs := strings.TrimSpace(e[:idx])
	rhs := strings.TrimSpace(e[idx+len(op):])

	limit, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return Spec{}, fmt.Errorf("%w %q: bad number %q", ErrBadExpression, expr, rhs)
	}
	metric, err := parseMetric(lhs)
	if err != nil {
		return Spec{}, fmt.Errorf("%w %q: %v", ErrBadExpression, expr, err)
	}
	cmp := comparator(op)

	return Spec{
		Name:     name,
		Expr:     e,
		Required: required,
		Predicate: func(s stats.Summary) bool {
			return cmp(metric(s), limit)
		},
		metric: metric,
	}, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(name, expr string, required bool) Spec {
	s, err := Parse(name, expr, required)
	if err != nil {
		panic(err)
	}
	return s
}

func comparator(op string) func(a, b float64) bool {
	switch op {
	case "<":
		return func(a, b float64) bool { return a < b }
	case "<=":
		return func(a, b float64) bool { return a <= b }
	case ">":
		return func(a, b float64) bool { return a > b }
	case ">=":
		return func(a, b float64) bool { return a >= b }
	case "==":
		return func(a, b float64) bool { return a == b }
	default:
		return func(a, b float64) bool { return a != b }
	}
}

func parseMetric(lhs string) (func(stats.Summary) float64, error) {
	name, arg, hasArg := splitCall(lhs)
	if hasArg {
		switch name {
		case "p":
			q, err := strconv.ParseFloat(arg, 64)
			if err != nil || q < 0 || q > 100 {
				return nil, fmt.Errorf("bad percentile %q", arg)
			}
			return func(s stats.Summary) float64 { return s.Percentile(q) }, nil
		case "count", "rate":
			o, err := classify.ParseOutcome(arg)
			if err != nil {
				return nil, err
			}
			if name == "count" {
				return func(s stats.Summary) float64 { return float64(s.Counts[o]) }, nil
			}
			return func(s stats.Summary) float64 { return s.Rate(o) }, nil
		}
		return nil, fmt.Errorf("unknown metric %q", lhs)
	}

	switch name {
	case "med":
		return func(s stats.Summary) float64 { return s.Percentile(50) }, nil
	case "avg":
		return func(s stats.Summary) float64 { return s.Latency.Avg }, nil
	case "min":
		return func(s stats.Summary) float64 { return s.Latency.Min }, nil
	case "max":
		return func(s stats.Summary) float64 { return s.Latency.Max }, nil
	case "total":
		return func(s stats.Summary) float64 { return float64(s.Total) }, nil
	case "errors":
		return func(s stats.Summary) float64 { return float64(s.Errors()) }, nil
	case "success_rate":
		return func(s stats.Summary) float64 { return s.SuccessRate() }, nil
	case "failure_rate":
		return func(s stats.Summary) float64 { return s.FailureRate() }, nil
	}
	return nil, fmt.Errorf("unknown metric %q", lhs)
}

// splitCall splits "p(95)" into ("p", "95", true).
func splitCall(s string) (string, string, bool) {
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return strings.ToLower(s), "", false
	}
	return strings.ToLower(strings.TrimSpace(s[:open])), strings.TrimSpace(s[open+1 : len(s)-1]), true
}
