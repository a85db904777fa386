package scenario

import (
	"errors"
	"fmt"
	"math"
	"net/http"
)

var (
	ErrNoScenarios    = errors.New("scenario set is empty")
	ErrInvalidWeight  = errors.New("scenario weight must be a positive finite number")
	ErrDuplicateName  = errors.New("duplicate scenario name")
	ErrMissingName    = errors.New("scenario name is required")
	ErrMissingPayload = errors.New("scenario template is required")
)

// Scenario is one weighted request shape. Scenarios are read-only once a
// Selector has been built from them.
type Scenario struct {
	Name     string
	Weight   float64
	Method   string
	Path     string
	Template Template
}

// Source is a uniform random source over [0, 1). *math/rand/v2.Rand
// satisfies it; each worker owns its own.
type Source interface {
	Float64() float64
}

// Selector draws scenarios with probability proportional to their weight.
type Selector struct {
	scenarios []Scenario
	total     float64
}

func NewSelector(scenarios []Scenario) (*Selector, error) {
	if len(scenarios) == 0 {
		return nil, ErrNoScenarios
	}

	s := &Selector{scenarios: make([]Scenario, len(scenarios))}
	seen := make(map[string]bool, len(scenarios))

	for i, sc := range scenarios {
		if sc.Name == "" {
			return nil, fmt.Errorf("scenario %d: %w", i, ErrMissingName)
		}
		if seen[sc.Name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, sc.Name)
		}
		seen[sc.Name] = true

		if sc.Weight <= 0 || math.IsNaN(sc.Weight) || math.IsInf(sc.Weight, 0) {
			return nil, fmt.Errorf("scenario %q: %w (got %v)", sc.Name, ErrInvalidWeight, sc.Weight)
		}
		if sc.Template == nil {
			return nil, fmt.Errorf("scenario %q: %w", sc.Name, ErrMissingPayload)
		}
		if sc.Method == "" {
			sc.Method = http.MethodPost
		}

		s.scenarios[i] = sc
		s.total += sc.Weight
	}
	return s, nil
}

// Draw picks a scenario using one value from src.
func (s *Selector) Draw(src Source) Scenario {
	return s.Pick(src.Float64())
}

// Pick maps a uniform value u in [0, 1) to a scenario: scale to the weight
// total, subtract weights in order until the remainder is <= 0. Rounding at
// the right edge can exhaust the list, in which case the first scenario is
// returned.
func (s *Selector) Pick(u float64) Scenario {
	r := u * s.total
	for _, sc := range s.scenarios {
		r -= sc.Weight
		if r <= 0 {
			return sc
		}
	}
	return s.scenarios[0]
}

// Probability returns weight/total for name, or 0 if unknown.
func (s *Selector) Probability(name string) float64 {
	for _, sc := range s.scenarios {
		if sc.Name == name {
			return sc.Weight / s.total
		}
	}
	return 0
}

func (s *Selector) TotalWeight() float64 {
	return s.total
}

func (s *Selector) Scenarios() []Scenario {
	out := make([]Scenario, len(s.scenarios))
	copy(out, s.scenarios)
	return out
}

func (s *Selector) Names() []string {
	names := make([]string, len(s.scenarios))
	for i, sc := range s.scenarios {
		names[i] = sc.Name
	}
	return names
}
